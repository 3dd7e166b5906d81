// Package doctor reviews a loaded channelgw configuration for risky or
// inconsistent settings that still pass config.Load.
package doctor

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"

	"github.com/mattjoyce/channelgw/internal/auth"
	"github.com/mattjoyce/channelgw/internal/config"
	"github.com/mattjoyce/channelgw/internal/rooms"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor reviews a configuration.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateTokenScopes(r)
	d.validateWebhooks(r)
	d.warnOrigin(r)
	d.warnLongPollSecret(r)
	d.warnAdminExposure(r)
	d.warnOpenRooms(r)
	d.warnPubSub(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

// validateTokenScopes rejects scopes no route or channel checks for.
func (d *Doctor) validateTokenScopes(r *Result) {
	check := func(field string, tokens []config.APIToken) {
		for i, t := range tokens {
			for _, s := range t.Scopes {
				if !auth.KnownScope(s) {
					d.addError(r, "auth", fmt.Sprintf("%s[%d].scopes", field, i),
						fmt.Sprintf("unknown scope %q", s))
				}
			}
		}
	}
	if d.cfg.API.Enabled {
		check("api.auth.tokens", d.cfg.API.Auth.Tokens)
	}
	check("rooms.tokens", d.cfg.Rooms.Tokens)

	for i, t := range d.cfg.Rooms.Tokens {
		granted := false
		for _, s := range t.Scopes {
			if s == auth.ScopeAll || s == auth.ScopeRoomsRead || s == auth.ScopeRoomsWrite {
				granted = true
			}
		}
		if !granted {
			d.addWarning(r, "rooms", fmt.Sprintf("rooms.tokens[%d]", i),
				"token grants no rooms scope; its clients can connect but not join")
		}
	}
}

// validateWebhooks checks that webhook topics reach a channel.
func (d *Doctor) validateWebhooks(r *Result) {
	if d.cfg.Webhooks == nil {
		return
	}
	if d.cfg.Webhooks.Listen == d.cfg.Endpoint.Listen {
		d.addError(r, "webhooks", "webhooks.listen",
			"webhooks.listen must differ from endpoint.listen")
	}
	for i, ep := range d.cfg.Webhooks.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d].topic", i)
		if strings.HasPrefix(ep.Topic, "phoenix") {
			d.addError(r, "webhooks", field, "the phoenix topic is reserved")
			continue
		}
		if !d.cfg.Rooms.Enabled || !strings.HasPrefix(ep.Topic, rooms.TopicPrefix) {
			d.addWarning(r, "webhooks", field,
				fmt.Sprintf("no channel serves %q; broadcasts reach only direct subscribers", ep.Topic))
		}
	}
}

func (d *Doctor) warnOrigin(r *Result) {
	ep := d.cfg.Endpoint
	if !ep.CheckOrigin {
		d.addWarning(r, "endpoint", "endpoint.check_origin",
			"origin check disabled; any web page can open sockets with the user's cookies")
		return
	}
	if len(ep.AllowedOrigins) == 0 {
		d.addWarning(r, "endpoint", "endpoint.allowed_origins",
			"check_origin is on but allowed_origins is empty, so every origin is accepted")
	}
}

func (d *Doctor) warnLongPollSecret(r *Result) {
	if d.cfg.Transports.LongPoll.Enabled && d.cfg.Endpoint.SecretKeyBase == "" {
		d.addWarning(r, "transports", "endpoint.secret_key_base",
			"long-poll enabled without secret_key_base; session tokens are invalidated on restart")
	}
}

// warnAdminExposure flags admin routes reachable beyond the local host.
func (d *Doctor) warnAdminExposure(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Auth.APIKey != "" {
		d.addWarning(r, "api", "api.auth.api_key",
			"api_key grants full access; prefer scoped tokens")
	}
	if !isLoopback(d.cfg.Endpoint.Listen) {
		d.addWarning(r, "api", "endpoint.listen",
			fmt.Sprintf("admin API is served on non-loopback address %s", d.cfg.Endpoint.Listen))
	}
}

func (d *Doctor) warnOpenRooms(r *Result) {
	if d.cfg.Rooms.Enabled && len(d.cfg.Rooms.Tokens) == 0 {
		d.addWarning(r, "rooms", "rooms.tokens",
			"no rooms tokens configured; anonymous clients can post to every room")
	}
}

func (d *Doctor) warnPubSub(r *Result) {
	if d.cfg.PubSub.Adapter != "libp2p" {
		return
	}
	p := d.cfg.PubSub.Libp2p
	if p.IdentityKeyFile == "" {
		d.addWarning(r, "pubsub", "pubsub.libp2p.identity_key_file",
			"no identity key file; the peer id changes on every restart")
	}
	if len(p.Bootstrap) == 0 && !p.EnableMDNS {
		d.addWarning(r, "pubsub", "pubsub.libp2p.bootstrap",
			"no bootstrap peers and mDNS disabled; this node will not find other gateways")
	}
}

func isLoopback(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// FormatHuman returns a human-readable summary.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
