// Package origin validates the Origin header of a socket connection against an
// allow-list before the transport is upgraded.
package origin

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
)

// Options configures Check.
type Options struct {
	// Forbidden writes the rejection response. Defaults to a 403 JSON body.
	Forbidden func(w http.ResponseWriter, r *http.Request)
}

// Check applies Allowed to r's Origin header. When the origin is rejected the
// Forbidden responder is invoked and false is returned; callers must stop
// processing the request.
func Check(w http.ResponseWriter, r *http.Request, allowed []string, opts Options) bool {
	if Allowed(r.Header.Get("Origin"), allowed) {
		return true
	}
	forbidden := opts.Forbidden
	if forbidden == nil {
		forbidden = WriteForbidden
	}
	forbidden(w, r)
	return false
}

// WriteForbidden is the default rejection responder.
func WriteForbidden(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "forbidden"})
}

// Allowed reports whether a peer declaring origin may connect.
//
// An empty origin or an empty allow-list always passes. Otherwise the origin
// must match at least one entry on scheme, host and port, where a component
// missing on either side matches anything.
func Allowed(origin string, allowed []string) bool {
	if strings.TrimSpace(origin) == "" || len(allowed) == 0 {
		return true
	}
	peer, ok := parse(origin)
	if !ok {
		return false
	}
	for _, entry := range allowed {
		candidate, ok := parse(entry)
		if !ok {
			continue
		}
		if candidate.matches(peer) {
			return true
		}
	}
	return false
}

type parts struct {
	scheme string
	host   string
	port   string
}

func (a parts) matches(b parts) bool {
	return component(a.scheme, b.scheme) && component(a.host, b.host) && component(a.port, b.port)
}

func component(a, b string) bool {
	return a == "" || b == "" || a == b
}

var defaultPorts = map[string]string{
	"http":  "80",
	"ws":    "80",
	"https": "443",
	"wss":   "443",
}

// parse splits an origin or allow-list entry into its components. Entries
// without a scheme may be written "//host" or "host".
func parse(raw string) (parts, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return parts{}, false
	}
	if !strings.Contains(raw, "://") && !strings.HasPrefix(raw, "//") {
		raw = "//" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return parts{}, false
	}
	p := parts{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Hostname()),
		port:   u.Port(),
	}
	if p.port == "" {
		p.port = defaultPorts[p.scheme]
	}
	if p.scheme == "" && p.host == "" && p.port == "" {
		return parts{}, false
	}
	return p, true
}
