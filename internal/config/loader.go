package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
//
// The file is decoded over Defaults(), then every file named in its
// include list is decoded over the result in order. When a .checksums
// manifest sits beside a file, the file must match its recorded hash.
func Load(configPath string) (*Config, error) {
	absPath, err := ResolvePath(configPath)
	if err != nil {
		return nil, err
	}

	files, err := ConfigFiles(absPath)
	if err != nil {
		return nil, err
	}

	if err := verifyAllConfigHashes(files); err != nil {
		return nil, err
	}

	cfg := Defaults()
	for _, path := range files {
		if err := decodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolvePath turns configPath into an absolute file path. A directory
// resolves to the config.yaml inside it.
func ResolvePath(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// ConfigFiles returns the root config file followed by every included
// file, depth first, each listed once.
func ConfigFiles(rootPath string) ([]string, error) {
	var files []string
	visiting := make(map[string]bool)

	var walk func(path string) error
	walk = func(path string) error {
		if visiting[path] {
			return fmt.Errorf("include cycle detected at %s", path)
		}
		if slices.Contains(files, path) {
			return nil
		}
		visiting[path] = true
		defer delete(visiting, path)

		files = append(files, path)
		includes, err := readIncludes(path)
		if err != nil {
			return err
		}
		for _, inc := range includes {
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(filepath.Dir(path), inc)
			}
			if _, err := os.Stat(inc); err != nil {
				return fmt.Errorf("included file not found: %s (from %s)", inc, path)
			}
			if err := walk(inc); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(rootPath); err != nil {
		return nil, err
	}
	return files, nil
}

func readIncludes(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	var head struct {
		Include []string `yaml:"include"`
	}
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &head); err != nil {
		return nil, fmt.Errorf("failed to parse YAML in %s: %w", path, err)
	}
	return head.Include, nil
}

// decodeFile decodes one file over cfg. Fields absent from the file keep
// their current values.
func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// Left in place; validation rejects it where it matters.
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Endpoint.Listen == "" {
		return fmt.Errorf("endpoint.listen is required")
	}
	if cfg.Endpoint.JoinTimeout <= 0 {
		return fmt.Errorf("endpoint.join_timeout must be positive")
	}
	if err := checkUnresolved("endpoint.secret_key_base", cfg.Endpoint.SecretKeyBase); err != nil {
		return err
	}

	ws, lp := cfg.Transports.WebSocket, cfg.Transports.LongPoll
	if !ws.Enabled && !lp.Enabled {
		return fmt.Errorf("at least one of transports.websocket or transports.longpoll must be enabled")
	}
	if ws.Enabled && ws.Timeout <= 0 {
		return fmt.Errorf("transports.websocket.timeout must be positive")
	}
	if lp.Enabled {
		if lp.Window <= 0 {
			return fmt.Errorf("transports.longpoll.window must be positive")
		}
		if lp.SessionTimeout <= lp.Window {
			return fmt.Errorf("transports.longpoll.session_timeout must exceed transports.longpoll.window")
		}
	}

	switch cfg.PubSub.Adapter {
	case "memory":
	case "libp2p":
		if len(cfg.PubSub.Libp2p.ListenAddrs) == 0 {
			return fmt.Errorf("pubsub.libp2p.listen_addrs must be non-empty")
		}
	default:
		return fmt.Errorf("pubsub.adapter must be memory or libp2p (got %q)", cfg.PubSub.Adapter)
	}

	m := cfg.Storage.Maintenance
	if m.Every != "" {
		if _, err := ParseInterval(m.Every); err != nil {
			return fmt.Errorf("storage.maintenance.every: %w", err)
		}
	}
	if m.Jitter < 0 || m.SessionRetention < 0 || m.RoomHistoryMax < 0 {
		return fmt.Errorf("storage.maintenance values must not be negative")
	}

	if cfg.Rooms.Enabled && cfg.Storage.Path == "" {
		return fmt.Errorf("storage.path is required when rooms are enabled")
	}
	if cfg.Rooms.HistoryLimit < 0 {
		return fmt.Errorf("rooms.history_limit must not be negative")
	}
	if err := validateTokens("rooms.tokens", cfg.Rooms.Tokens); err != nil {
		return err
	}

	if err := validateWebhooks(cfg.Webhooks); err != nil {
		return err
	}

	if cfg.API.Enabled {
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		if cfg.API.Auth.APIKey == "" && len(cfg.API.Auth.Tokens) == 0 {
			return fmt.Errorf("api.auth needs an api_key or tokens when the API is enabled")
		}
		if err := validateTokens("api.auth.tokens", cfg.API.Auth.Tokens); err != nil {
			return err
		}
	}

	return nil
}

func validateWebhooks(wc *WebhooksConfig) error {
	if wc == nil || len(wc.Endpoints) == 0 {
		return nil
	}
	if wc.Listen == "" {
		return fmt.Errorf("webhooks.listen is required when endpoints are configured")
	}
	seen := make(map[string]bool, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		field := fmt.Sprintf("webhooks.endpoints[%d]", i)
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%s.path must start with /", field)
		}
		if seen[ep.Path] {
			return fmt.Errorf("%s.path %q is duplicated", field, ep.Path)
		}
		seen[ep.Path] = true
		if ep.Topic == "" {
			return fmt.Errorf("%s.topic is required", field)
		}
		if ep.SignatureHeader == "" {
			return fmt.Errorf("%s.signature_header is required", field)
		}
		if ep.Secret == "" {
			return fmt.Errorf("%s.secret is required", field)
		}
		if err := checkUnresolved(field+".secret", ep.Secret); err != nil {
			return err
		}
	}
	return nil
}

func validateTokens(field string, tokens []APIToken) error {
	for i, tok := range tokens {
		if tok.Token == "" {
			return fmt.Errorf("%s[%d].token is required", field, i)
		}
		if err := checkUnresolved(fmt.Sprintf("%s[%d].token", field, i), tok.Token); err != nil {
			return err
		}
		if len(tok.Scopes) == 0 {
			return fmt.Errorf("%s[%d].scopes must be non-empty", field, i)
		}
	}
	return nil
}

func checkUnresolved(field, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// ParseInterval converts a schedule string to a duration. It accepts Go
// durations and the names hourly, daily and weekly.
func ParseInterval(interval string) (time.Duration, error) {
	switch interval {
	case "hourly":
		return time.Hour, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return 7 * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid schedule interval %q: %w", interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("schedule interval must be positive: %q", interval)
	}
	return d, nil
}
