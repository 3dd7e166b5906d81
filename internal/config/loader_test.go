package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		env     map[string]string
		wantErr string
		checkFn func(t *testing.T, cfg *Config)
	}{
		{
			name: "empty file uses defaults",
			yaml: "{}\n",
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Endpoint.Listen != "127.0.0.1:4000" {
					t.Errorf("endpoint.listen = %q", cfg.Endpoint.Listen)
				}
				if !cfg.Transports.WebSocket.Enabled {
					t.Error("websocket should be enabled by default")
				}
				if cfg.Transports.LongPoll.Enabled {
					t.Error("longpoll should be disabled by default")
				}
				if cfg.PubSub.Adapter != "memory" {
					t.Errorf("pubsub.adapter = %q", cfg.PubSub.Adapter)
				}
				if cfg.Endpoint.JoinTimeout != 5*time.Second {
					t.Errorf("endpoint.join_timeout = %v", cfg.Endpoint.JoinTimeout)
				}
			},
		},
		{
			name: "explicit values override defaults",
			yaml: `
service:
  log_level: debug
  log_format: text
endpoint:
  listen: 0.0.0.0:4100
  check_origin: true
  allowed_origins: ["https://example.com", "//other.example.com"]
  join_timeout: 2s
transports:
  websocket:
    timeout: 30s
  longpoll:
    enabled: true
    window: 5s
    session_timeout: 15s
rooms:
  history_limit: 10
`,
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Service.LogLevel != "debug" || cfg.Service.LogFormat != "text" {
					t.Error("service logging not parsed")
				}
				if cfg.Service.Name != "channelgw" {
					t.Error("service.name default lost")
				}
				if len(cfg.Endpoint.AllowedOrigins) != 2 || !cfg.Endpoint.CheckOrigin {
					t.Error("origin settings not parsed")
				}
				if cfg.Transports.WebSocket.Timeout != 30*time.Second {
					t.Error("websocket.timeout not parsed")
				}
				if cfg.Transports.WebSocket.MaxMessageBytes != 64*1024 {
					t.Error("websocket.max_message_bytes default lost")
				}
				if !cfg.Transports.LongPoll.Enabled || cfg.Transports.LongPoll.Window != 5*time.Second {
					t.Error("longpoll not parsed")
				}
				if cfg.Rooms.HistoryLimit != 10 {
					t.Error("rooms.history_limit not parsed")
				}
			},
		},
		{
			name: "env var interpolation",
			yaml: `
endpoint:
  secret_key_base: ${CHANNELGW_SECRET}
storage:
  path: ${CHANNELGW_DB}
api:
  enabled: true
  auth:
    tokens:
      - token: ${CHANNELGW_TOKEN}
        scopes: ["events:ro"]
`,
			env: map[string]string{
				"CHANNELGW_SECRET": "s3cret",
				"CHANNELGW_DB":     "/tmp/channelgw.db",
				"CHANNELGW_TOKEN":  "tok",
			},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Endpoint.SecretKeyBase != "s3cret" {
					t.Errorf("secret_key_base = %q", cfg.Endpoint.SecretKeyBase)
				}
				if cfg.Storage.Path != "/tmp/channelgw.db" {
					t.Errorf("storage.path = %q", cfg.Storage.Path)
				}
				if cfg.API.Auth.Tokens[0].Token != "tok" {
					t.Error("token not interpolated")
				}
			},
		},
		{
			name: "unset env var is rejected",
			yaml: `
endpoint:
  secret_key_base: ${CHANNELGW_MISSING_SECRET}
`,
			wantErr: "${CHANNELGW_MISSING_SECRET} is not set",
		},
		{
			name:    "invalid log level",
			yaml:    "service:\n  log_level: loud\n",
			wantErr: "service.log_level",
		},
		{
			name:    "unknown pubsub adapter",
			yaml:    "pubsub:\n  adapter: redis\n",
			wantErr: "pubsub.adapter",
		},
		{
			name: "no transport enabled",
			yaml: `
transports:
  websocket:
    enabled: false
`,
			wantErr: "at least one",
		},
		{
			name: "session timeout must exceed window",
			yaml: `
transports:
  longpoll:
    enabled: true
    window: 10s
    session_timeout: 10s
`,
			wantErr: "session_timeout",
		},
		{
			name:    "api without credentials",
			yaml:    "api:\n  enabled: true\n",
			wantErr: "api.auth",
		},
		{
			name: "token without scopes",
			yaml: `
rooms:
  tokens:
    - token: abc
`,
			wantErr: "rooms.tokens[0].scopes",
		},
		{
			name: "webhook endpoint parsed",
			yaml: `
webhooks:
  listen: 127.0.0.1:4001
  endpoints:
    - path: /webhook/deploys
      topic: room:ops
      event: deploy
      secret: ${DEPLOY_SECRET}
      signature_header: X-Hub-Signature-256
      max_body_size: 64KB
`,
			env: map[string]string{"DEPLOY_SECRET": "s3cret"},
			checkFn: func(t *testing.T, cfg *Config) {
				if cfg.Webhooks == nil || len(cfg.Webhooks.Endpoints) != 1 {
					t.Fatalf("webhooks not parsed: %+v", cfg.Webhooks)
				}
				ep := cfg.Webhooks.Endpoints[0]
				if ep.Topic != "room:ops" || ep.Secret != "s3cret" || ep.MaxBodySize != "64KB" {
					t.Errorf("unexpected endpoint: %+v", ep)
				}
			},
		},
		{
			name: "webhook secret must resolve",
			yaml: `
webhooks:
  listen: 127.0.0.1:4001
  endpoints:
    - path: /webhook/deploys
      topic: room:ops
      secret: ${CHANNELGW_TEST_UNSET_SECRET}
      signature_header: X-Hub-Signature-256
`,
			wantErr: "webhooks.endpoints[0].secret",
		},
		{
			name: "maintenance schedule parsed",
			yaml: `
storage:
  maintenance:
    every: daily
    session_retention: 72h
    room_history_max: 500
`,
			checkFn: func(t *testing.T, cfg *Config) {
				m := cfg.Storage.Maintenance
				if m.Every != "daily" || m.SessionRetention != 72*time.Hour || m.RoomHistoryMax != 500 {
					t.Errorf("unexpected maintenance: %+v", m)
				}
				if m.Jitter != 5*time.Minute {
					t.Errorf("jitter default lost: %v", m.Jitter)
				}
			},
		},
		{
			name:    "maintenance schedule must parse",
			yaml:    "storage:\n  maintenance:\n    every: fortnightly\n",
			wantErr: "storage.maintenance.every",
		},
		{
			name: "webhook path must be absolute",
			yaml: `
webhooks:
  listen: 127.0.0.1:4001
  endpoints:
    - path: webhook
      topic: room:ops
      secret: x
      signature_header: X-Sig
`,
			wantErr: "must start with /",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := writeConfig(t, t.TempDir(), "config.yaml", tt.yaml)

			cfg, err := Load(path)
			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("Load() succeeded, want error containing %q", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("Load() error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() failed: %v", err)
			}
			tt.checkFn(t, cfg)
		})
	}
}

func TestLoadDirectoryResolvesConfigYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "config.yaml", "service:\n  name: from-dir\n")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Service.Name != "from-dir" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}

func TestLoadIncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "conf.d"), 0755); err != nil {
		t.Fatal(err)
	}
	root := writeConfig(t, dir, "config.yaml", `
include:
  - conf.d/transports.yaml
  - conf.d/api.yaml
endpoint:
  listen: 0.0.0.0:9000
`)
	writeConfig(t, dir, "conf.d/transports.yaml", `
transports:
  longpoll:
    enabled: true
`)
	writeConfig(t, dir, "conf.d/api.yaml", `
api:
  enabled: true
  auth:
    api_key: admin
`)

	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Endpoint.Listen != "0.0.0.0:9000" {
		t.Error("root value lost")
	}
	if !cfg.Transports.LongPoll.Enabled || !cfg.Transports.WebSocket.Enabled {
		t.Error("included transports not merged")
	}
	if !cfg.API.Enabled || cfg.API.Auth.APIKey != "admin" {
		t.Error("included api not merged")
	}

	files, err := ConfigFiles(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 || files[0] != root {
		t.Errorf("ConfigFiles() = %v", files)
	}
}

func TestLoadIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := writeConfig(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "include: [a.yaml]\n")

	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("Load() error = %v, want include cycle", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("Load() succeeded for a missing file")
	}
}

func TestParseInterval(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{in: "5m", want: 5 * time.Minute},
		{in: "hourly", want: time.Hour},
		{in: "daily", want: 24 * time.Hour},
		{in: "weekly", want: 7 * 24 * time.Hour},
		{in: "0s", wantErr: true},
		{in: "-1m", wantErr: true},
		{in: "monthly", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseInterval(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseInterval(%q) succeeded", tt.in)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseInterval(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}
