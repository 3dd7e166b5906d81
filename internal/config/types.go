package config

import "time"

// Config represents the complete channelgw configuration.
type Config struct {
	// Include lists further config files merged over this one, relative to
	// its directory.
	Include    []string         `yaml:"include,omitempty"`
	Service    ServiceConfig    `yaml:"service"`
	Endpoint   EndpointConfig   `yaml:"endpoint"`
	Transports TransportsConfig `yaml:"transports"`
	PubSub     PubSubConfig     `yaml:"pubsub"`
	Storage    StorageConfig    `yaml:"storage"`
	API        APIConfig        `yaml:"api"`
	Rooms      RoomsConfig      `yaml:"rooms"`
	Webhooks   *WebhooksConfig  `yaml:"webhooks,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	PIDFile   string `yaml:"pid_file"`
}

// EndpointConfig defines the socket endpoint.
type EndpointConfig struct {
	Name   string `yaml:"name"`
	Listen string `yaml:"listen"`
	// CheckOrigin enables the origin guard. An empty AllowedOrigins list
	// allows every origin.
	CheckOrigin    bool     `yaml:"check_origin"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	// SecretKeyBase keys long-poll session tokens.
	SecretKeyBase string        `yaml:"secret_key_base"`
	JoinTimeout   time.Duration `yaml:"join_timeout"`
}

// TransportsConfig selects and tunes the client transports.
type TransportsConfig struct {
	WebSocket WebSocketConfig `yaml:"websocket"`
	LongPoll  LongPollConfig  `yaml:"longpoll"`
}

type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`
}

type LongPollConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Window         time.Duration `yaml:"window"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

// PubSubConfig selects the broadcast adapter.
type PubSubConfig struct {
	// Adapter is "memory" or "libp2p".
	Adapter string       `yaml:"adapter"`
	Libp2p  Libp2pConfig `yaml:"libp2p"`
}

// Libp2pConfig configures the gossipsub adapter.
type Libp2pConfig struct {
	ListenAddrs     []string `yaml:"listen_addrs,omitempty"`
	Bootstrap       []string `yaml:"bootstrap,omitempty"`
	Rendezvous      string   `yaml:"rendezvous"`
	EnableMDNS      bool     `yaml:"enable_mdns"`
	IdentityKeyFile string   `yaml:"identity_key_file"`
	TopicPrefix     string   `yaml:"topic_prefix"`
}

// StorageConfig defines the SQLite database location.
type StorageConfig struct {
	Path        string            `yaml:"path"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// MaintenanceConfig schedules pruning of stored sessions and room history.
type MaintenanceConfig struct {
	// Every is a duration ("30m") or one of hourly, daily, weekly.
	Every  string        `yaml:"every"`
	Jitter time.Duration `yaml:"jitter"`
	// SessionRetention is how long closed sessions are kept. Zero keeps
	// them forever.
	SessionRetention time.Duration `yaml:"session_retention"`
	// RoomHistoryMax caps stored messages per room. Zero keeps everything.
	RoomHistoryMax int `yaml:"room_history_max"`
}

// APIConfig defines the admin HTTP API.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// RoomsConfig configures the bundled chat room channel.
type RoomsConfig struct {
	Enabled bool `yaml:"enabled"`
	// HistoryLimit is how many stored messages a join returns.
	HistoryLimit int `yaml:"history_limit"`
	// Tokens authorise clients. With no tokens every client may connect
	// and post.
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// WebhooksConfig defines the signed webhook listener.
type WebhooksConfig struct {
	Listen    string            `yaml:"listen"`
	Endpoints []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookEndpoint turns verified POSTs on Path into broadcasts on Topic.
type WebhookEndpoint struct {
	Path            string `yaml:"path"`
	Topic           string `yaml:"topic"`
	Event           string `yaml:"event,omitempty"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "channelgw",
			LogLevel:  "info",
			LogFormat: "json",
			PIDFile:   "./data/channelgw.pid",
		},
		Endpoint: EndpointConfig{
			Name:        "socket",
			Listen:      "127.0.0.1:4000",
			JoinTimeout: 5 * time.Second,
		},
		Transports: TransportsConfig{
			WebSocket: WebSocketConfig{
				Enabled:         true,
				Timeout:         60 * time.Second,
				MaxMessageBytes: 64 * 1024,
			},
			LongPoll: LongPollConfig{
				Enabled:        false,
				Window:         10 * time.Second,
				SessionTimeout: 20 * time.Second,
			},
		},
		PubSub: PubSubConfig{
			Adapter: "memory",
			Libp2p: Libp2pConfig{
				ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
				Rendezvous:  "channelgw",
				TopicPrefix: "channelgw/",
			},
		},
		Storage: StorageConfig{
			Path: "./data/channelgw.db",
			Maintenance: MaintenanceConfig{
				Every:            "hourly",
				Jitter:           5 * time.Minute,
				SessionRetention: 7 * 24 * time.Hour,
				RoomHistoryMax:   10000,
			},
		},
		Rooms: RoomsConfig{
			Enabled:      true,
			HistoryLimit: 50,
		},
	}
}
