package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the broker configuration.
const (
	DefaultClientPort      = 4691
	DefaultIngestHTTPPort  = 1991
	DefaultQueueSize       = 64
	DefaultBacklogSize     = 1024
	DefaultMaxPayloadBytes = 64 << 10
	DefaultShutdownGrace   = 5 * time.Second
)

// Config holds the broker configuration parsed from the `broker:` section of
// config.yaml.
type Config struct {
	Broker BrokerConfig `yaml:"broker"`
}

// BrokerConfig holds all broker settings.
type BrokerConfig struct {
	// Client configures the public WebSocket listener.
	Client ClientConfig `yaml:"client"`

	// Ingest configures the backend-facing report listeners and the
	// intake worker.
	Ingest IngestConfig `yaml:"ingest"`

	// Auth configures API key checks on the HTTP ingest surface.
	Auth AuthConfig `yaml:"auth"`

	// LogLevel is one of: debug | info | warn | error. Default info.
	// Applied live on config reload.
	LogLevel string `yaml:"log_level"`

	// ShutdownGrace bounds how long listeners may take to drain on
	// shutdown. Default 5s.
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// ClientConfig configures the subscriber-facing WebSocket listener.
type ClientConfig struct {
	// Port is the public WebSocket port (default 4691).
	Port int `yaml:"port"`

	// QueueSize is the per-session outbound frame buffer depth (default 64).
	QueueSize int `yaml:"queue_size"`

	// OverflowPolicy decides what happens when a session's queue is full:
	// "drop_oldest" (default) sheds the oldest queued frame, "disconnect"
	// closes the slow session.
	OverflowPolicy string `yaml:"overflow_policy"`
}

// IngestConfig configures how change reports enter the broker.
type IngestConfig struct {
	// HTTPPort serves POST /api/v1/invalidate plus health, stats and
	// metrics (default 1991).
	HTTPPort int `yaml:"http_port"`

	// TCPPort serves the raw newline-delimited JSON report protocol.
	// 0 (the default) disables the listener.
	TCPPort int `yaml:"tcp_port"`

	// BacklogSize is the intake queue depth (default 1024). Reports fail
	// fast when the backlog is full.
	BacklogSize int `yaml:"backlog_size"`

	// Coalesce collapses bursts of reports for the same uri into the
	// newest one before fan-out. Default true.
	Coalesce bool `yaml:"coalesce"`

	// MaxPayloadBytes bounds the accepted report body (default 64 KiB).
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// AuthConfig controls backend authentication on the HTTP ingest surface.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the
	// expected API key. Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// Level maps the configured log level onto slog. Unknown strings are
// rejected by validate, so the default arm only covers "info".
func (b BrokerConfig) Level() slog.Level {
	switch b.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads and parses the config file at path. Missing fields are filled
// with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("broker config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("broker config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("broker config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Broker: BrokerConfig{
			Client: ClientConfig{
				Port:           DefaultClientPort,
				QueueSize:      DefaultQueueSize,
				OverflowPolicy: "drop_oldest",
			},
			Ingest: IngestConfig{
				HTTPPort:        DefaultIngestHTTPPort,
				BacklogSize:     DefaultBacklogSize,
				Coalesce:        true,
				MaxPayloadBytes: DefaultMaxPayloadBytes,
			},
			LogLevel:      "info",
			ShutdownGrace: DefaultShutdownGrace,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	b := cfg.Broker
	if b.Client.Port <= 0 || b.Client.Port > 65535 {
		return fmt.Errorf("broker.client.port %d is out of range [1, 65535]", b.Client.Port)
	}
	if b.Client.QueueSize < 1 {
		return fmt.Errorf("broker.client.queue_size must be at least 1, got %d", b.Client.QueueSize)
	}
	switch b.Client.OverflowPolicy {
	case "drop_oldest", "disconnect":
	default:
		return fmt.Errorf("broker.client.overflow_policy %q unknown: want drop_oldest|disconnect", b.Client.OverflowPolicy)
	}
	if b.Ingest.HTTPPort <= 0 || b.Ingest.HTTPPort > 65535 {
		return fmt.Errorf("broker.ingest.http_port %d is out of range [1, 65535]", b.Ingest.HTTPPort)
	}
	if b.Ingest.HTTPPort == b.Client.Port {
		return fmt.Errorf("broker.ingest.http_port %d collides with broker.client.port", b.Ingest.HTTPPort)
	}
	if b.Ingest.TCPPort < 0 || b.Ingest.TCPPort > 65535 {
		return fmt.Errorf("broker.ingest.tcp_port %d is out of range [0, 65535]", b.Ingest.TCPPort)
	}
	if b.Ingest.BacklogSize < 1 {
		return fmt.Errorf("broker.ingest.backlog_size must be at least 1, got %d", b.Ingest.BacklogSize)
	}
	if b.Ingest.MaxPayloadBytes < 1 {
		return fmt.Errorf("broker.ingest.max_payload_bytes must be at least 1, got %d", b.Ingest.MaxPayloadBytes)
	}
	switch b.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("broker.auth.mode %q unknown: want apikey|none", b.Auth.Mode)
	}
	switch b.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("broker.log_level %q unknown: want debug|info|warn|error", b.LogLevel)
	}
	if b.ShutdownGrace < 0 {
		return fmt.Errorf("broker.shutdown_grace must not be negative")
	}
	return nil
}
