// Package config loads endpoint settings from a YAML file and environment variables.
//
// The file path comes from XAWALA_CONFIG. ${VAR} references inside the file
// are expanded before parsing, and XAWALA_* variables override file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trickstertwo/xawala"
)

// Config holds the settings of an xawala endpoint process.
type Config struct {
	Transport  TransportConfig `yaml:"transport"`
	Codec      string          `yaml:"codec"`
	Topics     TopicsConfig    `yaml:"topics"`
	Group      string          `yaml:"group"`
	AckTimeout time.Duration   `yaml:"ack_timeout"`
	Log        LogConfig       `yaml:"log"`
	Retry      RetryConfig     `yaml:"retry"`
	Dedup      DedupConfig     `yaml:"dedup"`
	Metrics    MetricsConfig   `yaml:"metrics"`
}

type TransportConfig struct {
	Name    string         `yaml:"name"`
	Options map[string]any `yaml:"options"`
}

type TopicsConfig struct {
	Incoming string `yaml:"incoming"`
	Outgoing string `yaml:"outgoing"`
}

type LogConfig struct {
	Level   string `yaml:"level"` // debug, info, warn, error
	Console bool   `yaml:"console"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

// DedupConfig enables parcel deduplication. An empty RedisAddr keeps ids in memory.
type DedupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	MaxTTL        time.Duration `yaml:"max_ttl"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the /metrics listener
}

// Defaults returns the configuration used when neither file nor environment set a value.
func Defaults() Config {
	return Config{
		Transport: TransportConfig{Name: "memory", Options: map[string]any{}},
		Codec:     "structured",
		Topics: TopicsConfig{
			Incoming: xawala.DefaultIncomingTopic,
			Outgoing: xawala.DefaultOutgoingTopic,
		},
		Group:      "xawala",
		AckTimeout: 5 * time.Second,
		Log:        LogConfig{Level: "info"},
		Retry:      RetryConfig{MaxAttempts: 1, Backoff: 100 * time.Millisecond},
	}
}

// Load reads the file named by XAWALA_CONFIG, if any, then applies environment overrides.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("XAWALA_CONFIG"))
}

// LoadFile reads path (skipped when empty) and applies environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := parseInto(&cfg, data); err != nil {
			return nil, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Parse decodes YAML data over the defaults without consulting the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := parseInto(&cfg, data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseInto(cfg *Config, data []byte) error {
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}
	if cfg.Transport.Options == nil {
		cfg.Transport.Options = map[string]any{}
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Transport.Name = envOrDefault("XAWALA_TRANSPORT", cfg.Transport.Name)
	cfg.Codec = envOrDefault("XAWALA_CODEC", cfg.Codec)
	cfg.Topics.Incoming = envOrDefault("XAWALA_INCOMING_TOPIC", cfg.Topics.Incoming)
	cfg.Topics.Outgoing = envOrDefault("XAWALA_OUTGOING_TOPIC", cfg.Topics.Outgoing)
	cfg.Group = envOrDefault("XAWALA_GROUP", cfg.Group)
	cfg.AckTimeout = envOrDefaultDuration("XAWALA_ACK_TIMEOUT", cfg.AckTimeout)
	cfg.Log.Level = envOrDefault("XAWALA_LOG_LEVEL", cfg.Log.Level)
	cfg.Metrics.Addr = envOrDefault("XAWALA_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Retry.MaxAttempts = envOrDefaultInt("XAWALA_RETRY_MAX_ATTEMPTS", cfg.Retry.MaxAttempts)

	// Transport address shortcuts for container deployments.
	switch cfg.Transport.Name {
	case "redis-streams":
		if v := os.Getenv("XAWALA_REDIS_ADDR"); v != "" {
			cfg.Transport.Options["addr"] = v
		}
		if v := os.Getenv("XAWALA_REDIS_PASSWORD"); v != "" {
			cfg.Transport.Options["password"] = v
		}
	case "nats":
		if v := os.Getenv("XAWALA_NATS_URL"); v != "" {
			cfg.Transport.Options["url"] = v
		}
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Transport.Name) == "" {
		return fmt.Errorf("config: transport.name required")
	}
	if c.Topics.Incoming == "" || c.Topics.Outgoing == "" {
		return fmt.Errorf("config: topics.incoming and topics.outgoing required")
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.AckTimeout < 0 {
		return fmt.Errorf("config: ack_timeout must be >= 0, got %v", c.AckTimeout)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("config: retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}

// Apply configures b with the transport, codec, topics, ack timeout and retry policy.
func (c Config) Apply(b *xawala.EndpointBuilder) *xawala.EndpointBuilder {
	b.WithTransport(c.Transport.Name, c.Transport.Options).
		WithCodec(c.Codec).
		WithTopics(xawala.Topics{Incoming: c.Topics.Incoming, Outgoing: c.Topics.Outgoing}).
		WithAckTimeout(c.AckTimeout)

	if c.Retry.MaxAttempts > 1 {
		backoff := c.Retry.Backoff
		b.WithMiddleware(xawala.RetryMiddleware(xawala.RetryConfig{
			MaxAttempts: c.Retry.MaxAttempts,
			Backoff: func(attempt int) time.Duration {
				return backoff * time.Duration(1<<uint(attempt-1))
			},
		}))
	}
	return b
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
