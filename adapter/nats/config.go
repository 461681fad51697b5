package nats

import (
	"fmt"
	"time"

	natsgo "github.com/nats-io/nats.go"
)

// Config for the NATS transport.
type Config struct {
	URL      string
	Name     string
	Username string
	Password string
	Token    string

	Concurrency  int
	PendingLimit int

	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration

	DeadLetter string
}

// Defaults returns a Config for a local server.
func Defaults() Config {
	return Config{
		URL:            natsgo.DefaultURL,
		Name:           "xawala",
		Concurrency:    4,
		PendingLimit:   65536,
		MaxReconnects:  60,
		ReconnectWait:  2 * time.Second,
		ConnectTimeout: 5 * time.Second,
	}
}

func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("config: url required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.Username != "" && c.Token != "" {
		return fmt.Errorf("config: username and token are mutually exclusive")
	}
	return nil
}

func (c Config) options() []natsgo.Option {
	opts := []natsgo.Option{
		natsgo.Name(c.Name),
		natsgo.MaxReconnects(c.MaxReconnects),
		natsgo.ReconnectWait(c.ReconnectWait),
		natsgo.Timeout(c.ConnectTimeout),
	}
	if c.Username != "" {
		opts = append(opts, natsgo.UserInfo(c.Username, c.Password))
	}
	if c.Token != "" {
		opts = append(opts, natsgo.Token(c.Token))
	}
	return opts
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		"url":             c.URL,
		"name":            c.Name,
		"username":        c.Username,
		"password":        c.Password,
		"token":           c.Token,
		"concurrency":     c.Concurrency,
		"pending_limit":   c.PendingLimit,
		"max_reconnects":  c.MaxReconnects,
		"reconnect_wait":  c.ReconnectWait,
		"connect_timeout": c.ConnectTimeout,
		"dead_letter":     c.DeadLetter,
	}
}

// ConfigFromMap converts a generic map (builder or YAML) to Config with defaults.
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	getStr := func(k string, d string) string {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
		return d
	}
	getInt := func(k string, d int) int {
		switch v := m[k].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return d
	}
	getDur := func(k string, d time.Duration) time.Duration {
		switch v := m[k].(type) {
		case time.Duration:
			if v > 0 {
				return v
			}
		case string:
			if p, err := time.ParseDuration(v); err == nil && p > 0 {
				return p
			}
		}
		return d
	}

	c.URL = getStr("url", c.URL)
	c.Name = getStr("name", c.Name)
	c.Username = getStr("username", c.Username)
	c.Password = getStr("password", c.Password)
	c.Token = getStr("token", c.Token)
	c.Concurrency = max(1, getInt("concurrency", c.Concurrency))
	c.PendingLimit = max(1, getInt("pending_limit", c.PendingLimit))
	c.MaxReconnects = getInt("max_reconnects", c.MaxReconnects)
	c.ReconnectWait = getDur("reconnect_wait", c.ReconnectWait)
	c.ConnectTimeout = getDur("connect_timeout", c.ConnectTimeout)
	c.DeadLetter = getStr("dead_letter", c.DeadLetter)

	return c
}
