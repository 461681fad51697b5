package redisstream

import (
	"fmt"
	"os"
	"time"
)

// Config for Redis Streams transport.
type Config struct {
	// Connection
	Addr          string
	Username      string
	Password      string
	DB            int
	TLS           bool
	TLSServerName string

	// Consumer group
	Group       string
	Consumer    string
	Concurrency int
	BatchSize   int
	Block       time.Duration
	StartID     string
	AutoCreate  bool

	// Stream management
	AutoDeleteOnAck bool
	DeadLetter      string
	MaxLenApprox    int64

	// Pending entry recovery (automatic crash recovery)
	ClaimMinIdle  time.Duration
	ClaimBatch    int
	ClaimInterval time.Duration
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xawala"
	}

	return Config{
		Addr:          "127.0.0.1:6379",
		Group:         "xawala",
		Consumer:      fmt.Sprintf("xawala-%s-%d", hostname, os.Getpid()),
		Concurrency:   8,
		BatchSize:     128,
		Block:         5 * time.Second,
		StartID:       "$",
		AutoCreate:    true,
		ClaimMinIdle:  30 * time.Second,
		ClaimBatch:    128,
		ClaimInterval: 15 * time.Second,
	}
}

// Validate checks Config for production readiness.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be >= 1, got %d", c.Concurrency)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	if c.ClaimMinIdle > 0 && c.ClaimInterval <= 0 {
		return fmt.Errorf("config: claim_interval must be > 0 if claim_min_idle is set")
	}
	return nil
}

// toMap converts Config to generic map for transport factory.
func (c Config) toMap() map[string]any {
	return map[string]any{
		"addr":               c.Addr,
		"username":           c.Username,
		"password":           c.Password,
		"db":                 c.DB,
		"tls":                c.TLS,
		"tls_server_name":    c.TLSServerName,
		"group":              c.Group,
		"consumer":           c.Consumer,
		"concurrency":        c.Concurrency,
		"batch_size":         c.BatchSize,
		"block":              c.Block,
		"start_id":           c.StartID,
		"auto_create":        c.AutoCreate,
		"auto_delete_on_ack": c.AutoDeleteOnAck,
		"dead_letter":        c.DeadLetter,
		"max_len_approx":     c.MaxLenApprox,
		"claim_min_idle":     c.ClaimMinIdle,
		"claim_batch":        c.ClaimBatch,
		"claim_interval":     c.ClaimInterval,
	}
}

// ConfigFromMap converts a generic map (builder or YAML) to Config with defaults.
// Durations may be time.Duration values or strings such as "5s".
func ConfigFromMap(m map[string]any) Config {
	c := Defaults()

	getDur := func(k string, d time.Duration) time.Duration {
		switch v := m[k].(type) {
		case time.Duration:
			return v
		case string:
			if p, err := time.ParseDuration(v); err == nil {
				return p
			}
		}
		return d
	}

	if v, ok := m["addr"].(string); ok && v != "" {
		c.Addr = v
	}
	if v, ok := m["username"].(string); ok {
		c.Username = v
	}
	if v, ok := m["password"].(string); ok {
		c.Password = v
	}
	if v, ok := m["db"].(int); ok {
		c.DB = v
	}
	if v, ok := m["tls"].(bool); ok {
		c.TLS = v
	}
	if v, ok := m["tls_server_name"].(string); ok {
		c.TLSServerName = v
	}
	if v, ok := m["group"].(string); ok && v != "" {
		c.Group = v
	}
	if v, ok := m["consumer"].(string); ok && v != "" {
		c.Consumer = v
	}
	if v, ok := m["concurrency"].(int); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := m["batch_size"].(int); ok && v > 0 {
		c.BatchSize = v
	}
	if v := getDur("block", 0); v > 0 {
		c.Block = v
	}
	if v, ok := m["start_id"].(string); ok && v != "" {
		c.StartID = v
	}
	if v, ok := m["auto_create"].(bool); ok {
		c.AutoCreate = v
	}
	if v, ok := m["auto_delete_on_ack"].(bool); ok {
		c.AutoDeleteOnAck = v
	}
	if v, ok := m["dead_letter"].(string); ok {
		c.DeadLetter = v
	}
	switch v := m["max_len_approx"].(type) {
	case int64:
		c.MaxLenApprox = v
	case int:
		c.MaxLenApprox = int64(v)
	}
	c.ClaimMinIdle = getDur("claim_min_idle", c.ClaimMinIdle)
	if v, ok := m["claim_batch"].(int); ok && v > 0 {
		c.ClaimBatch = v
	}
	if v := getDur("claim_interval", 0); v > 0 {
		c.ClaimInterval = v
	}

	return c
}
