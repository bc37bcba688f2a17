// Package bus carries the node's topics over Redis pub/sub.
//
// This package handles:
//   - Connection management with retry
//   - Publishing to and subscribing from prefixed topics
//   - Bridging the camera and goal topics into a wrench.Detector
package bus

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// Config holds bus client configuration.
type Config struct {
	// Addr is the Redis server address.
	// Examples: "localhost:6379", "192.168.68.83:6379"
	Addr string `json:"addr"`

	// Password for the Redis server, if any.
	Password string `json:"-"`

	// DB selects the Redis logical database.
	DB int `json:"db"`

	// Prefix is the topic prefix for all topics.
	// Default: "wrench_detection"
	Prefix string `json:"prefix"`

	// ReconnectInterval is how often to attempt reconnection on failure.
	ReconnectInterval time.Duration `json:"reconnect_interval"`

	// MaxReconnectAttempts is the maximum number of reconnection attempts.
	// 0 means unlimited.
	MaxReconnectAttempts int `json:"max_reconnect_attempts"`

	// BufferSize is the per-subscription message buffer.
	// Default: 20 (the camera subscriber queue size)
	BufferSize int `json:"buffer_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                 "localhost:6379",
		Prefix:               wrench.ActionName,
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 0, // Unlimited
		BufferSize:           20,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.Prefix == "" {
		return fmt.Errorf("prefix is required")
	}
	if c.DB < 0 {
		return fmt.Errorf("db must be >= 0, got %d", c.DB)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", c.BufferSize)
	}
	return nil
}
