package wrench

import "fmt"

// Config holds detector configuration.
type Config struct {
	// QueueSize is the depth of the event queue shared by goals and frames.
	// Frames arriving while it is full are dropped.
	// Default: 20
	QueueSize int `json:"queue_size"`

	// HistorySize is how many goals are kept for lookup by ID.
	// Goals still waiting for a frame are never evicted.
	// Default: 100
	HistorySize int `json:"history_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:   20,
		HistorySize: 100,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.QueueSize)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", c.HistorySize)
	}
	return nil
}
