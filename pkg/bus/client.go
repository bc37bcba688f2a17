package bus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// PubSub is the topic transport the Bridge runs on.
type PubSub interface {
	Topics() *Topics
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, handler func(data []byte)) (io.Closer, error)
}

// Client provides a high-level interface to Redis pub/sub for the node.
type Client struct {
	cfg    Config
	logger *slog.Logger
	topics *Topics

	mu     sync.RWMutex
	rdb    *redis.Client
	subs   map[*redis.PubSub]struct{}
	closed bool

	// Stats
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	reconnectCount   atomic.Int64
}

var _ PubSub = (*Client)(nil)

// New creates a new bus client.
// Call Connect() to establish the connection.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:    cfg,
		logger: logger,
		topics: NewTopics(cfg.Prefix),
		subs:   make(map[*redis.PubSub]struct{}),
	}, nil
}

// Connect establishes the Redis connection and verifies it with PING.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return io.ErrClosedPipe
	}

	if c.rdb != nil {
		return nil // Already connected
	}

	c.logger.Info("connecting to Redis", "addr", c.cfg.Addr, "db", c.cfg.DB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Addr,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return fmt.Errorf("failed to reach redis at %s: %w", c.cfg.Addr, err)
	}

	c.rdb = rdb
	c.logger.Info("connected to Redis", "addr", c.cfg.Addr)
	return nil
}

// ConnectWithRetry connects with automatic retry on failure.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.Connect(ctx)
		if err == nil {
			return nil
		}

		attempts++
		c.reconnectCount.Add(1)

		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			return fmt.Errorf("max reconnect attempts (%d) reached: %w", c.cfg.MaxReconnectAttempts, err)
		}

		c.logger.Warn("redis connection failed, retrying",
			"error", err,
			"attempt", attempts,
			"retry_in", c.cfg.ReconnectInterval,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// Topics returns the topics helper.
func (c *Client) Topics() *Topics {
	return c.topics
}

// IsConnected returns true if the client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rdb != nil && !c.closed
}

func (c *Client) conn() (*redis.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, io.ErrClosedPipe
	}
	if c.rdb == nil {
		return nil, fmt.Errorf("not connected")
	}
	return c.rdb, nil
}

// Publish publishes data to a topic.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	rdb, err := c.conn()
	if err != nil {
		return err
	}

	if err := rdb.Publish(ctx, topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	c.messagesSent.Add(1)
	return nil
}

// Subscribe subscribes to a topic and calls the handler for each message
// from a dedicated goroutine. Close the returned value to unsubscribe.
func (c *Client) Subscribe(ctx context.Context, topic string, handler func(data []byte)) (io.Closer, error) {
	rdb, err := c.conn()
	if err != nil {
		return nil, err
	}

	ps := rdb.Subscribe(ctx, topic)

	// Wait for the subscription confirmation so no message is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	c.mu.Lock()
	c.subs[ps] = struct{}{}
	c.mu.Unlock()

	ch := ps.Channel(redis.WithChannelSize(c.cfg.BufferSize))
	go func() {
		for msg := range ch {
			c.messagesReceived.Add(1)
			handler([]byte(msg.Payload))
		}
	}()

	c.logger.Debug("subscribed to topic", "topic", topic)

	return &subscription{client: c, ps: ps}, nil
}

type subscription struct {
	client *Client
	ps     *redis.PubSub
	once   sync.Once
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		s.client.mu.Lock()
		delete(s.client.subs, s.ps)
		s.client.mu.Unlock()
		err = s.ps.Close()
	})
	return err
}

// Close closes all subscriptions and the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	for ps := range c.subs {
		if err := ps.Close(); err != nil {
			c.logger.Warn("error closing subscription", "error", err)
		}
	}
	c.subs = nil

	if c.rdb != nil {
		if err := c.rdb.Close(); err != nil {
			return fmt.Errorf("failed to close redis client: %w", err)
		}
		c.rdb = nil
	}

	c.logger.Info("bus client closed")
	return nil
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	return ClientStats{
		Connected:        c.IsConnected(),
		MessagesSent:     c.messagesSent.Load(),
		MessagesReceived: c.messagesReceived.Load(),
		ReconnectCount:   c.reconnectCount.Load(),
	}
}

// ClientStats contains client statistics.
type ClientStats struct {
	Connected        bool  `json:"connected"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesReceived int64 `json:"messages_received"`
	ReconnectCount   int64 `json:"reconnect_count"`
}
