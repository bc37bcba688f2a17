package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-wrench/pkg/protocol"
)

// ErrNotConnected is returned when publishing without a connection.
var ErrNotConnected = errors.New("feed: publisher not connected")

// PublisherConfig configures a Publisher
type PublisherConfig struct {
	// URL of the node's camera endpoint, e.g. ws://localhost:8080/ws/camera/front
	URL string

	// Envelope sends frames as protocol frame messages with dimensions and
	// format. When false frames go out as raw binary messages.
	Envelope bool

	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
}

// DefaultPublisherConfig returns sensible defaults
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		URL:              "ws://localhost:8080/ws/camera",
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
	}
}

// Validate checks the configuration
func (c *PublisherConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("write timeout must be positive")
	}
	return nil
}

// Publisher streams frames from a camera to the node
type Publisher struct {
	cfg    PublisherConfig
	logger *slog.Logger
	dialer *websocket.Dialer

	mu   sync.Mutex
	conn *websocket.Conn
	seq  uint64

	framesSent atomic.Uint64
	bytesSent  atomic.Uint64
}

// NewPublisher creates a publisher. Call Connect before publishing.
func NewPublisher(cfg PublisherConfig, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "feed_publisher"),
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}, nil
}

// Connect dials the node
func (p *Publisher) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		return nil
	}

	conn, _, err := p.dialer.DialContext(ctx, p.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.cfg.URL, err)
	}

	p.conn = conn
	p.logger.Info("connected to node", "url", p.cfg.URL)

	// Drain control and pong traffic so the connection stays healthy.
	go p.readLoop(conn)
	return nil
}

func (p *Publisher) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.mu.Lock()
			if p.conn == conn {
				p.conn = nil
			}
			p.mu.Unlock()
			p.logger.Debug("node connection closed", "error", err)
			return
		}

		if msg, err := protocol.ParseMessage(data); err == nil && msg.Type == protocol.TypePong {
			var pong protocol.PongData
			if msg.ParseData(&pong) == nil {
				p.logger.Debug("pong", "id", pong.ID, "latency_ms", pong.LatencyMs)
			}
		}
	}
}

// Connected reports whether the publisher holds a live connection
func (p *Publisher) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// PublishFrame sends one encoded image
func (p *Publisher) PublishFrame(data []byte, width, height int, format string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return ErrNotConnected
	}

	p.seq++

	mt := websocket.BinaryMessage
	payload := data
	if p.cfg.Envelope {
		msg, err := protocol.NewFrameMessage(width, height, format, data, p.seq)
		if err != nil {
			return err
		}
		if payload, err = msg.Bytes(); err != nil {
			return err
		}
		mt = websocket.TextMessage
	}

	p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	if err := p.conn.WriteMessage(mt, payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}

	p.framesSent.Add(1)
	p.bytesSent.Add(uint64(len(payload)))
	return nil
}

// Ping sends a protocol ping; the pong is logged when it arrives
func (p *Publisher) Ping(id string) error {
	msg, err := protocol.NewPingMessage(id, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return ErrNotConnected
	}
	p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
	return p.conn.WriteMessage(websocket.TextMessage, data)
}

// Close closes the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return nil
	}

	p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := p.conn.Close()
	p.conn = nil
	return err
}

// PublisherStats contains publisher statistics
type PublisherStats struct {
	Connected  bool   `json:"connected"`
	FramesSent uint64 `json:"frames_sent"`
	BytesSent  uint64 `json:"bytes_sent"`
}

// Stats returns publisher statistics
func (p *Publisher) Stats() PublisherStats {
	return PublisherStats{
		Connected:  p.Connected(),
		FramesSent: p.framesSent.Load(),
		BytesSent:  p.bytesSent.Load(),
	}
}
