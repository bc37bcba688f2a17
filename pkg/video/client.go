// Package video receives a WebRTC video stream and feeds each access unit
// to the detector as an opaque frame.
package video

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"

	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// Config configures the WebRTC client
type Config struct {
	// SignallingURL is the GStreamer signalling server, e.g. ws://robot:8443
	SignallingURL string

	// ProducerName is matched against the producer's meta name
	ProducerName string

	// ConnectTimeout bounds the handshake and the wait for the first track
	ConnectTimeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		SignallingURL:  "ws://localhost:8443",
		ProducerName:   "camera",
		ConnectTimeout: 15 * time.Second,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.SignallingURL == "" {
		return fmt.Errorf("signalling url is required")
	}
	if c.ProducerName == "" {
		return fmt.Errorf("producer name is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	return nil
}

// Sink receives frames. It must not block.
type Sink func(f wrench.Frame) bool

// Client connects to a WebRTC video producer via GStreamer signalling
type Client struct {
	cfg    Config
	sink   Sink
	logger *slog.Logger

	sig *signaller
	pc  *webrtc.PeerConnection

	mu        sync.Mutex
	sessionID string

	trackReady chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	framesDelivered atomic.Uint64
	framesRejected  atomic.Uint64
	packetsReceived atomic.Uint64
}

// NewClient creates a WebRTC video client delivering frames to sink
func NewClient(cfg Config, sink Sink, logger *slog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		sink:       sink,
		logger:     logger.With("component", "webrtc"),
		trackReady: make(chan struct{}, 1),
		done:       make(chan struct{}),
	}, nil
}

// Connect establishes the WebRTC connection and waits for the video track
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.ConnectTimeout}
	ws, _, err := dialer.DialContext(ctx, c.cfg.SignallingURL, nil)
	if err != nil {
		return fmt.Errorf("signalling connect failed: %w", err)
	}
	c.sig = &signaller{ws: ws}

	peerID, err := c.sig.welcome(c.cfg.ConnectTimeout)
	if err != nil {
		c.Close()
		return fmt.Errorf("welcome failed: %w", err)
	}
	c.logger.Debug("signalling welcome", "peer_id", peerID)

	producerID, err := c.sig.findProducer(c.cfg.ProducerName, c.cfg.ConnectTimeout)
	if err != nil {
		c.Close()
		return fmt.Errorf("find producer failed: %w", err)
	}
	c.logger.Info("found producer", "producer_id", producerID, "name", c.cfg.ProducerName)

	if err := c.createPeerConnection(); err != nil {
		c.Close()
		return fmt.Errorf("peer connection failed: %w", err)
	}

	if err := c.sig.startSession(producerID); err != nil {
		c.Close()
		return fmt.Errorf("start session failed: %w", err)
	}

	go c.handleSignalling()

	select {
	case <-c.trackReady:
		c.logger.Info("video track connected")
		return nil
	case <-c.done:
		return errors.New("session ended before video arrived")
	case <-ctx.Done():
		c.Close()
		return fmt.Errorf("timeout waiting for video: %w", ctx.Err())
	}
}

func (c *Client) createPeerConnection() error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return err
	}
	c.pc = pc

	if _, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return err
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info("got track", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			go c.handleVideoTrack(track)
		}
	})

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		c.mu.Lock()
		sessionID := c.sessionID
		c.mu.Unlock()
		if sessionID == "" {
			return
		}
		if err := c.sig.sendICE(sessionID, candidate.ToJSON()); err != nil {
			c.logger.Debug("send ice failed", "error", err)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.logger.Debug("connection state", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			c.Close()
		}
	})

	return nil
}

func (c *Client) handleSignalling() {
	for {
		msg, err := c.sig.read(0)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("signalling error", "error", err)
				c.Close()
			}
			return
		}

		switch msg.Type {
		case msgSessionStarted:
			c.mu.Lock()
			c.sessionID = msg.SessionID
			c.mu.Unlock()

		case msgPeer:
			c.handlePeerMessage(msg)

		case msgEndSession:
			c.logger.Info("session ended by producer")
			c.Close()
			return
		}
	}
}

func (c *Client) handlePeerMessage(msg signalMessage) {
	if msg.SDP != nil && msg.SDP.Type == "offer" {
		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: msg.SDP.SDP}
		if err := c.pc.SetRemoteDescription(offer); err != nil {
			c.logger.Warn("set remote description", "error", err)
			return
		}

		answer, err := c.pc.CreateAnswer(nil)
		if err != nil {
			c.logger.Warn("create answer", "error", err)
			return
		}
		if err := c.pc.SetLocalDescription(answer); err != nil {
			c.logger.Warn("set local description", "error", err)
			return
		}

		if err := c.sig.sendSDP(msg.SessionID, answer); err != nil {
			c.logger.Warn("send answer", "error", err)
		}
	}

	if msg.ICE != nil {
		if err := c.pc.AddICECandidate(webrtc.ICECandidateInit{
			Candidate:     msg.ICE.Candidate,
			SDPMid:        msg.ICE.SDPMid,
			SDPMLineIndex: msg.ICE.SDPMLineIndex,
		}); err != nil {
			c.logger.Debug("add ice candidate", "error", err)
		}
	}
}

func (c *Client) handleVideoTrack(track *webrtc.TrackRemote) {
	select {
	case c.trackReady <- struct{}{}:
	default:
	}

	format := strings.ToLower(strings.TrimPrefix(track.Codec().MimeType, "video/"))
	var asm Assembler

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			c.logger.Debug("track read ended", "error", err)
			return
		}
		c.packetsReceived.Add(1)

		unit := asm.Push(pkt)
		if unit == nil {
			continue
		}

		if c.sink(wrench.Frame{Source: "webrtc", Format: format, Data: unit}) {
			c.framesDelivered.Add(1)
		} else {
			c.framesRejected.Add(1)
		}
	}
}

// Done is closed when the client shuts down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebRTC connection
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.pc != nil {
			c.pc.Close()
		}
		if c.sig != nil {
			c.sig.close()
		}
	})
}

// Stats contains client statistics
type Stats struct {
	PacketsReceived uint64 `json:"packets_received"`
	FramesDelivered uint64 `json:"frames_delivered"`
	FramesRejected  uint64 `json:"frames_rejected"`
}

// Stats returns client statistics
func (c *Client) Stats() Stats {
	return Stats{
		PacketsReceived: c.packetsReceived.Load(),
		FramesDelivered: c.framesDelivered.Load(),
		FramesRejected:  c.framesRejected.Load(),
	}
}
