// Package feed carries camera frames to the node over WebSocket.
//
// Server is the node side: cameras connect to /ws/camera (optionally
// /ws/camera/:id) and stream frames as binary messages or as protocol
// frame envelopes. Publisher is the camera side.
package feed

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-wrench/pkg/protocol"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// FrameSink receives frame arrivals. *wrench.Detector satisfies it.
type FrameSink interface {
	HandleFrame(f wrench.Frame) bool
}

// maxFrameSize bounds a single inbound message.
const maxFrameSize = 8 * 1024 * 1024

// CameraConnection represents a connected camera
type CameraConnection struct {
	ID        string
	Conn      *websocket.Conn
	Connected time.Time
	LastSeen  time.Time
	Frames    uint64

	mu sync.Mutex
}

// Send sends a message to the camera
func (c *CameraConnection) Send(msg *protocol.Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(websocket.TextMessage, data)
}

func (c *CameraConnection) touch() {
	c.mu.Lock()
	c.LastSeen = time.Now()
	c.Frames++
	c.mu.Unlock()
}

// Server accepts camera connections and forwards frames to a sink
type Server struct {
	sink   FrameSink
	logger *slog.Logger

	mu      sync.RWMutex
	cameras map[string]*CameraConnection

	// Stats
	messagesReceived atomic.Uint64
	framesReceived   atomic.Uint64
	framesRejected   atomic.Uint64
	badMessages      atomic.Uint64
}

// NewServer creates a feed server forwarding to sink
func NewServer(sink FrameSink, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		sink:    sink,
		logger:  logger.With("component", "camera_feed"),
		cameras: make(map[string]*CameraConnection),
	}
}

// RegisterRoutes registers the camera WebSocket routes
func (s *Server) RegisterRoutes(router fiber.Router) {
	router.Use("/ws/camera", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	cfg := websocket.Config{ReadBufferSize: 64 * 1024}
	router.Get("/ws/camera", websocket.New(s.handleCamera, cfg))
	router.Get("/ws/camera/:id", websocket.New(s.handleCamera, cfg))
}

// handleCamera handles one camera connection
func (s *Server) handleCamera(c *websocket.Conn) {
	cameraID := c.Params("id")
	if cameraID == "" {
		cameraID = uuid.New().String()
	}

	cam := &CameraConnection{
		ID:        cameraID,
		Conn:      c,
		Connected: time.Now(),
		LastSeen:  time.Now(),
	}

	s.mu.Lock()
	s.cameras[cameraID] = cam
	count := len(s.cameras)
	s.mu.Unlock()

	s.logger.Info("camera connected", "camera_id", cameraID, "total", count)

	defer func() {
		s.mu.Lock()
		if s.cameras[cameraID] == cam {
			delete(s.cameras, cameraID)
		}
		count := len(s.cameras)
		s.mu.Unlock()

		s.logger.Info("camera disconnected", "camera_id", cameraID, "total", count)
	}()

	c.SetReadLimit(maxFrameSize)

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			s.logger.Debug("camera read ended", "camera_id", cameraID, "error", err)
			return
		}

		s.messagesReceived.Add(1)

		switch mt {
		case websocket.BinaryMessage:
			cam.touch()
			s.forward(wrench.Frame{Source: cameraID, Data: data})
		case websocket.TextMessage:
			s.handleMessage(cam, data)
		}
	}
}

// handleMessage processes a protocol envelope from a camera
func (s *Server) handleMessage(cam *CameraConnection, data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		s.badMessages.Add(1)
		s.logger.Debug("parse error", "camera_id", cam.ID, "error", err)
		return
	}

	switch msg.Type {
	case protocol.TypeFrame:
		fd, err := msg.GetFrameData()
		if err != nil {
			s.badMessages.Add(1)
			return
		}
		cam.touch()
		s.forward(fd.Frame(cam.ID))

	case protocol.TypePing:
		var id string
		pingTS := msg.Timestamp
		if ping, err := msg.GetPingData(); err == nil {
			id = ping.ID
			if ping.Timestamp != 0 {
				pingTS = ping.Timestamp
			}
		}
		pong, err := protocol.NewPongMessage(id, pingTS, time.Now().UnixMilli())
		if err == nil {
			if err := cam.Send(pong); err != nil {
				s.logger.Debug("pong failed", "camera_id", cam.ID, "error", err)
			}
		}

	default:
		s.badMessages.Add(1)
		s.logger.Warn("unexpected message from camera", "camera_id", cam.ID, "type", msg.Type)
	}
}

func (s *Server) forward(f wrench.Frame) {
	s.framesReceived.Add(1)
	if !s.sink.HandleFrame(f) {
		s.framesRejected.Add(1)
	}
}

// CameraCount returns the number of connected cameras
func (s *Server) CameraCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cameras)
}

// CameraInfo contains info about a connected camera
type CameraInfo struct {
	ID        string    `json:"id"`
	Connected time.Time `json:"connected"`
	LastSeen  time.Time `json:"last_seen"`
	Frames    uint64    `json:"frames"`
}

// Cameras returns info about all connected cameras
func (s *Server) Cameras() []CameraInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]CameraInfo, 0, len(s.cameras))
	for _, c := range s.cameras {
		c.mu.Lock()
		infos = append(infos, CameraInfo{
			ID:        c.ID,
			Connected: c.Connected,
			LastSeen:  c.LastSeen,
			Frames:    c.Frames,
		})
		c.mu.Unlock()
	}
	return infos
}

// Stats contains feed statistics
type Stats struct {
	CameraCount      int    `json:"camera_count"`
	MessagesReceived uint64 `json:"messages_received"`
	FramesReceived   uint64 `json:"frames_received"`
	FramesRejected   uint64 `json:"frames_rejected"`
	BadMessages      uint64 `json:"bad_messages"`
}

// GetStats returns feed statistics
func (s *Server) GetStats() Stats {
	return Stats{
		CameraCount:      s.CameraCount(),
		MessagesReceived: s.messagesReceived.Load(),
		FramesReceived:   s.framesReceived.Load(),
		FramesRejected:   s.framesRejected.Load(),
		BadMessages:      s.badMessages.Load(),
	}
}

// RegisterAPIRoutes registers camera listing routes
func (s *Server) RegisterAPIRoutes(api fiber.Router) {
	cameras := api.Group("/cameras")

	cameras.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"cameras": s.Cameras(),
			"count":   s.CameraCount(),
		})
	})

	cameras.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(s.GetStats())
	})
}
