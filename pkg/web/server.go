// Package web exposes the wrench detection action over HTTP and streams
// results to WebSocket subscribers.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-wrench/pkg/hub"
	"github.com/teslashibe/go-wrench/pkg/protocol"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// Config holds web server settings
type Config struct {
	Addr string

	// StaticDir is served at / when set
	StaticDir string

	// MaxWait caps the ?wait= duration accepted by goal submission
	MaxWait time.Duration

	// MaxBodySize bounds uploaded frames, in bytes
	MaxBodySize int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		MaxWait:     30 * time.Second,
		MaxBodySize: 8 * 1024 * 1024,
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("addr is required")
	}
	if c.MaxWait <= 0 {
		return fmt.Errorf("max wait must be positive")
	}
	if c.MaxBodySize <= 0 {
		return fmt.Errorf("max body size must be positive")
	}
	return nil
}

// Server is the node's HTTP front end
type Server struct {
	app      *fiber.App
	cfg      Config
	detector *wrench.Detector
	logger   *slog.Logger

	// Results fans detection results out to /ws/results subscribers
	results *hub.Hub
}

// NewServer creates the server and registers its routes. Other packages
// may add routes through App before Start.
func NewServer(cfg Config, detector *wrench.Detector, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:      cfg,
		detector: detector,
		logger:   logger.With("component", "web"),
		results:  hub.New("results", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Wrench Detection",
		DisableStartupMessage: true,
		BodyLimit:             cfg.MaxBodySize,
	})

	app.Use(cors.New())

	if cfg.StaticDir != "" {
		app.Static("/", cfg.StaticDir)
	}

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Post("/camera/frame", s.handleFrame)

	action := api.Group("/" + wrench.ActionName)
	action.Get("/goals", s.handleListGoals)
	action.Post("/goals", s.handleSubmitGoal)
	action.Get("/goals/:id", s.handleGetGoal)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/results", websocket.New(s.handleResultsWS))

	detector.OnResult(func(res wrench.Result, goals []wrench.GoalInfo) {
		msg, err := protocol.NewResultMessage(res, goals)
		if err != nil {
			s.logger.Error("encode result", "error", err)
			return
		}
		s.results.BroadcastMessage(msg)
	})

	s.app = app
	return s, nil
}

// App returns the underlying fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// ResultHub returns the result broadcast hub
func (s *Server) ResultHub() *hub.Hub {
	return s.results
}

// Start runs the result hub and serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	go s.results.Run(ctx)

	go func() {
		<-ctx.Done()
		if err := s.app.ShutdownWithTimeout(5 * time.Second); err != nil {
			s.logger.Warn("web shutdown", "error", err)
		}
	}()

	s.logger.Info("web server listening", "addr", s.cfg.Addr)
	return s.app.Listen(s.cfg.Addr)
}
