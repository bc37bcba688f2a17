// wrench-detection runs the wrench detection node: a stub detector that
// answers each goal with a fixed region of interest on the next camera
// frame. Goals arrive over HTTP or the Redis bus; frames arrive from
// WebSocket cameras, HTTP uploads, the bus, a local device or WebRTC.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-wrench/internal/log"
	"github.com/teslashibe/go-wrench/pkg/bus"
	"github.com/teslashibe/go-wrench/pkg/camera"
	"github.com/teslashibe/go-wrench/pkg/feed"
	"github.com/teslashibe/go-wrench/pkg/video"
	"github.com/teslashibe/go-wrench/pkg/web"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := parseFlags()
	log.InitWithOptions(cfg.Log)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("runtime error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	detector, err := wrench.New(cfg.Detector, logger)
	if err != nil {
		return err
	}

	// Cancel before waiting so every component sees shutdown.
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := detector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("detector stopped", "error", err)
		}
		cancel()
	}()

	select {
	case <-detector.Ready():
	case <-ctx.Done():
		return nil
	}

	server, err := web.NewServer(cfg.Web, detector, logger)
	if err != nil {
		return err
	}
	api := server.App().Group("/api")

	cameras := feed.NewServer(detector, logger)
	cameras.RegisterRoutes(server.App())
	cameras.RegisterAPIRoutes(api)

	if cfg.CameraEnabled {
		manager := camera.NewManager(cfg.Camera)
		manager.RegisterAPIRoutes(api)
		capture := camera.NewCapture("local", manager, detector.HandleFrame, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := capture.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("local camera stopped", "error", err)
			}
		}()
	}

	if cfg.WebRTCEnabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runWebRTC(ctx, cfg.Video, detector, logger)
		}()
	}

	if cfg.BusEnabled {
		client, err := bus.New(cfg.Bus, logger)
		if err != nil {
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer client.Close()

			if err := client.ConnectWithRetry(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					logger.Error("bus unavailable", "error", err)
				}
				return
			}

			bridge := bus.NewBridge(client, detector, logger)
			if err := bridge.Start(ctx); err != nil {
				logger.Error("bus bridge failed", "error", err)
				return
			}
			<-ctx.Done()
			bridge.Close()
		}()
	}

	return server.Start(ctx)
}

// runWebRTC keeps a WebRTC frame source connected until ctx is cancelled.
func runWebRTC(ctx context.Context, cfg video.Config, detector *wrench.Detector, logger *slog.Logger) {
	for {
		client, err := video.NewClient(cfg, detector.HandleFrame, logger)
		if err != nil {
			logger.Error("webrtc config", "error", err)
			return
		}

		if err := client.Connect(ctx); err != nil {
			logger.Warn("webrtc connect failed", "error", err, "retry_in", reconnectDelay)
		} else {
			select {
			case <-ctx.Done():
			case <-client.Done():
				logger.Warn("webrtc stream lost", "retry_in", reconnectDelay)
			}
		}
		client.Close()

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}
