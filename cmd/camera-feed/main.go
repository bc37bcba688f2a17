// camera-feed captures frames from a local device and streams them to a
// wrench detection node over WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-wrench/internal/config"
	"github.com/teslashibe/go-wrench/internal/log"
	"github.com/teslashibe/go-wrench/pkg/camera"
	"github.com/teslashibe/go-wrench/pkg/feed"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// outboxSize is how many captured frames may wait for the network.
const outboxSize = 2

func main() {
	_ = godotenv.Load()

	camCfg := camera.DefaultConfig()
	pubCfg := feed.DefaultPublisherConfig()

	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	node := flag.String("node", config.String("NODE_URL", pubCfg.URL), "Node camera endpoint")
	device := flag.String("device", config.String("CAMERA_DEVICE", camCfg.Device), "Capture device index or URL")
	preset := flag.String("preset", camera.PresetDefault, "Capture preset")
	fps := flag.Int("fps", 0, "Override preset frame rate")
	envelope := flag.Bool("envelope", false, "Send protocol frame messages instead of raw binary")
	flag.Parse()

	level := config.String("LOG_LEVEL", "info")
	if *debug {
		level = "debug"
	}
	log.Init(level)
	logger := log.L()

	if p := camera.GetPreset(*preset); p != nil {
		camCfg = *p
	} else {
		logger.Error("unknown preset", "preset", *preset, "available", camera.PresetNames())
		os.Exit(1)
	}
	camCfg.Device = *device
	if *fps > 0 {
		camCfg.Framerate = *fps
	}
	if errs := camCfg.Validate(); len(errs) > 0 {
		logger.Error("invalid camera config", "errors", errs)
		os.Exit(1)
	}

	pubCfg.URL, pubCfg.Envelope = *node, *envelope
	pub, err := feed.NewPublisher(pubCfg, logger)
	if err != nil {
		logger.Error("invalid publisher config", "error", err)
		os.Exit(1)
	}
	defer pub.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	outbox := make(chan wrench.Frame, outboxSize)
	go publish(ctx, pub, camCfg, outbox, logger)

	capture := camera.NewCapture("camera-feed", camera.NewManager(camCfg), func(f wrench.Frame) bool {
		select {
		case outbox <- f:
			return true
		default:
			return false
		}
	}, logger)

	if err := capture.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("capture stopped", "error", err)
		os.Exit(1)
	}

	stats := capture.Stats()
	logger.Info("camera feed stopped",
		"captured", stats.FramesCaptured,
		"dropped", stats.FramesRejected,
		"sent", pub.Stats().FramesSent,
	)
}

// publish sends queued frames, reconnecting to the node as needed.
func publish(ctx context.Context, pub *feed.Publisher, cfg camera.Config, outbox <-chan wrench.Frame, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-outbox:
			if !pub.Connected() {
				if err := pub.Connect(ctx); err != nil {
					logger.Warn("node unreachable, dropping frame", "error", err)
					select {
					case <-ctx.Done():
						return
					case <-time.After(time.Second):
					}
					continue
				}
			}
			if err := pub.PublishFrame(f.Data, cfg.Width, cfg.Height, f.Format); err != nil {
				logger.Warn("publish failed", "error", err)
				pub.Close()
			}
		}
	}
}
