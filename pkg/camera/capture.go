package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// ErrDeviceClosed is returned when the device stops producing frames.
var ErrDeviceClosed = errors.New("camera: device closed")

// Sink receives captured frames. It must not block.
type Sink func(f wrench.Frame) bool

// Capture reads frames from an OpenCV device at the configured rate.
type Capture struct {
	manager *Manager
	sink    Sink
	name    string
	logger  *slog.Logger

	reconfigure chan struct{}

	framesCaptured atomic.Uint64
	framesRejected atomic.Uint64
	readErrors     atomic.Uint64
}

// NewCapture creates a capture source. Config changes made through the
// manager are applied while running.
func NewCapture(name string, manager *Manager, sink Sink, logger *slog.Logger) *Capture {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Capture{
		manager:     manager,
		sink:        sink,
		name:        name,
		logger:      logger.With("component", "camera", "source", name),
		reconfigure: make(chan struct{}, 1),
	}
	manager.OnConfigChange = func(Config) error {
		select {
		case c.reconfigure <- struct{}{}:
		default:
		}
		return nil
	}
	return c
}

func open(cfg Config) (*gocv.VideoCapture, error) {
	vc, err := gocv.OpenVideoCapture(cfg.deviceArg())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	return vc, nil
}

// Run captures until ctx is cancelled or the device fails.
func (c *Capture) Run(ctx context.Context) error {
	cfg := c.manager.GetConfig()
	vc, err := open(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if vc != nil {
			vc.Close()
		}
	}()

	c.logger.Info("camera opened",
		"device", cfg.Device,
		"width", cfg.Width,
		"height", cfg.Height,
		"fps", cfg.Framerate,
	)

	img := gocv.NewMat()
	defer img.Close()

	ticker := time.NewTicker(time.Second / time.Duration(cfg.Framerate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-c.reconfigure:
			next := c.manager.GetConfig()
			if cfg.needsReopen(next) {
				vc.Close()
				if vc, err = open(next); err != nil {
					return err
				}
				c.logger.Info("camera reopened", "device", next.Device, "width", next.Width, "height", next.Height)
			}
			ticker.Reset(time.Second / time.Duration(next.Framerate))
			cfg = next

		case <-ticker.C:
			if ok := vc.Read(&img); !ok {
				return ErrDeviceClosed
			}
			if img.Empty() {
				c.readErrors.Add(1)
				continue
			}

			buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, img, []int{int(gocv.IMWriteJpegQuality), cfg.Quality})
			if err != nil {
				c.readErrors.Add(1)
				c.logger.Debug("encode failed", "error", err)
				continue
			}
			data := append([]byte(nil), buf.GetBytes()...)
			buf.Close()

			c.framesCaptured.Add(1)
			if !c.sink(wrench.Frame{Source: c.name, Format: "jpeg", Data: data}) {
				c.framesRejected.Add(1)
			}
		}
	}
}

// CaptureStats contains capture statistics
type CaptureStats struct {
	FramesCaptured uint64 `json:"frames_captured"`
	FramesRejected uint64 `json:"frames_rejected"`
	ReadErrors     uint64 `json:"read_errors"`
}

// Stats returns capture statistics
func (c *Capture) Stats() CaptureStats {
	return CaptureStats{
		FramesCaptured: c.framesCaptured.Load(),
		FramesRejected: c.framesRejected.Load(),
		ReadErrors:     c.readErrors.Load(),
	}
}
