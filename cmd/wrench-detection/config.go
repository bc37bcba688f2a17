package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/teslashibe/go-wrench/internal/config"
	"github.com/teslashibe/go-wrench/internal/log"
	"github.com/teslashibe/go-wrench/pkg/bus"
	"github.com/teslashibe/go-wrench/pkg/camera"
	"github.com/teslashibe/go-wrench/pkg/video"
	"github.com/teslashibe/go-wrench/pkg/web"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// Config is the node configuration assembled from flags and environment.
type Config struct {
	Log      log.Options
	Detector wrench.Config
	Web      web.Config

	BusEnabled bool
	Bus        bus.Config

	CameraEnabled bool
	Camera        camera.Config

	WebRTCEnabled bool
	Video         video.Config
}

// Validate checks every enabled component.
func (c *Config) Validate() error {
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := c.Web.Validate(); err != nil {
		return fmt.Errorf("web: %w", err)
	}
	if c.BusEnabled {
		if err := c.Bus.Validate(); err != nil {
			return fmt.Errorf("bus: %w", err)
		}
	}
	if c.CameraEnabled {
		if errs := c.Camera.Validate(); len(errs) > 0 {
			return fmt.Errorf("camera: %v", errs)
		}
	}
	if c.WebRTCEnabled {
		if err := c.Video.Validate(); err != nil {
			return fmt.Errorf("webrtc: %w", err)
		}
	}
	return nil
}

// parseFlags parses command line flags and returns configuration.
// Flags win over environment variables.
func parseFlags() Config {
	cfg := Config{
		Log:      log.Options{Level: config.String("LOG_LEVEL", "info"), File: config.String("LOG_FILE", "")},
		Detector: wrench.DefaultConfig(),
		Web:      web.DefaultConfig(),
		Bus:      bus.DefaultConfig(),
		Camera:   camera.DefaultConfig(),
		Video:    video.DefaultConfig(),
	}

	cfg.Detector.QueueSize = config.Int("QUEUE_SIZE", cfg.Detector.QueueSize)
	cfg.Detector.HistorySize = config.Int("HISTORY_SIZE", cfg.Detector.HistorySize)
	cfg.Web.Addr = config.String("HTTP_ADDR", cfg.Web.Addr)
	cfg.Web.StaticDir = config.String("STATIC_DIR", "")
	cfg.Web.MaxWait = config.Duration("MAX_WAIT", cfg.Web.MaxWait)
	cfg.Bus.Addr = config.String("REDIS_ADDR", cfg.Bus.Addr)
	cfg.Bus.Password = config.String("REDIS_PASSWORD", "")
	cfg.Bus.DB = config.Int("REDIS_DB", cfg.Bus.DB)
	cfg.Bus.Prefix = config.String("BUS_PREFIX", cfg.Bus.Prefix)
	cfg.BusEnabled = config.IsSet("REDIS_ADDR")
	cfg.Camera.Device = config.String("CAMERA_DEVICE", cfg.Camera.Device)
	cfg.CameraEnabled = config.IsSet("CAMERA_DEVICE")
	cfg.Video.SignallingURL = config.String("WEBRTC_URL", cfg.Video.SignallingURL)
	cfg.Video.ProducerName = config.String("WEBRTC_PRODUCER", cfg.Video.ProducerName)
	cfg.WebRTCEnabled = config.IsSet("WEBRTC_URL")

	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	logFile := flag.String("log-file", cfg.Log.File, "Mirror logs into a rotating file")
	addr := flag.String("addr", cfg.Web.Addr, "HTTP listen address")
	static := flag.String("static", cfg.Web.StaticDir, "Directory served at /")
	maxWait := flag.Duration("max-wait", cfg.Web.MaxWait, "Longest ?wait= accepted on goal submission")
	queue := flag.Int("queue", cfg.Detector.QueueSize, "Event queue depth")
	history := flag.Int("history", cfg.Detector.HistorySize, "Finished goals remembered")
	redisAddr := flag.String("redis", "", "Redis address; enables the pub/sub bridge (overrides REDIS_ADDR)")
	prefix := flag.String("prefix", cfg.Bus.Prefix, "Topic prefix on the bus")
	device := flag.String("camera", "", "Local capture device index or URL (overrides CAMERA_DEVICE)")
	fps := flag.Int("fps", cfg.Camera.Framerate, "Local capture rate")
	webrtcURL := flag.String("webrtc", "", "WebRTC signalling URL (overrides WEBRTC_URL)")
	producer := flag.String("producer", cfg.Video.ProducerName, "WebRTC producer name")
	connectTimeout := flag.Duration("webrtc-timeout", cfg.Video.ConnectTimeout, "WebRTC connect timeout")
	flag.Parse()

	if *debug {
		cfg.Log.Level = "debug"
	}
	cfg.Log.File = *logFile
	cfg.Web.Addr, cfg.Web.StaticDir, cfg.Web.MaxWait = *addr, *static, *maxWait
	cfg.Detector.QueueSize, cfg.Detector.HistorySize = *queue, *history
	cfg.Bus.Prefix = *prefix
	if *redisAddr != "" {
		cfg.Bus.Addr, cfg.BusEnabled = *redisAddr, true
	}
	if *device != "" {
		cfg.Camera.Device, cfg.CameraEnabled = *device, true
	}
	cfg.Camera.Framerate = *fps
	if *webrtcURL != "" {
		cfg.Video.SignallingURL, cfg.WebRTCEnabled = *webrtcURL, true
	}
	cfg.Video.ProducerName, cfg.Video.ConnectTimeout = *producer, *connectTimeout

	return cfg
}

// reconnectDelay spaces WebRTC reconnect attempts.
const reconnectDelay = 2 * time.Second
