// Package camera captures frames from a local device with OpenCV and hands
// them to the detector. Capture parameters can be changed at runtime.
package camera

import "strconv"

// Config holds the capture parameters.
type Config struct {
	// Device is a device index ("0") or a file/stream URL.
	Device string `json:"device"`

	Width     int `json:"width"`     // Requested frame width in pixels
	Height    int `json:"height"`    // Requested frame height in pixels
	Framerate int `json:"framerate"` // Frames handed to the detector per second
	Quality   int `json:"quality"`   // JPEG quality 1-100
}

// Limits accepted by Validate
const (
	MaxWidth     = 4096
	MaxHeight    = 2160
	MaxFramerate = 60
)

// DefaultConfig returns a 640x480 capture at 10 fps. The detector only
// needs frames to arrive, so resolution is kept modest.
func DefaultConfig() Config {
	return Config{
		Device:    "0",
		Width:     640,
		Height:    480,
		Framerate: 10,
		Quality:   80,
	}
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.Device == "" {
		errors = append(errors, "device is required")
	}
	if c.Width < 160 || c.Width > MaxWidth {
		errors = append(errors, "width must be between 160 and 4096")
	}
	if c.Height < 120 || c.Height > MaxHeight {
		errors = append(errors, "height must be between 120 and 2160")
	}
	if c.Framerate < 1 || c.Framerate > MaxFramerate {
		errors = append(errors, "framerate must be between 1 and 60")
	}
	if c.Quality < 1 || c.Quality > 100 {
		errors = append(errors, "quality must be between 1 and 100")
	}

	return errors
}

// deviceArg returns the value OpenCV expects: an int for a device index,
// otherwise the string itself.
func (c *Config) deviceArg() interface{} {
	if id, err := strconv.Atoi(c.Device); err == nil {
		return id
	}
	return c.Device
}

// needsReopen reports whether switching from c to next requires reopening
// the device.
func (c Config) needsReopen(next Config) bool {
	return c.Device != next.Device || c.Width != next.Width || c.Height != next.Height
}
