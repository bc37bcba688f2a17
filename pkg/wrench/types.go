// Package wrench implements the wrench detection node: a goal-triggered
// gate over the camera feed that reports a region of interest.
//
// The detector starts on standby. A goal enables it; the next camera frame
// produces a region of interest, completes every waiting goal, and puts the
// detector back on standby. All state is owned by the goroutine running
// Detector.Run, so goals and frames are handled strictly in arrival order.
package wrench

import "time"

const (
	// NodeName is the name the detector announces itself under.
	NodeName = "wrench_detection_server"

	// ActionName is the goal interface name, also used as the topic prefix.
	ActionName = "wrench_detection"

	// CameraTopic is the frame feed the original node subscribed to.
	CameraTopic = "camera"
)

// Point is a 3-D point.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ROI is a rectangular region of interest given as four ordered corners.
type ROI [4]Point

// FixedROI returns the region of interest reported for every detection.
// Image content does not affect it.
func FixedROI() ROI {
	return ROI{
		{X: 0, Y: 0, Z: 0},
		{X: 10, Y: 0, Z: 0},
		{X: 10, Y: 10, Z: 0},
		{X: 0, Y: 10, Z: 0},
	}
}

// Points returns the corners as a slice, convenient for encoding.
func (r ROI) Points() []Point {
	return r[:]
}

// Frame is one unit of camera data. Only its arrival matters; Data is
// carried along for logging and stats but never decoded.
//
// Seq is assigned by the detector on arrival and is unique per detector.
// SourceSeq is whatever number the sender attached, if any.
type Frame struct {
	Seq       uint64    `json:"seq"`
	SourceSeq uint64    `json:"source_seq,omitempty"`
	Source    string    `json:"source,omitempty"`
	Format    string    `json:"format,omitempty"`
	Data      []byte    `json:"-"`
	Received  time.Time `json:"received"`
}

// Size returns the payload length in bytes.
func (f Frame) Size() int {
	return len(f.Data)
}

// Result is what a successful detection cycle reports to its goals.
type Result struct {
	ROI      ROI       `json:"roi"`
	FrameSeq uint64    `json:"frame_seq"`
	FoundAt  time.Time `json:"found_at"`
}
