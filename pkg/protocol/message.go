// Package protocol defines the wire messages exchanged with the wrench
// detection node over WebSocket and pub/sub topics.
package protocol

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/teslashibe/go-wrench/pkg/wrench"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MessageType identifies the type of message
type MessageType string

const (
	// Camera → node
	TypeFrame MessageType = "frame" // Camera frame

	// Client → node
	TypeGoal MessageType = "goal" // Enable detection for one cycle

	// Node → client
	TypeGoalStatus MessageType = "goal_status" // Goal accepted / finished
	TypeResult     MessageType = "result"      // Region of interest found

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all messages
type Message struct {
	Type      MessageType         `json:"type"`
	Timestamp int64               `json:"ts,omitempty"` // Unix milliseconds
	Data      jsoniter.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData jsoniter.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("failed to parse message: missing type")
	}
	return &msg, nil
}

// =============================================================================
// Camera → Node
// =============================================================================

// FrameData carries one camera frame. The node only cares that it arrived.
type FrameData struct {
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Format  string `json:"format,omitempty"` // "jpeg", "h264", "raw"
	Data    string `json:"data,omitempty"`   // base64 encoded
	FrameID uint64 `json:"frame_id,omitempty"`
}

// =============================================================================
// Client → Node
// =============================================================================

// GoalData requests one detection cycle. ID is optional; the node assigns
// one when it is empty.
type GoalData struct {
	ID string `json:"id,omitempty"`
}

// =============================================================================
// Node → Client
// =============================================================================

// GoalStatusData reports a goal's lifecycle state.
type GoalStatusData struct {
	ID     string        `json:"id"`
	Status wrench.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// ResultData is the detection result, sent once per cycle.
type ResultData struct {
	GoalIDs  []string       `json:"goal_ids"`
	ROI      []wrench.Point `json:"roi"`
	FrameSeq uint64         `json:"frame_seq"`
	FoundAt  int64          `json:"found_at"` // Unix milliseconds
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
