package protocol

import (
	"encoding/base64"
	"fmt"

	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// NewFrameMessage creates a frame message from raw image data
func NewFrameMessage(width, height int, format string, data []byte, frameID uint64) (*Message, error) {
	return NewMessage(TypeFrame, FrameData{
		Width:   width,
		Height:  height,
		Format:  format,
		Data:    base64.StdEncoding.EncodeToString(data),
		FrameID: frameID,
	})
}

// NewGoalMessage creates a goal message
func NewGoalMessage(id string) (*Message, error) {
	return NewMessage(TypeGoal, GoalData{ID: id})
}

// NewGoalStatusMessage creates a goal status message
func NewGoalStatusMessage(id string, status wrench.Status, err error) (*Message, error) {
	data := GoalStatusData{ID: id, Status: status}
	if err != nil {
		data.Error = err.Error()
	}
	return NewMessage(TypeGoalStatus, data)
}

// NewResultMessage creates a result message for every goal in the cycle
func NewResultMessage(res wrench.Result, goals []wrench.GoalInfo) (*Message, error) {
	ids := make([]string, 0, len(goals))
	for _, g := range goals {
		ids = append(ids, g.ID)
	}
	return NewMessage(TypeResult, ResultData{
		GoalIDs:  ids,
		ROI:      res.ROI.Points(),
		FrameSeq: res.FrameSeq,
		FoundAt:  res.FoundAt.UnixMilli(),
	})
}

// NewPingMessage creates a ping message
func NewPingMessage(id string, ts int64) (*Message, error) {
	return NewMessage(TypePing, PingData{ID: id, Timestamp: ts})
}

// NewPongMessage creates a pong response
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Typed accessors
// =============================================================================

// GetFrameData extracts FrameData from a frame message
func (m *Message) GetFrameData() (*FrameData, error) {
	if m.Type != TypeFrame {
		return nil, fmt.Errorf("expected %s message, got %s", TypeFrame, m.Type)
	}
	var data FrameData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetGoalData extracts GoalData from a goal message
func (m *Message) GetGoalData() (*GoalData, error) {
	if m.Type != TypeGoal {
		return nil, fmt.Errorf("expected %s message, got %s", TypeGoal, m.Type)
	}
	var data GoalData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetResultData extracts ResultData from a result message
func (m *Message) GetResultData() (*ResultData, error) {
	if m.Type != TypeResult {
		return nil, fmt.Errorf("expected %s message, got %s", TypeResult, m.Type)
	}
	var data ResultData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetGoalStatusData extracts GoalStatusData from a goal status message
func (m *Message) GetGoalStatusData() (*GoalStatusData, error) {
	if m.Type != TypeGoalStatus {
		return nil, fmt.Errorf("expected %s message, got %s", TypeGoalStatus, m.Type)
	}
	var data GoalStatusData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts PingData from a ping message
func (m *Message) GetPingData() (*PingData, error) {
	if m.Type != TypePing {
		return nil, fmt.Errorf("expected %s message, got %s", TypePing, m.Type)
	}
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// Frame converts a frame message payload into a detector frame. The payload
// is base64-decoded; when decoding fails the raw string bytes are kept, since
// the frame still counts as an arrival. FrameID becomes SourceSeq.
func (f *FrameData) Frame(source string) wrench.Frame {
	raw, err := base64.StdEncoding.DecodeString(f.Data)
	if err != nil {
		raw = []byte(f.Data)
	}
	return wrench.Frame{
		SourceSeq: f.FrameID,
		Source:    source,
		Format:    f.Format,
		Data:      raw,
	}
}
