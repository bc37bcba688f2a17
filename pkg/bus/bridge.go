package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-wrench/pkg/protocol"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

// publishTimeout bounds each outbound publish made by the bridge.
const publishTimeout = 2 * time.Second

// Bridge connects the camera and goal topics to a detector and publishes
// goal status and results back out.
type Bridge struct {
	ps       PubSub
	detector *wrench.Detector
	logger   *slog.Logger

	mu   sync.Mutex
	subs []io.Closer

	// Stats
	framesIn     atomic.Int64
	goalsIn      atomic.Int64
	badMessages  atomic.Int64
	publishFails atomic.Int64
}

// NewBridge creates a bridge. Call Start to subscribe.
func NewBridge(ps PubSub, detector *wrench.Detector, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		ps:       ps,
		detector: detector,
		logger:   logger.With("component", "bus_bridge"),
	}
}

// Start subscribes to the camera and goal topics and registers the result
// publisher. Goal waits and publishes stop when ctx is cancelled.
func (b *Bridge) Start(ctx context.Context) error {
	topics := b.ps.Topics()

	camSub, err := b.ps.Subscribe(ctx, topics.Camera(), b.handleFrame)
	if err != nil {
		return fmt.Errorf("camera topic: %w", err)
	}

	goalSub, err := b.ps.Subscribe(ctx, topics.Goal(), func(data []byte) {
		b.handleGoal(ctx, data)
	})
	if err != nil {
		camSub.Close()
		return fmt.Errorf("goal topic: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, camSub, goalSub)
	b.mu.Unlock()

	b.detector.OnResult(func(res wrench.Result, goals []wrench.GoalInfo) {
		msg, err := protocol.NewResultMessage(res, goals)
		if err != nil {
			b.logger.Error("encode result", "error", err)
			return
		}
		// The detector loop must not block on the network.
		go b.publish(ctx, topics.Result(), msg)
	})

	b.logger.Info("bus bridge started",
		"camera_topic", topics.Camera(),
		"goal_topic", topics.Goal(),
		"result_topic", topics.Result(),
	)
	return nil
}

// handleFrame accepts either a protocol frame message or raw image bytes.
func (b *Bridge) handleFrame(data []byte) {
	b.framesIn.Add(1)

	frame := wrench.Frame{Source: "bus", Data: data}
	if msg, err := protocol.ParseMessage(data); err == nil && msg.Type == protocol.TypeFrame {
		if fd, err := msg.GetFrameData(); err == nil {
			frame = fd.Frame("bus")
		}
	}

	b.detector.HandleFrame(frame)
}

// handleGoal submits a goal. An empty or non-protocol payload is treated as
// an anonymous goal: the request carries no meaningful fields.
func (b *Bridge) handleGoal(ctx context.Context, data []byte) {
	b.goalsIn.Add(1)

	var id string
	if len(data) > 0 {
		msg, err := protocol.ParseMessage(data)
		switch {
		case err != nil:
			b.logger.Debug("goal payload is not a protocol message, submitting anonymous goal")
		case msg.Type != protocol.TypeGoal:
			b.badMessages.Add(1)
			b.logger.Warn("unexpected message on goal topic", "type", msg.Type)
			return
		default:
			if gd, err := msg.GetGoalData(); err == nil {
				id = gd.ID
			}
		}
	}

	goal, err := b.detector.Submit(ctx, id)
	if err != nil {
		b.logger.Warn("goal rejected", "goal_id", id, "error", err)
		b.publishStatus(ctx, id, wrench.StatusRejected, err)
		return
	}

	b.publishStatus(ctx, goal.ID(), goal.Status(), nil)

	go func() {
		_, err := goal.Wait(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		b.publishStatus(context.WithoutCancel(ctx), goal.ID(), goal.Status(), err)
	}()
}

func (b *Bridge) publishStatus(ctx context.Context, id string, status wrench.Status, cause error) {
	msg, err := protocol.NewGoalStatusMessage(id, status, cause)
	if err != nil {
		b.logger.Error("encode goal status", "error", err)
		return
	}
	b.publish(ctx, b.ps.Topics().Status(), msg)
}

func (b *Bridge) publish(ctx context.Context, topic string, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		b.logger.Error("encode message", "type", msg.Type, "error", err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := b.ps.Publish(pubCtx, topic, data); err != nil {
		b.publishFails.Add(1)
		b.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}

// Close unsubscribes from all topics.
func (b *Bridge) Close() error {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns bridge statistics.
func (b *Bridge) Stats() BridgeStats {
	return BridgeStats{
		FramesIn:     b.framesIn.Load(),
		GoalsIn:      b.goalsIn.Load(),
		BadMessages:  b.badMessages.Load(),
		PublishFails: b.publishFails.Load(),
	}
}

// BridgeStats contains bridge statistics.
type BridgeStats struct {
	FramesIn     int64 `json:"frames_in"`
	GoalsIn      int64 `json:"goals_in"`
	BadMessages  int64 `json:"bad_messages"`
	PublishFails int64 `json:"publish_fails"`
}
