package wrench

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type eventKind int

const (
	eventGoal eventKind = iota
	eventFrame
)

// event is the single queue entry type so goals and frames keep their
// relative order.
type event struct {
	kind  eventKind
	goal  *Goal
	frame Frame
}

// ResultListener is notified by the run loop after every detection. It must
// not block; hand work off to another goroutine if needed.
type ResultListener func(res Result, goals []GoalInfo)

// Detector is the goal-triggered wrench detector.
//
// The enabled flag and the list of waiting goals are owned by the goroutine
// executing Run. Submit and HandleFrame only enqueue events.
type Detector struct {
	cfg    Config
	logger *slog.Logger
	events chan event

	// lifecycle guards running/stopping transitions against enqueuers.
	lifecycle sync.RWMutex
	running   bool
	done      chan struct{}
	ready     chan struct{}
	readyOnce sync.Once

	mu        sync.RWMutex
	goals     map[string]*Goal
	order     []string
	listeners []ResultListener

	// Stats
	frameSeq        atomic.Uint64
	framesReceived  atomic.Int64
	framesDropped   atomic.Int64
	framesIgnored   atomic.Int64
	goalsAccepted   atomic.Int64
	resultsProduced atomic.Int64
	enabled         atomic.Bool
}

// New creates a detector. Call Run to start processing.
func New(cfg Config, logger *slog.Logger) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Detector{
		cfg:    cfg,
		logger: logger.With("node", NodeName),
		events: make(chan event, cfg.QueueSize),
		goals:  make(map[string]*Goal),
		ready:  make(chan struct{}),
	}, nil
}

// OnResult registers a listener for completed detections.
func (d *Detector) OnResult(fn ResultListener) {
	d.mu.Lock()
	d.listeners = append(d.listeners, fn)
	d.mu.Unlock()
}

// Run processes goals and frames until ctx is cancelled. Goals still waiting
// when Run returns are aborted.
func (d *Detector) Run(ctx context.Context) error {
	d.lifecycle.Lock()
	if d.running {
		d.lifecycle.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.done = make(chan struct{})
	done := d.done
	d.lifecycle.Unlock()
	d.readyOnce.Do(func() { close(d.ready) })

	d.logger.Info("Started wrench detection node. Currently on standby",
		"action", ActionName,
		"queue_size", d.cfg.QueueSize,
	)

	var (
		enabled bool
		waiters []*Goal
	)

	defer func() {
		// Release blocked submitters before taking the write lock.
		close(done)
		d.lifecycle.Lock()
		d.running = false
		d.lifecycle.Unlock()

	drain:
		for {
			select {
			case ev := <-d.events:
				if ev.kind == eventGoal {
					waiters = append(waiters, ev.goal)
				}
			default:
				break drain
			}
		}

		for _, g := range waiters {
			if g.finish(StatusAborted, nil) {
				d.logger.Warn("goal aborted by shutdown", "goal_id", g.ID())
			}
		}
		d.enabled.Store(false)
		d.logger.Info("wrench detection node stopped")
	}()

	for {
		// Queued events never outrun a cancelled context.
		if err := ctx.Err(); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev := <-d.events:
			switch ev.kind {
			case eventGoal:
				ev.goal.activate()
				waiters = append(waiters, ev.goal)
				enabled = true
				d.enabled.Store(true)
				d.logger.Info("Wrench detection node enabled",
					"goal_id", ev.goal.ID(),
					"waiting_goals", len(waiters),
				)

			case eventFrame:
				if !enabled {
					d.framesIgnored.Add(1)
					continue
				}

				res := Result{
					ROI:      FixedROI(),
					FrameSeq: ev.frame.Seq,
					FoundAt:  time.Now(),
				}
				d.logger.Info("Found wrench",
					"frame_seq", ev.frame.Seq,
					"frame_source", ev.frame.Source,
					"source_seq", ev.frame.SourceSeq,
					"goals", len(waiters),
				)

				infos := make([]GoalInfo, 0, len(waiters))
				for _, g := range waiters {
					r := res
					g.finish(StatusSucceeded, &r)
					infos = append(infos, g.Info())
				}

				// Disable the node since it found its target.
				enabled = false
				d.enabled.Store(false)
				waiters = nil
				d.resultsProduced.Add(1)

				d.prune()
				d.notify(res, infos)
			}
		}
	}
}

// Submit enables the detector on behalf of a new goal. An empty id gets a
// generated one. Submit returns once the goal is queued; use Goal.Wait for
// the result.
func (d *Detector) Submit(ctx context.Context, id string) (*Goal, error) {
	if id == "" {
		id = uuid.New().String()
	}

	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()

	if !d.running {
		return nil, ErrNotRunning
	}

	g := newGoal(id)

	d.mu.Lock()
	if _, exists := d.goals[id]; exists {
		d.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateGoal, id)
	}
	d.goals[id] = g
	d.order = append(d.order, id)
	d.mu.Unlock()

	select {
	case d.events <- event{kind: eventGoal, goal: g}:
		d.goalsAccepted.Add(1)
		return g, nil
	case <-ctx.Done():
		d.forget(id)
		return nil, ctx.Err()
	case <-d.done:
		d.forget(id)
		return nil, ErrNotRunning
	}
}

// HandleFrame records a frame arrival. It never blocks: when the queue is
// full, or the detector is not running, the frame is dropped. It reports
// whether the frame was queued.
func (d *Detector) HandleFrame(f Frame) bool {
	d.framesReceived.Add(1)

	f.Seq = d.frameSeq.Add(1)
	if f.Received.IsZero() {
		f.Received = time.Now()
	}

	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()

	if !d.running {
		d.framesDropped.Add(1)
		return false
	}

	select {
	case d.events <- event{kind: eventFrame, frame: f}:
		return true
	default:
		d.framesDropped.Add(1)
		d.logger.Debug("event queue full, dropping frame", "frame_seq", f.Seq)
		return false
	}
}

// Goal looks up a goal by ID.
func (d *Detector) Goal(id string) (*Goal, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	g, ok := d.goals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGoalNotFound, id)
	}
	return g, nil
}

// Goals returns snapshots of all remembered goals, oldest first.
func (d *Detector) Goals() []GoalInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	infos := make([]GoalInfo, 0, len(d.order))
	for _, id := range d.order {
		if g, ok := d.goals[id]; ok {
			infos = append(infos, g.Info())
		}
	}
	return infos
}

// Ready is closed once Run has started accepting goals for the first time.
func (d *Detector) Ready() <-chan struct{} {
	return d.ready
}

// Running reports whether the run loop is active.
func (d *Detector) Running() bool {
	d.lifecycle.RLock()
	defer d.lifecycle.RUnlock()
	return d.running
}

func (d *Detector) forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.goals, id)
	for i, oid := range d.order {
		if oid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// prune evicts the oldest finished goals beyond HistorySize.
func (d *Detector) prune() {
	d.mu.Lock()
	defer d.mu.Unlock()

	excess := len(d.order) - d.cfg.HistorySize
	if excess <= 0 {
		return
	}

	kept := d.order[:0]
	for _, id := range d.order {
		if excess > 0 && d.goals[id].Status().Terminal() {
			delete(d.goals, id)
			excess--
			continue
		}
		kept = append(kept, id)
	}
	d.order = kept
}

func (d *Detector) notify(res Result, goals []GoalInfo) {
	d.mu.RLock()
	listeners := make([]ResultListener, len(d.listeners))
	copy(listeners, d.listeners)
	d.mu.RUnlock()

	for _, fn := range listeners {
		fn(res, goals)
	}
}

// Stats returns detector statistics.
func (d *Detector) Stats() Stats {
	d.mu.RLock()
	remembered := len(d.goals)
	d.mu.RUnlock()

	return Stats{
		Running:         d.Running(),
		Enabled:         d.enabled.Load(),
		FramesReceived:  d.framesReceived.Load(),
		FramesDropped:   d.framesDropped.Load(),
		FramesIgnored:   d.framesIgnored.Load(),
		GoalsAccepted:   d.goalsAccepted.Load(),
		GoalsRemembered: remembered,
		ResultsProduced: d.resultsProduced.Load(),
	}
}

// Stats contains detector statistics.
type Stats struct {
	Running         bool  `json:"running"`
	Enabled         bool  `json:"enabled"`
	FramesReceived  int64 `json:"frames_received"`
	FramesDropped   int64 `json:"frames_dropped"`
	FramesIgnored   int64 `json:"frames_ignored"`
	GoalsAccepted   int64 `json:"goals_accepted"`
	GoalsRemembered int   `json:"goals_remembered"`
	ResultsProduced int64 `json:"results_produced"`
}
