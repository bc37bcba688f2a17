package wrench

import (
	"context"
	"sync"
	"time"
)

// Status is the lifecycle state of a goal.
type Status string

const (
	// StatusPending means the goal is queued but the run loop has not
	// reached it yet.
	StatusPending Status = "pending"

	// StatusActive means the detector is enabled on behalf of the goal and
	// waiting for a frame.
	StatusActive Status = "active"

	// StatusSucceeded means a frame arrived and the goal carries a result.
	StatusSucceeded Status = "succeeded"

	// StatusAborted means the node stopped before a frame arrived.
	StatusAborted Status = "aborted"

	// StatusRejected reports a submission the detector refused. No goal is
	// created, so it never describes an existing goal with the same ID.
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusAborted
}

// Goal is a handle on one submitted detection request.
type Goal struct {
	id        string
	submitted time.Time
	done      chan struct{}

	mu       sync.Mutex
	status   Status
	result   *Result
	finished time.Time
}

func newGoal(id string) *Goal {
	return &Goal{
		id:        id,
		submitted: time.Now(),
		done:      make(chan struct{}),
		status:    StatusPending,
	}
}

// ID returns the goal identifier.
func (g *Goal) ID() string {
	return g.id
}

// Status returns the current status.
func (g *Goal) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Result returns the detection result once the goal has succeeded.
func (g *Goal) Result() (Result, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.result == nil {
		return Result{}, false
	}
	return *g.result, true
}

// Done is closed when the goal reaches a terminal status.
func (g *Goal) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the goal finishes or ctx is cancelled. Cancelling ctx
// stops the wait only; the goal stays attached to the detection cycle.
func (g *Goal) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-g.done:
	}

	if res, ok := g.Result(); ok {
		return res, nil
	}
	return Result{}, ErrGoalAborted
}

// GoalInfo is a point-in-time snapshot of a goal, suitable for JSON.
type GoalInfo struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	Submitted time.Time `json:"submitted"`
	Finished  time.Time `json:"finished,omitzero"`
	Result    *Result   `json:"result,omitempty"`
}

// Info returns a snapshot of the goal.
func (g *Goal) Info() GoalInfo {
	g.mu.Lock()
	defer g.mu.Unlock()

	info := GoalInfo{
		ID:        g.id,
		Status:    g.status,
		Submitted: g.submitted,
		Finished:  g.finished,
	}
	if g.result != nil {
		res := *g.result
		info.Result = &res
	}
	return info
}

func (g *Goal) activate() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == StatusPending {
		g.status = StatusActive
	}
}

// finish moves the goal to a terminal status. Only the first call has an
// effect.
func (g *Goal) finish(status Status, res *Result) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status.Terminal() {
		return false
	}
	g.status = status
	g.result = res
	g.finished = time.Now()
	close(g.done)
	return true
}
