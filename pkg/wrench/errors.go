package wrench

import "errors"

// Detection itself never fails. These cover the node lifecycle and goal
// bookkeeping only.
var (
	// ErrNotRunning is returned when a goal is submitted while the run
	// loop is not active.
	ErrNotRunning = errors.New("wrench: detector not running")

	// ErrAlreadyRunning is returned by a second concurrent call to Run.
	ErrAlreadyRunning = errors.New("wrench: detector already running")

	// ErrGoalNotFound is returned when looking up an unknown goal ID.
	ErrGoalNotFound = errors.New("wrench: goal not found")

	// ErrDuplicateGoal is returned when a caller-chosen goal ID is reused.
	ErrDuplicateGoal = errors.New("wrench: duplicate goal id")

	// ErrGoalAborted is returned by Goal.Wait when the node stopped before
	// the goal was completed.
	ErrGoalAborted = errors.New("wrench: goal aborted by shutdown")
)
