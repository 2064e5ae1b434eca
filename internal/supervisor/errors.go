package supervisor

import "errors"

// Domain errors for the supervisor package.
var (
	// ErrRegistryFull is returned when a connection arrives at capacity.
	ErrRegistryFull = errors.New("supervisor: registry full")

	// ErrDuplicateDevnode is returned when a devnode already has a worker.
	ErrDuplicateDevnode = errors.New("supervisor: devnode already has a worker")

	// ErrSubscribersFull is returned when too many notify requests are
	// waiting.
	ErrSubscribersFull = errors.New("supervisor: subscriber set full")

	// ErrNotApplicable is returned for a run-state change into the current
	// state or while another change is still pending.
	ErrNotApplicable = errors.New("supervisor: state change not applicable")

	// ErrStopped is returned by queries once the supervisor has stopped.
	ErrStopped = errors.New("supervisor: stopped")
)
