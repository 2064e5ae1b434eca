package worker

import "errors"

// Domain errors for the worker package.
var (
	// ErrIdentifyTimeout is returned when the grid never answers the id
	// and size queries.
	ErrIdentifyTimeout = errors.New("worker: device did not identify itself")

	// ErrDeviceIO is returned when reading or writing the grid fails.
	ErrDeviceIO = errors.New("worker: device i/o error")
)
