package devicestate

import "errors"

// Domain errors for the devicestate package.
var (
	// ErrNotFound is returned when no row exists for a serial.
	ErrNotFound = errors.New("devicestate: not found")

	// ErrInvalidSettings is returned when settings fail validation.
	ErrInvalidSettings = errors.New("devicestate: invalid settings")
)
