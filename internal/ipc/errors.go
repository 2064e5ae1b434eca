package ipc

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the codec. Every decode failure wraps
// ErrMalformedFrame; ErrIncomplete additionally marks input that may still
// become a valid frame once more bytes arrive.
var (
	ErrMalformedFrame = errors.New("ipc: malformed frame")
	ErrIncomplete     = fmt.Errorf("%w: incomplete", ErrMalformedFrame)
	ErrBadSentinel    = fmt.Errorf("%w: sentinel mismatch", ErrMalformedFrame)
	ErrUnknownType    = fmt.Errorf("%w: unknown message type", ErrMalformedFrame)
	ErrStringTooLong  = fmt.Errorf("%w: string field too long", ErrMalformedFrame)
)
