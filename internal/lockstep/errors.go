package lockstep

import "errors"

var (
	// ErrProtocolViolation is returned when a participant breaks the
	// exactly-once publication rule of a tick.
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrNotReset is returned by Step before the first Reset.
	ErrNotReset = errors.New("environment must be reset before it is stepped")
	// ErrStopped is returned by waits of a stopped participant.
	ErrStopped = errors.New("stopped")
)
