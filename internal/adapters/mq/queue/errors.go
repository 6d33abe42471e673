package queue

import "errors"

// Sentinel kinds for queue errors.
var (
	ErrFull    = errors.New("release queue full")
	ErrStopped = errors.New("release queue stopped")
)
