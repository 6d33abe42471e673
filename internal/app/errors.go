package service

import "errors"

var (
	// ErrNotStarted is returned when sessions are opened before Start.
	ErrNotStarted = errors.New("service not started")
	// ErrSessionNotFound is returned for unknown or reaped session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("too many sessions")
	// ErrInvalidRequest is returned for malformed open requests.
	ErrInvalidRequest = errors.New("invalid session request")
)
