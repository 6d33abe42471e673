package session

import "errors"

var (
	// ErrNilSnapshot is returned when a start is requested without a snapshot.
	ErrNilSnapshot = errors.New("start requested without a face snapshot")
	// ErrCancelled is returned for operations on a cancelled session.
	ErrCancelled = errors.New("session cancelled")
	// ErrAlreadyStarted is returned when a started session is asked to change.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrInvalidTransition is returned by Enter for a state the gate cannot move to.
	ErrInvalidTransition = errors.New("invalid session transition")
	// ErrInvalidInterviewer is returned for an empty or oversized interviewer name.
	ErrInvalidInterviewer = errors.New("invalid interviewer")
	// ErrStartInProgress is returned while another start is publishing.
	ErrStartInProgress = errors.New("session start in progress")
	// ErrPublish wraps handoff publisher failures.
	ErrPublish = errors.New("handoff publish failed")
)
