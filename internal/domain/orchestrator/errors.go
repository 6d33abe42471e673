package orchestrator

import "errors"

var (
	// ErrNotReady is returned by Start when camera, model and credential are
	// not all Ready at the moment of the request.
	ErrNotReady = errors.New("resources not ready")
	// ErrCaptureInProgress is returned by Start while a capture runs.
	ErrCaptureInProgress = errors.New("capture in progress")
	// ErrCommitted is returned for intents that arrive after the session started.
	ErrCommitted = errors.New("session already committed")
	// ErrCancelled is returned for intents that arrive after cancellation.
	ErrCancelled = errors.New("session cancelled")
	// ErrNothingToRetry is returned by Retry when no camera or model failure is pending.
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrBusy is returned by Retry outside of AwaitingReadiness.
	ErrBusy = errors.New("orchestrator busy")
	// ErrAlreadyRunning is returned by a second call to Run.
	ErrAlreadyRunning = errors.New("orchestrator already running")
)
