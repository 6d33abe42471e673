package landmark

import "errors"

// Sentinel errors for the landmark package.
var (
	ErrModelLoad         = errors.New("landmark model load failed")
	ErrCaptureInProgress = errors.New("capture already in progress")
	ErrNotInitialized    = errors.New("detector not initialized")
	ErrReleased          = errors.New("detector released")
	ErrSourceLost        = errors.New("video source ended during capture")
	ErrEmptyCapture      = errors.New("capture contains no face")
)
