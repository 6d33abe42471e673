package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/okian/readyroom/internal/adapters/camera"
	"github.com/okian/readyroom/internal/adapters/handoff"
	service "github.com/okian/readyroom/internal/app"
	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/internal/domain/video"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrBackpressure = errors.New("backpressure")
	ErrUpgrade      = errors.New("websocket upgrade failed")
)

// opError tags an error with the handler operation that produced it.
type opError struct {
	op   string
	kind error
	err  error
}

func (e *opError) Error() string {
	if e.err == nil {
		return e.op + ": " + e.kind.Error()
	}
	return e.op + ": " + e.kind.Error() + ": " + e.err.Error()
}

func (e *opError) Unwrap() []error {
	if e.err == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.err}
}

// NewKind returns an error of kind raised by op.
func NewKind(op string, kind error) error {
	return &opError{op: op, kind: kind}
}

// WrapKind wraps err as kind for op. errors.Is matches both.
func WrapKind(op string, kind, err error) error {
	return &opError{op: op, kind: kind, err: err}
}

// Wrap tags err with op, keeping its own kind.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return WrapKind(op, err, nil)
}

type errorMapping struct {
	kinds  []error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{[]error{service.ErrSessionNotFound, handoff.ErrNotFound}, http.StatusNotFound, "not_found"},
	{[]error{camera.ErrFrameTooLarge}, http.StatusRequestEntityTooLarge, "frame_too_large"},
	{[]error{ErrBadRequest, service.ErrInvalidRequest, camera.ErrInvalidFrame, camera.ErrUnknownReason, session.ErrInvalidInterviewer}, http.StatusBadRequest, "bad_request"},
	{[]error{orchestrator.ErrNotReady}, http.StatusConflict, "not_ready"},
	{[]error{orchestrator.ErrCaptureInProgress, session.ErrStartInProgress}, http.StatusConflict, "capture_in_progress"},
	{[]error{orchestrator.ErrCommitted, session.ErrAlreadyStarted}, http.StatusConflict, "already_started"},
	{[]error{orchestrator.ErrCancelled, session.ErrCancelled}, http.StatusConflict, "cancelled"},
	{[]error{orchestrator.ErrNothingToRetry, orchestrator.ErrBusy}, http.StatusConflict, "nothing_to_retry"},
	{[]error{camera.ErrNoStream, video.ErrClosed}, http.StatusConflict, "no_stream"},
	{[]error{ErrBackpressure, service.ErrTooManySessions}, http.StatusTooManyRequests, "backpressure"},
	{[]error{service.ErrNotStarted}, http.StatusServiceUnavailable, "unavailable"},
	{[]error{context.DeadlineExceeded}, http.StatusGatewayTimeout, "timeout"},
}

// statusFor maps an error to its HTTP status and machine code.
func statusFor(err error) (int, string) {
	for _, m := range errorMappings {
		for _, kind := range m.kinds {
			if errors.Is(err, kind) {
				return m.status, m.code
			}
		}
	}
	return http.StatusInternalServerError, "internal_error"
}
