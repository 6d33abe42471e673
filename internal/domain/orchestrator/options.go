package orchestrator

import (
	"time"

	"github.com/okian/readyroom/pkg/logger"
)

// Default orchestrator configuration constants.
const (
	defaultReadinessTimeout = 60 * time.Second
	defaultReleaseTimeout   = 10 * time.Second
	commandBuffer           = 8
)

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNotifier sets where notices go.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithRoomReleaser sets the room service used on leave.
func WithRoomReleaser(r RoomReleaser) Option {
	return func(o *Orchestrator) {
		o.rooms = r
	}
}

// WithReadinessTimeout sets how long readiness may take before a one-time
// notice is raised. Zero disables the timeout.
func WithReadinessTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.readinessTimeout = d
		}
	}
}

// WithReleaseTimeout bounds the best-effort room release on leave.
func WithReleaseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.releaseTimeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
