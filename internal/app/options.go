package service

import (
	"time"

	"github.com/okian/readyroom/internal/adapters/handoff"
	"github.com/okian/readyroom/internal/adapters/mq/worker"
	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMaxSessions caps concurrently registered sessions.
func WithMaxSessions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithReapAfter sets how long a finished session stays queryable.
func WithReapAfter(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.reapAfter = d
		}
	}
}

// WithWorkerCount sets the number of room release workers.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the capacity of the room release queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets how many released rooms are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		s.dedupeSize = size
	}
}

// WithCapture configures every session's capture window and sample rate.
func WithCapture(window time.Duration, sampleRate float64) Option {
	return func(s *Service) {
		if window > 0 {
			s.captureWindow = window
		}
		if sampleRate > 0 {
			s.sampleRate = sampleRate
		}
	}
}

// WithReadinessTimeout sets the readiness notice timeout. 0 disables it.
func WithReadinessTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.readinessTimeout = d
		}
	}
}

// WithReleaseTimeout bounds each room release.
func WithReleaseTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.releaseTimeout = d
		}
	}
}

// WithMaxFrameBytes caps pushed frames.
func WithMaxFrameBytes(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxFrameBytes = n
		}
	}
}

// WithNotifyBuffer sets the per-subscriber notice buffer.
func WithNotifyBuffer(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.notifyBuffer = n
		}
	}
}

// WithModelLoader sets the landmark model loader shared by sessions.
func WithModelLoader(l landmark.Loader) Option {
	return func(s *Service) {
		if l != nil {
			s.loader = l
		}
	}
}

// WithCredentialSource sets where speech credentials come from.
func WithCredentialSource(src credential.Source) Option {
	return func(s *Service) {
		if src != nil {
			s.credentials = src
		}
	}
}

// WithRoomReleaser sets the room-management client used by the workers.
// Without one, leaving goes straight to the lobby.
func WithRoomReleaser(r worker.Releaser) Option {
	return func(s *Service) {
		s.rooms = r
	}
}

// WithHandoffStore sets where started sessions are published.
func WithHandoffStore(st handoff.Store) Option {
	return func(s *Service) {
		if st != nil {
			s.handoffs = st
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
