// Package breaker wraps outbound calls to collaborator services in a
// circuit breaker that reports its state to metrics and logs.
package breaker

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/readyroom/pkg/logger"
	"github.com/okian/readyroom/pkg/metrics"
)

// ErrOpen is returned when the breaker rejects a call without trying it.
var ErrOpen = errors.New("circuit open")

// Settings tunes a breaker. Zero fields take the defaults.
type Settings struct {
	MaxHalfOpen      uint32
	Interval         time.Duration
	OpenTimeout      time.Duration
	MinRequests      uint32
	FailureRatio     float64
	ConsecutiveTrips uint32
}

func (s Settings) withDefaults() Settings {
	if s.MaxHalfOpen == 0 {
		s.MaxHalfOpen = 2
	}
	if s.Interval == 0 {
		s.Interval = time.Minute
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRatio == 0 {
		s.FailureRatio = 0.6
	}
	if s.ConsecutiveTrips == 0 {
		s.ConsecutiveTrips = 5
	}
	return s
}

// Breaker guards calls returning T.
type Breaker[T any] struct {
	name   string
	cb     *gobreaker.CircuitBreaker[T]
	logger logger.Logger
}

// New creates a breaker named name. The breaker opens after ConsecutiveTrips
// consecutive failures, or once at least MinRequests calls in an Interval
// failed at FailureRatio or more.
func New[T any](name string, s Settings, log logger.Logger) *Breaker[T] {
	s = s.withDefaults()
	if log == nil {
		log = logger.Get().Named("breaker")
	}
	b := &Breaker[T]{name: name, logger: log.With(logger.String("breaker", name))}
	metrics.UpdateBreakerState(name, stateValue(gobreaker.StateClosed))

	b.cb = gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxHalfOpen,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.ConsecutiveFailures >= s.ConsecutiveTrips {
				return true
			}
			if c.Requests < s.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= s.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Callers giving up is not a collaborator failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn(context.Background(), "breaker state changed",
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
			metrics.UpdateBreakerState(name, stateValue(to))
		},
	})
	return b
}

// Execute runs fn through the breaker. Rejections are reported as ErrOpen.
func (b *Breaker[T]) Execute(fn func() (T, error)) (T, error) {
	out, err := b.cb.Execute(fn)
	switch {
	case err == nil:
		metrics.RecordBreakerRequest(b.name, "success")
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.RecordBreakerRequest(b.name, "rejected")
		return out, errors.Join(ErrOpen, err)
	default:
		metrics.RecordBreakerRequest(b.name, "failure")
	}
	return out, err
}

// State returns the current breaker state name.
func (b *Breaker[T]) State() string { return b.cb.State().String() }

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
