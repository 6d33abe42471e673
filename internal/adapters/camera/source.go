// Package camera turns frames pushed by the browser into video sources.
package camera

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/readyroom/internal/domain/video"
)

const defaultMaxFrameBytes = 4 << 20

var (
	// ErrNoStream is returned when frames arrive while no stream is acquired.
	ErrNoStream = errors.New("no camera stream acquired")
	// ErrInvalidFrame is returned for frames that cannot be decoded.
	ErrInvalidFrame = errors.New("invalid frame")
	// ErrFrameTooLarge is returned for frames above the size limit.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrUnknownReason is returned by ReasonError.
	ErrUnknownReason = errors.New("unknown camera error reason")
)

// PushSource is a video.Source fed by Push. It becomes playable with the
// first accepted frame.
type PushSource struct {
	maxBytes int
	now      func() time.Time

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	mu     sync.Mutex
	latest video.Frame
	seq    uint64
	err    error
}

// NewPushSource creates an empty source.
func NewPushSource(maxBytes int) *PushSource {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFrameBytes
	}
	return &PushSource{
		maxBytes: maxBytes,
		now:      time.Now,
		ready:    make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Push stores f as the latest frame and assigns its sequence number.
func (s *PushSource) Push(f video.Frame) error {
	if err := s.validate(f); err != nil {
		return err
	}
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return err
	}
	s.seq++
	f.Seq = s.seq
	if f.CapturedAt.IsZero() {
		f.CapturedAt = s.now()
	}
	s.latest = f
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	return nil
}

func (s *PushSource) validate(f video.Frame) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidFrame)
	}
	if len(f.Data) > s.maxBytes {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(f.Data))
	}
	switch f.Encoding {
	case video.EncodingGray8:
		if f.Width <= 0 || f.Height <= 0 || len(f.Data) != f.Width*f.Height {
			return fmt.Errorf("%w: gray8 %dx%d with %d bytes", ErrInvalidFrame, f.Width, f.Height, len(f.Data))
		}
	case video.EncodingJPEG, video.EncodingPNG:
	default:
		return fmt.Errorf("%w: encoding %q", ErrInvalidFrame, f.Encoding)
	}
	return nil
}

// Fail ends the source with err. Only the first call has an effect.
func (s *PushSource) Fail(err error) {
	if err == nil {
		err = video.ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = err
	s.latest = video.Frame{}
	close(s.done)
}

func (s *PushSource) Ready() <-chan struct{} { return s.ready }
func (s *PushSource) Done() <-chan struct{}  { return s.done }

func (s *PushSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Latest returns the newest frame.
func (s *PushSource) Latest() (video.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.seq == 0 {
		return video.Frame{}, false
	}
	return s.latest, true
}

// Close releases the source.
func (s *PushSource) Close() error {
	s.Fail(video.ErrClosed)
	return nil
}

// ReasonError maps a client-reported camera error to the video error the
// source should fail with, or to ErrUnknownReason.
func ReasonError(reason string) error {
	switch reason {
	case "permission_denied", "NotAllowedError":
		return video.ErrPermissionDenied
	case "device_error", "NotFoundError", "NotReadableError":
		return video.ErrDevice
	}
	return fmt.Errorf("%w: %q", ErrUnknownReason, reason)
}
