package landmark

import (
	"time"

	"github.com/okian/readyroom/pkg/logger"
)

// Default detector configuration constants.
const (
	defaultCaptureWindow = 3 * time.Second
	defaultSampleRate    = 10 // frames per second
)

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithCaptureWindow bounds how long CaptureOnce keeps sampling frames.
func WithCaptureWindow(window time.Duration) Option {
	return func(d *Detector) {
		if window > 0 {
			d.window = window
		}
	}
}

// WithSampleRate sets how many frames per second CaptureOnce inspects.
func WithSampleRate(fps float64) Option {
	return func(d *Detector) {
		if fps > 0 {
			d.sampleRate = fps
		}
	}
}

// WithLogger sets a custom logger for the detector.
func WithLogger(l logger.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp captures.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}
