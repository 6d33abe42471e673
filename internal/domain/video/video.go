// Package video defines the live camera frame source shared by the camera
// adapter and the landmark detector.
package video

import (
	"context"
	"errors"
	"time"
)

// Frame encodings understood by the detectors.
const (
	EncodingGray8 = "gray8" // raw 8-bit luminance, Width*Height bytes
	EncodingJPEG  = "jpeg"
	EncodingPNG   = "png"
)

var (
	// ErrClosed is reported by a source that was released by its owner.
	ErrClosed = errors.New("video source closed")
	// ErrPermissionDenied is reported when the user refused camera access.
	ErrPermissionDenied = errors.New("camera permission denied")
	// ErrDevice is reported when the capture device failed or disappeared.
	ErrDevice = errors.New("camera device error")
)

// Frame is one decodable camera frame.
type Frame struct {
	Seq        uint64
	Encoding   string
	Width      int
	Height     int
	Data       []byte
	CapturedAt time.Time
}

// Source is a live handle to camera output. Ready is closed when the first
// decodable frame is available ("can play"); Done is closed when the source
// ends, after which Err reports why.
type Source interface {
	Ready() <-chan struct{}
	Done() <-chan struct{}
	Err() error
	// Latest returns the newest frame without blocking.
	Latest() (Frame, bool)
	Close() error
}

// WaitCanPlay blocks until src has a decodable frame, src ends, or ctx is done.
func WaitCanPlay(ctx context.Context, src Source) error {
	select {
	case <-src.Ready():
		return nil
	case <-src.Done():
		if err := src.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
