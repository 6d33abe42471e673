package camera

import (
	"context"
	"sync"

	"github.com/okian/readyroom/internal/domain/video"
	"github.com/okian/readyroom/pkg/metrics"
)

// Device is the per-session camera. Each Acquire opens a fresh PushSource
// and pushed frames go to the newest one.
type Device struct {
	maxBytes int

	mu      sync.Mutex
	current *PushSource
	closed  bool
}

// NewDevice creates a device accepting frames up to maxBytes.
func NewDevice(maxBytes int) *Device {
	return &Device{maxBytes: maxBytes}
}

// Acquire implements the orchestrator's camera contract. A previous source is
// closed.
func (d *Device) Acquire(ctx context.Context) (video.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, video.ErrClosed
	}
	if d.current != nil {
		_ = d.current.Close()
	}
	d.current = NewPushSource(d.maxBytes)
	return d.current, nil
}

// Push forwards a frame to the current source.
func (d *Device) Push(f video.Frame) error {
	d.mu.Lock()
	cur := d.current
	d.mu.Unlock()
	if cur == nil {
		return ErrNoStream
	}
	if err := cur.Push(f); err != nil {
		return err
	}
	metrics.RecordFrameReceived()
	return nil
}

// ReportError fails the current source with err.
func (d *Device) ReportError(err error) error {
	d.mu.Lock()
	cur := d.current
	d.mu.Unlock()
	if cur == nil {
		return ErrNoStream
	}
	cur.Fail(err)
	return nil
}

// Shutdown closes the current source and refuses further acquisitions.
func (d *Device) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.current != nil {
		_ = d.current.Close()
	}
}
