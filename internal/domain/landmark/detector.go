package landmark

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/okian/readyroom/internal/domain/video"
	"github.com/okian/readyroom/pkg/logger"
)

// Detector lazily loads one Model for a video source and runs bounded capture
// attempts against it. At most one capture is in flight per detector.
type Detector struct {
	loader     Loader
	window     time.Duration
	sampleRate float64
	now        func() time.Time
	logger     logger.Logger

	mu       sync.Mutex
	source   video.Source
	model    Model
	loading  chan struct{} // closed when an in-progress load finishes
	inFlight bool
	released bool
}

// NewDetector creates a detector that loads its model through loader.
func NewDetector(loader Loader, opts ...Option) *Detector {
	d := &Detector{
		loader:     loader,
		window:     defaultCaptureWindow,
		sampleRate: defaultSampleRate,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named("landmark")
	}
	return d
}

// Initialize binds the detector to source and loads the model once. It must
// only be called after the source reported it can play. Later calls return the
// already loaded model and rebind the source, so a replaced camera stream
// keeps the same model.
func (d *Detector) Initialize(ctx context.Context, source video.Source) (Model, error) {
	for {
		d.mu.Lock()
		if d.released {
			d.mu.Unlock()
			return nil, ErrReleased
		}
		d.source = source
		if d.model != nil {
			m := d.model
			d.mu.Unlock()
			return m, nil
		}
		if wait := d.loading; wait != nil {
			d.mu.Unlock()
			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		d.loading = done
		d.mu.Unlock()

		m, err := d.loader.Load(ctx)

		d.mu.Lock()
		d.loading = nil
		close(done)
		if err != nil {
			d.mu.Unlock()
			if errors.Is(err, ErrModelLoad) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
		}
		if d.released {
			d.mu.Unlock()
			_ = m.Close()
			return nil, ErrReleased
		}
		d.model = m
		d.mu.Unlock()
		return m, nil
	}
}

// CaptureOnce samples frames from the bound source within the capture window
// and returns the first non-empty face set. An empty Capture with a nil error
// means the window elapsed without a face. A concurrent call fails with
// ErrCaptureInProgress.
func (d *Detector) CaptureOnce(ctx context.Context) (Capture, error) {
	d.mu.Lock()
	switch {
	case d.released:
		d.mu.Unlock()
		return Capture{}, ErrReleased
	case d.inFlight:
		d.mu.Unlock()
		return Capture{}, ErrCaptureInProgress
	case d.model == nil || d.source == nil:
		d.mu.Unlock()
		return Capture{}, ErrNotInitialized
	}
	d.inFlight = true
	model, source := d.model, d.source
	d.mu.Unlock()

	defer d.finishCapture()

	wctx, cancel := context.WithTimeout(ctx, d.window)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(d.sampleRate), 1)
	var (
		lastSeq uint64
		sampled bool
		frames  int
	)
	for {
		select {
		case <-source.Done():
			return Capture{}, fmt.Errorf("%w: %w", ErrSourceLost, source.Err())
		default:
		}
		if err := limiter.Wait(wctx); err != nil {
			break
		}
		frame, ok := source.Latest()
		if !ok || (sampled && frame.Seq == lastSeq) {
			continue
		}
		lastSeq, sampled = frame.Seq, true
		frames++

		faces, err := model.Estimate(wctx, frame)
		if err != nil {
			if wctx.Err() != nil {
				break
			}
			d.logger.Debug(ctx, "landmark estimate failed", logger.Error(err))
			continue
		}
		if len(faces) > 0 {
			return Capture{Faces: faces, FrameSeq: frame.Seq, At: d.now()}, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return Capture{}, err
	}
	d.logger.Debug(ctx, "capture window elapsed without a face", logger.Int("frames", frames))
	return Capture{}, nil
}

func (d *Detector) finishCapture() {
	d.mu.Lock()
	d.inFlight = false
	var closeModel Model
	if d.released && d.model != nil {
		closeModel, d.model = d.model, nil
	}
	d.mu.Unlock()
	if closeModel != nil {
		_ = closeModel.Close()
	}
}

// Release frees the model. It is safe on a never initialized or already
// released detector. When a capture is in flight the model is closed as soon
// as that capture returns.
func (d *Detector) Release() {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return
	}
	d.released = true
	d.source = nil
	var closeModel Model
	if !d.inFlight && d.model != nil {
		closeModel, d.model = d.model, nil
	}
	d.mu.Unlock()
	if closeModel != nil {
		if err := closeModel.Close(); err != nil {
			d.logger.Warn(context.Background(), "closing landmark model failed", logger.Error(err))
		}
	}
}

// Released reports whether Release was called.
func (d *Detector) Released() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}
