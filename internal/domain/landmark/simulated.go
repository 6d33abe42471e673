package landmark

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"math"
	"sync/atomic"
	"time"

	"github.com/okian/readyroom/internal/domain/video"
)

// Default simulated model constants.
const (
	defaultLoadLatency      = 300 * time.Millisecond
	defaultEstimateLatency  = 30 * time.Millisecond
	defaultVarianceCutoff   = 150.0 // luminance variance below this looks like a covered lens
	simulatedFaceScore      = 0.9
	simulatedFaceSizeFactor = 0.4
	sampleGrid              = 32
)

// canonicalFace holds keypoints relative to a unit face box.
var canonicalFace = []Keypoint{
	{Name: "right_eye", X: 0.30, Y: 0.38},
	{Name: "left_eye", X: 0.70, Y: 0.38},
	{Name: "nose_tip", X: 0.50, Y: 0.58},
	{Name: "mouth_right", X: 0.35, Y: 0.78},
	{Name: "mouth_left", X: 0.65, Y: 0.78},
	{Name: "chin", X: 0.50, Y: 0.98},
}

// SimulatedOption configures a SimulatedLoader.
type SimulatedOption func(*SimulatedLoader)

// WithLoadLatency sets how long Load pretends to take.
func WithLoadLatency(d time.Duration) SimulatedOption {
	return func(l *SimulatedLoader) {
		if d >= 0 {
			l.loadLatency = d
		}
	}
}

// WithEstimateLatency sets how long each Estimate pretends to take.
func WithEstimateLatency(d time.Duration) SimulatedOption {
	return func(l *SimulatedLoader) {
		if d >= 0 {
			l.estimateLatency = d
		}
	}
}

// WithVarianceCutoff sets the luminance variance under which a frame is
// treated as faceless.
func WithVarianceCutoff(v float64) SimulatedOption {
	return func(l *SimulatedLoader) {
		if v > 0 {
			l.varianceCutoff = v
		}
	}
}

// WithLoadFailure makes every Load fail with err.
func WithLoadFailure(err error) SimulatedOption {
	return func(l *SimulatedLoader) {
		l.loadErr = err
	}
}

// SimulatedLoader stands in for a real landmark runtime. Its models report a
// single face centered in any frame with enough luminance variance; uniform
// frames (covered or dark camera) yield no face.
type SimulatedLoader struct {
	loadLatency     time.Duration
	estimateLatency time.Duration
	varianceCutoff  float64
	loadErr         error

	open atomic.Int64
}

// NewSimulatedLoader creates a simulated loader.
func NewSimulatedLoader(opts ...SimulatedOption) *SimulatedLoader {
	l := &SimulatedLoader{
		loadLatency:     defaultLoadLatency,
		estimateLatency: defaultEstimateLatency,
		varianceCutoff:  defaultVarianceCutoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load implements Loader.
func (l *SimulatedLoader) Load(ctx context.Context) (Model, error) {
	if err := sleep(ctx, l.loadLatency); err != nil {
		return nil, err
	}
	if l.loadErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, l.loadErr)
	}
	l.open.Add(1)
	return &simulatedModel{loader: l}, nil
}

// OpenModels reports how many loaded models have not been closed yet.
func (l *SimulatedLoader) OpenModels() int64 { return l.open.Load() }

type simulatedModel struct {
	loader *SimulatedLoader
	closed atomic.Bool
}

func (m *simulatedModel) Estimate(ctx context.Context, frame video.Frame) ([]Face, error) {
	if m.closed.Load() {
		return nil, ErrReleased
	}
	if err := sleep(ctx, m.loader.estimateLatency); err != nil {
		return nil, err
	}
	variance, w, h, err := luminanceVariance(frame)
	if err != nil {
		return nil, err
	}
	if variance < m.loader.varianceCutoff {
		return nil, nil
	}
	return []Face{placeFace(float64(w), float64(h))}, nil
}

func (m *simulatedModel) Close() error {
	if m.closed.CompareAndSwap(false, true) {
		m.loader.open.Add(-1)
	}
	return nil
}

func placeFace(w, h float64) Face {
	side := math.Min(w, h) * simulatedFaceSizeFactor
	box := Box{XMin: (w - side) / 2, YMin: (h - side) / 2, Width: side, Height: side}
	kps := make([]Keypoint, len(canonicalFace))
	for i, kp := range canonicalFace {
		kps[i] = Keypoint{Name: kp.Name, X: box.XMin + kp.X*side, Y: box.YMin + kp.Y*side}
	}
	return Face{Box: box, Keypoints: kps, Score: simulatedFaceScore}
}

// luminanceVariance samples a grid of pixels and returns their variance.
func luminanceVariance(frame video.Frame) (float64, int, int, error) {
	var at func(x, y int) float64
	w, h := frame.Width, frame.Height

	switch frame.Encoding {
	case video.EncodingGray8, "":
		if w <= 0 || h <= 0 || len(frame.Data) < w*h {
			return 0, 0, 0, fmt.Errorf("gray8 frame %dx%d with %d bytes", w, h, len(frame.Data))
		}
		at = func(x, y int) float64 { return float64(frame.Data[y*w+x]) }
	case video.EncodingJPEG, video.EncodingPNG:
		img, _, err := image.Decode(bytes.NewReader(frame.Data))
		if err != nil {
			return 0, 0, 0, fmt.Errorf("decode %s frame: %w", frame.Encoding, err)
		}
		b := img.Bounds()
		w, h = b.Dx(), b.Dy()
		at = func(x, y int) float64 {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257
		}
	default:
		return 0, 0, 0, fmt.Errorf("unsupported frame encoding %q", frame.Encoding)
	}
	if w == 0 || h == 0 {
		return 0, 0, 0, fmt.Errorf("empty frame")
	}

	var sum, sumSq, n float64
	for gy := 0; gy < sampleGrid; gy++ {
		for gx := 0; gx < sampleGrid; gx++ {
			v := at(gx*(w-1)/(sampleGrid-1), gy*(h-1)/(sampleGrid-1))
			sum += v
			sumSq += v * v
			n++
		}
	}
	mean := sum / n
	return sumSq/n - mean*mean, w, h, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
