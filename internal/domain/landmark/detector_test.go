package landmark_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/internal/domain/video"
	"github.com/okian/readyroom/pkg/logger"
)

func init() {
	if err := logger.Init(); err != nil {
		panic(err)
	}
}

// fakeSource serves one fixed frame.
type fakeSource struct {
	mu    sync.Mutex
	frame video.Frame
	has   bool
	ready chan struct{}
	done  chan struct{}
	err   error
}

func newFakeSource(frame video.Frame) *fakeSource {
	s := &fakeSource{ready: make(chan struct{}), done: make(chan struct{}), frame: frame, has: true}
	close(s.ready)
	return s
}

func (s *fakeSource) Ready() <-chan struct{} { return s.ready }
func (s *fakeSource) Done() <-chan struct{}  { return s.done }
func (s *fakeSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
func (s *fakeSource) Latest() (video.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame.Seq++
	return s.frame, s.has
}
func (s *fakeSource) Close() error { return s.fail(video.ErrClosed) }
func (s *fakeSource) fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		close(s.done)
	}
	return nil
}

func noisyFrame() video.Frame {
	const w, h = 64, 48
	data := make([]byte, w*h)
	for i := range data {
		data[i] = byte((i * 37) % 251)
	}
	return video.Frame{Encoding: video.EncodingGray8, Width: w, Height: h, Data: data}
}

func blankFrame() video.Frame {
	const w, h = 64, 48
	return video.Frame{Encoding: video.EncodingGray8, Width: w, Height: h, Data: make([]byte, w*h)}
}

// blockingModel blocks Estimate until release is closed.
type blockingModel struct {
	entered chan struct{}
	release chan struct{}
	closed  atomic.Bool
	once    sync.Once
}

func (m *blockingModel) Estimate(ctx context.Context, _ video.Frame) ([]landmark.Face, error) {
	m.once.Do(func() { close(m.entered) })
	select {
	case <-m.release:
		return []landmark.Face{{Score: 1, Keypoints: []landmark.Keypoint{{X: 1, Y: 2}}}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (m *blockingModel) Close() error { m.closed.Store(true); return nil }

type staticLoader struct {
	model landmark.Model
	loads atomic.Int32
}

func (l *staticLoader) Load(context.Context) (landmark.Model, error) {
	l.loads.Add(1)
	return l.model, nil
}

func fastLoader(opts ...landmark.SimulatedOption) *landmark.SimulatedLoader {
	base := []landmark.SimulatedOption{landmark.WithLoadLatency(0), landmark.WithEstimateLatency(0)}
	return landmark.NewSimulatedLoader(append(base, opts...)...)
}

func TestDetector_Initialize(t *testing.T) {
	Convey("Given a detector over a simulated loader", t, func() {
		ctx := context.Background()
		loader := fastLoader()
		d := landmark.NewDetector(loader)
		src := newFakeSource(noisyFrame())

		Convey("When initializing twice", func() {
			m1, err1 := d.Initialize(ctx, src)
			m2, err2 := d.Initialize(ctx, src)

			Convey("Then the model is loaded once and reused", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(m1, ShouldEqual, m2)
				So(loader.OpenModels(), ShouldEqual, 1)
			})
		})

		Convey("When the loader fails", func() {
			failing := landmark.NewDetector(fastLoader(landmark.WithLoadFailure(errors.New("no gpu"))))
			_, err := failing.Initialize(ctx, src)

			Convey("Then the error is a ModelLoadError", func() {
				So(errors.Is(err, landmark.ErrModelLoad), ShouldBeTrue)
			})
		})

		Convey("When initializing after release", func() {
			d.Release()
			_, err := d.Initialize(ctx, src)

			Convey("Then it refuses", func() {
				So(errors.Is(err, landmark.ErrReleased), ShouldBeTrue)
			})
		})
	})
}

func TestDetector_CaptureOnce(t *testing.T) {
	Convey("Given an initialized detector", t, func() {
		ctx := context.Background()
		loader := fastLoader()
		d := landmark.NewDetector(loader,
			landmark.WithCaptureWindow(150*time.Millisecond),
			landmark.WithSampleRate(50),
		)

		Convey("When a face is in frame", func() {
			_, err := d.Initialize(ctx, newFakeSource(noisyFrame()))
			So(err, ShouldBeNil)
			c, err := d.CaptureOnce(ctx)

			Convey("Then the first sample yields landmarks", func() {
				So(err, ShouldBeNil)
				So(c.Empty(), ShouldBeFalse)
				So(c.Faces[0].Keypoints, ShouldHaveLength, 6)
				So(c.FrameSeq, ShouldEqual, 1)
			})
		})

		Convey("When no face is in frame", func() {
			_, err := d.Initialize(ctx, newFakeSource(blankFrame()))
			So(err, ShouldBeNil)
			start := time.Now()
			c, err := d.CaptureOnce(ctx)

			Convey("Then an empty capture is returned once the window elapses", func() {
				So(err, ShouldBeNil)
				So(c.Empty(), ShouldBeTrue)
				So(time.Since(start), ShouldBeLessThan, time.Second)
			})

			Convey("And the detector can capture again", func() {
				_, err := d.CaptureOnce(ctx)
				So(err, ShouldBeNil)
			})
		})

		Convey("When capturing before Initialize", func() {
			_, err := d.CaptureOnce(ctx)

			Convey("Then it fails with ErrNotInitialized", func() {
				So(errors.Is(err, landmark.ErrNotInitialized), ShouldBeTrue)
			})
		})

		Convey("When the source ends during a capture", func() {
			src := newFakeSource(blankFrame())
			_, err := d.Initialize(ctx, src)
			So(err, ShouldBeNil)
			go func() {
				time.Sleep(30 * time.Millisecond)
				_ = src.fail(video.ErrDevice)
			}()
			_, err = d.CaptureOnce(ctx)

			Convey("Then the capture reports the lost source", func() {
				So(errors.Is(err, landmark.ErrSourceLost), ShouldBeTrue)
				So(errors.Is(err, video.ErrDevice), ShouldBeTrue)
			})
		})

		Convey("When the caller cancels", func() {
			_, err := d.Initialize(ctx, newFakeSource(blankFrame()))
			So(err, ShouldBeNil)
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err = d.CaptureOnce(cctx)

			Convey("Then the context error is returned", func() {
				So(errors.Is(err, context.Canceled), ShouldBeTrue)
			})
		})
	})
}

func TestDetector_Reentrancy(t *testing.T) {
	Convey("Given a capture blocked inside the model", t, func() {
		ctx := context.Background()
		model := &blockingModel{entered: make(chan struct{}), release: make(chan struct{})}
		d := landmark.NewDetector(&staticLoader{model: model}, landmark.WithCaptureWindow(5*time.Second))
		_, err := d.Initialize(ctx, newFakeSource(noisyFrame()))
		So(err, ShouldBeNil)

		result := make(chan error, 1)
		go func() {
			_, err := d.CaptureOnce(ctx)
			result <- err
		}()
		<-model.entered

		Convey("When a second capture is requested", func() {
			_, err := d.CaptureOnce(ctx)
			close(model.release)

			Convey("Then it is rejected and the first completes", func() {
				So(errors.Is(err, landmark.ErrCaptureInProgress), ShouldBeTrue)
				So(<-result, ShouldBeNil)
			})
		})

		Convey("When the detector is released mid-capture", func() {
			d.Release()
			closedEarly := model.closed.Load()
			close(model.release)
			<-result

			Convey("Then the model closes only after the capture returned", func() {
				So(closedEarly, ShouldBeFalse)
				So(model.closed.Load(), ShouldBeTrue)
			})
		})
	})
}

func TestDetector_Release(t *testing.T) {
	Convey("Given detectors in various states", t, func() {
		Convey("When releasing a never-initialized detector twice", func() {
			d := landmark.NewDetector(fastLoader())

			Convey("Then nothing panics", func() {
				So(func() { d.Release(); d.Release() }, ShouldNotPanic)
				So(d.Released(), ShouldBeTrue)
			})
		})

		Convey("When releasing an initialized detector", func() {
			loader := fastLoader()
			d := landmark.NewDetector(loader)
			_, err := d.Initialize(context.Background(), newFakeSource(noisyFrame()))
			So(err, ShouldBeNil)
			d.Release()
			d.Release()

			Convey("Then the model is closed exactly once", func() {
				So(loader.OpenModels(), ShouldEqual, 0)
			})
		})
	})
}

func TestFaceSnapshot(t *testing.T) {
	Convey("Given a capture with one face", t, func() {
		at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
		capture := landmark.Capture{
			Faces:    []landmark.Face{{Score: 0.8, Keypoints: []landmark.Keypoint{{Name: "nose_tip", X: 3, Y: 4}}}},
			FrameSeq: 12,
			At:       at,
		}

		Convey("When frozen into a snapshot", func() {
			snap, err := landmark.NewSnapshot(capture)
			So(err, ShouldBeNil)
			capture.Faces[0].Keypoints[0].X = 99
			faces := snap.Faces()
			faces[0].Keypoints[0].Y = 99

			Convey("Then later mutation of inputs or outputs does not leak in", func() {
				So(snap.Faces()[0].Keypoints[0], ShouldResemble, landmark.Keypoint{Name: "nose_tip", X: 3, Y: 4})
				So(snap.FrameSeq(), ShouldEqual, 12)
				So(snap.CapturedAt().Equal(at), ShouldBeTrue)
			})

			Convey("And it survives a JSON round trip", func() {
				b, err := snap.MarshalJSON()
				So(err, ShouldBeNil)
				var back landmark.FaceSnapshot
				So(back.UnmarshalJSON(b), ShouldBeNil)
				So(cmp.Diff(snap.Faces(), back.Faces()), ShouldBeEmpty)
				So(back.CapturedAt().Equal(at), ShouldBeTrue)
			})
		})

		Convey("When freezing an empty capture", func() {
			_, err := landmark.NewSnapshot(landmark.Capture{})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, landmark.ErrEmptyCapture), ShouldBeTrue)
			})
		})
	})
}
