package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/internal/domain/video"
)

// eventLog records cross-collaborator ordering.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeSource struct {
	mu     sync.Mutex
	frame  video.Frame
	ready  chan struct{}
	done   chan struct{}
	err    error
	closed bool
}

func newFakeSource(frame video.Frame, playable bool) *fakeSource {
	s := &fakeSource{frame: frame, ready: make(chan struct{}), done: make(chan struct{})}
	if playable {
		close(s.ready)
	}
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
	return s.frame, true
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.fail(video.ErrClosed)
	return nil
}

func (s *fakeSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
		close(s.done)
	}
}

func (s *fakeSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeCamera struct {
	mu       sync.Mutex
	frame    video.Frame
	failures []error
	sources  []*fakeSource
	playable bool
}

func newFakeCamera(frame video.Frame, failures ...error) *fakeCamera {
	return &fakeCamera{frame: frame, failures: failures, playable: true}
}

func (c *fakeCamera) Acquire(context.Context) (video.Source, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failures) > 0 {
		err := c.failures[0]
		c.failures = c.failures[1:]
		return nil, err
	}
	s := newFakeSource(c.frame, c.playable)
	c.sources = append(c.sources, s)
	return s, nil
}

func (c *fakeCamera) acquired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sources)
}

func (c *fakeCamera) open() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sources {
		if !s.isClosed() {
			n++
		}
	}
	return n
}

func (c *fakeCamera) source(i int) *fakeSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sources[i]
}

type nopModel struct{}

func (nopModel) Estimate(context.Context, video.Frame) ([]landmark.Face, error) { return nil, nil }
func (nopModel) Close() error                                                  { return nil }

// gatedDetector blocks model load and capture on test-controlled channels.
type gatedDetector struct {
	loadGate       chan struct{}
	captureGate    chan struct{}
	captureEntered chan struct{}
	enterOnce      sync.Once
	capture        landmark.Capture

	releases     atomic.Int32
	initCalls    atomic.Int32
	loadFailures atomic.Int32
}

func newGatedDetector() *gatedDetector {
	return &gatedDetector{captureEntered: make(chan struct{})}
}

func (d *gatedDetector) Initialize(ctx context.Context, _ video.Source) (landmark.Model, error) {
	d.initCalls.Add(1)
	if d.loadFailures.Add(-1) >= 0 {
		return nil, fmt.Errorf("%w: corrupt weights", landmark.ErrModelLoad)
	}
	if d.loadGate != nil {
		select {
		case <-d.loadGate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", landmark.ErrModelLoad, ctx.Err())
		}
	}
	return nopModel{}, nil
}

// CaptureOnce ignores ctx on purpose: it models a computation that is not
// cheaply interruptible.
func (d *gatedDetector) CaptureOnce(context.Context) (landmark.Capture, error) {
	d.enterOnce.Do(func() { close(d.captureEntered) })
	if d.captureGate != nil {
		<-d.captureGate
	}
	return d.capture, nil
}

func (d *gatedDetector) Release() { d.releases.Add(1) }

type fakeCredential struct {
	err      error
	gate     chan struct{}
	fetches  atomic.Int32
	discards atomic.Int32
}

func (c *fakeCredential) Fetch(ctx context.Context) error {
	c.fetches.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return c.err
}

func (c *fakeCredential) Credential() (credential.Credential, error) {
	if c.err != nil {
		return credential.Credential{}, c.err
	}
	return credential.Credential{Token: "tok", Region: "local"}, nil
}

func (c *fakeCredential) Expired(time.Time) bool { return false }

func (c *fakeCredential) Discard() { c.discards.Add(1) }

type fakeRooms struct {
	mu       sync.Mutex
	err      error
	released []string
	log      *eventLog
}

func (r *fakeRooms) ReleaseRoom(_ context.Context, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.log != nil {
		r.log.add("release:" + roomID)
	}
	if r.err != nil {
		return r.err
	}
	r.released = append(r.released, roomID)
	return nil
}

func (r *fakeRooms) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *fakeRooms) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.released)
}

type loggingPublisher struct {
	log      *eventLog
	handoffs atomic.Int32
}

func (p *loggingPublisher) Publish(_ context.Context, h session.Handoff) error {
	p.handoffs.Add(1)
	p.log.add(fmt.Sprintf("publish:snapshot=%t", h.Snapshot != nil))
	return nil
}

type recorder struct {
	mu      sync.Mutex
	notices []orchestrator.Notice
	log     *eventLog
}

func (r *recorder) Notify(n orchestrator.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	if r.log != nil && n.Kind == orchestrator.NoticeNavigate {
		r.log.add("navigate:" + n.Path)
	}
}

func (r *recorder) count(kind orchestrator.NoticeKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notices {
		if x.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) phases() []orchestrator.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []orchestrator.Phase
	for _, x := range r.notices {
		if x.Kind == orchestrator.NoticePhase {
			out = append(out, x.Phase)
		}
	}
	return out
}

func (r *recorder) paths() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, x := range r.notices {
		if x.Kind == orchestrator.NoticeNavigate {
			out = append(out, x.Path)
		}
	}
	return out
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
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

func faceCapture() landmark.Capture {
	return landmark.Capture{
		Faces:    []landmark.Face{{Score: 0.9, Keypoints: []landmark.Keypoint{{Name: "nose_tip", X: 5, Y: 5}}}},
		FrameSeq: 1,
		At:       time.Now(),
	}
}
