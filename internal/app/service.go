// Package service hosts interview-ready sessions: it wires each session's
// camera, detector, credential and gate to an orchestrator and owns the
// shared room release pipeline.
package service

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/readyroom/internal/adapters/camera"
	"github.com/okian/readyroom/internal/adapters/handoff"
	eventqueue "github.com/okian/readyroom/internal/adapters/mq/queue"
	workerpool "github.com/okian/readyroom/internal/adapters/mq/worker"
	"github.com/okian/readyroom/internal/adapters/notify"
	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/dedupe"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/internal/domain/video"
	"github.com/okian/readyroom/internal/validation"
	"github.com/okian/readyroom/pkg/logger"
	"github.com/okian/readyroom/pkg/metrics"
)

const (
	defaultMaxSessions   = 1000
	defaultReapAfter     = 10 * time.Minute
	defaultQueueSize     = 1024
	defaultDedupeSize    = 10000
	defaultNotifyBuffer  = 32
	defaultMaxFrameBytes = 2 << 20
	devCredentialTTL     = 10 * time.Minute
	stopTimeout          = 15 * time.Second
	minReapInterval      = 20 * time.Millisecond
	maxReapInterval      = 30 * time.Second
)

// Service is the session registry behind the HTTP API.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// Shared collaborators
	loader      landmark.Loader
	credentials credential.Source
	rooms       workerpool.Releaser
	handoffs    handoff.Store
	hub         *notify.Hub

	// Room release pipeline
	releaseQueue *eventqueue.InMemoryQueue
	deduper      dedupe.Deduper
	workerPool   *workerpool.Pool
	poolCancel   context.CancelFunc

	// Configuration
	maxSessions      int
	reapAfter        time.Duration
	workerCount      int
	queueSize        int
	dedupeSize       int
	captureWindow    time.Duration
	sampleRate       float64
	readinessTimeout time.Duration
	releaseTimeout   time.Duration
	maxFrameBytes    int
	notifyBuffer     int
	now              func() time.Time

	// State
	started   bool
	runCtx    context.Context
	runCancel context.CancelFunc
	running   sync.WaitGroup
	stopCh    chan struct{}
	reaperWG  sync.WaitGroup

	logger logger.Logger
}

// New constructs a Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		sessions:         make(map[string]*Session),
		maxSessions:      defaultMaxSessions,
		reapAfter:        defaultReapAfter,
		workerCount:      runtime.NumCPU(),
		queueSize:        defaultQueueSize,
		dedupeSize:       defaultDedupeSize,
		readinessTimeout: time.Minute,
		releaseTimeout:   10 * time.Second,
		maxFrameBytes:    defaultMaxFrameBytes,
		notifyBuffer:     defaultNotifyBuffer,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	if s.loader == nil {
		s.loader = landmark.NewSimulatedLoader()
	}
	if s.credentials == nil {
		s.credentials = credential.SourceFunc(s.devCredential)
	}
	if s.handoffs == nil {
		s.handoffs = handoff.NewMemoryStore()
	}
	s.hub = notify.NewHub(s.notifyBuffer)
	return s
}

// devCredential issues a local credential when no speech service is set up.
func (s *Service) devCredential(context.Context) (credential.Credential, error) {
	return credential.Credential{
		Token:     "dev-" + uuid.NewString(),
		Region:    "local",
		ExpiresAt: s.now().Add(devCredentialTTL),
	}, nil
}

// Start initializes the release pipeline and the reaper.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting session service...")

	base := context.WithoutCancel(ctx)
	s.runCtx, s.runCancel = context.WithCancel(base)
	s.stopCh = make(chan struct{})

	if s.rooms != nil {
		s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
		s.releaseQueue = eventqueue.NewInMemoryQueue(
			eventqueue.WithCapacity(s.queueSize),
			eventqueue.WithBufferSize(s.queueSize),
		)
		var poolCtx context.Context
		poolCtx, s.poolCancel = context.WithCancel(base)
		s.workerPool = workerpool.NewPool(s.workerCount, s.releaseQueue, s.rooms,
			workerpool.WithDeduper(s.deduper),
			workerpool.WithReleaseTimeout(s.releaseTimeout),
		)
		s.workerPool.Start(poolCtx)
	}

	s.reaperWG.Add(1)
	go s.reapLoop(s.stopCh)

	s.started = true
	s.logger.Info(ctx, "session service started",
		logger.Int("maxSessions", s.maxSessions),
		logger.Bool("roomRelease", s.rooms != nil),
		logger.Int("workers", s.workerCount),
	)
	return nil
}

// Stop tears down every live session, drains pending room releases and
// stops the workers.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping session service...")

	// Orchestrators treat the end of their run context as a leave.
	s.runCancel()
	waitTimeout(&s.running, stopTimeout)

	close(s.stopCh)
	s.reaperWG.Wait()

	if s.workerPool != nil {
		if err := s.workerPool.Shutdown(ctx); err != nil {
			s.logger.Warn(ctx, "worker pool shutdown", logger.Error(err))
		}
		s.poolCancel()
	}

	s.mu.Lock()
	for id := range s.sessions {
		s.hub.CloseSession(id)
	}
	s.mu.Unlock()

	s.logger.Info(ctx, "session service stopped")
}

func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Open registers a session and starts acquiring its resources.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if err := validation.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil, ErrNotStarted
	}
	if len(s.sessions) >= s.maxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.NewString()
	log := s.logger.With(logger.String("session_id", id), logger.String("room_id", req.RoomID))

	sess := &Session{
		id:        id,
		roomID:    req.RoomID,
		createdAt: s.now(),
		device:    camera.NewDevice(s.maxFrameBytes),
		detector: landmark.NewDetector(s.loader,
			landmark.WithCaptureWindow(s.captureWindow),
			landmark.WithSampleRate(s.sampleRate),
			landmark.WithLogger(log.Named("detector")),
		),
		credential: credential.NewProvisioner(s.credentials, credential.WithLogger(log.Named("credential"))),
	}
	sess.gate = session.NewGate(req.RoomID, req.Member, req.Interviewer, s.handoffs,
		session.WithSessionID(id),
		session.WithLogger(log.Named("gate")),
		session.WithClock(s.now),
	)

	oopts := []orchestrator.Option{
		orchestrator.WithLogger(log.Named("orchestrator")),
		orchestrator.WithNotifier(s.hub.For(id)),
		orchestrator.WithReadinessTimeout(s.readinessTimeout),
		orchestrator.WithReleaseTimeout(s.releaseTimeout),
		orchestrator.WithClock(s.now),
	}
	if s.releaseQueue != nil {
		oopts = append(oopts, orchestrator.WithRoomReleaser(queuedReleaser{queue: s.releaseQueue, sessionID: id}))
	}
	sess.orch = orchestrator.New(sess.gate, sess.device, sess.detector, sess.credential, oopts...)

	s.sessions[id] = sess
	metrics.RecordSessionOpened()
	metrics.UpdateSessionsActive(len(s.sessions))

	s.running.Add(1)
	go s.run(sess)

	log.Info(ctx, "session opened", logger.String("interviewer", req.Interviewer))
	return sess, nil
}

// OpenSession opens a session and returns its first view.
func (s *Service) OpenSession(ctx context.Context, roomID, member, interviewer string) (orchestrator.View, error) {
	sess, err := s.Open(ctx, OpenRequest{RoomID: roomID, Member: member, Interviewer: interviewer})
	if err != nil {
		return orchestrator.View{}, err
	}
	return sess.View(), nil
}

func (s *Service) run(sess *Session) {
	defer s.running.Done()
	ctx := s.runCtx
	if err := sess.orch.Run(ctx); err != nil {
		s.logger.Error(ctx, "orchestrator run failed", logger.String("session_id", sess.id), logger.Error(err))
	}
	sess.device.Shutdown()
	sess.end(s.now())
	s.hub.CloseSession(sess.id)
	if s.reapAfter == 0 {
		s.reap(sess)
	}
}

// reapLoop removes sessions that ended more than reapAfter ago.
func (s *Service) reapLoop(stop <-chan struct{}) {
	defer s.reaperWG.Done()
	if s.reapAfter == 0 {
		return
	}
	interval := s.reapAfter / 4
	interval = max(interval, minReapInterval)
	interval = min(interval, maxReapInterval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.reapExpired()
		}
	}
}

func (s *Service) reapExpired() {
	cutoff := s.now().Add(-s.reapAfter)
	s.mu.RLock()
	var expired []*Session
	for _, sess := range s.sessions {
		if at, ok := sess.ended(); ok && !at.After(cutoff) {
			expired = append(expired, sess)
		}
	}
	s.mu.RUnlock()

	for _, sess := range expired {
		s.reap(sess)
	}
}

func (s *Service) reap(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.UpdateSessionsActive(n)
	s.hub.Forget(sess.id)
	ctx := context.Background()
	if err := s.handoffs.Delete(ctx, sess.id); err != nil && !errors.Is(err, handoff.ErrNotFound) {
		s.logger.Warn(ctx, "deleting handoff failed", logger.String("session_id", sess.id), logger.Error(err))
	}
	s.logger.Debug(ctx, "session reaped", logger.String("session_id", sess.id))
}

// Lookup returns a registered session.
func (s *Service) Lookup(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// View returns a session's current view.
func (s *Service) View(_ context.Context, id string) (orchestrator.View, error) {
	sess, err := s.Lookup(id)
	if err != nil {
		return orchestrator.View{}, err
	}
	return sess.View(), nil
}

// StartCapture presses "start" for a session.
func (s *Service) StartCapture(ctx context.Context, id string) error {
	sess, err := s.Lookup(id)
	if err != nil {
		return err
	}
	return sess.orch.Start(ctx)
}

// Retry re-arms a failed camera or model.
func (s *Service) Retry(ctx context.Context, id string) error {
	sess, err := s.Lookup(id)
	if err != nil {
		return err
	}
	return sess.orch.Retry(ctx)
}

// Leave cancels a session and releases its room.
func (s *Service) Leave(ctx context.Context, id string) error {
	sess, err := s.Lookup(id)
	if err != nil {
		return err
	}
	return sess.orch.Cancel(ctx)
}

// SelectInterviewer changes the interviewer before the session starts.
func (s *Service) SelectInterviewer(_ context.Context, id, name string) error {
	sess, err := s.Lookup(id)
	if err != nil {
		return err
	}
	return sess.gate.SelectInterviewer(name)
}

// PushFrame feeds a camera frame to the session's current stream.
func (s *Service) PushFrame(_ context.Context, id string, f video.Frame) error {
	sess, err := s.Lookup(id)
	if err != nil {
		return err
	}
	return sess.device.Push(f)
}

// ReportCameraError fails the session's stream with a browser-reported reason.
func (s *Service) ReportCameraError(_ context.Context, id, reason string) error {
	sess, err := s.Lookup(id)
	if err != nil {
		return err
	}
	cause := camera.ReasonError(reason)
	if errors.Is(cause, camera.ErrUnknownReason) {
		return cause
	}
	return sess.device.ReportError(cause)
}

// Handoff returns what was published when the session started.
func (s *Service) Handoff(ctx context.Context, id string) (session.Handoff, error) {
	if sess, err := s.Lookup(id); err == nil {
		if h, ok := sess.gate.Handoff(); ok {
			return h, nil
		}
		return session.Handoff{}, handoff.ErrNotFound
	}
	return s.handoffs.Get(ctx, id)
}

// Subscribe streams a session's notices.
func (s *Service) Subscribe(_ context.Context, id string) (<-chan orchestrator.Notice, func(), error) {
	if _, err := s.Lookup(id); err != nil {
		return nil, nil, err
	}
	ch, cancel := s.hub.Subscribe(id)
	return ch, cancel, nil
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	phases := make(map[string]int)
	for _, sess := range s.sessions {
		phases[string(sess.orch.View().Phase)]++
	}
	stats := map[string]interface{}{
		"started":     s.started,
		"sessions":    len(s.sessions),
		"maxSessions": s.maxSessions,
		"phases":      phases,
		"roomRelease": s.rooms != nil,
	}
	if s.workerPool != nil {
		stats["workerCount"] = s.workerPool.Size()
		stats["queueLength"] = s.releaseQueue.Len(context.Background())
		stats["releasedRooms"] = s.deduper.Size()
	}
	return stats
}
