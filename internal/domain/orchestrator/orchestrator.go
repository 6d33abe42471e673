package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/internal/domain/readiness"
	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/internal/domain/video"
	"github.com/okian/readyroom/pkg/logger"
	"github.com/okian/readyroom/pkg/metrics"
)

type commandKind int

const (
	cmdStart commandKind = iota
	cmdRetry
	cmdCancel
)

func (k commandKind) String() string {
	switch k {
	case cmdStart:
		return "start"
	case cmdRetry:
		return "retry"
	default:
		return "cancel"
	}
}

type command struct {
	kind  commandKind
	reply chan error
}

// Tagged task results. Every asynchronous acquisition posts exactly one of
// these back to the loop.
type (
	cameraResult struct {
		source video.Source
		err    error
	}
	cameraLost struct {
		source  video.Source
		err     error
		stopped bool
	}
	modelResult struct {
		source video.Source
		model  landmark.Model
		err    error
	}
	credentialResult struct {
		err error
	}
	captureResult struct {
		epoch   uint64
		capture landmark.Capture
		err     error
		elapsed time.Duration
	}
	releaseResult struct {
		roomID string
		err    error
	}
)

// Orchestrator is the single thread of control of one session. Run owns all
// mutable state; Start, Retry and Cancel are delivered to it as commands and
// resource acquisitions report back as tagged results.
type Orchestrator struct {
	gate       Gate
	camera     Camera
	detector   Detector
	credential CredentialFetcher
	rooms      RoomReleaser
	notifier   Notifier
	logger     logger.Logger
	now        func() time.Time

	readinessTimeout time.Duration
	releaseTimeout   time.Duration

	sessionID string
	tracker   *readiness.Tracker[video.Source, landmark.Model]
	commands  chan command
	results   chan any
	done      chan struct{}
	running   atomic.Bool

	// Owned by the Run goroutine.
	phase       Phase
	epoch       uint64
	pending     int
	source      video.Source
	snapshot    *landmark.FaceSnapshot
	cameraBusy  bool
	modelBusy   bool
	timedOut    bool
	// A failed room release keeps Run alive so a later leave can retry it.
	releasing     bool
	releaseFailed bool
	began       map[readiness.Resource]time.Time
	tasks       context.Context
	stopTasks   context.CancelFunc
	stopCapture context.CancelFunc

	mu   sync.RWMutex
	view View
}

// New creates an orchestrator for the session behind gate.
func New(gate Gate, camera Camera, detector Detector, credential CredentialFetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		gate:             gate,
		camera:           camera,
		detector:         detector,
		credential:       credential,
		notifier:         nopNotifier{},
		now:              time.Now,
		readinessTimeout: defaultReadinessTimeout,
		releaseTimeout:   defaultReleaseTimeout,
		commands:         make(chan command),
		results:          make(chan any, commandBuffer),
		done:             make(chan struct{}),
		phase:            Idle,
		began:            make(map[readiness.Resource]time.Time, 3),
	}
	for _, opt := range opts {
		opt(o)
	}
	sctx := gate.Context()
	o.sessionID = sctx.SessionID
	if o.logger == nil {
		o.logger = logger.Get().Named("orchestrator")
	}
	o.logger = o.logger.With(logger.String("session_id", o.sessionID))
	o.tracker = readiness.NewTracker[video.Source, landmark.Model](o.onReadiness)
	o.publishView()
	return o
}

// Run drives the session until it is committed or cancelled and every task
// it started has reported back. Cancelling ctx tears the session down like a
// leave. Run may be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(o.done)
	o.tasks, o.stopTasks = context.WithCancel(ctx)
	defer o.stopTasks()

	o.enter(ctx, AwaitingReadiness)
	o.launchCamera()
	o.launchCredential()

	var timeout <-chan time.Time
	if o.readinessTimeout > 0 {
		t := time.NewTimer(o.readinessTimeout)
		defer t.Stop()
		timeout = t.C
	}
	ctxDone := ctx.Done()

	for {
		o.publishView()
		if o.phase.Terminal() && o.pending == 0 && (!o.releaseFailed || ctx.Err() != nil) {
			return nil
		}
		select {
		case cmd := <-o.commands:
			err := o.handleCommand(ctx, cmd.kind)
			o.publishView()
			cmd.reply <- err
		case r := <-o.results:
			o.pending--
			o.handleResult(ctx, r)
		case <-timeout:
			timeout = nil
			o.onReadinessTimeout(ctx)
		case <-ctxDone:
			ctxDone = nil
			if !o.phase.Terminal() {
				o.logger.Info(ctx, "session context ended, tearing down")
				o.cancel(context.WithoutCancel(ctx))
			}
		}
	}
}

// Start requests the face capture. It fails with ErrNotReady unless camera,
// model and credential are all Ready when the loop evaluates it.
func (o *Orchestrator) Start(ctx context.Context) error { return o.send(ctx, cmdStart) }

// Retry re-launches a failed camera or model acquisition.
func (o *Orchestrator) Retry(ctx context.Context) error { return o.send(ctx, cmdRetry) }

// Cancel leaves the session. It is idempotent and fails only after a commit.
func (o *Orchestrator) Cancel(ctx context.Context) error { return o.send(ctx, cmdCancel) }

// Done is closed when Run returns.
func (o *Orchestrator) Done() <-chan struct{} { return o.done }

// View returns the latest projection of the session.
func (o *Orchestrator) View() View {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view
}

func (o *Orchestrator) send(ctx context.Context, kind commandKind) error {
	reply := make(chan error, 1)
	select {
	case o.commands <- command{kind: kind, reply: reply}:
	case <-o.done:
		return o.closedErr(kind)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closedErr answers intents that arrive after Run returned.
func (o *Orchestrator) closedErr(kind commandKind) error {
	switch o.View().Phase {
	case Committed:
		return ErrCommitted
	case Cancelled:
		if kind == cmdCancel {
			return nil
		}
		return ErrCancelled
	}
	return ErrCancelled
}

func (o *Orchestrator) handleCommand(ctx context.Context, kind commandKind) error {
	var err error
	switch kind {
	case cmdStart:
		err = o.start(ctx)
	case cmdRetry:
		err = o.retry(ctx)
	case cmdCancel:
		err = o.leave(ctx)
	}
	if err != nil {
		o.logger.Debug(ctx, "intent rejected", logger.String("intent", kind.String()), logger.Error(err))
	}
	return err
}

func (o *Orchestrator) start(ctx context.Context) error {
	switch o.phase {
	case Committed:
		return ErrCommitted
	case Cancelled:
		return ErrCancelled
	case Capturing:
		return ErrCaptureInProgress
	}
	snap := o.tracker.Snapshot()
	if snap.Credential == readiness.Ready && o.credential.Expired(o.now()) {
		o.logger.Info(ctx, "speech credential expired, fetching a new one")
		o.tracker.Invalidate(readiness.Credential)
		o.launchCredential()
		snap = o.tracker.Snapshot()
	}
	if !snap.Complete() {
		return fmt.Errorf("%w: camera=%s model=%s credential=%s", ErrNotReady, snap.Camera, snap.Model, snap.Credential)
	}

	o.epoch++
	o.enter(ctx, Capturing)
	cctx, cancel := context.WithCancel(o.tasks)
	o.stopCapture = cancel
	epoch, began := o.epoch, o.now()
	o.spawn(func() any {
		c, err := o.detector.CaptureOnce(cctx)
		return captureResult{epoch: epoch, capture: c, err: err, elapsed: o.now().Sub(began)}
	})
	return nil
}

func (o *Orchestrator) retry(ctx context.Context) error {
	switch o.phase {
	case Committed:
		return ErrCommitted
	case Cancelled:
		return ErrCancelled
	case Capturing:
		return ErrBusy
	}
	snap := o.tracker.Snapshot()
	retried := false
	if snap.Camera == readiness.Failed && !o.cameraBusy {
		o.launchCamera()
		retried = true
	}
	if snap.Model == readiness.Failed && snap.Camera == readiness.Ready && o.source != nil && !o.modelBusy {
		o.launchModel(o.source)
		retried = true
	}
	if !retried {
		return ErrNothingToRetry
	}
	o.logger.Info(ctx, "retrying failed resources")
	return nil
}

func (o *Orchestrator) leave(ctx context.Context) error {
	switch o.phase {
	case Committed:
		return ErrCommitted
	case Cancelled:
		if o.releaseFailed && !o.releasing {
			o.logger.Info(ctx, "retrying room release")
			o.releaseRoom(ctx)
		}
		return nil
	}
	o.cancel(ctx)
	return nil
}

// cancel tears the session down from any non-terminal phase. Phase and epoch
// change first so results still in flight are discarded.
func (o *Orchestrator) cancel(ctx context.Context) {
	from := o.phase
	o.epoch++
	o.enter(ctx, Cancelled)
	if o.stopCapture != nil {
		o.stopCapture()
		o.stopCapture = nil
	}
	o.stopTasks()
	o.releaseVisual(ctx)
	o.credential.Discard()
	o.tracker.Reset()
	o.snapshot = nil
	o.gate.Cancel()
	o.logger.Info(ctx, "session cancelled", logger.String("from", string(from)))
	o.releaseRoom(ctx)
}

func (o *Orchestrator) releaseVisual(ctx context.Context) {
	if o.source != nil {
		if err := o.source.Close(); err != nil {
			o.logger.Warn(ctx, "closing camera source failed", logger.Error(err))
		}
		o.source = nil
	}
	o.detector.Release()
}

func (o *Orchestrator) releaseRoom(ctx context.Context) {
	roomID := o.gate.Context().RoomID
	if o.rooms == nil || roomID == "" {
		o.notify(ctx, NoticeNavigate, "", PathLobby)
		return
	}
	o.releasing, o.releaseFailed = true, false
	base := context.WithoutCancel(ctx)
	o.spawn(func() any {
		rctx, cancel := context.WithTimeout(base, o.releaseTimeout)
		defer cancel()
		return releaseResult{roomID: roomID, err: o.rooms.ReleaseRoom(rctx, roomID)}
	})
}

func (o *Orchestrator) handleResult(ctx context.Context, r any) {
	switch r := r.(type) {
	case cameraResult:
		o.onCamera(ctx, r)
	case cameraLost:
		o.onCameraLost(ctx, r)
	case modelResult:
		o.onModel(ctx, r)
	case credentialResult:
		o.onCredential(ctx, r)
	case captureResult:
		o.onCapture(ctx, r)
	case releaseResult:
		o.onRelease(ctx, r)
	}
}

func (o *Orchestrator) onCamera(ctx context.Context, r cameraResult) {
	o.cameraBusy = false
	if o.phase.Terminal() {
		if r.source != nil {
			_ = r.source.Close()
		}
		return
	}
	if r.err != nil {
		o.tracker.ReportCameraFailed(r.err)
		o.resourceFailed(ctx, readiness.Camera, r.err)
		return
	}
	o.source = r.source
	// A model that was bound to the lost stream is not ready until re-bound.
	o.tracker.Invalidate(readiness.Model)
	o.readyLatency(readiness.Camera)
	o.tracker.ReportCameraReady(r.source)
	o.watchSource(r.source)
	if !o.modelBusy {
		o.launchModel(r.source)
	}
}

func (o *Orchestrator) onCameraLost(ctx context.Context, r cameraLost) {
	if r.stopped || o.phase.Terminal() || r.source != o.source {
		return
	}
	o.source = nil
	_ = r.source.Close()
	err := r.err
	if err == nil {
		err = video.ErrClosed
	}
	o.tracker.ReportCameraFailed(err)
	o.resourceFailed(ctx, readiness.Camera, err)
}

func (o *Orchestrator) onModel(ctx context.Context, r modelResult) {
	o.modelBusy = false
	if o.phase.Terminal() {
		return
	}
	if r.err != nil {
		o.tracker.ReportModelFailed(r.err)
		o.resourceFailed(ctx, readiness.Model, r.err)
		return
	}
	if r.source != o.source {
		// The camera was replaced while the model loaded; rebind.
		if o.source != nil {
			o.launchModel(o.source)
		}
		return
	}
	if !o.tracker.ReportModelReady(r.model) {
		o.logger.Debug(ctx, "model loaded without a ready camera")
		return
	}
	o.readyLatency(readiness.Model)
}

func (o *Orchestrator) onCredential(ctx context.Context, r credentialResult) {
	if o.phase.Terminal() {
		return
	}
	o.tracker.ReportCredentialOutcome(r.err)
	if r.err == nil {
		metrics.RecordCredentialFetch("ok")
		o.readyLatency(readiness.Credential)
		return
	}
	metrics.RecordCredentialFetch("failed")
	_ = metrics.RecordResourceFailure(string(readiness.Credential), failureReason(r.err))
	o.logger.Warn(ctx, "speech credential unavailable", logger.Error(r.err))
	if o.tracker.TakeCredentialAlert() {
		o.notify(ctx, NoticeCredentialFailed, msgCredentialFailed, "")
	}
}

func (o *Orchestrator) onCapture(ctx context.Context, r captureResult) {
	ms := float64(r.elapsed.Milliseconds())
	if r.epoch != o.epoch || o.phase != Capturing {
		metrics.RecordCaptureAttempt("discarded", ms)
		o.logger.Debug(ctx, "discarding stale capture result", logger.Int("epoch", int(r.epoch)))
		return
	}
	if o.stopCapture != nil {
		o.stopCapture()
		o.stopCapture = nil
	}

	switch {
	case r.err != nil:
		metrics.RecordCaptureAttempt("error", ms)
		if errors.Is(r.err, landmark.ErrCaptureInProgress) {
			o.logger.Error(ctx, "capture started while another was in flight", logger.Error(r.err))
		} else {
			o.logger.Warn(ctx, "capture failed", logger.Error(r.err))
		}
		o.enter(ctx, AwaitingReadiness)
		o.notify(ctx, NoticeCaptureFailed, msgCaptureFailed, "")
	case r.capture.Empty():
		metrics.RecordCaptureAttempt("no_face", ms)
		o.enter(ctx, AwaitingReadiness)
		o.notify(ctx, NoticeNoFace, msgNoFace, "")
	default:
		o.commit(ctx, r.capture, ms)
	}
}

// commit stores the snapshot, hands the start to the gate and only then
// emits the navigation.
func (o *Orchestrator) commit(ctx context.Context, capture landmark.Capture, ms float64) {
	snap, err := landmark.NewSnapshot(capture)
	if err != nil {
		metrics.RecordCaptureAttempt("error", ms)
		o.enter(ctx, AwaitingReadiness)
		o.notify(ctx, NoticeCaptureFailed, msgCaptureFailed, "")
		return
	}
	speech, err := o.credential.Credential()
	if err != nil {
		metrics.RecordCaptureAttempt("handoff_failed", ms)
		o.logger.Error(ctx, "speech credential unavailable at start", logger.Error(err))
		o.enter(ctx, AwaitingReadiness)
		o.notify(ctx, NoticeHandoffFailed, msgHandoffFailed, "")
		return
	}
	o.snapshot = snap

	if _, err := o.gate.RequestStart(ctx, snap, &speech); err != nil {
		o.snapshot = nil
		metrics.RecordCaptureAttempt("handoff_failed", ms)
		o.logger.Error(ctx, "session start rejected", logger.Error(err))
		if errors.Is(err, session.ErrCancelled) {
			o.cancel(ctx)
			return
		}
		o.enter(ctx, AwaitingReadiness)
		o.notify(ctx, NoticeHandoffFailed, msgHandoffFailed, "")
		return
	}
	metrics.RecordCaptureAttempt("face", ms)
	metrics.RecordHandoffPublished()

	o.enter(ctx, Committed)
	o.notify(ctx, NoticeNavigate, "", PathInterview)
	o.stopTasks()
	o.releaseVisual(ctx)
}

func (o *Orchestrator) onRelease(ctx context.Context, r releaseResult) {
	o.releasing = false
	if r.err != nil {
		o.releaseFailed = true
		metrics.RecordRoomRelease("failed")
		o.logger.Warn(ctx, "room release failed", logger.String("room_id", r.roomID), logger.Error(r.err))
		o.notify(ctx, NoticeRoomReleaseFail, msgReleaseFailed, "")
		return
	}
	metrics.RecordRoomRelease("ok")
	o.notify(ctx, NoticeNavigate, "", PathLobby)
}

func (o *Orchestrator) onReadinessTimeout(ctx context.Context) {
	if o.phase != AwaitingReadiness || o.tracker.Snapshot().Complete() {
		return
	}
	o.timedOut = true
	snap := o.tracker.Snapshot()
	o.logger.Warn(ctx, "readiness timed out",
		logger.String("camera", string(snap.Camera)),
		logger.String("model", string(snap.Model)),
		logger.String("credential", string(snap.Credential)),
	)
	o.notify(ctx, NoticeReadinessTimeout, msgReadinessTimeout, "")
}

func (o *Orchestrator) launchCamera() {
	o.cameraBusy = true
	o.began[readiness.Camera] = o.now()
	o.tracker.BeginCamera()
	ctx := o.tasks
	o.spawn(func() any {
		src, err := o.camera.Acquire(ctx)
		if err != nil {
			return cameraResult{err: err}
		}
		if err := video.WaitCanPlay(ctx, src); err != nil {
			_ = src.Close()
			return cameraResult{err: err}
		}
		return cameraResult{source: src}
	})
}

func (o *Orchestrator) watchSource(src video.Source) {
	ctx := o.tasks
	o.spawn(func() any {
		select {
		case <-src.Done():
			return cameraLost{source: src, err: src.Err()}
		case <-ctx.Done():
			return cameraLost{source: src, stopped: true}
		}
	})
}

func (o *Orchestrator) launchModel(src video.Source) {
	o.modelBusy = true
	if _, ok := o.began[readiness.Model]; !ok {
		o.began[readiness.Model] = o.now()
	}
	o.tracker.BeginModel()
	ctx := o.tasks
	o.spawn(func() any {
		m, err := o.detector.Initialize(ctx, src)
		return modelResult{source: src, model: m, err: err}
	})
}

func (o *Orchestrator) launchCredential() {
	o.began[readiness.Credential] = o.now()
	o.tracker.BeginCredential()
	ctx := o.tasks
	o.spawn(func() any {
		return credentialResult{err: o.credential.Fetch(ctx)}
	})
}

func (o *Orchestrator) spawn(task func() any) {
	o.pending++
	go func() { o.results <- task() }()
}

func (o *Orchestrator) enter(ctx context.Context, p Phase) {
	from := o.phase
	if from == p {
		return
	}
	o.phase = p
	metrics.RecordPhaseTransition(string(from), string(p))

	var err error
	switch p {
	case AwaitingReadiness:
		err = o.gate.Enter(session.AwaitingReadiness)
	case Capturing:
		err = o.gate.Enter(session.Capturing)
	}
	if err != nil {
		o.logger.Warn(ctx, "session gate refused transition", logger.String("phase", string(p)), logger.Error(err))
	}
	o.notify(ctx, NoticePhase, "", "")
}

func (o *Orchestrator) onReadiness(c readiness.Change) {
	o.notify(context.Background(), NoticeReadiness, "", "")
}

func (o *Orchestrator) resourceFailed(ctx context.Context, r readiness.Resource, err error) {
	delete(o.began, r)
	reason := failureReason(err)
	_ = metrics.RecordResourceFailure(string(r), reason)
	o.logger.Warn(ctx, "resource failed", logger.String("resource", string(r)), logger.String("reason", reason), logger.Error(err))

	switch {
	case r == readiness.Model:
		o.notify(ctx, NoticeModelFailed, msgModelFailed, "")
	case errors.Is(err, video.ErrPermissionDenied):
		o.notify(ctx, NoticeCameraFailed, msgCameraDenied, "")
	default:
		o.notify(ctx, NoticeCameraFailed, msgCameraDevice, "")
	}
}

func (o *Orchestrator) readyLatency(r readiness.Resource) {
	began, ok := o.began[r]
	if !ok {
		return
	}
	delete(o.began, r)
	_ = metrics.RecordReadinessLatency(string(r), float64(o.now().Sub(began).Milliseconds()))
}

func (o *Orchestrator) notify(ctx context.Context, kind NoticeKind, msg, path string) {
	snap := o.tracker.Snapshot()
	n := Notice{
		SessionID:    o.sessionID,
		Kind:         kind,
		Phase:        o.phase,
		Readiness:    snap,
		StartEnabled: o.phase == AwaitingReadiness && snap.Complete(),
		Message:      msg,
		Path:         path,
		At:           o.now(),
	}
	metrics.RecordNotice(string(kind))
	o.notifier.Notify(n)
	if kind != NoticeReadiness && kind != NoticePhase {
		o.logger.Debug(ctx, "notice emitted", logger.String("kind", string(kind)), logger.String("path", path))
	}
}

func (o *Orchestrator) publishView() {
	snap := o.tracker.Snapshot()
	sctx := o.gate.Context()
	v := View{
		SessionID:    o.sessionID,
		RoomID:       sctx.RoomID,
		Interviewer:  sctx.Interviewer,
		Phase:        o.phase,
		Readiness:    snap,
		StartEnabled: o.phase == AwaitingReadiness && snap.Complete(),
		HasSnapshot:  o.snapshot != nil,
		TimedOut:     o.timedOut,
		UpdatedAt:    o.now(),
	}
	o.mu.Lock()
	o.view = v
	o.mu.Unlock()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, video.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, video.ErrDevice):
		return "device_error"
	case errors.Is(err, video.ErrClosed):
		return "closed"
	case errors.Is(err, landmark.ErrModelLoad):
		return "model_load"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}
