package readiness

import (
	"sync"
)

// Observer receives every readiness transition. It is called without the
// tracker lock held.
type Observer func(Change)

// Tracker holds the readiness of camera, model and credential plus the
// references to the acquired camera stream and model. The zero value is not
// usable; create one with NewTracker.
type Tracker[S any, M any] struct {
	mu         sync.Mutex
	camera     State
	model      State
	credential State

	stream    S
	hasStream bool
	handle    M
	hasHandle bool

	credentialAlert bool
	alertConsumed   bool

	observer Observer
}

// NewTracker creates a tracker with every resource Uninitialized.
func NewTracker[S any, M any](observer Observer) *Tracker[S, M] {
	return &Tracker[S, M]{
		camera:     Uninitialized,
		model:      Uninitialized,
		credential: Uninitialized,
		observer:   observer,
	}
}

// BeginCamera marks the camera as Initializing unless it is already Ready.
func (t *Tracker[S, M]) BeginCamera() { t.begin(Camera) }

// BeginModel marks the model as Initializing unless it is already Ready.
func (t *Tracker[S, M]) BeginModel() { t.begin(Model) }

// BeginCredential marks the credential as Initializing unless it is already Ready.
func (t *Tracker[S, M]) BeginCredential() { t.begin(Credential) }

func (t *Tracker[S, M]) begin(r Resource) {
	t.mu.Lock()
	p := t.slot(r)
	from := *p
	if from == Ready || from == Initializing {
		t.mu.Unlock()
		return
	}
	*p = Initializing
	change := Change{Resource: r, From: from, To: Initializing, Snapshot: t.snapshotLocked()}
	t.mu.Unlock()
	t.notify(change)
}

// Invalidate returns a Ready resource to Initializing while it is being
// renewed, such as a model re-bound to a new stream or an expired credential.
// References are kept. It reports whether the state changed.
func (t *Tracker[S, M]) Invalidate(r Resource) bool {
	t.mu.Lock()
	p := t.slot(r)
	if *p != Ready {
		t.mu.Unlock()
		return false
	}
	*p = Initializing
	change := Change{Resource: r, From: Ready, To: Initializing, Snapshot: t.snapshotLocked()}
	t.mu.Unlock()
	t.notify(change)
	return true
}

// ReportCameraReady marks the camera Ready and stores the stream. A second
// report with a new stream replaces the reference.
func (t *Tracker[S, M]) ReportCameraReady(stream S) {
	t.mu.Lock()
	from := t.camera
	t.camera = Ready
	t.stream = stream
	t.hasStream = true
	change := Change{Resource: Camera, From: from, To: Ready, Snapshot: t.snapshotLocked()}
	t.mu.Unlock()
	t.notify(change)
}

// ReportCameraFailed marks the camera Failed and drops the stream reference.
// Closing the stream is the caller's job.
func (t *Tracker[S, M]) ReportCameraFailed(err error) {
	var zeroS S
	t.mu.Lock()
	from := t.camera
	t.camera = Failed
	t.stream = zeroS
	t.hasStream = false
	change := Change{Resource: Camera, From: from, To: Failed, Err: err, Snapshot: t.snapshotLocked()}
	t.mu.Unlock()
	t.notify(change)
}

// ReportModelReady marks the model Ready. It is a no-op returning false when
// the camera is not Ready, since model load is gated on the video source.
func (t *Tracker[S, M]) ReportModelReady(model M) bool {
	t.mu.Lock()
	if t.camera != Ready {
		t.mu.Unlock()
		return false
	}
	from := t.model
	t.model = Ready
	t.handle = model
	t.hasHandle = true
	change := Change{Resource: Model, From: from, To: Ready, Snapshot: t.snapshotLocked()}
	t.mu.Unlock()
	t.notify(change)
	return true
}

// ReportModelFailed marks the model Failed.
func (t *Tracker[S, M]) ReportModelFailed(err error) {
	var zeroM M
	t.mu.Lock()
	from := t.model
	t.model = Failed
	t.handle = zeroM
	t.hasHandle = false
	change := Change{Resource: Model, From: from, To: Failed, Err: err, Snapshot: t.snapshotLocked()}
	t.mu.Unlock()
	t.notify(change)
}

// ReportCredentialOutcome marks the credential Ready when err is nil and
// Failed otherwise. The first failure arms a one-time alert.
func (t *Tracker[S, M]) ReportCredentialOutcome(err error) {
	t.mu.Lock()
	from := t.credential
	to := Ready
	if err != nil {
		to = Failed
		if !t.alertConsumed {
			t.credentialAlert = true
		}
	}
	t.credential = to
	change := Change{Resource: Credential, From: from, To: to, Err: err, Snapshot: t.snapshotLocked()}
	t.mu.Unlock()
	t.notify(change)
}

// TakeCredentialAlert returns true exactly once after the credential failed.
func (t *Tracker[S, M]) TakeCredentialAlert() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.credentialAlert {
		return false
	}
	t.credentialAlert = false
	t.alertConsumed = true
	return true
}

// AllCriticalReady reports camera and model readiness at this instant.
func (t *Tracker[S, M]) AllCriticalReady() bool {
	return t.Snapshot().AllCriticalReady()
}

// CredentialReady reports credential readiness at this instant.
func (t *Tracker[S, M]) CredentialReady() bool {
	return t.Snapshot().CredentialReady()
}

// Snapshot returns all three states read atomically.
func (t *Tracker[S, M]) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Stream returns the current camera stream, if any.
func (t *Tracker[S, M]) Stream() (S, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stream, t.hasStream
}

// ModelHandle returns the current model handle, if any.
func (t *Tracker[S, M]) ModelHandle() (M, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handle, t.hasHandle
}

// Reset drops stream and model references and returns every resource to
// Uninitialized. Used on teardown; it does not notify.
func (t *Tracker[S, M]) Reset() {
	var (
		zeroS S
		zeroM M
	)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.camera, t.model, t.credential = Uninitialized, Uninitialized, Uninitialized
	t.stream, t.hasStream = zeroS, false
	t.handle, t.hasHandle = zeroM, false
}

func (t *Tracker[S, M]) slot(r Resource) *State {
	switch r {
	case Camera:
		return &t.camera
	case Model:
		return &t.model
	default:
		return &t.credential
	}
}

func (t *Tracker[S, M]) snapshotLocked() Snapshot {
	return Snapshot{Camera: t.camera, Model: t.model, Credential: t.credential}
}

func (t *Tracker[S, M]) notify(c Change) {
	if t.observer != nil {
		t.observer(c)
	}
}
