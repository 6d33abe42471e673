// Package readiness tracks the three independently initializing resources a
// session needs before a face capture may run: the camera stream, the landmark
// model and the speech credential.
package readiness

// State is the readiness of a single resource.
type State string

const (
	Uninitialized State = "uninitialized"
	Initializing  State = "initializing"
	Ready         State = "ready"
	Failed        State = "failed"
)

// Resource names one of the tracked resources.
type Resource string

const (
	Camera     Resource = "camera"
	Model      Resource = "model"
	Credential Resource = "credential"
)

// Snapshot is a consistent view of all three states taken under one lock.
type Snapshot struct {
	Camera     State `json:"camera"`
	Model      State `json:"model"`
	Credential State `json:"credential"`
}

// AllCriticalReady reports camera and model readiness. The credential is
// checked separately because its failure surfaces a distinct notice.
func (s Snapshot) AllCriticalReady() bool {
	return s.Camera == Ready && s.Model == Ready
}

// CredentialReady reports whether the speech credential is usable.
func (s Snapshot) CredentialReady() bool {
	return s.Credential == Ready
}

// Complete reports whether the full start guard holds.
func (s Snapshot) Complete() bool {
	return s.AllCriticalReady() && s.CredentialReady()
}

// Change describes one readiness transition.
type Change struct {
	Resource Resource
	From     State
	To       State
	Err      error
	Snapshot Snapshot
}
