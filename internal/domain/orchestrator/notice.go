package orchestrator

import (
	"time"

	"github.com/okian/readyroom/internal/domain/readiness"
)

// NoticeKind classifies a notice.
type NoticeKind string

const (
	NoticeReadiness        NoticeKind = "readiness"
	NoticePhase            NoticeKind = "phase"
	NoticeCameraFailed     NoticeKind = "camera_failed"
	NoticeModelFailed      NoticeKind = "model_failed"
	NoticeCredentialFailed NoticeKind = "credential_failed"
	NoticeNoFace           NoticeKind = "no_face"
	NoticeCaptureFailed    NoticeKind = "capture_failed"
	NoticeHandoffFailed    NoticeKind = "handoff_failed"
	NoticeReadinessTimeout NoticeKind = "readiness_timeout"
	NoticeRoomReleaseFail  NoticeKind = "room_release_failed"
	NoticeNavigate         NoticeKind = "navigate"
)

// Notice is a user-visible event.
type Notice struct {
	SessionID    string             `json:"session_id"`
	Kind         NoticeKind         `json:"kind"`
	Phase        Phase              `json:"phase"`
	Readiness    readiness.Snapshot `json:"readiness"`
	StartEnabled bool               `json:"start_enabled"`
	Message      string             `json:"message,omitempty"`
	Path         string             `json:"path,omitempty"`
	At           time.Time          `json:"at"`
}

// Default user-facing messages.
const (
	msgNoFace           = "No face detected on screen. Look at the camera and try again."
	msgCredentialFailed = "Sorry, the voice service could not be reached. Please contact an administrator."
	msgReadinessTimeout = "Preparation is taking longer than expected."
	msgCameraDenied     = "Camera access was denied. Allow camera access and retry."
	msgCameraDevice     = "The camera is unavailable. Check the device and retry."
	msgModelFailed      = "Face detection could not be loaded. Retry to try again."
	msgCaptureFailed    = "Face capture failed. Please try again."
	msgHandoffFailed    = "The interview could not be started. Please try again."
	msgReleaseFailed    = "Leaving the room failed. Please try again."
)

type nopNotifier struct{}

func (nopNotifier) Notify(Notice) {}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notice)

// Notify implements Notifier.
func (f NotifierFunc) Notify(n Notice) { f(n) }
