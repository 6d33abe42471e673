// Package orchestrator drives one interview-ready session: it gathers camera,
// model and credential readiness, runs a bounded face capture on request and
// commits the session or tears everything down on leave.
package orchestrator

import (
	"context"
	"time"

	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/internal/domain/readiness"
	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/internal/domain/video"
)

// Phase is the orchestrator's state.
type Phase string

const (
	Idle              Phase = "idle"
	AwaitingReadiness Phase = "awaiting_readiness"
	Capturing         Phase = "capturing"
	Committed         Phase = "committed"
	Cancelled         Phase = "cancelled"
)

// Terminal reports whether the phase accepts no more intents.
func (p Phase) Terminal() bool {
	return p == Committed || p == Cancelled
}

// Navigation targets emitted with NoticeNavigate.
const (
	PathInterview = "/interview/ai"
	PathLobby     = "/lobby"
)

// Camera acquires a video source for the session. The returned source may not
// be playable yet; the orchestrator waits for its "can play" signal.
type Camera interface {
	Acquire(ctx context.Context) (video.Source, error)
}

// Detector is the landmark detector the orchestrator drives.
type Detector interface {
	Initialize(ctx context.Context, source video.Source) (landmark.Model, error)
	CaptureOnce(ctx context.Context) (landmark.Capture, error)
	Release()
}

// CredentialFetcher fetches the speech credential once and again only after
// it expired.
type CredentialFetcher interface {
	Fetch(ctx context.Context) error
	Credential() (credential.Credential, error)
	Expired(now time.Time) bool
	Discard()
}

// Gate is the session lifecycle gate the orchestrator reports to.
type Gate interface {
	Enter(s session.State) error
	RequestStart(ctx context.Context, snapshot *landmark.FaceSnapshot, speech *credential.Credential) (session.Handoff, error)
	Cancel() bool
	Context() session.Context
}

// RoomReleaser asks the room service to delete the room a session was bound to.
type RoomReleaser interface {
	ReleaseRoom(ctx context.Context, roomID string) error
}

// Notifier receives user-visible notices. Notify must not block.
type Notifier interface {
	Notify(n Notice)
}

// View is a read-only projection of the orchestrator state.
type View struct {
	SessionID    string             `json:"session_id"`
	RoomID       string             `json:"room_id"`
	Interviewer  string             `json:"interviewer"`
	Phase        Phase              `json:"phase"`
	Readiness    readiness.Snapshot `json:"readiness"`
	StartEnabled bool               `json:"start_enabled"`
	HasSnapshot  bool               `json:"has_snapshot"`
	TimedOut     bool               `json:"readiness_timed_out"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
