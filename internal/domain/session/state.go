// Package session owns the outward state of one interview-room participation
// and the context object handed to the live interview once it starts.
package session

import (
	"time"

	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/landmark"
)

// State is the outward session state.
type State string

const (
	Idle              State = "idle"
	AwaitingReadiness State = "awaiting_readiness"
	Capturing         State = "capturing"
	Started           State = "started"
	Cancelled         State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Started || s == Cancelled
}

// NextProcessOngoing marks a handoff the live interview should pick up.
const NextProcessOngoing = "ongoing"

// Context is the per-session data that used to live in page-wide globals.
// It is created when the ready page is entered and dropped on teardown.
type Context struct {
	SessionID   string
	RoomID      string
	Member      string
	Interviewer string
	Snapshot    *landmark.FaceSnapshot
	NextProcess string
	EnteredAt   time.Time
}

// Handoff is what the live interview consumes after a successful start.
type Handoff struct {
	SessionID   string                 `json:"session_id"`
	RoomID      string                 `json:"room_id"`
	Member      string                 `json:"member"`
	Interviewer string                 `json:"interviewer"`
	Snapshot    *landmark.FaceSnapshot `json:"snapshot"`
	Speech      *credential.Credential `json:"speech,omitempty"`
	NextProcess string                 `json:"next_process"`
	StartedAt   time.Time              `json:"started_at"`
}
