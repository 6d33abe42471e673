package service

import (
	"sync"
	"time"

	"github.com/okian/readyroom/internal/adapters/camera"
	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/internal/domain/session"
)

// OpenRequest describes a participant entering the ready room.
type OpenRequest struct {
	RoomID      string `json:"room_id" validate:"required,max=64"`
	Member      string `json:"nickname" validate:"required,max=64"`
	Interviewer string `json:"interviewer" validate:"omitempty,max=64"`
}

// Session bundles the per-session collaborators around one orchestrator.
type Session struct {
	id        string
	roomID    string
	createdAt time.Time

	gate       *session.Gate
	device     *camera.Device
	detector   *landmark.Detector
	credential *credential.Provisioner
	orch       *orchestrator.Orchestrator

	mu      sync.Mutex
	endedAt time.Time
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// View returns the latest session view with the gate's current interviewer.
func (s *Session) View() orchestrator.View {
	v := s.orch.View()
	v.Interviewer = s.gate.Context().Interviewer
	return v
}

func (s *Session) end(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endedAt = at
}

// ended reports whether Run returned and when.
func (s *Session) ended() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt, !s.endedAt.IsZero()
}
