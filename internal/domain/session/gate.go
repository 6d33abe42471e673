package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/readyroom/internal/domain/credential"
	"github.com/okian/readyroom/internal/domain/landmark"
	"github.com/okian/readyroom/pkg/logger"
)

const maxInterviewerLen = 64

// HandoffPublisher makes a started session visible to the live interview.
type HandoffPublisher interface {
	Publish(ctx context.Context, h Handoff) error
}

// Gate is the single source of truth for whether a session legitimately
// started. All methods are safe for concurrent use.
type Gate struct {
	publisher HandoffPublisher
	now       func() time.Time
	logger    logger.Logger

	mu       sync.Mutex
	state    State
	sctx     Context
	handoff  *Handoff
	starting bool
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		if now != nil {
			g.now = now
		}
	}
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(g *Gate) {
		if id != "" {
			g.sctx.SessionID = id
		}
	}
}

// NewGate creates an Idle gate for member in room.
func NewGate(roomID, member, interviewer string, publisher HandoffPublisher, opts ...Option) *Gate {
	g := &Gate{
		publisher: publisher,
		now:       time.Now,
		state:     Idle,
		sctx:      Context{RoomID: roomID, Member: member, Interviewer: interviewer},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.sctx.SessionID == "" {
		g.sctx.SessionID = uuid.NewString()
	}
	if g.logger == nil {
		g.logger = logger.Get().Named("session")
	}
	g.sctx.EnteredAt = g.now()
	return g
}

// ID returns the session id.
func (g *Gate) ID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sctx.SessionID
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Context returns a copy of the session context.
func (g *Gate) Context() Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sctx
}

// Handoff returns the published handoff, if the session started.
func (g *Gate) Handoff() (Handoff, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.handoff == nil {
		return Handoff{}, false
	}
	return *g.handoff, true
}

// Enter moves the gate to AwaitingReadiness or Capturing. Started and
// Cancelled are only reachable through RequestStart and Cancel.
func (g *Gate) Enter(s State) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case g.state == Cancelled:
		return ErrCancelled
	case g.state == Started:
		return ErrAlreadyStarted
	case s != AwaitingReadiness && s != Capturing:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, g.state, s)
	}
	g.state = s
	return nil
}

// SelectInterviewer changes the interviewer until the session starts.
func (g *Gate) SelectInterviewer(name string) error {
	if name == "" || len(name) > maxInterviewerLen {
		return ErrInvalidInterviewer
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	switch g.state {
	case Cancelled:
		return ErrCancelled
	case Started:
		return ErrAlreadyStarted
	}
	g.sctx.Interviewer = name
	return nil
}

// RequestStart stores snapshot, marks the session Started and publishes the
// handoff together with the speech credential the live interview will use.
// The snapshot is stored before the handoff is published. A second call after
// a successful start is a no-op returning the first handoff.
func (g *Gate) RequestStart(ctx context.Context, snapshot *landmark.FaceSnapshot, speech *credential.Credential) (Handoff, error) {
	if snapshot == nil {
		return Handoff{}, ErrNilSnapshot
	}
	g.mu.Lock()
	switch g.state {
	case Started:
		h := *g.handoff
		g.mu.Unlock()
		return h, nil
	case Cancelled:
		g.mu.Unlock()
		return Handoff{}, ErrCancelled
	}
	if g.starting {
		g.mu.Unlock()
		return Handoff{}, ErrStartInProgress
	}
	g.starting = true
	g.sctx.Snapshot = snapshot
	h := Handoff{
		SessionID:   g.sctx.SessionID,
		RoomID:      g.sctx.RoomID,
		Member:      g.sctx.Member,
		Interviewer: g.sctx.Interviewer,
		Snapshot:    snapshot,
		Speech:      speech,
		NextProcess: NextProcessOngoing,
		StartedAt:   g.now(),
	}
	g.mu.Unlock()

	var err error
	if g.publisher != nil {
		err = g.publisher.Publish(ctx, h)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.starting = false
	if err != nil {
		return Handoff{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}
	if g.state == Cancelled {
		return Handoff{}, ErrCancelled
	}
	g.state = Started
	g.sctx.NextProcess = NextProcessOngoing
	g.handoff = &h
	g.logger.Info(ctx, "session started",
		logger.String("session_id", h.SessionID),
		logger.String("room_id", h.RoomID),
		logger.String("interviewer", h.Interviewer),
	)
	return h, nil
}

// Cancel moves the gate to Cancelled from any state and drops the snapshot
// of a session that never started. It reports whether this call changed the
// state; repeated calls are no-ops.
func (g *Gate) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state == Cancelled {
		return false
	}
	if g.state != Started {
		g.sctx.Snapshot = nil
	}
	g.state = Cancelled
	return true
}
