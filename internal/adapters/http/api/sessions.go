package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/internal/domain/session"
	"github.com/okian/readyroom/internal/validation"
)

// SessionDependencies defines the session operations behind the API.
type SessionDependencies interface {
	OpenSession(ctx context.Context, roomID, member, interviewer string) (orchestrator.View, error)
	View(ctx context.Context, id string) (orchestrator.View, error)
	SelectInterviewer(ctx context.Context, id, name string) error
	StartCapture(ctx context.Context, id string) error
	Retry(ctx context.Context, id string) error
	Leave(ctx context.Context, id string) error
	Handoff(ctx context.Context, id string) (session.Handoff, error)
}

// SessionsHandler handles session lifecycle requests.
type SessionsHandler struct {
	deps SessionDependencies
}

// NewSessionsHandler creates a new sessions handler.
func NewSessionsHandler(deps SessionDependencies) *SessionsHandler {
	return &SessionsHandler{deps: deps}
}

type openRequest struct {
	RoomID      string `json:"room_id" validate:"required,max=64"`
	Nickname    string `json:"nickname" validate:"required,max=64"`
	Interviewer string `json:"interviewer" validate:"omitempty,max=64"`
}

type interviewerRequest struct {
	Interviewer string `json:"interviewer" validate:"required,max=64"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return validation.Struct(v)
}

// HandleOpen handles POST /sessions.
func (h *SessionsHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	const op = "api.open_session"
	var req openRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	view, err := h.deps.OpenSession(r.Context(), req.RoomID, req.Nickname, req.Interviewer)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	w.Header().Set("Location", "/sessions/"+view.SessionID)
	writeJSON(w, http.StatusCreated, toViewResponse(view))
}

// HandleView handles GET /sessions/{id}.
func (h *SessionsHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	view, err := h.deps.View(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, Wrap("api.view_session", err))
		return
	}
	writeJSON(w, http.StatusOK, toViewResponse(view))
}

// HandleInterviewer handles PUT /sessions/{id}/interviewer.
func (h *SessionsHandler) HandleInterviewer(w http.ResponseWriter, r *http.Request) {
	const op = "api.select_interviewer"
	var req interviewerRequest
	if err := decode(r, &req); err != nil {
		writeFailure(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.deps.SelectInterviewer(r.Context(), id, req.Interviewer); err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	h.writeView(w, r, id, http.StatusOK)
}

// HandleStart handles POST /sessions/{id}/start. The capture runs
// asynchronously; its outcome arrives as a notice.
func (h *SessionsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.StartCapture(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, Wrap("api.start", err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "capturing"})
}

// HandleRetry handles POST /sessions/{id}/retry.
func (h *SessionsHandler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Retry(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, Wrap("api.retry", err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "retrying"})
}

// HandleLeave handles DELETE /sessions/{id}.
func (h *SessionsHandler) HandleLeave(w http.ResponseWriter, r *http.Request) {
	if err := h.deps.Leave(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, Wrap("api.leave", err))
		return
	}
	writeJSON(w, http.StatusAccepted, ackResponse{Status: "leaving"})
}

// HandleHandoff handles GET /sessions/{id}/handoff.
func (h *SessionsHandler) HandleHandoff(w http.ResponseWriter, r *http.Request) {
	ho, err := h.deps.Handoff(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, Wrap("api.handoff", err))
		return
	}
	writeJSON(w, http.StatusOK, ho)
}

func (h *SessionsHandler) writeView(w http.ResponseWriter, r *http.Request, id string, status int) {
	view, err := h.deps.View(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, status, toViewResponse(view))
}
