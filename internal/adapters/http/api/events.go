package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

// EventDependencies streams session notices.
type EventDependencies interface {
	Subscribe(ctx context.Context, id string) (<-chan orchestrator.Notice, func(), error)
}

// EventsHandler upgrades to a websocket and pushes notices to the page.
type EventsHandler struct {
	deps    EventDependencies
	origins []string
	logger  logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies) *EventsHandler {
	return &EventsHandler{deps: deps, logger: logger.Get().Named("events")}
}

type noticeMessage struct {
	SessionID    string                  `json:"session_id"`
	Kind         orchestrator.NoticeKind `json:"kind"`
	Phase        orchestrator.Phase      `json:"phase"`
	Camera       string                  `json:"camera"`
	Model        string                  `json:"model"`
	Credential   string                  `json:"credential"`
	StartEnabled bool                    `json:"start_enabled"`
	Message      string                  `json:"message,omitempty"`
	Path         string                  `json:"path,omitempty"`
	At           time.Time               `json:"at"`
}

func toNoticeMessage(n orchestrator.Notice) noticeMessage {
	return noticeMessage{
		SessionID:    n.SessionID,
		Kind:         n.Kind,
		Phase:        n.Phase,
		Camera:       string(n.Readiness.Camera),
		Model:        string(n.Readiness.Model),
		Credential:   string(n.Readiness.Credential),
		StartEnabled: n.StartEnabled,
		Message:      n.Message,
		Path:         n.Path,
		At:           n.At,
	}
}

func (h *EventsHandler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
}

func (h *EventsHandler) checkOrigin(r *http.Request) bool {
	if len(h.origins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleEvents handles GET /sessions/{id}/events. The stream ends with a
// close frame once the session is finished.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.events"
	id := chi.URLParam(r, "id")
	notices, cancel, err := h.deps.Subscribe(r.Context(), id)
	if err != nil {
		writeFailure(w, Wrap(op, err))
		return
	}
	defer cancel()

	up := h.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Warn(r.Context(), "websocket upgrade failed", logger.String("session_id", id), logger.Error(WrapKind(op, ErrUpgrade, err)))
		return
	}
	defer func() { _ = conn.Close() }()

	closed := make(chan struct{})
	go h.readPump(conn, closed)
	h.writePump(r.Context(), conn, notices, closed)
}

// readPump discards client messages and keeps the read deadline fresh.
func (h *EventsHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *EventsHandler) writePump(ctx context.Context, conn *websocket.Conn, notices <-chan orchestrator.Notice, closed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case n, ok := <-notices:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session finished")
				_ = conn.WriteMessage(websocket.CloseMessage, msg)
				return
			}
			b, err := json.Marshal(toNoticeMessage(n))
			if err != nil {
				h.logger.Error(ctx, "encoding notice failed", logger.Error(err))
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
