package simulate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/okian/readyroom/pkg/logger"
)

// participant drives one waiting room session the way a browser would:
// open, stream camera frames, start once ready, follow the final navigation.
type participant struct {
	index  int
	cfg    *Config
	client *HTTPClient
	leave  bool
	frame  []byte
	log    logger.Logger
}

// syntheticFrame returns a high-variance gray8 frame that passes as a face.
func syntheticFrame() []byte {
	data := make([]byte, FrameWidth*FrameHeight)
	for i := range data {
		data[i] = byte((i * 37) % 251)
	}
	return data
}

func (p *participant) roomID() string {
	rooms := p.cfg.Rooms
	if rooms <= 0 {
		rooms = 1
	}
	return fmt.Sprintf("sim-room-%d", p.index%rooms)
}

func (p *participant) run(ctx context.Context) Result {
	limit := p.cfg.SessionLimit
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	began := time.Now()
	res := Result{Participant: p.index, RoomID: p.roomID(), Outcome: OutcomeFailed}
	defer func() { res.Duration = time.Since(began) }()

	v, err := p.client.Open(ctx, res.RoomID, fmt.Sprintf("sim-%d", p.index), p.cfg.Interviewer)
	if err != nil {
		res.Error = "open: " + err.Error()
		return res
	}
	res.SessionID = v.SessionID

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.client.EventsURL(v.SessionID), nil)
	if err != nil {
		res.Error = "events: " + err.Error()
		_ = p.client.Leave(context.WithoutCancel(ctx), v.SessionID)
		return res
	}
	defer func() { _ = conn.Close() }()
	// Unblocks ReadMessage when the flow times out.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	framesDone := make(chan struct{})
	defer close(framesDone)
	go p.streamFrames(ctx, v.SessionID, framesDone)

	p.follow(ctx, conn, began, &res)
	return res
}

// streamFrames pushes frames at the configured rate. Early pushes fail with
// no_stream until the service acquires the camera.
func (p *participant) streamFrames(ctx context.Context, id string, done <-chan struct{}) {
	rate := p.cfg.FrameRate
	if rate <= 0 {
		rate = DefaultFrameRate
	}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / rate))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := p.client.PushFrame(ctx, id, p.frame, FrameWidth, FrameHeight); err != nil && p.cfg.Verbose {
				p.log.Debug(ctx, "frame rejected", logger.String("session_id", id), logger.Error(err))
			}
		}
	}
}

// follow reads notices until the service closes the stream.
func (p *participant) follow(ctx context.Context, conn *websocket.Conn, began time.Time, res *Result) {
	id := res.SessionID
	leaving := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && res.Error == "" {
				res.Error = "stream: " + err.Error()
			}
			return
		}
		var n notice
		if err := json.Unmarshal(msg, &n); err != nil {
			res.Error = "notice: " + err.Error()
			continue
		}
		res.Notices++

		switch n.Kind {
		case "camera_failed", "model_failed", "credential_failed":
			res.Error = n.Kind + ": " + n.Message
			if !leaving {
				leaving = true
				_ = p.client.Leave(ctx, id)
			}
			continue
		case "navigate":
			p.finish(ctx, n.Path, leaving, res)
			continue
		}

		if n.Phase != "awaiting_readiness" || !n.StartEnabled || leaving {
			continue
		}
		if res.ReadyAfter == 0 {
			res.ReadyAfter = time.Since(began)
		}
		if p.leave {
			leaving = true
			if err := p.client.Leave(ctx, id); err != nil {
				res.Error = "leave: " + err.Error()
			}
			continue
		}
		if res.Starts >= MaxStarts {
			leaving = true
			res.Error = "no face after retries"
			_ = p.client.Leave(ctx, id)
			continue
		}
		err = p.client.Start(ctx, id)
		var apiErr *apiError
		switch {
		case err == nil:
			res.Starts++
		case errors.As(err, &apiErr) && apiErr.Status < 500:
			// Lost a race with a readiness change; the next notice decides.
		default:
			res.Error = "start: " + err.Error()
		}
	}
}

func (p *participant) finish(ctx context.Context, path string, leaving bool, res *Result) {
	switch path {
	case PathInterview:
		h, err := p.client.Handoff(ctx, res.SessionID)
		if err != nil {
			res.Error = "handoff: " + err.Error()
			return
		}
		if p.cfg.Interviewer != "" && h.Interviewer != p.cfg.Interviewer {
			res.Error = fmt.Sprintf("handoff interviewer %q, want %q", h.Interviewer, p.cfg.Interviewer)
			return
		}
		if h.Speech == nil || h.Speech.Token == "" {
			res.Error = "handoff without speech credential"
			return
		}
		res.Outcome = OutcomeCommitted
		res.Error = ""
	case PathLobby:
		if leaving && p.leave {
			res.Outcome = OutcomeLeft
		}
	}
}
