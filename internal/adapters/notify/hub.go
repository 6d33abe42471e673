// Package notify fans session notices out to subscribers such as websocket
// connections.
package notify

import (
	"sync"

	"github.com/okian/readyroom/internal/domain/orchestrator"
	"github.com/okian/readyroom/pkg/metrics"
)

const defaultBuffer = 32

// Hub delivers notices per session. Notify never blocks: a subscriber whose
// buffer is full loses the notice.
type Hub struct {
	buffer int

	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	last   map[string]orchestrator.Notice
	closed map[string]bool
}

type subscriber struct {
	ch   chan orchestrator.Notice
	once sync.Once
}

func (s *subscriber) close() { s.once.Do(func() { close(s.ch) }) }

// NewHub creates a hub with per-subscriber buffers of size buffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*subscriber]struct{}),
		last:   make(map[string]orchestrator.Notice),
		closed: make(map[string]bool),
	}
}

// Notify delivers n to every subscriber of its session.
func (h *Hub) Notify(n orchestrator.Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed[n.SessionID] {
		return
	}
	h.last[n.SessionID] = n
	for s := range h.subs[n.SessionID] {
		select {
		case s.ch <- n:
		default:
			metrics.RecordNoticeDropped()
		}
	}
}

// For returns a notifier bound to one session. It lets the hub sit behind
// the orchestrator's Notifier interface while tests can swap it.
func (h *Hub) For(sessionID string) orchestrator.Notifier {
	return orchestrator.NotifierFunc(func(n orchestrator.Notice) {
		n.SessionID = sessionID
		h.Notify(n)
	})
}

// Subscribe returns a channel of notices for sessionID, starting with the
// latest notice if there is one. The channel is closed by the returned
// cancel function or when the session is closed.
func (h *Hub) Subscribe(sessionID string) (<-chan orchestrator.Notice, func()) {
	s := &subscriber{ch: make(chan orchestrator.Notice, h.buffer)}

	h.mu.Lock()
	if last, ok := h.last[sessionID]; ok {
		s.ch <- last
	}
	if h.closed[sessionID] {
		h.mu.Unlock()
		s.close()
		return s.ch, func() {}
	}
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][s] = struct{}{}
	h.mu.Unlock()

	return s.ch, func() {
		h.mu.Lock()
		delete(h.subs[sessionID], s)
		if len(h.subs[sessionID]) == 0 {
			delete(h.subs, sessionID)
		}
		h.mu.Unlock()
		s.close()
	}
}

// CloseSession closes every subscriber of sessionID. Later subscribers get
// the final notice and a closed channel.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed[sessionID] = true
	for s := range h.subs[sessionID] {
		s.close()
	}
	delete(h.subs, sessionID)
}

// Forget drops everything the hub remembers about sessionID.
func (h *Hub) Forget(sessionID string) {
	h.CloseSession(sessionID)
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.last, sessionID)
	delete(h.closed, sessionID)
}

// Subscribers returns the number of live subscribers for sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
