// Package handoff stores started sessions for the live interview to pick up.
package handoff

import (
	"context"
	"errors"
	"sync"

	"github.com/okian/readyroom/internal/domain/session"
)

// ErrNotFound is returned when no handoff exists for a session.
var ErrNotFound = errors.New("handoff not found")

// Store publishes and reads handoffs.
type Store interface {
	Publish(ctx context.Context, h session.Handoff) error
	Get(ctx context.Context, sessionID string) (session.Handoff, error)
	Delete(ctx context.Context, sessionID string) error
	Close() error
}

// MemoryStore keeps handoffs in process.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]session.Handoff
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]session.Handoff)}
}

func (s *MemoryStore) Publish(_ context.Context, h session.Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[h.SessionID] = h
	return nil
}

func (s *MemoryStore) Get(_ context.Context, sessionID string) (session.Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.items[sessionID]
	if !ok {
		return session.Handoff{}, ErrNotFound
	}
	return h, nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }
