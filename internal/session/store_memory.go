package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]Session)}
}

func (m *MemoryStore) Create(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrAlreadyExists
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) Get(_ context.Context, sessionID string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; !ok {
		return ErrNotFound
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

func (m *MemoryStore) ListByState(_ context.Context, state State) ([]Session, error) {
	return m.list(func(s Session) bool { return s.State == state }), nil
}

func (m *MemoryStore) ListIdle(_ context.Context, before time.Time) ([]Session, error) {
	return m.list(func(s Session) bool {
		return !s.State.Terminal() && s.LastActivityAt.Before(before)
	}), nil
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) list(keep func(Session) bool) []Session {
	m.mu.RLock()
	out := make([]Session, 0)
	for _, s := range m.sessions {
		if !keep(s) {
			continue
		}
		meta := s.Clone()
		meta.Messages = []Message{}
		out = append(out, meta)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
