// Package preference persists each user's chosen interface language.
package preference

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrNotFound = errors.New("language preference not found")

type Preference struct {
	UserID    string    `json:"user_id"`
	Language  string    `json:"language"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Store interface {
	Get(ctx context.Context, userID string) (Preference, error)
	Set(ctx context.Context, userID, language string) (Preference, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}

type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[string]Preference
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		prefs: make(map[string]Preference),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Preference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prefs[userID]
	if !ok {
		return Preference{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) Set(_ context.Context, userID, language string) (Preference, error) {
	p := Preference{UserID: userID, Language: language, UpdatedAt: m.now()}
	m.mu.Lock()
	m.prefs[userID] = p
	m.mu.Unlock()
	return p, nil
}

func (m *MemoryStore) Close() error { return nil }
