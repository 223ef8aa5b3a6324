package session

import (
	"context"
	"strings"
	"time"
)

// Store persists sessions and their message history.
//
// Sessions returned by the List methods carry metadata only; Messages is
// empty. Use Get for the full record.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, sessionID string) (Session, error)
	Save(ctx context.Context, s Session) error
	ListByState(ctx context.Context, state State) ([]Session, error)
	ListIdle(ctx context.Context, before time.Time) ([]Session, error)
	Close() error
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
