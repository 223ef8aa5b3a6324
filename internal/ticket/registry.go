package ticket

import (
	"context"
	"fmt"
	"strings"
)

// Registry stores support tickets.
type Registry interface {
	Create(ctx context.Context, t Ticket) error
	Get(ctx context.Context, ticketID string) (Ticket, error)
	Update(ctx context.Context, t Ticket) error
	List(ctx context.Context, filter Filter) ([]Ticket, error)
	Delete(ctx context.Context, ticketID string) error
	Close() error
}

// NewRegistry picks the engine named by kind. "auto" uses postgres when a
// database URL is configured and memory otherwise.
func NewRegistry(ctx context.Context, kind, databaseURL, sqlitePath string) (Registry, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || kind == "auto" {
		if strings.TrimSpace(databaseURL) == "" {
			kind = "memory"
		} else {
			kind = "postgres"
		}
	}
	switch kind {
	case "memory":
		return NewMemoryRegistry(), nil
	case "postgres":
		return NewPostgresRegistry(ctx, databaseURL)
	case "sqlite":
		return NewSQLiteRegistry(sqlitePath)
	default:
		return nil, fmt.Errorf("unknown ticket store %q", kind)
	}
}
