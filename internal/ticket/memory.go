package ticket

import (
	"context"
	"sort"
	"sync"
)

type MemoryRegistry struct {
	mu      sync.RWMutex
	tickets map[string]Ticket
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{tickets: make(map[string]Ticket)}
}

func (m *MemoryRegistry) Create(_ context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t.Clone()
	return nil
}

func (m *MemoryRegistry) Get(_ context.Context, ticketID string) (Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[ticketID]
	if !ok {
		return Ticket{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryRegistry) Update(_ context.Context, t Ticket) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[t.ID]; !ok {
		return ErrNotFound
	}
	m.tickets[t.ID] = t.Clone()
	return nil
}

func (m *MemoryRegistry) List(_ context.Context, filter Filter) ([]Ticket, error) {
	m.mu.RLock()
	out := make([]Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		if filter.SessionID != "" && t.SessionID != filter.SessionID {
			continue
		}
		if filter.Priority != "" && t.Priority != filter.Priority {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRegistry) Delete(_ context.Context, ticketID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tickets[ticketID]; !ok {
		return ErrNotFound
	}
	delete(m.tickets, ticketID)
	return nil
}

func (m *MemoryRegistry) Close() error { return nil }
