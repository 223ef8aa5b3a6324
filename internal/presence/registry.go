// Package presence tracks which live connections are attached to which
// chat session and fans outbound events out to them.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/ent0n29/helpdesk/internal/observability"
	"github.com/ent0n29/helpdesk/internal/protocol"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

type Binding struct {
	ConnectionID string `json:"connection_id"`
	SessionID    string `json:"session_id"`
	Role         Role   `json:"role"`
}

type conn struct {
	binding Binding
	out     chan<- any
}

// Registry holds at most one user and one agent connection per session.
// Outbound channels are owned by the connection; the registry never
// closes them.
type Registry struct {
	mu       sync.RWMutex
	conns    map[string]*conn
	sessions map[string]map[Role]string

	metrics         *observability.Metrics
	criticalTimeout time.Duration
}

func NewRegistry(metrics *observability.Metrics) *Registry {
	return &Registry{
		conns:           make(map[string]*conn),
		sessions:        make(map[string]map[Role]string),
		metrics:         metrics,
		criticalTimeout: 600 * time.Millisecond,
	}
}

// Bind attaches a connection to a session. A previous connection holding
// the same role is detached and its id returned.
func (r *Registry) Bind(connectionID, sessionID string, role Role, out chan<- any) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[connectionID]; ok {
		r.unbindLocked(connectionID)
	}

	roles := r.sessions[sessionID]
	if roles == nil {
		roles = make(map[Role]string, 2)
		r.sessions[sessionID] = roles
	}
	previous := roles[role]
	if previous != "" {
		delete(r.conns, previous)
	}
	roles[role] = connectionID
	r.conns[connectionID] = &conn{
		binding: Binding{ConnectionID: connectionID, SessionID: sessionID, Role: role},
		out:     out,
	}
	return previous
}

func (r *Registry) Unbind(connectionID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(connectionID)
}

func (r *Registry) unbindLocked(connectionID string) (Binding, bool) {
	c, ok := r.conns[connectionID]
	if !ok {
		return Binding{}, false
	}
	delete(r.conns, connectionID)
	roles := r.sessions[c.binding.SessionID]
	if roles[c.binding.Role] == connectionID {
		delete(roles, c.binding.Role)
	}
	if len(roles) == 0 {
		delete(r.sessions, c.binding.SessionID)
	}
	return c.binding, true
}

// Lookup returns the binding of a connection.
func (r *Registry) Lookup(connectionID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[connectionID]
	if !ok {
		return Binding{}, false
	}
	return c.binding, true
}

func (r *Registry) ConnectionsFor(sessionID string) []Binding {
	r.mu.RLock()
	roles := r.sessions[sessionID]
	out := make([]Binding, 0, len(roles))
	for _, id := range roles {
		if c, ok := r.conns[id]; ok {
			out = append(out, c.binding)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Role > out[j].Role })
	return out
}

// Broadcast delivers msg to every connection bound to the session and
// returns how many accepted it.
func (r *Registry) Broadcast(sessionID string, msg any) int {
	r.mu.RLock()
	targets := make([]chan<- any, 0, 2)
	for _, id := range r.sessions[sessionID] {
		if c, ok := r.conns[id]; ok {
			targets = append(targets, c.out)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, out := range targets {
		if r.deliver(out, msg) {
			delivered++
		}
	}
	return delivered
}

// SendRole delivers msg to the connection holding role in the session.
func (r *Registry) SendRole(sessionID string, role Role, msg any) bool {
	r.mu.RLock()
	var out chan<- any
	if c, ok := r.conns[r.sessions[sessionID][role]]; ok {
		out = c.out
	}
	r.mu.RUnlock()
	if out == nil {
		return false
	}
	return r.deliver(out, msg)
}

func (r *Registry) Send(connectionID string, msg any) bool {
	r.mu.RLock()
	c, ok := r.conns[connectionID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	return r.deliver(c.out, msg)
}

func (r *Registry) deliver(out chan<- any, msg any) bool {
	msgType, _ := protocol.TypeOf(msg)
	record := func(result string) {
		if r.metrics != nil {
			r.metrics.ObserveOutboundMessage(string(msgType), result)
		}
	}

	if protocol.Critical(msg) {
		timer := time.NewTimer(r.criticalTimeout)
		defer timer.Stop()
		select {
		case out <- msg:
			record("delivered")
			return true
		case <-timer.C:
			record("timeout")
			return false
		}
	}

	select {
	case out <- msg:
		record("delivered")
		return true
	default:
		record("dropped")
		return false
	}
}
