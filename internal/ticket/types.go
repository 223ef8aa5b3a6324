package ticket

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusWaiting    Status = "waiting"
	StatusResolved   Status = "resolved"
	StatusClosed     Status = "closed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

const (
	DefaultCategory = "chat"
	maxSubjectRunes = 80
)

var (
	ErrNotFound = errors.New("ticket not found")
	ErrInvalid  = errors.New("invalid ticket")
)

type Ticket struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Subject     string     `json:"subject"`
	Description string     `json:"description"`
	Priority    Priority   `json:"priority"`
	Category    string     `json:"category"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Status    Status
	SessionID string
	Priority  Priority
	Category  string
	Limit     int
}

// Patch carries a staff edit; nil fields are left untouched.
type Patch struct {
	Subject     *string   `json:"subject,omitempty"`
	Description *string   `json:"description,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusWaiting, StatusResolved, StatusClosed:
		return true
	default:
		return false
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// New opens a ticket for a chat hand-off. The subject is the first line of
// the description, or a generic label when the customer gave none.
func New(sessionID, description string, now time.Time) Ticket {
	description = strings.TrimSpace(description)
	subject := description
	if i := strings.IndexByte(subject, '\n'); i >= 0 {
		subject = strings.TrimSpace(subject[:i])
	}
	if utf8.RuneCountInString(subject) > maxSubjectRunes {
		subject = string([]rune(subject)[:maxSubjectRunes]) + "..."
	}
	if subject == "" {
		subject = "Chat hand-off"
	}
	return Ticket{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Subject:     subject,
		Description: description,
		Priority:    PriorityMedium,
		Category:    DefaultCategory,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetStatus moves the ticket and stamps ResolvedAt the first time it
// reaches resolved or closed.
func (t *Ticket) SetStatus(next Status, now time.Time) {
	t.Status = next
	t.UpdatedAt = now
	if (next == StatusResolved || next == StatusClosed) && t.ResolvedAt == nil {
		at := now
		t.ResolvedAt = &at
	}
}

// Propose decides whether an automatic status change may be applied.
// Closed tickets belong to staff and never move.
func Propose(current, proposed Status) (Status, bool) {
	if current == proposed || current == StatusClosed {
		return current, false
	}
	return proposed, true
}

// Settled reports whether the ticket reached resolved or closed.
func (s Status) Settled() bool {
	return s == StatusResolved || s == StatusClosed
}

// Apply validates and merges a staff edit.
func (t *Ticket) Apply(p Patch, now time.Time) error {
	if p.Subject != nil {
		subject := strings.TrimSpace(*p.Subject)
		if subject == "" {
			return fmt.Errorf("%w: subject must not be empty", ErrInvalid)
		}
		t.Subject = subject
	}
	if p.Description != nil {
		t.Description = strings.TrimSpace(*p.Description)
	}
	if p.Priority != nil {
		if !p.Priority.Valid() {
			return fmt.Errorf("%w: priority %q", ErrInvalid, *p.Priority)
		}
		t.Priority = *p.Priority
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
	}
	if p.Status != nil {
		if !p.Status.Valid() {
			return fmt.Errorf("%w: status %q", ErrInvalid, *p.Status)
		}
		t.SetStatus(*p.Status, now)
	}
	t.UpdatedAt = now
	return nil
}

// Validate checks a ticket before it is stored.
func (t Ticket) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if strings.TrimSpace(t.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalid)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalid, t.Status)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalid, t.Priority)
	}
	return nil
}

func (t Ticket) Clone() Ticket {
	out := t
	if t.ResolvedAt != nil {
		at := *t.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}
