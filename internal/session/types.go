package session

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateCreated     State = "created"
	StateAIActive    State = "ai_active"
	StateQueued      State = "queued_for_agent"
	StateAgentActive State = "agent_active"
	StateResolved    State = "resolved"
	StateClosed      State = "closed"
)

type Sender string

const (
	SenderAI     Sender = "ai"
	SenderUser   Sender = "user"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
)

// transitions lists every allowed state change. Self loops are handled by
// the caller and are not state changes.
var transitions = map[State][]State{
	StateCreated:     {StateAIActive, StateClosed},
	StateAIActive:    {StateQueued, StateClosed},
	StateQueued:      {StateAgentActive, StateClosed},
	StateAgentActive: {StateResolved, StateClosed},
	StateResolved:    {StateClosed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == StateClosed
}

func (s State) Valid() bool {
	switch s {
	case StateCreated, StateAIActive, StateQueued, StateAgentActive, StateResolved, StateClosed:
		return true
	default:
		return false
	}
}

type Message struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type Feedback struct {
	Resolved    bool      `json:"resolved"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type Session struct {
	ID             string       `json:"session_id"`
	UserID         string       `json:"user_id,omitempty"`
	State          State        `json:"state"`
	Language       string       `json:"language"`
	TicketID       string       `json:"ticket_id,omitempty"`
	AgentID        string       `json:"agent_id,omitempty"`
	AgentName      string       `json:"agent_name,omitempty"`
	Contact        *ContactInfo `json:"contact,omitempty"`
	Feedback       *Feedback    `json:"feedback,omitempty"`
	Messages       []Message    `json:"messages"`
	QueuedAt       time.Time    `json:"queued_at,omitempty"`
	ResolvedAt     time.Time    `json:"resolved_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// New returns a session in StateCreated with a fresh identifier.
func New(userID, language string, now time.Time) Session {
	return Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		State:          StateCreated,
		Language:       language,
		Messages:       []Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

// Append adds a message at the next sequence number and returns it.
func (s *Session) Append(sender Sender, text string, now time.Time) Message {
	msg := Message{
		ID:        uuid.NewString(),
		Seq:       s.LastSeq() + 1,
		Sender:    sender,
		Text:      text,
		Timestamp: now,
	}
	s.Messages = append(s.Messages, msg)
	s.UpdatedAt = now
	return msg
}

func (s *Session) LastSeq() int {
	if len(s.Messages) == 0 {
		return 0
	}
	return s.Messages[len(s.Messages)-1].Seq
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	if out.Messages == nil {
		out.Messages = []Message{}
	}
	if s.Contact != nil {
		c := *s.Contact
		out.Contact = &c
	}
	if s.Feedback != nil {
		f := *s.Feedback
		out.Feedback = &f
	}
	return out
}
