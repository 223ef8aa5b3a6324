package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Inbound.
const (
	TypeCreateSession  MessageType = "create_session"
	TypeUserMessage    MessageType = "user_message"
	TypeAgentMessage   MessageType = "agent_message"
	TypeTransferReq    MessageType = "transfer_request"
	TypeAgentJoin      MessageType = "agent_join"
	TypeAgentLeave     MessageType = "agent_leave"
	TypeTypingStatus   MessageType = "typing_status"
	TypeContactInfo    MessageType = "contact_info"
	TypeFeedbackSubmit MessageType = "feedback_submit"
)

// Outbound.
const (
	TypeMessage              MessageType = "message"
	TypeHistory              MessageType = "history"
	TypeSessionState         MessageType = "session_state"
	TypeTransferRequested    MessageType = "transfer_requested"
	TypeAITransferSuggestion MessageType = "ai_transfer_suggestion"
	TypeAgentJoined          MessageType = "agent_joined"
	TypeAgentLeft            MessageType = "agent_left"
	TypeChatEnded            MessageType = "chat_ended"
	TypeFeedbackPrompt       MessageType = "feedback_prompt"
	TypeQueuePosition        MessageType = "queue_position"
	TypeTyping               MessageType = "typing"
	TypeError                MessageType = "error"
)

const MaxTextLength = 4000

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type CreateSession struct {
	Type     MessageType `json:"type"`
	Language string      `json:"language"`
	UserID   string      `json:"user_id,omitempty"`
}

type UserMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type AgentMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type TransferRequest struct {
	Type        MessageType `json:"type"`
	SessionID   string      `json:"session_id"`
	Description string      `json:"description,omitempty"`
}

type AgentJoin struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	AgentID   string      `json:"agent_id"`
	AgentName string      `json:"agent_name,omitempty"`
}

type AgentLeave struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
}

type TypingStatus struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Who       string      `json:"who"`
	Typing    bool        `json:"typing"`
}

type ContactInfo struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone"`
}

type FeedbackSubmit struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Resolved  bool        `json:"resolved"`
	Comment   string      `json:"comment,omitempty"`
}

// ParseClientMessage decodes and validates one inbound frame into its
// concrete type.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeCreateSession:
		var msg CreateSession
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !validText(msg.Text) {
			return nil, errors.New("invalid user_message")
		}
		return msg, nil
	case TypeAgentMessage:
		var msg AgentMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || !validText(msg.Text) {
			return nil, errors.New("invalid agent_message")
		}
		return msg, nil
	case TypeTransferReq:
		var msg TransferRequest
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || len(msg.Description) > MaxTextLength {
			return nil, errors.New("invalid transfer_request")
		}
		return msg, nil
	case TypeAgentJoin:
		var msg AgentJoin
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.AgentID) == "" {
			return nil, errors.New("invalid agent_join")
		}
		return msg, nil
	case TypeAgentLeave:
		var msg AgentLeave
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" {
			return nil, errors.New("invalid agent_leave")
		}
		return msg, nil
	case TypeTypingStatus:
		var msg TypingStatus
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || (msg.Who != "user" && msg.Who != "agent") {
			return nil, errors.New("invalid typing_status")
		}
		return msg, nil
	case TypeContactInfo:
		var msg ContactInfo
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || strings.TrimSpace(msg.Name) == "" {
			return nil, errors.New("invalid contact_info")
		}
		if strings.TrimSpace(msg.Email) == "" && strings.TrimSpace(msg.Phone) == "" {
			return nil, errors.New("invalid contact_info: email or phone required")
		}
		return msg, nil
	case TypeFeedbackSubmit:
		var msg FeedbackSubmit
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.SessionID == "" || len(msg.Comment) > MaxTextLength {
			return nil, errors.New("invalid feedback_submit")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

func validText(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && len(s) <= MaxTextLength
}

// ChatMessage is one entry of a session's history on the wire.
type ChatMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	ID        string      `json:"id"`
	Seq       int         `json:"seq"`
	Sender    string      `json:"sender"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
}

type History struct {
	Type      MessageType   `json:"type"`
	SessionID string        `json:"session_id"`
	State     string        `json:"state"`
	Messages  []ChatMessage `json:"messages"`
}

type SessionState struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	State     string      `json:"state"`
	TicketID  string      `json:"ticket_id,omitempty"`
}

type TransferRequested struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id"`
	TicketID         string      `json:"ticket_id,omitempty"`
	Position         int         `json:"position"`
	AlreadyConnected bool        `json:"already_connected,omitempty"`
	Text             string      `json:"text"`
}

type AITransferSuggestion struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type AgentJoined struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	AgentID   string      `json:"agent_id"`
	AgentName string      `json:"agent_name"`
}

type AgentLeft struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	AgentName string      `json:"agent_name"`
}

type ChatEnded struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Reason    string      `json:"reason,omitempty"`
	Text      string      `json:"text"`
}

type FeedbackPrompt struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type QueuePosition struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Position  int         `json:"position"`
	Text      string      `json:"text"`
}

type Typing struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Who       string      `json:"who"`
	Typing    bool        `json:"typing"`
}

type ErrorEvent struct {
	Type             MessageType `json:"type"`
	SessionID        string      `json:"session_id,omitempty"`
	Code             string      `json:"code"`
	LocalizedMessage string      `json:"localized_message"`
}

// TypeOf reports the discriminator of any inbound or outbound payload.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case CreateSession:
		return m.Type, true
	case UserMessage:
		return m.Type, true
	case AgentMessage:
		return m.Type, true
	case TransferRequest:
		return m.Type, true
	case AgentJoin:
		return m.Type, true
	case AgentLeave:
		return m.Type, true
	case TypingStatus:
		return m.Type, true
	case ContactInfo:
		return m.Type, true
	case FeedbackSubmit:
		return m.Type, true
	case ChatMessage:
		return m.Type, true
	case History:
		return m.Type, true
	case SessionState:
		return m.Type, true
	case TransferRequested:
		return m.Type, true
	case AITransferSuggestion:
		return m.Type, true
	case AgentJoined:
		return m.Type, true
	case AgentLeft:
		return m.Type, true
	case ChatEnded:
		return m.Type, true
	case FeedbackPrompt:
		return m.Type, true
	case QueuePosition:
		return m.Type, true
	case Typing:
		return m.Type, true
	case ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

// Critical reports whether losing the event would leave a client with a
// wrong picture of the session. Typing indicators and position refreshes
// are best-effort.
func Critical(v any) bool {
	switch v.(type) {
	case Typing, QueuePosition:
		return false
	default:
		return true
	}
}
