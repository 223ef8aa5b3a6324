package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageUserMessage(t *testing.T) {
	raw := []byte(`{"type":"user_message","session_id":"s1","text":"my order is late"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	user, ok := msg.(UserMessage)
	if !ok {
		t.Fatalf("message type = %T, want UserMessage", msg)
	}
	if user.SessionID != "s1" || user.Text != "my order is late" {
		t.Fatalf("unexpected user message: %+v", user)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("ParseClientMessage() expected error for truncated frame")
	}
}

func TestParseClientMessageAgentJoin(t *testing.T) {
	raw := []byte(`{"type":"agent_join","session_id":"s1","agent_id":"a-7","agent_name":"Lan"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	join, ok := msg.(AgentJoin)
	if !ok {
		t.Fatalf("message type = %T, want AgentJoin", msg)
	}
	if join.AgentID != "a-7" || join.AgentName != "Lan" {
		t.Fatalf("unexpected agent join: %+v", join)
	}
}

func TestParseClientMessageFeedback(t *testing.T) {
	raw := []byte(`{"type":"feedback_submit","session_id":"s1","resolved":true,"comment":"thanks"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	fb, ok := msg.(FeedbackSubmit)
	if !ok {
		t.Fatalf("message type = %T, want FeedbackSubmit", msg)
	}
	if !fb.Resolved || fb.Comment != "thanks" {
		t.Fatalf("unexpected feedback: %+v", fb)
	}
}

func TestParseClientMessageValidation(t *testing.T) {
	long := strings.Repeat("x", MaxTextLength+1)
	cases := map[string]string{
		"blank user text":        `{"type":"user_message","session_id":"s1","text":"   "}`,
		"oversized user text":    `{"type":"user_message","session_id":"s1","text":"` + long + `"}`,
		"user text no session":   `{"type":"user_message","text":"hi"}`,
		"agent message no text":  `{"type":"agent_message","session_id":"s1"}`,
		"transfer no session":    `{"type":"transfer_request"}`,
		"join without agent":     `{"type":"agent_join","session_id":"s1","agent_id":" "}`,
		"leave without session":  `{"type":"agent_leave"}`,
		"typing unknown party":   `{"type":"typing_status","session_id":"s1","who":"bot","typing":true}`,
		"contact without name":   `{"type":"contact_info","session_id":"s1","email":"a@b.co"}`,
		"contact without reach":  `{"type":"contact_info","session_id":"s1","name":"An"}`,
		"feedback no session":    `{"type":"feedback_submit","resolved":true}`,
		"feedback comment large": `{"type":"feedback_submit","session_id":"s1","comment":"` + long + `"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseClientMessage([]byte(raw)); err == nil {
				t.Fatalf("ParseClientMessage() expected error")
			}
		})
	}
}

func TestTypeOfAndCritical(t *testing.T) {
	typ, ok := TypeOf(QueuePosition{Type: TypeQueuePosition, Position: 2})
	if !ok || typ != TypeQueuePosition {
		t.Fatalf("TypeOf() = %q, %v", typ, ok)
	}
	if _, ok := TypeOf(struct{}{}); ok {
		t.Fatalf("TypeOf() accepted unknown payload")
	}
	if Critical(Typing{Type: TypeTyping}) {
		t.Fatalf("typing should be droppable")
	}
	if !Critical(ChatMessage{Type: TypeMessage}) {
		t.Fatalf("chat message should be critical")
	}
}
