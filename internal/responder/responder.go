// Package responder produces bot replies for chat sessions.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Turn is one history entry handed to the responder.
type Turn struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// Request is the normalized input for a reply.
type Request struct {
	SessionID string `json:"session_id"`
	Language  string `json:"language"`
	History   []Turn `json:"history"`
}

// Reply is the bot's answer. SuggestTransfer asks the orchestrator to
// offer a human agent.
type Reply struct {
	Text            string `json:"text"`
	SuggestTransfer bool   `json:"suggest_transfer"`
}

type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}

var ErrEmptyReply = errors.New("responder returned an empty reply")

// Config controls responder construction.
type Config struct {
	Mode         string
	URL          string
	Timeout      time.Duration
	MaxRetries   int
	StreamStrict bool
}

func New(cfg Config) (Responder, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.URL) == "" {
			return NewMock(), nil
		}
		return NewFallback(NewHTTP(cfg), NewMock()), nil
	case "http":
		if strings.TrimSpace(cfg.URL) == "" {
			return nil, errors.New("responder url is required for http mode")
		}
		return NewHTTP(cfg), nil
	case "mock":
		return NewMock(), nil
	default:
		return nil, fmt.Errorf("unsupported responder mode %q", cfg.Mode)
	}
}

// Name reports a short label for metrics.
func Name(r Responder) string {
	switch r.(type) {
	case *HTTPResponder:
		return "http"
	case *MockResponder:
		return "mock"
	case *FallbackResponder:
		return "fallback"
	default:
		return "custom"
	}
}

// LastUserText returns the most recent customer message in the history.
func (r Request) LastUserText() string {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].Sender == "user" {
			return r.History[i].Text
		}
	}
	return ""
}
