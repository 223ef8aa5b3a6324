package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/helpdesk/internal/policy"
)

// MockResponder gives deterministic local replies when no bot endpoint is
// configured.
type MockResponder struct{}

func NewMock() *MockResponder { return &MockResponder{} }

func (a *MockResponder) Respond(ctx context.Context, req Request) (Reply, error) {
	select {
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	default:
	}

	last := strings.TrimSpace(req.LastUserText())
	decision := policy.DetectHandoff(last)
	vi := strings.HasPrefix(strings.ToLower(req.Language), "vi")

	switch {
	case decision.Requested && vi:
		return Reply{Text: "Mình có thể kết nối bạn với nhân viên hỗ trợ.", SuggestTransfer: true}, nil
	case decision.Requested:
		return Reply{Text: "I can connect you with a support agent.", SuggestTransfer: true}, nil
	case last == "" && vi:
		return Reply{Text: "Mình có thể giúp gì cho bạn?"}, nil
	case last == "":
		return Reply{Text: "How can I help you today?"}, nil
	case vi:
		return Reply{Text: fmt.Sprintf("Cảm ơn bạn. Mình đã ghi nhận: %s", last)}, nil
	default:
		return Reply{Text: fmt.Sprintf("Thanks, I noted: %s", last)}, nil
	}
}
