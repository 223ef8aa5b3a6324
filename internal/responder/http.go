package responder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/helpdesk/internal/reliability"
)

// HTTPResponder forwards requests to a bot endpoint. The endpoint may
// answer with a single JSON object, plain text, SSE or NDJSON.
type HTTPResponder struct {
	url          string
	client       *http.Client
	maxRetries   int
	streamStrict bool
	backoffBase  time.Duration
	backoffCap   time.Duration
}

// StatusError reports a non-2xx answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("responder http status %d: %s", e.Code, e.Body)
}

func NewHTTP(cfg Config) *HTTPResponder {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &HTTPResponder{
		url:          strings.TrimSpace(cfg.URL),
		client:       &http.Client{Timeout: timeout},
		maxRetries:   cfg.MaxRetries,
		streamStrict: cfg.StreamStrict,
		backoffBase:  200 * time.Millisecond,
		backoffCap:   2 * time.Second,
	}
}

func (a *HTTPResponder) Respond(ctx context.Context, req Request) (Reply, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Reply{}, fmt.Errorf("marshal request: %w", err)
	}

	var reply Reply
	err = reliability.Do(ctx, a.maxRetries, a.backoffBase, a.backoffCap, func(ctx context.Context) error {
		var attemptErr error
		reply, attemptErr = a.once(ctx, payload)
		return attemptErr
	})
	if err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(reply.Text) == "" {
		return Reply{}, ErrEmptyReply
	}
	return reply, nil
}

func (a *HTTPResponder) once(ctx context.Context, payload []byte) (Reply, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(payload))
	if err != nil {
		return Reply{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json, text/event-stream, application/x-ndjson")

	res, err := a.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, ctx.Err()
		}
		return Reply{}, reliability.Retryable(fmt.Errorf("send request: %w", err))
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		statusErr := &StatusError{Code: res.StatusCode, Body: strings.TrimSpace(string(body))}
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return Reply{}, reliability.Retryable(statusErr)
		}
		return Reply{}, statusErr
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "text/event-stream"):
		return a.consumeSSE(res.Body)
	case strings.Contains(ct, "application/x-ndjson"):
		return a.consumeNDJSON(res.Body)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Reply{}, fmt.Errorf("read response: %w", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return Reply{Text: strings.TrimSpace(string(body))}, nil
	}
	return Reply{Text: strings.TrimSpace(extractText(obj)), SuggestTransfer: extractSuggest(obj)}, nil
}

var errStreamDone = errors.New("stream done")

func (a *HTTPResponder) consumeSSE(body io.Reader) (Reply, error) {
	var out Reply
	var text strings.Builder
	err := scanLines(body, func(line string) error {
		if strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data:") {
			return nil
		}
		return a.consumeFrame(strings.TrimSpace(strings.TrimPrefix(line, "data:")), &text, &out)
	})
	if err != nil {
		return Reply{}, err
	}
	out.Text = strings.TrimSpace(text.String())
	return out, nil
}

func (a *HTTPResponder) consumeNDJSON(body io.Reader) (Reply, error) {
	var out Reply
	var text strings.Builder
	err := scanLines(body, func(line string) error {
		return a.consumeFrame(line, &text, &out)
	})
	if err != nil {
		return Reply{}, err
	}
	out.Text = strings.TrimSpace(text.String())
	return out, nil
}

func (a *HTTPResponder) consumeFrame(frame string, text *strings.Builder, out *Reply) error {
	if frame == "" {
		return nil
	}
	if frame == "[DONE]" {
		return errStreamDone
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(frame), &obj); err != nil {
		if a.streamStrict {
			return fmt.Errorf("invalid stream frame: %w", err)
		}
		text.WriteString(frame)
		return nil
	}
	text.WriteString(extractText(obj))
	if extractSuggest(obj) {
		out.SuggestTransfer = true
	}
	return nil
}

func scanLines(body io.Reader, fn func(line string) error) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(line); err != nil {
			if errors.Is(err, errStreamDone) {
				return nil
			}
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}
	return nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"text", "reply", "delta", "output", "message"} {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

func extractSuggest(obj map[string]any) bool {
	for _, k := range []string{"suggest_transfer", "suggestTransfer"} {
		if v, ok := obj[k].(bool); ok && v {
			return true
		}
	}
	return false
}
