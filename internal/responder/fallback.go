package responder

import (
	"context"
	"errors"
	"fmt"
)

// FallbackResponder tries primary first and falls back on error. Caller
// cancellation is never masked by the fallback.
type FallbackResponder struct {
	primary  Responder
	fallback Responder
}

func NewFallback(primary, fallback Responder) *FallbackResponder {
	return &FallbackResponder{primary: primary, fallback: fallback}
}

func (a *FallbackResponder) Respond(ctx context.Context, req Request) (Reply, error) {
	if a.primary == nil {
		if a.fallback != nil {
			return a.fallback.Respond(ctx, req)
		}
		return Reply{}, fmt.Errorf("fallback responder misconfigured")
	}
	reply, err := a.primary.Respond(ctx, req)
	if err == nil {
		return reply, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Reply{}, err
	}
	if a.fallback == nil {
		return Reply{}, err
	}
	fallbackReply, fallbackErr := a.fallback.Respond(ctx, req)
	if fallbackErr != nil {
		return Reply{}, fmt.Errorf("primary responder error: %w; fallback responder error: %v", err, fallbackErr)
	}
	return fallbackReply, nil
}
