package chat

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ent0n29/helpdesk/internal/presence"
	"github.com/ent0n29/helpdesk/internal/session"
	"github.com/ent0n29/helpdesk/internal/ticket"
)

// Timeout closes a non-terminal session. Resolved sessions close with
// their ticket finalized; others leave the ticket waiting unless it is
// already resolved or closed.
func (o *Orchestrator) Timeout(ctx context.Context, sessionID string) error {
	return o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		return o.close(ctx, &s, "timeout")
	})
}

func (o *Orchestrator) close(ctx context.Context, s *session.Session, reason string) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: timeout in %s", ErrInvalidTransition, s.State)
	}

	revert := func() {}
	if s.TicketID != "" {
		var err error
		if s.State == session.StateResolved {
			revert, err = o.proposeTicket(ctx, s.TicketID, ticket.StatusClosed)
		} else if t, getErr := o.tickets.Get(ctx, s.TicketID); getErr == nil && !t.Status.Settled() {
			revert, err = o.proposeTicket(ctx, s.TicketID, ticket.StatusWaiting)
		}
		if err != nil {
			return err
		}
	}

	now := o.opts.Now()
	from := s.State
	s.State = session.StateClosed
	msg := s.Append(session.SenderSystem, o.catalog.T(s.Language, "chat.timeout", nil), now)
	if err := o.save(ctx, s, from); err != nil {
		revert()
		return err
	}

	if from == session.StateQueued {
		o.queue.Remove(s.ID)
		o.syncQueueDepth()
	}
	o.event("session_" + reason)
	o.broadcastState(*s)
	o.presence.Broadcast(s.ID, chatMessageEvent(s.ID, msg))
	o.presence.Broadcast(s.ID, o.chatEndedEvent(*s, reason))
	return nil
}

// StartJanitor sweeps idle sessions every interval until ctx ends.
func (o *Orchestrator) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.Sweep(ctx)
			}
		}
	}()
}

// Sweep closes sessions idle past the inactivity timeout and resolved
// sessions whose feedback window elapsed. It returns how many sessions
// were scheduled for closing.
func (o *Orchestrator) Sweep(ctx context.Context) int {
	now := o.opts.Now()
	scheduled := 0

	idle, err := o.sessions.ListIdle(ctx, now.Add(-o.opts.InactivityTimeout))
	if err != nil {
		o.logger.Error("janitor: list idle sessions", "error", err)
	}
	for _, s := range idle {
		if s.State == session.StateResolved {
			continue
		}
		id := s.ID
		if o.post(id, func(ctx context.Context) { o.expireIdle(ctx, id) }) {
			scheduled++
		}
	}

	resolved, err := o.sessions.ListByState(ctx, session.StateResolved)
	if err != nil {
		o.logger.Error("janitor: list resolved sessions", "error", err)
	}
	for _, s := range resolved {
		if now.Sub(s.ResolvedAt) < o.opts.FeedbackWindow {
			continue
		}
		id := s.ID
		if o.post(id, func(ctx context.Context) { o.expireFeedback(ctx, id) }) {
			scheduled++
		}
	}
	return scheduled
}

// Activity may have happened between listing and running, so both expiry
// jobs re-check against the fresh record.
func (o *Orchestrator) expireIdle(ctx context.Context, sessionID string) {
	s, err := o.load(ctx, sessionID)
	if err != nil || s.State.Terminal() || s.State == session.StateResolved {
		return
	}
	if o.opts.Now().Sub(s.LastActivityAt) < o.opts.InactivityTimeout {
		return
	}
	if err := o.close(ctx, &s, "timeout"); err != nil {
		o.logger.Error("janitor: close idle session", "session_id", sessionID, "error", err)
	}
}

func (o *Orchestrator) expireFeedback(ctx context.Context, sessionID string) {
	s, err := o.load(ctx, sessionID)
	if err != nil || s.State != session.StateResolved {
		return
	}
	if o.opts.Now().Sub(s.ResolvedAt) < o.opts.FeedbackWindow {
		return
	}
	if err := o.close(ctx, &s, "feedback_window"); err != nil {
		o.logger.Error("janitor: close resolved session", "session_id", sessionID, "error", err)
	}
}

// Restore rebuilds the hand-off queue from sessions persisted in
// QueuedForAgent, ordered by the time they were queued.
func (o *Orchestrator) Restore(ctx context.Context) error {
	queued, err := o.sessions.ListByState(ctx, session.StateQueued)
	if err != nil {
		return fmt.Errorf("%w: list queued sessions: %v", ErrPersistence, err)
	}
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].QueuedAt.Before(queued[j].QueuedAt)
	})
	for _, s := range queued {
		at := s.QueuedAt
		if at.IsZero() {
			at = s.UpdatedAt
		}
		o.queue.Restore(s.ID, at)
	}
	o.syncQueueDepth()

	if o.metrics != nil {
		open, err := o.sessions.ListIdle(ctx, o.opts.Now().Add(24*time.Hour))
		if err == nil {
			o.metrics.ActiveSessions.Set(float64(len(open)))
		}
	}
	o.logger.Info("queue restored", "entries", len(queued))
	return nil
}

// RefreshQueuePositions tells every waiting customer where they stand.
func (o *Orchestrator) RefreshQueuePositions() {
	for _, e := range o.queue.Snapshot() {
		if e.Quarantined {
			continue
		}
		id := e.SessionID
		o.post(id, func(ctx context.Context) {
			pos, err := o.queue.PositionOf(id)
			if err != nil {
				return
			}
			s, err := o.load(ctx, id)
			if err != nil || s.State != session.StateQueued {
				return
			}
			o.presence.SendRole(id, presence.RoleUser, o.queuePositionEvent(s, pos))
		})
	}
}
