package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ent0n29/helpdesk/internal/i18n"
	"github.com/ent0n29/helpdesk/internal/presence"
	"github.com/ent0n29/helpdesk/internal/protocol"
	"github.com/ent0n29/helpdesk/internal/queue"
	"github.com/ent0n29/helpdesk/internal/session"
	"github.com/ent0n29/helpdesk/internal/ticket"
)

// RequestTransfer queues the session for a human agent and opens its
// ticket. Repeating the request reports the current position.
func (o *Orchestrator) RequestTransfer(ctx context.Context, sessionID, description string) (TransferResult, error) {
	description = strings.TrimSpace(description)
	if len(description) > protocol.MaxTextLength {
		return TransferResult{}, fmt.Errorf("%w: description too long", ErrInvalidInput)
	}

	var res TransferResult
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		res = TransferResult{SessionID: s.ID, TicketID: s.TicketID}

		switch s.State {
		case session.StateQueued:
			pos, err := o.queue.PositionOf(s.ID)
			if err != nil {
				return o.queueInconsistency(s.ID, "queued session has no queue entry")
			}
			res.Position = pos
			o.presence.SendRole(s.ID, presence.RoleUser, o.transferEvent(s, pos))
			return nil
		case session.StateAgentActive:
			res.AlreadyConnected = true
			o.presence.SendRole(s.ID, presence.RoleUser, protocol.TransferRequested{
				Type:             protocol.TypeTransferRequested,
				SessionID:        s.ID,
				TicketID:         s.TicketID,
				AlreadyConnected: true,
				Text:             o.catalog.T(s.Language, "chat.alreadyConnected", nil),
			})
			return nil
		case session.StateAIActive:
		default:
			return fmt.Errorf("%w: transfer in %s", ErrInvalidTransition, s.State)
		}

		now := o.opts.Now()
		revert, err := o.openTicket(ctx, &s, description)
		if err != nil {
			return err
		}
		from := s.State
		s.State = session.StateQueued
		s.QueuedAt = now
		s.LastActivityAt = now
		if err := o.save(ctx, &s, from); err != nil {
			revert()
			return err
		}

		pos := o.queue.Restore(s.ID, s.QueuedAt)
		o.syncQueueDepth()
		o.event("transfer_requested")
		res.TicketID = s.TicketID
		res.Position = pos

		o.broadcastState(s)
		o.presence.Broadcast(s.ID, o.transferEvent(s, pos))
		return nil
	})
	return res, err
}

// openTicket creates the session's ticket, or proposes Open on the one it
// already has. The returned func undoes the write.
func (o *Orchestrator) openTicket(ctx context.Context, s *session.Session, description string) (func(), error) {
	now := o.opts.Now()
	if s.TicketID != "" {
		if _, err := o.tickets.Get(ctx, s.TicketID); err == nil {
			return o.proposeTicket(ctx, s.TicketID, ticket.StatusOpen)
		}
	}

	t := ticket.New(s.ID, description, now)
	if err := o.tickets.Create(ctx, t); err != nil {
		o.persistenceFailure("ticket")
		return nil, fmt.Errorf("%w: create ticket: %v", ErrPersistence, err)
	}
	s.TicketID = t.ID
	o.logger.Info("ticket opened", "session_id", s.ID, "ticket_id", t.ID)
	return func() {
		if err := o.tickets.Delete(context.WithoutCancel(ctx), t.ID); err != nil {
			o.logger.Error("ticket rollback failed", "ticket_id", t.ID, "error", err)
		}
	}, nil
}

// proposeTicket applies an automatic status change when the ticket rules
// allow it. The returned func restores the previous ticket.
func (o *Orchestrator) proposeTicket(ctx context.Context, ticketID string, status ticket.Status) (func(), error) {
	noop := func() {}
	if ticketID == "" {
		return noop, nil
	}
	t, err := o.tickets.Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			o.logger.Warn("ticket missing for session", "ticket_id", ticketID)
			return noop, nil
		}
		o.persistenceFailure("ticket")
		return nil, fmt.Errorf("%w: load ticket: %v", ErrPersistence, err)
	}
	next, ok := ticket.Propose(t.Status, status)
	if !ok {
		o.ticketProposal(status, "rejected")
		return noop, nil
	}
	prev := t.Clone()
	t.SetStatus(next, o.opts.Now())
	if err := o.tickets.Update(ctx, t); err != nil {
		o.persistenceFailure("ticket")
		return nil, fmt.Errorf("%w: update ticket: %v", ErrPersistence, err)
	}
	o.ticketProposal(status, "applied")
	return func() {
		if err := o.tickets.Update(context.WithoutCancel(ctx), prev); err != nil {
			o.logger.Error("ticket rollback failed", "ticket_id", prev.ID, "error", err)
		}
	}, nil
}

func (o *Orchestrator) ticketProposal(status ticket.Status, outcome string) {
	if o.metrics != nil {
		o.metrics.TicketStatusProposals.WithLabelValues(string(status), outcome).Inc()
	}
}

// AgentJoin hands a queued session to a human agent.
func (o *Orchestrator) AgentJoin(ctx context.Context, sessionID string, agent Agent) (session.Session, error) {
	agent.ID = strings.TrimSpace(agent.ID)
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.ID == "" {
		return session.Session{}, fmt.Errorf("%w: agent id is required", ErrInvalidInput)
	}

	var out session.Session
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.State == session.StateAgentActive && s.AgentID == agent.ID {
			out = s
			return nil
		}
		if s.State != session.StateQueued {
			return fmt.Errorf("%w: agent join in %s", ErrInvalidTransition, s.State)
		}
		if !o.queue.Take(s.ID) {
			return o.queueInconsistency(s.ID, "queued session has no queue entry")
		}
		if err := o.join(ctx, &s, agent); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err == nil {
		go o.RefreshQueuePositions()
	}
	return out, err
}

// AcceptNext joins the agent to the session at the head of the queue.
func (o *Orchestrator) AcceptNext(ctx context.Context, agent Agent) (session.Session, error) {
	agent.ID = strings.TrimSpace(agent.ID)
	agent.Name = strings.TrimSpace(agent.Name)
	if agent.ID == "" {
		return session.Session{}, fmt.Errorf("%w: agent id is required", ErrInvalidInput)
	}

	// The head is claimed, not removed, so jobs already waiting in the
	// session's mailbox still see it queued. Removal happens in the join.
	for {
		sessionID, ok := o.queue.Claim()
		if !ok {
			return session.Session{}, ErrQueueEmpty
		}
		var out session.Session
		err := o.do(ctx, sessionID, func(ctx context.Context) error {
			if !o.queue.Claimed(sessionID) {
				// An explicit join or a close got there first.
				return errClaimLost
			}
			s, err := o.load(ctx, sessionID)
			if err != nil {
				if errors.Is(err, ErrSessionNotFound) {
					o.reportInconsistency(sessionID, "queued session does not exist")
					return ErrQueueInconsistency
				}
				o.queue.Unclaim(sessionID)
				return err
			}
			if s.State != session.StateQueued {
				o.reportInconsistency(s.ID, "claimed session is "+string(s.State))
				return ErrQueueInconsistency
			}
			o.queue.Take(s.ID)
			if err := o.join(ctx, &s, agent); err != nil {
				return err
			}
			out = s
			return nil
		})
		if errors.Is(err, ErrClosed) {
			o.queue.Unclaim(sessionID)
		}
		if errors.Is(err, ErrQueueInconsistency) || errors.Is(err, errClaimLost) {
			continue
		}
		if err == nil {
			go o.RefreshQueuePositions()
		}
		return out, err
	}
}

// join moves a session whose queue entry was already removed into
// AgentActive. On failure the entry is put back.
func (o *Orchestrator) join(ctx context.Context, s *session.Session, agent Agent) error {
	name := agent.Name
	if name == "" {
		name = o.catalog.T(s.Language, "agent.defaultName", nil)
	}
	revert, err := o.proposeTicket(ctx, s.TicketID, ticket.StatusInProgress)
	if err != nil {
		o.queue.Restore(s.ID, s.QueuedAt)
		return err
	}

	now := o.opts.Now()
	from := s.State
	queuedAt := s.QueuedAt
	s.State = session.StateAgentActive
	s.AgentID = agent.ID
	s.AgentName = name
	s.LastActivityAt = now
	msg := s.Append(session.SenderSystem, o.catalog.T(s.Language, "chat.agentJoined", i18n.Params{"agent": name}), now)
	if err := o.save(ctx, s, from); err != nil {
		revert()
		o.queue.Restore(s.ID, queuedAt)
		return err
	}

	o.syncQueueDepth()
	if o.metrics != nil && !queuedAt.IsZero() {
		o.metrics.QueueWait.Observe(now.Sub(queuedAt).Seconds())
	}
	o.event("agent_joined")
	o.broadcastState(*s)
	o.presence.Broadcast(s.ID, protocol.AgentJoined{
		Type:      protocol.TypeAgentJoined,
		SessionID: s.ID,
		AgentID:   agent.ID,
		AgentName: name,
	})
	o.presence.Broadcast(s.ID, chatMessageEvent(s.ID, msg))
	return nil
}

// AgentLeave resolves the conversation and asks the customer for feedback.
func (o *Orchestrator) AgentLeave(ctx context.Context, sessionID string) (session.Session, error) {
	var out session.Session
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.State != session.StateAgentActive {
			return fmt.Errorf("%w: agent leave in %s", ErrInvalidTransition, s.State)
		}
		revert, err := o.proposeTicket(ctx, s.TicketID, ticket.StatusResolved)
		if err != nil {
			return err
		}

		now := o.opts.Now()
		from := s.State
		s.State = session.StateResolved
		s.ResolvedAt = now
		s.LastActivityAt = now
		msg := s.Append(session.SenderSystem, o.catalog.T(s.Language, "chat.agentLeft", i18n.Params{"agent": s.AgentName}), now)
		if err := o.save(ctx, &s, from); err != nil {
			revert()
			return err
		}

		o.queue.Remove(s.ID)
		o.event("agent_left")
		o.broadcastState(s)
		o.presence.Broadcast(s.ID, protocol.AgentLeft{
			Type:      protocol.TypeAgentLeft,
			SessionID: s.ID,
			AgentName: s.AgentName,
		})
		o.presence.Broadcast(s.ID, chatMessageEvent(s.ID, msg))
		o.presence.Broadcast(s.ID, o.chatEndedEvent(s, "resolved"))
		o.presence.Broadcast(s.ID, protocol.FeedbackPrompt{
			Type:      protocol.TypeFeedbackPrompt,
			SessionID: s.ID,
			Text:      o.catalog.T(s.Language, "chat.feedbackPrompt", nil),
		})
		out = s
		return nil
	})
	return out, err
}

// SubmitFeedback records the customer's verdict and closes the session.
func (o *Orchestrator) SubmitFeedback(ctx context.Context, sessionID string, in FeedbackInput) (session.Session, error) {
	in.Comment = strings.TrimSpace(in.Comment)
	if len(in.Comment) > protocol.MaxTextLength {
		return session.Session{}, fmt.Errorf("%w: comment too long", ErrInvalidInput)
	}

	var out session.Session
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.State != session.StateResolved {
			return fmt.Errorf("%w: feedback in %s", ErrInvalidTransition, s.State)
		}
		proposed := ticket.StatusClosed
		if !in.Resolved {
			proposed = ticket.StatusWaiting
		}
		revert, err := o.proposeTicket(ctx, s.TicketID, proposed)
		if err != nil {
			return err
		}

		now := o.opts.Now()
		from := s.State
		s.Feedback = &session.Feedback{Resolved: in.Resolved, Comment: in.Comment, SubmittedAt: now}
		s.State = session.StateClosed
		s.LastActivityAt = now
		msg := s.Append(session.SenderSystem, o.catalog.T(s.Language, "chat.feedbackThanks", nil), now)
		if err := o.save(ctx, &s, from); err != nil {
			revert()
			return err
		}

		o.event("feedback_submitted")
		o.broadcastState(s)
		o.presence.Broadcast(s.ID, chatMessageEvent(s.ID, msg))
		out = s
		return nil
	})
	return out, err
}

// QueueSnapshot lists waiting sessions in order.
func (o *Orchestrator) QueueSnapshot() []queue.Entry {
	return o.queue.Snapshot()
}

// ReleaseQueueEntry puts a quarantined entry back in line once an operator
// has checked the session. Entries whose session is no longer waiting are
// dropped instead.
func (o *Orchestrator) ReleaseQueueEntry(ctx context.Context, sessionID string) (int, error) {
	var pos int
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				o.queue.Remove(sessionID)
				o.syncQueueDepth()
			}
			return err
		}
		if s.State != session.StateQueued {
			o.queue.Remove(s.ID)
			o.syncQueueDepth()
			return fmt.Errorf("%w: release in %s", ErrInvalidTransition, s.State)
		}
		at := s.QueuedAt
		if at.IsZero() {
			at = s.UpdatedAt
		}
		released := o.queue.Release(s.ID)
		pos = o.queue.Restore(s.ID, at)
		o.syncQueueDepth()
		o.logger.Info("queue entry released", "session_id", s.ID, "was_quarantined", released, "position", pos)
		o.presence.SendRole(s.ID, presence.RoleUser, o.queuePositionEvent(s, pos))
		return nil
	})
	if err == nil {
		go o.RefreshQueuePositions()
	}
	return pos, err
}

func (o *Orchestrator) queueInconsistency(sessionID, detail string) error {
	o.reportInconsistency(sessionID, detail)
	return fmt.Errorf("%w: %s", ErrQueueInconsistency, detail)
}

// reportInconsistency parks the entry and raises the alarm.
func (o *Orchestrator) reportInconsistency(sessionID, detail string) {
	o.queue.Quarantine(sessionID)
	if o.metrics != nil {
		o.metrics.QueueInconsistencies.Inc()
	}
	o.logger.Error("queue inconsistency", "session_id", sessionID, "detail", detail)
	o.syncQueueDepth()
}

func (o *Orchestrator) syncQueueDepth() {
	if o.metrics != nil {
		o.metrics.QueueDepth.Set(float64(o.queue.Len()))
	}
}
