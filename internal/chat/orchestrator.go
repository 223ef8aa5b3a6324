// Package chat runs the support chat state machine: AI conversation,
// hand-off to a human agent, resolution and ticket bookkeeping.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/helpdesk/internal/i18n"
	"github.com/ent0n29/helpdesk/internal/observability"
	"github.com/ent0n29/helpdesk/internal/policy"
	"github.com/ent0n29/helpdesk/internal/preference"
	"github.com/ent0n29/helpdesk/internal/presence"
	"github.com/ent0n29/helpdesk/internal/protocol"
	"github.com/ent0n29/helpdesk/internal/queue"
	"github.com/ent0n29/helpdesk/internal/responder"
	"github.com/ent0n29/helpdesk/internal/session"
	"github.com/ent0n29/helpdesk/internal/ticket"
)

// Deps are the collaborators the orchestrator drives. Preferences, Metrics
// and Logger are optional.
type Deps struct {
	Sessions    session.Store
	Tickets     ticket.Registry
	Queue       *queue.Queue
	Presence    *presence.Registry
	Responder   responder.Responder
	Catalog     *i18n.Catalog
	Preferences preference.Store
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

type Options struct {
	ResponderTimeout  time.Duration
	InactivityTimeout time.Duration
	FeedbackWindow    time.Duration
	MailboxIdle       time.Duration
	Now               func() time.Time
}

type Agent struct {
	ID   string `json:"agent_id"`
	Name string `json:"agent_name"`
}

type CreateRequest struct {
	Language string `json:"language"`
	UserID   string `json:"user_id"`
}

type TransferResult struct {
	SessionID        string `json:"session_id"`
	TicketID         string `json:"ticket_id,omitempty"`
	Position         int    `json:"position"`
	AlreadyConnected bool   `json:"already_connected"`
}

type FeedbackInput struct {
	Resolved bool   `json:"resolved"`
	Comment  string `json:"comment"`
}

type Orchestrator struct {
	sessions    session.Store
	tickets     ticket.Registry
	queue       *queue.Queue
	presence    *presence.Registry
	responder   responder.Responder
	catalog     *i18n.Catalog
	preferences preference.Store
	metrics     *observability.Metrics
	logger      *slog.Logger

	opts  Options
	boxes *mailboxes

	ctx    context.Context
	cancel context.CancelFunc

	lifeMu  sync.Mutex
	closing bool
	aiWG    sync.WaitGroup
}

func New(deps Deps, opts Options) *Orchestrator {
	if opts.ResponderTimeout <= 0 {
		opts.ResponderTimeout = 20 * time.Second
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 30 * time.Minute
	}
	if opts.FeedbackWindow <= 0 {
		opts.FeedbackWindow = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		sessions:    deps.Sessions,
		tickets:     deps.Tickets,
		queue:       deps.Queue,
		presence:    deps.Presence,
		responder:   deps.Responder,
		catalog:     deps.Catalog,
		preferences: deps.Preferences,
		metrics:     deps.Metrics,
		logger:      logger,
		opts:        opts,
		boxes:       newMailboxes(opts.MailboxIdle, logger),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Close cancels in-flight AI calls, drains queued session jobs and waits
// for every goroutine the orchestrator started.
func (o *Orchestrator) Close() {
	o.lifeMu.Lock()
	if o.closing {
		o.lifeMu.Unlock()
		return
	}
	o.closing = true
	o.lifeMu.Unlock()

	o.cancel()
	o.aiWG.Wait()
	o.boxes.close()
}

// do runs fn inside the session's mailbox and waits for its result.
func (o *Orchestrator) do(ctx context.Context, sessionID string, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	ok := o.boxes.submit(sessionID, func() {
		result <- fn(o.ctx)
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues fn without waiting.
func (o *Orchestrator) post(sessionID string, fn func(ctx context.Context)) bool {
	return o.boxes.submit(sessionID, func() { fn(o.ctx) })
}

// CreateSession opens a chat in Created and greets the customer.
func (o *Orchestrator) CreateSession(ctx context.Context, req CreateRequest) (session.Session, error) {
	userID := strings.TrimSpace(req.UserID)
	lang := o.resolveLanguage(ctx, req.Language, userID)
	now := o.opts.Now()

	s := session.New(userID, lang, now)
	s.Append(session.SenderAI, o.catalog.T(lang, "chat.aiGreeting", nil), now)
	if err := o.sessions.Create(ctx, s); err != nil {
		o.persistenceFailure("session")
		return session.Session{}, fmt.Errorf("%w: create session: %v", ErrPersistence, err)
	}

	o.event("session_created")
	if o.metrics != nil {
		o.metrics.ActiveSessions.Inc()
	}
	o.logger.Info("session created", "session_id", s.ID, "language", lang)
	return s, nil
}

func (o *Orchestrator) resolveLanguage(ctx context.Context, requested, userID string) string {
	if lang := i18n.Normalize(requested); lang != "" && o.catalog.Supports(lang) {
		return lang
	}
	if userID != "" && o.preferences != nil {
		if pref, err := o.preferences.Get(ctx, userID); err == nil && o.catalog.Supports(pref.Language) {
			return i18n.Normalize(pref.Language)
		}
	}
	return o.catalog.DefaultLanguage()
}

// Get returns the stored session.
func (o *Orchestrator) Get(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, o.mapLoadError(err)
	}
	return s, nil
}

// SubmitMessage appends a customer or agent message. Customer messages in
// Created or AIActive also trigger an AI reply.
func (o *Orchestrator) SubmitMessage(ctx context.Context, sessionID string, sender session.Sender, text string) (session.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" || len(text) > protocol.MaxTextLength {
		return session.Message{}, fmt.Errorf("%w: message text", ErrInvalidInput)
	}
	if sender != session.SenderUser && sender != session.SenderAgent {
		return session.Message{}, fmt.Errorf("%w: sender %q", ErrInvalidInput, sender)
	}

	var msg session.Message
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		from := s.State
		askAI := false

		switch {
		case sender == session.SenderAgent && s.State != session.StateAgentActive:
			return fmt.Errorf("%w: agent message in %s", ErrInvalidTransition, s.State)
		case sender == session.SenderUser && s.State == session.StateCreated:
			s.State = session.StateAIActive
			askAI = true
		case sender == session.SenderUser && s.State == session.StateAIActive:
			askAI = true
		case sender == session.SenderUser && (s.State == session.StateQueued || s.State == session.StateAgentActive):
		case sender == session.SenderAgent:
		default:
			return fmt.Errorf("%w: message in %s", ErrInvalidTransition, s.State)
		}

		now := o.opts.Now()
		msg = s.Append(sender, text, now)
		s.LastActivityAt = now
		if err := o.save(ctx, &s, from); err != nil {
			return err
		}

		o.logger.Debug("message appended",
			"session_id", s.ID,
			"seq", msg.Seq,
			"sender", string(sender),
			"text", policy.ForLog(text, 120),
		)
		if from != s.State {
			o.broadcastState(s)
		}
		o.presence.Broadcast(s.ID, chatMessageEvent(s.ID, msg))
		if askAI {
			o.startReply(s)
		}
		return nil
	})
	return msg, err
}

// startReply runs the responder outside the mailbox and applies the reply
// in a second mailbox job.
func (o *Orchestrator) startReply(s session.Session) {
	o.lifeMu.Lock()
	if o.closing {
		o.lifeMu.Unlock()
		return
	}
	o.aiWG.Add(1)
	o.lifeMu.Unlock()

	req := responder.Request{
		SessionID: s.ID,
		Language:  s.Language,
		History:   make([]responder.Turn, 0, len(s.Messages)),
	}
	for _, m := range s.Messages {
		req.History = append(req.History, responder.Turn{Sender: string(m.Sender), Text: m.Text})
	}

	go func() {
		defer o.aiWG.Done()
		ctx, cancel := context.WithTimeout(o.ctx, o.opts.ResponderTimeout)
		start := time.Now()
		reply, err := o.responder.Respond(ctx, req)
		cancel()
		if o.metrics != nil {
			o.metrics.ObserveAIReplyLatency(time.Since(start))
		}
		if o.ctx.Err() != nil {
			return
		}
		if err == nil && strings.TrimSpace(reply.Text) == "" {
			err = responder.ErrEmptyReply
		}
		if err != nil {
			err = fmt.Errorf("%w: %v", ErrAIError, err)
		}
		o.post(s.ID, func(ctx context.Context) {
			o.applyReply(ctx, s.ID, reply, err)
		})
	}()
}

func (o *Orchestrator) applyReply(ctx context.Context, sessionID string, reply responder.Reply, replyErr error) {
	s, err := o.load(ctx, sessionID)
	if err != nil {
		o.logger.Warn("ai reply for unknown session", "session_id", sessionID, "error", err)
		return
	}
	switch s.State {
	case session.StateAgentActive, session.StateResolved, session.StateClosed:
		o.event("ai_reply_dropped")
		o.logger.Info("ai reply dropped", "session_id", sessionID, "state", string(s.State))
		return
	}

	now := o.opts.Now()
	var msg session.Message
	if replyErr != nil {
		if o.metrics != nil {
			o.metrics.ProviderErrors.WithLabelValues(responder.Name(o.responder), "reply_failed").Inc()
		}
		o.logger.Warn("ai reply failed", "session_id", sessionID, "error", replyErr)
		msg = s.Append(session.SenderSystem, o.catalog.T(s.Language, "chat.aiError", nil), now)
	} else {
		msg = s.Append(session.SenderAI, strings.TrimSpace(reply.Text), now)
	}
	if err := o.save(ctx, &s, s.State); err != nil {
		o.logger.Error("ai reply not persisted", "session_id", sessionID, "error", err)
		return
	}

	o.presence.Broadcast(s.ID, chatMessageEvent(s.ID, msg))
	if replyErr == nil && reply.SuggestTransfer && s.State == session.StateAIActive {
		o.event("ai_transfer_suggested")
		o.presence.Broadcast(s.ID, protocol.AITransferSuggestion{
			Type:      protocol.TypeAITransferSuggestion,
			SessionID: s.ID,
			Text:      o.catalog.T(s.Language, "chat.aiTransferSuggestion", nil),
		})
	}
}

// SubmitContactInfo records the customer's contact details once.
func (o *Orchestrator) SubmitContactInfo(ctx context.Context, sessionID string, info session.ContactInfo) (session.Session, error) {
	info.Name = strings.TrimSpace(info.Name)
	info.Email = strings.ToLower(strings.TrimSpace(info.Email))
	info.Phone = strings.TrimSpace(info.Phone)
	if info.Name == "" {
		return session.Session{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if info.Email == "" && info.Phone == "" {
		return session.Session{}, fmt.Errorf("%w: email or phone is required", ErrInvalidInput)
	}
	if info.Email != "" && !policy.ValidEmail(info.Email) {
		return session.Session{}, fmt.Errorf("%w: email", ErrInvalidInput)
	}
	if info.Phone != "" {
		if info.Phone = policy.NormalizePhone(info.Phone); info.Phone == "" {
			return session.Session{}, fmt.Errorf("%w: phone", ErrInvalidInput)
		}
	}

	var out session.Session
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.State.Terminal() {
			return fmt.Errorf("%w: contact info in %s", ErrInvalidTransition, s.State)
		}
		if s.Contact != nil {
			return ErrAlreadyProvided
		}
		now := o.opts.Now()
		s.Contact = &info
		if s.UserID == "" && info.Email != "" {
			s.UserID = info.Email
		}
		msg := s.Append(session.SenderSystem, o.catalog.T(s.Language, "chat.contactSaved", i18n.Params{"name": info.Name}), now)
		s.LastActivityAt = now
		if err := o.save(ctx, &s, s.State); err != nil {
			return err
		}
		o.presence.Broadcast(s.ID, chatMessageEvent(s.ID, msg))
		out = s
		return nil
	})
	return out, err
}

// Typing relays a typing indicator to the other party.
func (o *Orchestrator) Typing(ctx context.Context, sessionID string, who presence.Role, typing bool) error {
	if !who.Valid() {
		return fmt.Errorf("%w: typing party %q", ErrInvalidInput, who)
	}
	return o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.State.Terminal() {
			return fmt.Errorf("%w: typing in %s", ErrInvalidTransition, s.State)
		}
		target := presence.RoleAgent
		if who == presence.RoleAgent {
			target = presence.RoleUser
		}
		o.presence.SendRole(s.ID, target, protocol.Typing{
			Type:      protocol.TypeTyping,
			SessionID: s.ID,
			Who:       string(who),
			Typing:    typing,
		})
		return nil
	})
}

// Attach binds a live connection and sends it the history. Because it
// runs in the session's mailbox, nothing broadcast later can overtake the
// snapshot. It returns the connection that held the role before, if any.
func (o *Orchestrator) Attach(ctx context.Context, sessionID, connectionID string, role presence.Role, out chan<- any) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("%w: role %q", ErrInvalidInput, role)
	}
	var previous string
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		previous = o.presence.Bind(connectionID, s.ID, role, out)
		o.presence.Send(connectionID, historyEvent(s))
		o.presence.Send(connectionID, stateEvent(s))
		if s.State == session.StateQueued && role == presence.RoleUser {
			if pos, err := o.queue.PositionOf(s.ID); err == nil {
				o.presence.Send(connectionID, o.queuePositionEvent(s, pos))
			}
		}
		o.logger.Info("connection attached", "session_id", s.ID, "connection_id", connectionID, "role", string(role))
		return nil
	})
	return previous, err
}

// Disconnect removes the connection's binding only. Session state is left
// alone so the party can reconnect.
func (o *Orchestrator) Disconnect(connectionID string) {
	if b, ok := o.presence.Unbind(connectionID); ok {
		o.event("connection_detached")
		o.logger.Info("connection detached", "session_id", b.SessionID, "connection_id", connectionID, "role", string(b.Role))
	}
}

// Bound reports whether the connection still holds role on the session.
func (o *Orchestrator) Bound(connectionID, sessionID string, role presence.Role) bool {
	b, ok := o.presence.Lookup(connectionID)
	return ok && b.SessionID == sessionID && b.Role == role
}

// SetLanguage switches the locale used for the session's future messages.
func (o *Orchestrator) SetLanguage(ctx context.Context, sessionID, language string) (session.Session, error) {
	lang := i18n.Normalize(language)
	if !o.catalog.Supports(lang) {
		return session.Session{}, fmt.Errorf("%w: language %q", ErrInvalidInput, language)
	}
	var out session.Session
	err := o.do(ctx, sessionID, func(ctx context.Context) error {
		s, err := o.load(ctx, sessionID)
		if err != nil {
			return err
		}
		if s.State.Terminal() {
			return fmt.Errorf("%w: language change in %s", ErrInvalidTransition, s.State)
		}
		s.Language = lang
		s.UpdatedAt = o.opts.Now()
		if err := o.save(ctx, &s, s.State); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// LocalizedError builds the error event for a failed operation.
func (o *Orchestrator) LocalizedError(sessionID, language string, err error) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:             protocol.TypeError,
		SessionID:        sessionID,
		Code:             ErrorCode(err),
		LocalizedMessage: o.catalog.T(language, MessageKey(err), nil),
	}
}

// Catalog exposes the dictionaries used for outbound text.
func (o *Orchestrator) Catalog() *i18n.Catalog { return o.catalog }

func (o *Orchestrator) load(ctx context.Context, sessionID string) (session.Session, error) {
	s, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return session.Session{}, o.mapLoadError(err)
	}
	return s, nil
}

func (o *Orchestrator) mapLoadError(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return ErrSessionNotFound
	}
	o.persistenceFailure("session")
	return fmt.Errorf("%w: load session: %v", ErrPersistence, err)
}

func (o *Orchestrator) save(ctx context.Context, s *session.Session, from session.State) error {
	if from != s.State && !session.CanTransition(from, s.State) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, s.State)
	}
	s.UpdatedAt = o.opts.Now()
	if err := o.sessions.Save(ctx, *s); err != nil {
		o.persistenceFailure("session")
		return fmt.Errorf("%w: save session: %v", ErrPersistence, err)
	}
	if from != s.State {
		if o.metrics != nil {
			o.metrics.ObserveTransition(string(from), string(s.State))
			if s.State.Terminal() {
				o.metrics.ActiveSessions.Dec()
			}
		}
		o.logger.Info("session transition", "session_id", s.ID, "from", string(from), "to", string(s.State))
	}
	return nil
}

func (o *Orchestrator) persistenceFailure(store string) {
	if o.metrics != nil {
		o.metrics.PersistenceFailures.WithLabelValues(store).Inc()
	}
}

func (o *Orchestrator) event(name string) {
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues(name).Inc()
	}
}
