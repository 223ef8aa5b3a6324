package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/helpdesk/internal/i18n"
	"github.com/ent0n29/helpdesk/internal/observability"
	"github.com/ent0n29/helpdesk/internal/preference"
	"github.com/ent0n29/helpdesk/internal/presence"
	"github.com/ent0n29/helpdesk/internal/protocol"
	"github.com/ent0n29/helpdesk/internal/queue"
	"github.com/ent0n29/helpdesk/internal/responder"
	"github.com/ent0n29/helpdesk/internal/session"
	"github.com/ent0n29/helpdesk/internal/ticket"
)

type stubResponder func(ctx context.Context, req responder.Request) (responder.Reply, error)

func (f stubResponder) Respond(ctx context.Context, req responder.Request) (responder.Reply, error) {
	return f(ctx, req)
}

func echoResponder() stubResponder {
	return func(_ context.Context, req responder.Request) (responder.Reply, error) {
		return responder.Reply{Text: "echo: " + req.LastUserText()}, nil
	}
}

type flakyStore struct {
	*session.MemoryStore
	failSave atomic.Bool
}

func (f *flakyStore) Save(ctx context.Context, s session.Session) error {
	if f.failSave.Load() {
		return errors.New("disk full")
	}
	return f.MemoryStore.Save(ctx, s)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	orch     *Orchestrator
	sessions *flakyStore
	tickets  *ticket.MemoryRegistry
	queue    *queue.Queue
	presence *presence.Registry
	prefs    *preference.MemoryStore
	metrics  *observability.Metrics
	clock    *testClock
}

func newHarness(t *testing.T, r responder.Responder) *harness {
	t.Helper()
	catalog, err := i18n.NewEmbedded("en")
	require.NoError(t, err)

	h := &harness{
		sessions: &flakyStore{MemoryStore: session.NewMemoryStore()},
		tickets:  ticket.NewMemoryRegistry(),
		queue:    queue.New(),
		prefs:    preference.NewMemoryStore(),
		metrics:  observability.NewMetrics(fmt.Sprintf("chat_test_%d", time.Now().UnixNano())),
		clock:    &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
	}
	h.presence = presence.NewRegistry(h.metrics)
	h.orch = New(Deps{
		Sessions:    h.sessions,
		Tickets:     h.tickets,
		Queue:       h.queue,
		Presence:    h.presence,
		Responder:   r,
		Catalog:     catalog,
		Preferences: h.prefs,
		Metrics:     h.metrics,
	}, Options{
		ResponderTimeout:  2 * time.Second,
		InactivityTimeout: 5 * time.Minute,
		FeedbackWindow:    2 * time.Minute,
		Now:               h.clock.Now,
	})
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) stored(t *testing.T, id string) session.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), id)
	require.NoError(t, err)
	return s
}

func (h *harness) ticketFor(t *testing.T, id string) ticket.Ticket {
	t.Helper()
	s := h.stored(t, id)
	require.NotEmpty(t, s.TicketID)
	tk, err := h.tickets.Get(context.Background(), s.TicketID)
	require.NoError(t, err)
	return tk
}

// aiActive creates a session and waits for the reply to its first message.
func (h *harness) aiActive(t *testing.T) session.Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.orch.CreateSession(ctx, CreateRequest{Language: "en"})
	require.NoError(t, err)
	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderUser, "my order is late")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(h.stored(t, s.ID).Messages) == 3
	}, 2*time.Second, 10*time.Millisecond)
	return h.stored(t, s.ID)
}

func (h *harness) agentActive(t *testing.T) session.Session {
	t.Helper()
	s := h.aiActive(t)
	_, err := h.orch.RequestTransfer(context.Background(), s.ID, "late order")
	require.NoError(t, err)
	_, err = h.orch.AgentJoin(context.Background(), s.ID, Agent{ID: "a1", Name: "Lan"})
	require.NoError(t, err)
	return h.stored(t, s.ID)
}

// pending counts jobs running or waiting in the session's mailbox.
func (h *harness) pending(sessionID string) int {
	h.orch.boxes.mu.Lock()
	defer h.orch.boxes.mu.Unlock()
	if b := h.orch.boxes.boxes[sessionID]; b != nil {
		return b.pending
	}
	return 0
}

// hold parks the session's mailbox until the returned func is called.
func (h *harness) hold(t *testing.T, sessionID string) func() {
	t.Helper()
	release := make(chan struct{})
	require.True(t, h.orch.boxes.submit(sessionID, func() { <-release }))
	var once sync.Once
	stop := func() { once.Do(func() { close(release) }) }
	t.Cleanup(stop)
	return stop
}

func (h *harness) waitPending(t *testing.T, sessionID string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.pending(sessionID) == n
	}, 2*time.Second, 5*time.Millisecond)
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func next(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for outbound event")
		return nil
	}
}

func TestCreateSessionGreets(t *testing.T) {
	h := newHarness(t, echoResponder())
	s, err := h.orch.CreateSession(context.Background(), CreateRequest{Language: "vi"})
	require.NoError(t, err)

	assert.Equal(t, session.StateCreated, s.State)
	assert.Equal(t, "vi", s.Language)
	require.Len(t, s.Messages, 1)
	assert.Equal(t, session.SenderAI, s.Messages[0].Sender)
	assert.Equal(t, h.orch.Catalog().T("vi", "chat.aiGreeting", nil), s.Messages[0].Text)
	assert.Equal(t, 1.0, gaugeValue(t, h.metrics.ActiveSessions))
}

func TestCreateSessionLanguagePrecedence(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()
	_, err := h.prefs.Set(ctx, "u1", "vi")
	require.NoError(t, err)

	s, err := h.orch.CreateSession(ctx, CreateRequest{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "vi", s.Language)

	s, err = h.orch.CreateSession(ctx, CreateRequest{UserID: "u1", Language: "en"})
	require.NoError(t, err)
	assert.Equal(t, "en", s.Language)

	s, err = h.orch.CreateSession(ctx, CreateRequest{Language: "klingon"})
	require.NoError(t, err)
	assert.Equal(t, "en", s.Language)
}

func TestUserMessageGetsAIReplyInOrder(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()
	s, err := h.orch.CreateSession(ctx, CreateRequest{Language: "en"})
	require.NoError(t, err)

	out := make(chan any, 16)
	_, err = h.orch.Attach(ctx, s.ID, "c1", presence.RoleUser, out)
	require.NoError(t, err)
	hist := next(t, out).(protocol.History)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, string(session.StateCreated), next(t, out).(protocol.SessionState).State)

	msg, err := h.orch.SubmitMessage(ctx, s.ID, session.SenderUser, "  where is my parcel?  ")
	require.NoError(t, err)
	assert.Equal(t, 2, msg.Seq)
	assert.Equal(t, "where is my parcel?", msg.Text)

	assert.Equal(t, string(session.StateAIActive), next(t, out).(protocol.SessionState).State)
	assert.Equal(t, "where is my parcel?", next(t, out).(protocol.ChatMessage).Text)
	reply := next(t, out).(protocol.ChatMessage)
	assert.Equal(t, "echo: where is my parcel?", reply.Text)
	assert.Equal(t, 3, reply.Seq)
	assert.Equal(t, string(session.SenderAI), reply.Sender)
}

func TestRejectsBlankAndOversizedMessages(t *testing.T) {
	h := newHarness(t, echoResponder())
	s, err := h.orch.CreateSession(context.Background(), CreateRequest{})
	require.NoError(t, err)

	_, err = h.orch.SubmitMessage(context.Background(), s.ID, session.SenderUser, "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.orch.SubmitMessage(context.Background(), s.ID, session.SenderUser, strings.Repeat("x", protocol.MaxTextLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = h.orch.SubmitMessage(context.Background(), "missing", session.SenderUser, "hi")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAITransferSuggestionBroadcast(t *testing.T) {
	h := newHarness(t, stubResponder(func(context.Context, responder.Request) (responder.Reply, error) {
		return responder.Reply{Text: "A human can help with refunds.", SuggestTransfer: true}, nil
	}))
	ctx := context.Background()
	s, err := h.orch.CreateSession(ctx, CreateRequest{Language: "en"})
	require.NoError(t, err)
	out := make(chan any, 16)
	_, err = h.orch.Attach(ctx, s.ID, "c1", presence.RoleUser, out)
	require.NoError(t, err)

	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderUser, "I want a refund")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-out:
			if sug, ok := v.(protocol.AITransferSuggestion); ok {
				assert.Equal(t, h.orch.Catalog().T("en", "chat.aiTransferSuggestion", nil), sug.Text)
				assert.Equal(t, session.StateAIActive, h.stored(t, s.ID).State)
				return
			}
		case <-deadline:
			t.Fatal("no transfer suggestion")
		}
	}
}

func TestAIErrorAppendsSystemMessage(t *testing.T) {
	h := newHarness(t, stubResponder(func(context.Context, responder.Request) (responder.Reply, error) {
		return responder.Reply{}, errors.New("upstream 502")
	}))
	ctx := context.Background()
	s, err := h.orch.CreateSession(ctx, CreateRequest{Language: "en"})
	require.NoError(t, err)
	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderUser, "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.stored(t, s.ID).Messages) == 3
	}, 2*time.Second, 10*time.Millisecond)
	last := h.stored(t, s.ID).Messages[2]
	assert.Equal(t, session.SenderSystem, last.Sender)
	assert.Equal(t, h.orch.Catalog().T("en", "chat.aiError", nil), last.Text)
	assert.Equal(t, session.StateAIActive, h.stored(t, s.ID).State)
}

func TestAITimeoutKeepsConversationWithAI(t *testing.T) {
	h := newHarness(t, stubResponder(func(ctx context.Context, _ responder.Request) (responder.Reply, error) {
		<-ctx.Done()
		return responder.Reply{}, ctx.Err()
	}))
	h.orch.opts.ResponderTimeout = 50 * time.Millisecond
	ctx := context.Background()
	s, err := h.orch.CreateSession(ctx, CreateRequest{Language: "en"})
	require.NoError(t, err)
	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderUser, "where is my refund")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(h.stored(t, s.ID).Messages) == 3
	}, 2*time.Second, 10*time.Millisecond)
	got := h.stored(t, s.ID)
	assert.Equal(t, session.StateAIActive, got.State)
	assert.Equal(t, session.SenderUser, got.Messages[1].Sender)
	assert.Equal(t, "where is my refund", got.Messages[1].Text)
	assert.Equal(t, session.SenderSystem, got.Messages[2].Sender)
	assert.Equal(t, h.orch.Catalog().T("en", "chat.aiError", nil), got.Messages[2].Text)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.ProviderErrors.WithLabelValues(responder.Name(h.orch.responder), "reply_failed")))
}

func TestLateAIReplyDroppedAfterAgentJoins(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, stubResponder(func(ctx context.Context, req responder.Request) (responder.Reply, error) {
		select {
		case <-release:
			return responder.Reply{Text: "too late"}, nil
		case <-ctx.Done():
			return responder.Reply{}, ctx.Err()
		}
	}))
	ctx := context.Background()
	s, err := h.orch.CreateSession(ctx, CreateRequest{Language: "en"})
	require.NoError(t, err)
	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderUser, "agent please")
	require.NoError(t, err)
	_, err = h.orch.RequestTransfer(ctx, s.ID, "")
	require.NoError(t, err)
	_, err = h.orch.AgentJoin(ctx, s.ID, Agent{ID: "a1"})
	require.NoError(t, err)

	close(release)
	dropped := h.metrics.SessionEvents.WithLabelValues("ai_reply_dropped")
	require.Eventually(t, func() bool {
		return counterValue(t, dropped) == 1
	}, 2*time.Second, 10*time.Millisecond)

	for _, m := range h.stored(t, s.ID).Messages {
		assert.NotEqual(t, "too late", m.Text)
	}
}

func TestRequestTransferIsIdempotent(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.aiActive(t)
	ctx := context.Background()

	first, err := h.orch.RequestTransfer(ctx, s.ID, "Package arrived damaged\nphotos attached")
	require.NoError(t, err)
	assert.Equal(t, 1, first.Position)
	assert.NotEmpty(t, first.TicketID)

	second, err := h.orch.RequestTransfer(ctx, s.ID, "again")
	require.NoError(t, err)
	assert.Equal(t, first.TicketID, second.TicketID)
	assert.Equal(t, 1, second.Position)

	tickets, err := h.tickets.List(ctx, ticket.Filter{SessionID: s.ID})
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, ticket.StatusOpen, tickets[0].Status)
	assert.Equal(t, "Package arrived damaged", tickets[0].Subject)

	got := h.stored(t, s.ID)
	assert.Equal(t, session.StateQueued, got.State)
	assert.Equal(t, 1.0, gaugeValue(t, h.metrics.QueueDepth))
}

func TestRequestTransferFromCreatedIsRejected(t *testing.T) {
	h := newHarness(t, echoResponder())
	s, err := h.orch.CreateSession(context.Background(), CreateRequest{})
	require.NoError(t, err)

	_, err = h.orch.RequestTransfer(context.Background(), s.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 0, h.queue.Len())
}

func TestRequestTransferWhileAgentActive(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.agentActive(t)

	res, err := h.orch.RequestTransfer(context.Background(), s.ID, "")
	require.NoError(t, err)
	assert.True(t, res.AlreadyConnected)
	assert.Equal(t, 0, res.Position)
}

func TestQueuedUserMessageSkipsAI(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.aiActive(t)
	_, err := h.orch.RequestTransfer(context.Background(), s.ID, "")
	require.NoError(t, err)

	_, err = h.orch.SubmitMessage(context.Background(), s.ID, session.SenderUser, "still waiting")
	require.NoError(t, err)
	h.orch.Close()

	got := h.stored(t, s.ID)
	assert.Equal(t, "still waiting", got.Messages[len(got.Messages)-1].Text)
	assert.Equal(t, session.SenderUser, got.Messages[len(got.Messages)-1].Sender)
}

func TestJoinLeaveFeedbackLifecycle(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.agentActive(t)
	ctx := context.Background()

	assert.Equal(t, session.StateAgentActive, s.State)
	assert.Equal(t, "Lan", s.AgentName)
	assert.Equal(t, ticket.StatusInProgress, h.ticketFor(t, s.ID).Status)
	assert.Equal(t, 0, h.queue.Len())

	_, err := h.orch.AgentJoin(ctx, s.ID, Agent{ID: "a1", Name: "Lan"})
	require.NoError(t, err, "same agent joining twice")
	_, err = h.orch.AgentJoin(ctx, s.ID, Agent{ID: "a2"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderAgent, "Refund issued.")
	require.NoError(t, err)

	left, err := h.orch.AgentLeave(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StateResolved, left.State)
	assert.Equal(t, ticket.StatusResolved, h.ticketFor(t, s.ID).Status)

	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderAgent, "one more thing")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	closed, err := h.orch.SubmitFeedback(ctx, s.ID, FeedbackInput{Resolved: true, Comment: "thanks"})
	require.NoError(t, err)
	assert.Equal(t, session.StateClosed, closed.State)
	require.NotNil(t, closed.Feedback)
	assert.True(t, closed.Feedback.Resolved)

	tk := h.ticketFor(t, s.ID)
	assert.Equal(t, ticket.StatusClosed, tk.Status)
	assert.NotNil(t, tk.ResolvedAt)
	assert.Equal(t, 0.0, gaugeValue(t, h.metrics.ActiveSessions))
}

func TestUnresolvedFeedbackLeavesTicketWaiting(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.agentActive(t)
	ctx := context.Background()
	_, err := h.orch.AgentLeave(ctx, s.ID)
	require.NoError(t, err)

	_, err = h.orch.SubmitFeedback(ctx, s.ID, FeedbackInput{Resolved: false})
	require.NoError(t, err)
	assert.Equal(t, ticket.StatusWaiting, h.ticketFor(t, s.ID).Status)
}

func TestClosedSessionRejectsEverything(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.agentActive(t)
	ctx := context.Background()
	_, err := h.orch.AgentLeave(ctx, s.ID)
	require.NoError(t, err)
	_, err = h.orch.SubmitFeedback(ctx, s.ID, FeedbackInput{Resolved: true})
	require.NoError(t, err)

	_, err = h.orch.SubmitMessage(ctx, s.ID, session.SenderUser, "hello?")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.orch.RequestTransfer(ctx, s.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = h.orch.SubmitFeedback(ctx, s.ID, FeedbackInput{Resolved: true})
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, h.orch.Timeout(ctx, s.ID), ErrInvalidTransition)
}

func TestContactInfoIsAcceptedOnce(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()
	s, err := h.orch.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)

	_, err = h.orch.SubmitContactInfo(ctx, s.ID, session.ContactInfo{Name: "Mai"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	got, err := h.orch.SubmitContactInfo(ctx, s.ID, session.ContactInfo{Name: "Mai", Email: "Mai@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "mai@example.com", got.Contact.Email)
	assert.Equal(t, "mai@example.com", got.UserID)

	_, err = h.orch.SubmitContactInfo(ctx, s.ID, session.ContactInfo{Name: "Minh", Email: "minh@example.com", Phone: "+84 912 345 678"})
	assert.ErrorIs(t, err, ErrAlreadyProvided)
	assert.Equal(t, "already_provided", ErrorCode(err))

	stored := h.stored(t, s.ID)
	require.NotNil(t, stored.Contact)
	assert.Equal(t, "Mai", stored.Contact.Name)
	assert.Equal(t, "mai@example.com", stored.Contact.Email)
	assert.Empty(t, stored.Contact.Phone)
	assert.Equal(t, "mai@example.com", stored.UserID)
}

func TestPersistenceFailureRollsBackTransfer(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.aiActive(t)
	ctx := context.Background()
	out := make(chan any, 16)
	_, err := h.orch.Attach(ctx, s.ID, "c1", presence.RoleUser, out)
	require.NoError(t, err)
	next(t, out)
	next(t, out)

	h.sessions.failSave.Store(true)
	_, err = h.orch.RequestTransfer(ctx, s.ID, "broken")
	require.ErrorIs(t, err, ErrPersistence)

	assert.Equal(t, session.StateAIActive, h.stored(t, s.ID).State)
	assert.Equal(t, 0, h.queue.Len())
	tickets, err := h.tickets.List(ctx, ticket.Filter{SessionID: s.ID})
	require.NoError(t, err)
	assert.Empty(t, tickets)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.PersistenceFailures.WithLabelValues("session")))
	select {
	case v := <-out:
		t.Fatalf("unexpected broadcast after failed save: %#v", v)
	default:
	}
}

func TestPersistenceFailureOnJoinRestoresQueue(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.aiActive(t)
	ctx := context.Background()
	_, err := h.orch.RequestTransfer(ctx, s.ID, "")
	require.NoError(t, err)

	h.sessions.failSave.Store(true)
	_, err = h.orch.AgentJoin(ctx, s.ID, Agent{ID: "a1"})
	require.ErrorIs(t, err, ErrPersistence)

	pos, err := h.queue.PositionOf(s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, ticket.StatusOpen, h.ticketFor(t, s.ID).Status)
}

func TestAcceptNextSkipsInconsistentEntries(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()

	_, err := h.orch.AcceptNext(ctx, Agent{ID: "a1"})
	assert.ErrorIs(t, err, ErrQueueEmpty)

	h.queue.Restore("ghost", h.clock.Now().Add(-time.Minute))
	s := h.aiActive(t)
	_, err = h.orch.RequestTransfer(ctx, s.ID, "")
	require.NoError(t, err)

	got, err := h.orch.AcceptNext(ctx, Agent{ID: "a1", Name: "Lan"})
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Equal(t, session.StateAgentActive, got.State)
	assert.Equal(t, 1.0, counterValue(t, h.metrics.QueueInconsistencies))
	assert.Equal(t, 0, h.queue.Len())
}

func TestAcceptNextWhileSessionBusy(t *testing.T) {
	cases := []struct {
		name      string
		interpose func(h *harness, id string) error
		wantState session.State
		wantEmpty bool
	}{
		{
			name: "repeated transfer request",
			interpose: func(h *harness, id string) error {
				res, err := h.orch.RequestTransfer(context.Background(), id, "")
				if err == nil && res.Position != 1 {
					err = fmt.Errorf("position = %d, want 1", res.Position)
				}
				return err
			},
			wantState: session.StateAgentActive,
		},
		{
			name: "explicit join",
			interpose: func(h *harness, id string) error {
				_, err := h.orch.AgentJoin(context.Background(), id, Agent{ID: "a2", Name: "Hoa"})
				return err
			},
			wantState: session.StateAgentActive,
			wantEmpty: true,
		},
		{
			name: "timeout",
			interpose: func(h *harness, id string) error {
				return h.orch.Timeout(context.Background(), id)
			},
			wantState: session.StateClosed,
			wantEmpty: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, echoResponder())
			s := h.aiActive(t)
			ctx := context.Background()
			_, err := h.orch.RequestTransfer(ctx, s.ID, "")
			require.NoError(t, err)

			release := h.hold(t, s.ID)
			first := make(chan error, 1)
			go func() { first <- tc.interpose(h, s.ID) }()
			h.waitPending(t, s.ID, 2)

			type accepted struct {
				s   session.Session
				err error
			}
			second := make(chan accepted, 1)
			go func() {
				got, err := h.orch.AcceptNext(ctx, Agent{ID: "a1", Name: "Lan"})
				second <- accepted{got, err}
			}()
			h.waitPending(t, s.ID, 3)
			release()

			require.NoError(t, <-first)
			acc := <-second
			if tc.wantEmpty {
				assert.ErrorIs(t, acc.err, ErrQueueEmpty)
			} else {
				require.NoError(t, acc.err)
				assert.Equal(t, s.ID, acc.s.ID)
			}
			assert.Equal(t, tc.wantState, h.stored(t, s.ID).State)
			assert.Equal(t, 0.0, counterValue(t, h.metrics.QueueInconsistencies))
			assert.Equal(t, 0, h.queue.Len())
			assert.Empty(t, h.queue.Snapshot())
		})
	}
}

func TestReleaseQueueEntry(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.aiActive(t)
	ctx := context.Background()
	_, err := h.orch.RequestTransfer(ctx, s.ID, "")
	require.NoError(t, err)

	require.True(t, h.queue.Quarantine(s.ID))
	_, err = h.orch.AcceptNext(ctx, Agent{ID: "a1"})
	require.ErrorIs(t, err, ErrQueueEmpty)

	pos, err := h.orch.ReleaseQueueEntry(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	got, err := h.orch.AcceptNext(ctx, Agent{ID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	h.queue.Restore(s.ID, h.clock.Now())
	h.queue.Quarantine(s.ID)
	_, err = h.orch.ReleaseQueueEntry(ctx, s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Empty(t, h.queue.Snapshot())

	_, err = h.orch.ReleaseQueueEntry(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAgentJoinWithoutQueueEntryIsInconsistency(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.aiActive(t)
	ctx := context.Background()
	_, err := h.orch.RequestTransfer(ctx, s.ID, "")
	require.NoError(t, err)
	h.queue.Remove(s.ID)

	_, err = h.orch.AgentJoin(ctx, s.ID, Agent{ID: "a1"})
	require.ErrorIs(t, err, ErrQueueInconsistency)
	assert.Equal(t, "internal_error", ErrorCode(err))
	assert.Equal(t, session.StateQueued, h.stored(t, s.ID).State)
}

func TestSweepClosesIdleSessions(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()
	queued := h.aiActive(t)
	_, err := h.orch.RequestTransfer(ctx, queued.ID, "")
	require.NoError(t, err)
	fresh, err := h.orch.CreateSession(ctx, CreateRequest{})
	require.NoError(t, err)

	h.clock.Advance(4 * time.Minute)
	_, err = h.orch.SubmitMessage(ctx, fresh.ID, session.SenderUser, "still here")
	require.NoError(t, err)
	h.clock.Advance(2 * time.Minute)

	assert.Equal(t, 1, h.orch.Sweep(ctx))
	require.Eventually(t, func() bool {
		return h.stored(t, queued.ID).State == session.StateClosed
	}, 2*time.Second, 10*time.Millisecond)

	got := h.stored(t, queued.ID)
	assert.Equal(t, h.orch.Catalog().T("en", "chat.timeout", nil), got.Messages[len(got.Messages)-1].Text)
	assert.Equal(t, ticket.StatusWaiting, h.ticketFor(t, queued.ID).Status)
	assert.Equal(t, 0, h.queue.Len())
	assert.NotEqual(t, session.StateClosed, h.stored(t, fresh.ID).State)
}

func TestSweepFinalizesAfterFeedbackWindow(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()
	s := h.agentActive(t)
	_, err := h.orch.AgentLeave(ctx, s.ID)
	require.NoError(t, err)

	h.clock.Advance(time.Minute)
	assert.Equal(t, 0, h.orch.Sweep(ctx))

	h.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, h.orch.Sweep(ctx))
	require.Eventually(t, func() bool {
		return h.stored(t, s.ID).State == session.StateClosed
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, ticket.StatusClosed, h.ticketFor(t, s.ID).Status)
	assert.Nil(t, h.stored(t, s.ID).Feedback)
}

func TestRestoreRebuildsQueueInOrder(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()
	base := h.clock.Now()

	ids := make([]string, 0, 3)
	for i, offset := range []time.Duration{3 * time.Second, time.Second, 2 * time.Second} {
		s := session.New("", "en", base)
		s.State = session.StateQueued
		s.QueuedAt = base.Add(offset)
		require.NoError(t, h.sessions.Create(ctx, s), "session %d", i)
		ids = append(ids, s.ID)
	}
	other := session.New("", "en", base)
	other.State = session.StateAIActive
	require.NoError(t, h.sessions.Create(ctx, other))

	require.NoError(t, h.orch.Restore(ctx))

	snap := h.orch.QueueSnapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{ids[1], ids[2], ids[0]}, []string{snap[0].SessionID, snap[1].SessionID, snap[2].SessionID})
	assert.Equal(t, 3.0, gaugeValue(t, h.metrics.QueueDepth))
	assert.Equal(t, 4.0, gaugeValue(t, h.metrics.ActiveSessions))
}

func TestRefreshQueuePositionsNotifiesWaitingUsers(t *testing.T) {
	h := newHarness(t, echoResponder())
	ctx := context.Background()
	first := h.aiActive(t)
	second := h.aiActive(t)
	for _, s := range []session.Session{first, second} {
		_, err := h.orch.RequestTransfer(ctx, s.ID, "")
		require.NoError(t, err)
	}

	out := make(chan any, 16)
	_, err := h.orch.Attach(ctx, second.ID, "c2", presence.RoleUser, out)
	require.NoError(t, err)
	next(t, out)
	next(t, out)
	assert.Equal(t, 2, next(t, out).(protocol.QueuePosition).Position)

	_, err = h.orch.AgentJoin(ctx, first.ID, Agent{ID: "a1"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		select {
		case v := <-out:
			qp, ok := v.(protocol.QueuePosition)
			return ok && qp.Position == 1
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTypingGoesToOtherParty(t *testing.T) {
	h := newHarness(t, echoResponder())
	s := h.agentActive(t)
	ctx := context.Background()
	user := make(chan any, 8)
	agent := make(chan any, 8)
	_, err := h.orch.Attach(ctx, s.ID, "cu", presence.RoleUser, user)
	require.NoError(t, err)
	_, err = h.orch.Attach(ctx, s.ID, "ca", presence.RoleAgent, agent)
	require.NoError(t, err)
	for range 2 {
		next(t, user)
		next(t, agent)
	}

	require.NoError(t, h.orch.Typing(ctx, s.ID, presence.RoleAgent, true))
	typing := next(t, user).(protocol.Typing)
	assert.Equal(t, "agent", typing.Who)
	assert.True(t, typing.Typing)
	select {
	case v := <-agent:
		t.Fatalf("typing echoed to sender: %#v", v)
	default:
	}
}

func TestLocalizedErrorUsesSessionLanguage(t *testing.T) {
	h := newHarness(t, echoResponder())
	ev := h.orch.LocalizedError("s1", "vi", fmt.Errorf("%w: boom", ErrPersistence))
	assert.Equal(t, protocol.TypeError, ev.Type)
	assert.Equal(t, "persistence_error", ev.Code)
	assert.Equal(t, h.orch.Catalog().T("vi", "errors.persistence_error", nil), ev.LocalizedMessage)
	assert.NotEqual(t, "errors.persistence_error", ev.LocalizedMessage)
}
