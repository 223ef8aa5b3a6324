package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/helpdesk/internal/chat"
	"github.com/ent0n29/helpdesk/internal/presence"
	"github.com/ent0n29/helpdesk/internal/protocol"
	"github.com/ent0n29/helpdesk/internal/session"
)

const (
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsClient is the reader side of one websocket connection. Only the read
// loop touches it.
type wsClient struct {
	id        string
	role      presence.Role
	agent     chat.Agent
	sessionID string
	lang      string
	out       chan any
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := &wsClient{
		id:        uuid.NewString(),
		role:      presence.Role(strings.ToLower(strings.TrimSpace(q.Get("role")))),
		sessionID: strings.TrimSpace(q.Get("session_id")),
		lang:      s.chat.Catalog().Resolve(requestLanguage(r)),
		agent: chat.Agent{
			ID:   strings.TrimSpace(q.Get("agent_id")),
			Name: strings.TrimSpace(q.Get("agent_name")),
		},
	}
	if c.role == "" {
		c.role = presence.RoleUser
	}
	if !c.role.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_input", "role must be user or agent")
		return
	}
	if c.role == presence.RoleAgent && c.agent.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_input", "agent_id is required for agent connections")
		return
	}
	if c.sessionID != "" {
		if _, err := s.chat.Get(r.Context(), c.sessionID); err != nil {
			s.respondChatError(w, r, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c.out = make(chan any, 256)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, cancel, conn, c.out)
	}()

	if c.sessionID != "" {
		if err := s.attach(ctx, c, c.sessionID); err != nil {
			s.reply(c, s.chat.LocalizedError(c.sessionID, c.lang, err))
			c.sessionID = ""
		}
	}

	conn.SetReadLimit(64 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.reply(c, s.chat.LocalizedError(c.sessionID, c.lang, fmt.Errorf("%w: %v", chat.ErrInvalidInput, err)))
			continue
		}
		t, _ := protocol.TypeOf(parsed)
		s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()

		if err := s.dispatch(ctx, c, parsed); err != nil {
			s.logger.Debug("ws event rejected", "connection_id", c.id, "type", string(t), "code", chat.ErrorCode(err), "error", err)
			s.reply(c, s.chat.LocalizedError(c.sessionID, c.lang, err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.chat.Disconnect(c.id)
	cancel()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// writeLoop is the only writer on conn.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan any) {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				cancel()
				return
			}
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.metrics.ObserveOutboundMessage("write_json", "error")
				cancel()
				return
			}
			if t, ok := protocol.TypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
		}
	}
}

// reply queues an event for this connection only. The read loop never
// blocks on a saturated outbox.
func (s *Server) reply(c *wsClient, msg any) {
	t, _ := protocol.TypeOf(msg)
	select {
	case c.out <- msg:
		s.metrics.ObserveOutboundMessage(string(t), "queued")
	default:
		s.metrics.ObserveOutboundMessage(string(t), "drop_full")
	}
}

func (s *Server) attach(ctx context.Context, c *wsClient, sessionID string) error {
	if _, err := s.chat.Attach(ctx, sessionID, c.id, c.role, c.out); err != nil {
		return err
	}
	c.sessionID = sessionID
	if sess, err := s.chat.Get(ctx, sessionID); err == nil {
		c.lang = sess.Language
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, c *wsClient, msg any) error {
	switch m := msg.(type) {
	case protocol.CreateSession:
		if c.role != presence.RoleUser || c.sessionID != "" {
			return fmt.Errorf("%w: create_session on a bound connection", chat.ErrInvalidInput)
		}
		lang := m.Language
		if lang == "" {
			lang = c.lang
		}
		sess, err := s.chat.CreateSession(ctx, chat.CreateRequest{Language: lang, UserID: m.UserID})
		if err != nil {
			return err
		}
		return s.attach(ctx, c, sess.ID)

	case protocol.UserMessage:
		if err := s.check(c, m.SessionID, presence.RoleUser); err != nil {
			return err
		}
		_, err := s.chat.SubmitMessage(ctx, m.SessionID, session.SenderUser, m.Text)
		return err

	case protocol.AgentMessage:
		if err := s.check(c, m.SessionID, presence.RoleAgent); err != nil {
			return err
		}
		_, err := s.chat.SubmitMessage(ctx, m.SessionID, session.SenderAgent, m.Text)
		return err

	case protocol.TransferRequest:
		if err := s.check(c, m.SessionID, presence.RoleUser); err != nil {
			return err
		}
		_, err := s.chat.RequestTransfer(ctx, m.SessionID, m.Description)
		return err

	case protocol.AgentJoin:
		if c.role != presence.RoleAgent {
			return fmt.Errorf("%w: agent_join from %s", chat.ErrInvalidInput, c.role)
		}
		if c.sessionID != "" && c.sessionID != m.SessionID {
			return fmt.Errorf("%w: connection is bound to another session", chat.ErrInvalidInput)
		}
		agent := chat.Agent{ID: m.AgentID, Name: m.AgentName}
		if agent.Name == "" {
			agent.Name = c.agent.Name
		}
		if _, err := s.chat.AgentJoin(ctx, m.SessionID, agent); err != nil {
			return err
		}
		c.agent = agent
		if c.sessionID == "" {
			return s.attach(ctx, c, m.SessionID)
		}
		return nil

	case protocol.AgentLeave:
		if err := s.check(c, m.SessionID, presence.RoleAgent); err != nil {
			return err
		}
		_, err := s.chat.AgentLeave(ctx, m.SessionID)
		return err

	case protocol.TypingStatus:
		if err := s.check(c, m.SessionID, presence.Role(m.Who)); err != nil {
			return err
		}
		return s.chat.Typing(ctx, m.SessionID, c.role, m.Typing)

	case protocol.ContactInfo:
		if err := s.check(c, m.SessionID, presence.RoleUser); err != nil {
			return err
		}
		_, err := s.chat.SubmitContactInfo(ctx, m.SessionID, session.ContactInfo{Name: m.Name, Email: m.Email, Phone: m.Phone})
		return err

	case protocol.FeedbackSubmit:
		if err := s.check(c, m.SessionID, presence.RoleUser); err != nil {
			return err
		}
		_, err := s.chat.SubmitFeedback(ctx, m.SessionID, chat.FeedbackInput{Resolved: m.Resolved, Comment: m.Comment})
		return err

	default:
		return fmt.Errorf("%w: %T", chat.ErrInvalidInput, msg)
	}
}

// check rejects events for another session, from the wrong party, or from
// a connection that a newer one has replaced.
func (s *Server) check(c *wsClient, sessionID string, role presence.Role) error {
	if c.sessionID == "" || sessionID != c.sessionID {
		return fmt.Errorf("%w: connection is not bound to session %q", chat.ErrInvalidInput, sessionID)
	}
	if c.role != role {
		return fmt.Errorf("%w: %s cannot send this event", chat.ErrInvalidInput, c.role)
	}
	if !s.chat.Bound(c.id, sessionID, role) {
		return fmt.Errorf("%w: connection was replaced", chat.ErrInvalidInput)
	}
	return nil
}
