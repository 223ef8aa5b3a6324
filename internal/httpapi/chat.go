package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/helpdesk/internal/chat"
	"github.com/ent0n29/helpdesk/internal/markdown"
	"github.com/ent0n29/helpdesk/internal/queue"
	"github.com/ent0n29/helpdesk/internal/session"
)

type transferRequest struct {
	Description string `json:"description"`
}

type transcriptResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Markdown  string `json:"markdown"`
	HTML      string `json:"html"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req chat.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if req.Language == "" {
		req.Language = requestLanguage(r)
	}
	sess, err := s.chat.CreateSession(r.Context(), req)
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.chat.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	sess, err := s.chat.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	source := transcriptMarkdown(sess)
	html, err := markdown.Render(source)
	if err != nil {
		s.logger.Error("transcript render failed", "session_id", sess.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "transcript could not be rendered")
		return
	}
	respondJSON(w, http.StatusOK, transcriptResponse{
		SessionID: sess.ID,
		State:     string(sess.State),
		Markdown:  source,
		HTML:      html,
	})
}

// transcriptMarkdown lays the history out as one paragraph per message.
func transcriptMarkdown(sess session.Session) string {
	var b strings.Builder
	for i, m := range sess.Messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		who := string(m.Sender)
		if m.Sender == session.SenderAgent && sess.AgentName != "" {
			who = sess.AgentName
		}
		fmt.Fprintf(&b, "**%s** · %s\n%s", who, m.Timestamp.Format("2006-01-02 15:04"), m.Text)
	}
	return b.String()
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	res, err := s.chat.RequestTransfer(r.Context(), chi.URLParam(r, "id"), req.Description)
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.AlreadyConnected {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	var req session.ContactInfo
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	sess, err := s.chat.SubmitContactInfo(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req chat.FeedbackInput
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	sess, err := s.chat.SubmitFeedback(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	entries := s.chat.QueueSnapshot()
	if entries == nil {
		entries = []queue.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"depth":   len(entries),
	})
}

func (s *Server) handleAcceptNext(w http.ResponseWriter, r *http.Request) {
	var agent chat.Agent
	if err := decodeJSON(r, &agent); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	sess, err := s.chat.AcceptNext(r.Context(), agent)
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleReleaseQueueEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pos, err := s.chat.ReleaseQueueEntry(r.Context(), id)
	if err != nil {
		s.respondChatError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"position":   pos,
	})
}
