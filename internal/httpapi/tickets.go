package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/helpdesk/internal/ticket"
)

type createTicketRequest struct {
	SessionID   string `json:"session_id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	Category    string `json:"category"`
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	req.Subject = strings.TrimSpace(req.Subject)
	req.Description = strings.TrimSpace(req.Description)
	if req.Subject == "" && req.Description == "" {
		respondError(w, http.StatusBadRequest, "invalid_input", "subject or description is required")
		return
	}

	t := ticket.New(strings.TrimSpace(req.SessionID), req.Description, time.Now().UTC())
	if req.Subject != "" {
		t.Subject = req.Subject
	}
	if p := ticket.Priority(strings.ToLower(strings.TrimSpace(req.Priority))); p != "" {
		t.Priority = p
	}
	if c := strings.TrimSpace(req.Category); c != "" {
		t.Category = c
	}
	if err := t.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := s.tickets.Create(r.Context(), t); err != nil {
		s.ticketError(w, r, err)
		return
	}
	s.logger.Info("ticket created", "ticket_id", t.ID, "session_id", t.SessionID)
	respondJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := strings.TrimSpace(chi.URLParam(r, "id"))
	t, err := s.tickets.Get(r.Context(), ticketID)
	if err != nil {
		s.ticketError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

// handleUpdateTicket applies a staff edit. Staff may move a ticket to any
// status, including reopening a closed one.
func (s *Server) handleUpdateTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := strings.TrimSpace(chi.URLParam(r, "id"))
	var patch ticket.Patch
	if err := decodeJSON(r, &patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	t, err := s.tickets.Get(r.Context(), ticketID)
	if err != nil {
		s.ticketError(w, r, err)
		return
	}
	if err := t.Apply(patch, time.Now().UTC()); err != nil {
		s.ticketError(w, r, err)
		return
	}
	if err := s.tickets.Update(r.Context(), t); err != nil {
		s.ticketError(w, r, err)
		return
	}
	s.logger.Info("ticket updated", "ticket_id", t.ID, "status", string(t.Status))
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	ticketID := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.tickets.Delete(r.Context(), ticketID); err != nil {
		s.ticketError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ticket.Filter{
		Status:    ticket.Status(strings.TrimSpace(q.Get("status"))),
		SessionID: strings.TrimSpace(q.Get("session_id")),
		Priority:  ticket.Priority(strings.TrimSpace(q.Get("priority"))),
		Category:  strings.TrimSpace(q.Get("category")),
		Limit:     50,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_input", "unknown status")
		return
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		respondError(w, http.StatusBadRequest, "invalid_input", "unknown priority")
		return
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_input", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		filter.Limit = n
	}

	tickets, err := s.tickets.List(r.Context(), filter)
	if err != nil {
		s.ticketError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"tickets": tickets,
		"count":   len(tickets),
	})
}

func (s *Server) ticketError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ticket.ErrNotFound):
		respondError(w, http.StatusNotFound, "ticket_not_found", err.Error())
	case errors.Is(err, ticket.ErrInvalid):
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		s.logger.Error("ticket request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, http.StatusServiceUnavailable, "persistence_error", "ticket store unavailable")
	}
}
