package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/helpdesk/internal/chat"
	"github.com/ent0n29/helpdesk/internal/config"
	"github.com/ent0n29/helpdesk/internal/observability"
	"github.com/ent0n29/helpdesk/internal/preference"
	"github.com/ent0n29/helpdesk/internal/ticket"
)

type Server struct {
	cfg         config.Config
	chat        *chat.Orchestrator
	tickets     ticket.Registry
	preferences preference.Store
	metrics     *observability.Metrics
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, orchestrator *chat.Orchestrator, tickets ticket.Registry, preferences preference.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Server{
		cfg:         cfg,
		chat:        orchestrator,
		tickets:     tickets,
		preferences: preferences,
		metrics:     metrics,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the widget's own origin may open a browser socket unless
				// explicitly relaxed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/v1/chat", func(r chi.Router) {
		r.Get("/ws", s.handleChatWS)
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Get("/sessions/{id}/transcript", s.handleTranscript)
		r.Post("/sessions/{id}/transfer", s.handleTransfer)
		r.Post("/sessions/{id}/contact", s.handleContact)
		r.Post("/sessions/{id}/feedback", s.handleFeedback)
	})

	r.Get("/v1/queue", s.handleQueue)
	r.Post("/v1/queue/accept", s.handleAcceptNext)
	r.Post("/v1/queue/{id}/release", s.handleReleaseQueueEntry)

	r.Post("/v1/tickets", s.handleCreateTicket)
	r.Get("/v1/tickets", s.handleListTickets)
	r.Get("/v1/tickets/{id}", s.handleGetTicket)
	r.Patch("/v1/tickets/{id}", s.handleUpdateTicket)
	r.Delete("/v1/tickets/{id}", s.handleDeleteTicket)

	r.Post("/language/preference", s.handleLanguage)
	r.Post("/language/save", s.handleLanguage)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"ticket_store": s.cfg.TicketStore,
		"responder":    s.cfg.AIResponderMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.chat == nil || s.tickets == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "orchestrator not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"queue_depth": len(s.chat.QueueSnapshot()),
		"languages":   s.chat.Catalog().Languages(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondChatError maps an orchestrator error onto the HTTP error body.
// Internal failures keep their detail out of the response.
func (s *Server) respondChatError(w http.ResponseWriter, r *http.Request, err error) {
	status := chat.HTTPStatus(err)
	code := chat.ErrorCode(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", code, "error", err)
		msg = s.chat.Catalog().T(requestLanguage(r), chat.MessageKey(err), nil)
	}
	respondError(w, status, code, msg)
}

// requestLanguage picks the caller's locale from ?lang= or Accept-Language.
func requestLanguage(r *http.Request) string {
	if lang := strings.TrimSpace(r.URL.Query().Get("lang")); lang != "" {
		return lang
	}
	accept := r.Header.Get("Accept-Language")
	if i := strings.IndexAny(accept, ",;"); i >= 0 {
		accept = accept[:i]
	}
	return strings.TrimSpace(accept)
}
