package httpapi

import (
	"net/http"
	"strings"

	"github.com/ent0n29/helpdesk/internal/i18n"
)

type languageRequest struct {
	Language  string `json:"language"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

// handleLanguage stores the caller's locale for future chats and, when a
// session is named, switches that session too.
func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	var req languageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	lang := i18n.Normalize(req.Language)
	if !s.chat.Catalog().Supports(lang) {
		respondError(w, http.StatusBadRequest, "invalid_input", "unsupported language")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionID = strings.TrimSpace(req.SessionID)

	if req.SessionID != "" {
		sess, err := s.chat.SetLanguage(r.Context(), req.SessionID, lang)
		if err != nil {
			s.respondChatError(w, r, err)
			return
		}
		if req.UserID == "" {
			req.UserID = sess.UserID
		}
	}
	saved := false
	if req.UserID != "" && s.preferences != nil {
		if _, err := s.preferences.Set(r.Context(), req.UserID, lang); err != nil {
			s.logger.Warn("language preference not saved", "user_id", req.UserID, "error", err)
		} else {
			saved = true
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"language":   lang,
		"user_id":    req.UserID,
		"session_id": req.SessionID,
		"saved":      saved,
	})
}
