package chat

import (
	"errors"
	"net/http"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrAlreadyProvided    = errors.New("already provided")
	ErrAIError            = errors.New("ai responder error")
	ErrQueueInconsistency = errors.New("queue inconsistency")
	ErrPersistence        = errors.New("persistence error")
	ErrInvalidInput       = errors.New("invalid input")
	ErrQueueEmpty         = errors.New("queue empty")
	ErrClosed             = errors.New("orchestrator closed")

	errClaimLost = errors.New("queue claim lost")
)

// ErrorCode maps an orchestrator error to its wire code. Queue
// inconsistencies are internal and surface as internal_error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrAlreadyProvided):
		return "already_provided"
	case errors.Is(err, ErrAIError):
		return "ai_error"
	case errors.Is(err, ErrPersistence):
		return "persistence_error"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrQueueEmpty):
		return "queue_empty"
	default:
		return "internal_error"
	}
}

// MessageKey is the i18n key of the localized text for err.
func MessageKey(err error) string {
	return "errors." + ErrorCode(err)
}

// HTTPStatus maps an orchestrator error to a response status.
func HTTPStatus(err error) int {
	switch ErrorCode(err) {
	case "session_not_found":
		return http.StatusNotFound
	case "invalid_transition", "already_provided", "queue_empty":
		return http.StatusConflict
	case "invalid_input":
		return http.StatusBadRequest
	case "persistence_error", "ai_error":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
