package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
	"github.com/scoopsocials/scoop-trust/internal/ratelimit"
)

type errorBody struct {
	Error     string     `json:"error"`
	Message   string     `json:"message"`
	Kind      string     `json:"kind,omitempty"`
	Limit     *int       `json:"limit,omitempty"`
	Remaining *int       `json:"remaining,omitempty"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeServiceError maps a moderation error onto an HTTP response. Store
// internals are never echoed back.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *flags.ValidationError
		ex *ratelimit.ExceededError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Error:   "VALIDATION_FAILED",
			Kind:    string(ve.Kind),
			Message: ve.Message(),
		})
	case errors.As(err, &ex):
		remaining := ex.Remaining
		resetAt := ex.ResetAt
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(resetAt)))
		writeJSON(w, http.StatusTooManyRequests, errorBody{
			Error:     "DAILY_LIMIT_EXCEEDED",
			Message:   ex.Error(),
			Limit:     &ex.Limit,
			Remaining: &remaining,
			ResetAt:   &resetAt,
		})
	case errors.Is(err, moderation.ErrInvalidStateTransition):
		writeError(w, http.StatusConflict, "INVALID_STATE_TRANSITION", "the flag is not in a state that allows this action")
	case errors.Is(err, moderation.ErrExplanationTooShort):
		writeError(w, http.StatusUnprocessableEntity, "EXPLANATION_TOO_SHORT", "explain the decision in at least 10 characters")
	case errors.Is(err, moderation.ErrInvalidDecision):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_DECISION", "decision must be APPROVED, DENIED or NEED_INFO")
	case errors.Is(err, moderation.ErrForbidden):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "not allowed")
	case errors.Is(err, moderation.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case common.IsInfrastructure(err):
		writeError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "try again later")
	default:
		s.logger.Error("unhandled service error", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func retryAfterSeconds(resetAt time.Time) int {
	secs := int(math.Ceil(time.Until(resetAt).Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
