package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
	"github.com/scoopsocials/scoop-trust/internal/trust"
)

const maxQueueLimit = 500

type decisionRequest struct {
	Decision    flags.Status `json:"decision"`
	Explanation string       `json:"explanation"`
}

type resubmitRequest struct {
	Evidence        string `json:"evidence"`
	VerificationURL string `json:"verification_url"`
}

type flagResponse struct {
	Flag  *flags.Flag        `json:"flag"`
	Audit []flags.AuditEntry `json:"audit"`
}

type queueResponse struct {
	Flags []flags.Flag `json:"flags"`
	Count int          `json:"count"`
}

type trustResponse struct {
	UserID         uuid.UUID                `json:"user_id"`
	TrustScore     int                      `json:"trust_score"`
	Components     trust.Components         `json:"components"`
	FalseFlagCount int                      `json:"false_flag_count"`
	AccountStatus  moderation.AccountStatus `json:"account_status"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "request body is not valid JSON")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// submitFlag handles POST /api/v1/flags
func (s *Server) submitFlag(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	var req moderation.SubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, err := s.svc.SubmitFlag(r.Context(), actor, req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// quota handles GET /api/v1/flags/quota
func (s *Server) quota(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFromContext(r.Context())

	q, err := s.svc.Quota(r.Context(), actor.UserID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

// getFlag handles GET /api/v1/flags/{id}
func (s *Server) getFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := actorFromContext(r.Context())

	f, trail, err := s.svc.GetFlag(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if trail == nil {
		trail = []flags.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, flagResponse{Flag: f, Audit: trail})
}

// decideFlag handles POST /api/v1/flags/{id}/decision
func (s *Server) decideFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := actorFromContext(r.Context())

	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	err := s.svc.Decide(r.Context(), moderation.DecideRequest{
		FlagID:      id,
		ModeratorID: actor.UserID,
		Decision:    req.Decision,
		Explanation: req.Explanation,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	f, trail, err := s.svc.GetFlag(r.Context(), actor, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, flagResponse{Flag: f, Audit: trail})
}

// resubmitFlag handles POST /api/v1/flags/{id}/resubmit
func (s *Server) resubmitFlag(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	actor, _ := actorFromContext(r.Context())

	var req resubmitRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	f, err := s.svc.Resubmit(r.Context(), moderation.ResubmitRequest{
		FlagID:          id,
		FlaggerID:       actor.UserID,
		Evidence:        req.Evidence,
		VerificationURL: req.VerificationURL,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// queue handles GET /api/v1/moderation/queue
func (s *Server) queue(w http.ResponseWriter, r *http.Request) {
	limit := moderation.DefaultQueueLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxQueueLimit {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	queue, err := s.svc.ListPending(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if queue == nil {
		queue = []flags.Flag{}
	}
	writeJSON(w, http.StatusOK, queueResponse{Flags: queue, Count: len(queue)})
}

// expireNeedInfo handles POST /api/v1/moderation/expire-need-info
func (s *Server) expireNeedInfo(w http.ResponseWriter, r *http.Request) {
	n, err := s.svc.ExpireNeedInfo(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// userTrust handles GET /api/v1/users/{id}/trust
func (s *Server) userTrust(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	u, err := s.svc.UserTrust(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trustResponse{
		UserID:         u.ID,
		TrustScore:     u.TrustScore(),
		Components:     u.Components,
		FalseFlagCount: u.FalseFlagCount,
		AccountStatus:  u.AccountStatus,
	})
}

// registerUser handles POST /api/v1/users
func (s *Server) registerUser(w http.ResponseWriter, r *http.Request) {
	var req moderation.RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "user_id is required")
		return
	}

	u, err := s.svc.RegisterUser(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trustResponse{
		UserID:         u.ID,
		TrustScore:     u.TrustScore(),
		Components:     u.Components,
		FalseFlagCount: u.FalseFlagCount,
		AccountStatus:  u.AccountStatus,
	})
}
