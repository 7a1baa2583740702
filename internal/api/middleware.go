package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
)

type ctxKey string

const ctxKeyActor ctxKey = "actor"

// Headers set by the gateway after it has authenticated the caller.
const (
	HeaderUserID        = "X-User-ID"
	HeaderAccountStatus = "X-Account-Status"
	HeaderPhoneVerified = "X-Phone-Verified"
	HeaderUserRole      = "X-User-Role"

	roleModerator = "moderator"
)

// BearerAuthMiddleware rejects requests without the shared gateway token.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token, token != ""
}

// IdentityMiddleware builds the calling moderation.Actor from gateway headers.
func IdentityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromHeaders(r.Header)
		if !ok {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or malformed caller identity")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyActor, actor)))
	})
}

// RequireModerator lets only moderators through. It must run after
// IdentityMiddleware.
func RequireModerator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromContext(r.Context())
		if !ok || !actor.Moderator {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "moderator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func actorFromHeaders(h http.Header) (moderation.Actor, bool) {
	id, err := uuid.Parse(strings.TrimSpace(h.Get(HeaderUserID)))
	if err != nil || id == uuid.Nil {
		return moderation.Actor{}, false
	}
	actor := moderation.Actor{
		UserID:        id,
		AccountStatus: moderation.AccountStatus(strings.ToLower(strings.TrimSpace(h.Get(HeaderAccountStatus)))),
		Moderator:     strings.EqualFold(strings.TrimSpace(h.Get(HeaderUserRole)), roleModerator),
	}
	if v := strings.TrimSpace(h.Get(HeaderPhoneVerified)); v != "" {
		verified, err := strconv.ParseBool(v)
		if err != nil {
			return moderation.Actor{}, false
		}
		actor.PhoneVerified = verified
	}
	return actor, true
}

func actorFromContext(ctx context.Context) (moderation.Actor, bool) {
	actor, ok := ctx.Value(ctxKeyActor).(moderation.Actor)
	return actor, ok
}
