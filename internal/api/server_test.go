package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/scoopsocials/scoop-trust/internal/counter"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/memstore"
	"github.com/scoopsocials/scoop-trust/internal/metrics"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
	"github.com/scoopsocials/scoop-trust/internal/ratelimit"
	"github.com/scoopsocials/scoop-trust/internal/trust"
)

const goodEvidence = "This profile reuses my photos and my handle with one extra letter."

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type downCounter struct{}

func (downCounter) IncrementAndGet(context.Context, string) (int64, error) {
	return 0, errors.New("dial tcp: connection refused")
}

func (downCounter) SetExpiry(context.Context, string, time.Duration) error {
	return errors.New("dial tcp: connection refused")
}

func (downCounter) Get(context.Context, string) (int64, bool, error) {
	return 0, false, errors.New("dial tcp: connection refused")
}

type testEnv struct {
	srv   *Server
	store *memstore.Store
}

func newTestEnv(t *testing.T, counterStore ratelimit.CounterStore, opts ...Option) *testEnv {
	t.Helper()
	logger := discardLogger()
	store := memstore.New()
	limiter := ratelimit.New(counterStore, logger)
	svc := moderation.New(store, limiter, nil, moderation.DefaultPolicy(), logger)
	return &testEnv{srv: NewServer(8760, svc, logger, opts...), store: store}
}

func (e *testEnv) user(score float64) uuid.UUID {
	id := uuid.New()
	e.store.AddUser(moderation.User{
		ID:            id,
		AccountStatus: moderation.AccountActive,
		PhoneVerified: true,
		Components: trust.Components{
			SocialMediaVerification: score,
			CommunityNetwork:        score,
			PlatformActivity:        score,
			ContentQuality:          score,
			TimeInvestment:          score,
			CommentEngagement:       score,
			EventParticipation:      score,
			ValidationAccuracy:      score,
		},
	})
	return id
}

type caller struct {
	id        uuid.UUID
	moderator bool
	verified  string
	status    string
}

func member(id uuid.UUID) caller {
	return caller{id: id, verified: "true", status: "active"}
}

func moderator(id uuid.UUID) caller {
	return caller{id: id, verified: "true", status: "active", moderator: true}
}

func (e *testEnv) do(t *testing.T, method, path string, c *caller, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				t.Fatal(err)
			}
			rdr = bytes.NewReader(raw)
		}
	}
	req := httptest.NewRequest(method, path, rdr)
	if c != nil {
		req.Header.Set(HeaderUserID, c.id.String())
		req.Header.Set(HeaderPhoneVerified, c.verified)
		req.Header.Set(HeaderAccountStatus, c.status)
		if c.moderator {
			req.Header.Set(HeaderUserRole, "moderator")
		}
	}
	w := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(w, req)
	return w
}

func flagBody(flagged uuid.UUID, handle string) map[string]any {
	return map[string]any{
		"flagged_user_id":  flagged,
		"flagged_account":  map[string]string{"platform": "instagram", "handle": handle},
		"category":         "FAKE_ACCOUNT",
		"evidence":         goodEvidence,
		"verification_url": "https://instagram.com/the_real_one",
	}
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())

	w := env.do(t, "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	body := decodeBody[map[string]any](t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory(),
		WithHealthCheck("postgres", func(context.Context) error { return nil }),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("refused") }),
	)

	w := env.do(t, "GET", "/health", nil, nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := decodeBody[struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	if body.Status != "degraded" || body.Checks["redis"] != "unavailable" || body.Checks["postgres"] != "ok" {
		t.Errorf("unexpected health body %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	m.FlagRateLimited()
	env := newTestEnv(t, counter.NewMemory(), WithMetricsHandler(m.Handler()))

	w := env.do(t, "GET", "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("scoop_flags_rate_limited_total 1")) {
		t.Errorf("metrics output missing counter:\n%s", w.Body.String())
	}
}

func TestNotFoundEndpoint(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())

	w := env.do(t, "GET", "/nonexistent", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory(), WithAPIToken("s3cret"))
	id := env.user(60)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic s3cret", http.StatusUnauthorized},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer s3cret", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/users/"+id.String()+"/trust", nil)
			req.Header.Set(HeaderUserID, id.String())
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.srv.Handler().ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestIdentityRequired(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())

	w := env.do(t, "GET", "/api/v1/flags/quota", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without identity, got %d", w.Code)
	}

	bad := caller{id: uuid.New(), verified: "maybe"}
	w = env.do(t, "GET", "/api/v1/flags/quota", &bad, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for malformed phone flag, got %d", w.Code)
	}
}

func TestSubmitFlag_QuotaAndLimit(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())
	flagger := env.user(60) // 2 per day
	flagged := env.user(60)
	c := member(flagger)

	w := env.do(t, "POST", "/api/v1/flags", &c, flagBody(flagged, "one"))
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeBody[flags.Flag](t, w)
	if created.Status != flags.StatusPending || created.FlaggerID != flagger {
		t.Errorf("unexpected flag %+v", created)
	}

	w = env.do(t, "GET", "/api/v1/flags/quota", &c, nil)
	q := decodeBody[ratelimit.Quota](t, w)
	if q.Limit != 2 || q.Used != 1 || q.Remaining != 1 || !q.Known {
		t.Errorf("unexpected quota %+v", q)
	}

	if w := env.do(t, "POST", "/api/v1/flags", &c, flagBody(flagged, "two")); w.Code != http.StatusCreated {
		t.Fatalf("second flag: expected 201, got %d", w.Code)
	}

	w = env.do(t, "POST", "/api/v1/flags", &c, flagBody(flagged, "three"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	body := decodeBody[map[string]any](t, w)
	if body["error"] != "DAILY_LIMIT_EXCEEDED" || body["remaining"] != float64(0) || body["limit"] != float64(2) {
		t.Errorf("unexpected 429 body %v", body)
	}
}

func TestSubmitFlag_Errors(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())
	flagger := env.user(95)
	flagged := env.user(60)

	short := flagBody(flagged, "short")
	short["evidence"] = "too short"

	badCategory := flagBody(flagged, "cat")
	badCategory["category"] = "RUDE"

	suspended := member(flagger)
	suspended.status = "suspended"

	unverified := member(flagger)
	unverified.verified = "false"

	c := member(flagger)
	tests := []struct {
		name     string
		caller   caller
		body     any
		want     int
		wantKind string
	}{
		{"evidence too short", c, short, http.StatusUnprocessableEntity, "EVIDENCE_TOO_SHORT"},
		{"invalid category", c, badCategory, http.StatusUnprocessableEntity, "INVALID_CATEGORY"},
		{"self flag", c, flagBody(flagger, "me"), http.StatusUnprocessableEntity, "SELF_FLAG_FORBIDDEN"},
		{"suspended account", suspended, flagBody(flagged, "x"), http.StatusForbidden, ""},
		{"unverified phone", unverified, flagBody(flagged, "x"), http.StatusForbidden, ""},
		{"unknown flagged user", c, flagBody(uuid.New(), "x"), http.StatusNotFound, ""},
		{"bad json", c, "{not json", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/flags", &tt.caller, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.wantKind != "" {
				body := decodeBody[map[string]any](t, w)
				if body["kind"] != tt.wantKind || body["message"] == "" {
					t.Errorf("unexpected body %v", body)
				}
			}
		})
	}
}

func TestSubmitFlag_CounterStoreDown(t *testing.T) {
	env := newTestEnv(t, downCounter{})
	flagger := env.user(95)
	flagged := env.user(60)
	c := member(flagger)

	w := env.do(t, "POST", "/api/v1/flags", &c, flagBody(flagged, "x"))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	body := decodeBody[map[string]any](t, w)
	if body["message"] != "try again later" {
		t.Errorf("unexpected body %v", body)
	}

	// The display path fails open.
	w = env.do(t, "GET", "/api/v1/flags/quota", &c, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for quota, got %d", w.Code)
	}
	q := decodeBody[ratelimit.Quota](t, w)
	if q.Known || q.Remaining != q.Limit || q.Limit != 5 {
		t.Errorf("unexpected fail-open quota %+v", q)
	}
}

func TestDecisionFlow(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())
	flagger := env.user(60)
	flagged := env.user(60)
	mod := moderator(env.user(80))
	c := member(flagger)

	w := env.do(t, "POST", "/api/v1/flags", &c, flagBody(flagged, "fake"))
	if w.Code != http.StatusCreated {
		t.Fatalf("submit: %d %s", w.Code, w.Body.String())
	}
	f := decodeBody[flags.Flag](t, w)
	path := "/api/v1/flags/" + f.ID.String()

	if w := env.do(t, "POST", path+"/decision", &c, map[string]string{"decision": "APPROVED", "explanation": "Looks fake to me."}); w.Code != http.StatusForbidden {
		t.Errorf("non-moderator decision: expected 403, got %d", w.Code)
	}

	if w := env.do(t, "POST", path+"/decision", &mod, map[string]string{"decision": "APPROVED", "explanation": "ok"}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("short explanation: expected 422, got %d", w.Code)
	}

	if w := env.do(t, "POST", path+"/decision", &mod, map[string]string{"decision": "MAYBE", "explanation": "Not sure about this one."}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("invalid decision: expected 422, got %d", w.Code)
	}

	w = env.do(t, "POST", path+"/decision", &mod, map[string]string{"decision": "APPROVED", "explanation": "Photos match the real profile."})
	if w.Code != http.StatusOK {
		t.Fatalf("decision: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeBody[flagResponse](t, w)
	if resp.Flag.Status != flags.StatusApproved || resp.Flag.Decision == nil || len(resp.Audit) != 2 {
		t.Errorf("unexpected decided flag %+v", resp)
	}

	w = env.do(t, "POST", path+"/decision", &mod, map[string]string{"decision": "DENIED", "explanation": "Changed my mind on this."})
	if w.Code != http.StatusConflict {
		t.Errorf("second decision: expected 409, got %d", w.Code)
	}
	if body := decodeBody[map[string]any](t, w); body["error"] != "INVALID_STATE_TRANSITION" {
		t.Errorf("unexpected 409 body %v", body)
	}

	w = env.do(t, "GET", "/api/v1/users/"+flagged.String()+"/trust", &c, nil)
	tr := decodeBody[trustResponse](t, w)
	if tr.TrustScore != 55 || tr.Components.SocialMediaVerification != 35 {
		t.Errorf("unexpected flagged user trust %+v", tr)
	}

	stranger := member(env.user(50))
	if w := env.do(t, "GET", path, &stranger, nil); w.Code != http.StatusForbidden {
		t.Errorf("stranger read: expected 403, got %d", w.Code)
	}
	if w := env.do(t, "GET", path, &c, nil); w.Code != http.StatusOK {
		t.Errorf("flagger read: expected 200, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/flags/"+uuid.NewString(), &mod, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown flag: expected 404, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/flags/not-a-uuid", &mod, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", w.Code)
	}
}

func TestNeedInfoResubmit(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())
	flagger := env.user(60)
	flagged := env.user(60)
	mod := moderator(env.user(80))
	c := member(flagger)

	w := env.do(t, "POST", "/api/v1/flags", &c, flagBody(flagged, "need-info"))
	f := decodeBody[flags.Flag](t, w)
	path := "/api/v1/flags/" + f.ID.String()

	if w := env.do(t, "POST", path+"/resubmit", &c, map[string]string{"evidence": goodEvidence, "verification_url": "https://x.com/real"}); w.Code != http.StatusConflict {
		t.Errorf("resubmit while pending: expected 409, got %d", w.Code)
	}

	if w := env.do(t, "POST", path+"/decision", &mod, map[string]string{"decision": "NEED_INFO", "explanation": "Please link the real account."}); w.Code != http.StatusOK {
		t.Fatalf("need info: %d", w.Code)
	}

	other := member(env.user(60))
	if w := env.do(t, "POST", path+"/resubmit", &other, map[string]string{"evidence": goodEvidence, "verification_url": "https://x.com/real"}); w.Code != http.StatusForbidden {
		t.Errorf("resubmit by stranger: expected 403, got %d", w.Code)
	}

	w = env.do(t, "POST", path+"/resubmit", &c, map[string]string{"evidence": goodEvidence + " The real one is linked below.", "verification_url": "https://x.com/real"})
	if w.Code != http.StatusOK {
		t.Fatalf("resubmit: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeBody[flags.Flag](t, w); got.Status != flags.StatusPending {
		t.Errorf("expected PENDING after resubmit, got %s", got.Status)
	}
}

func TestModerationQueue(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())
	mod := moderator(env.user(80))
	flagged := env.user(40)

	high := member(env.user(95))
	low := member(env.user(40))

	lowBody := flagBody(flagged, "low")
	lowBody["category"] = "SPAM"
	if w := env.do(t, "POST", "/api/v1/flags", &low, lowBody); w.Code != http.StatusCreated {
		t.Fatalf("low flag: %d", w.Code)
	}
	if w := env.do(t, "POST", "/api/v1/flags", &high, flagBody(flagged, "high")); w.Code != http.StatusCreated {
		t.Fatalf("high flag: %d", w.Code)
	}

	if w := env.do(t, "GET", "/api/v1/moderation/queue", &high, nil); w.Code != http.StatusForbidden {
		t.Errorf("member queue access: expected 403, got %d", w.Code)
	}
	if w := env.do(t, "GET", "/api/v1/moderation/queue?limit=abc", &mod, nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: expected 400, got %d", w.Code)
	}

	w := env.do(t, "GET", "/api/v1/moderation/queue", &mod, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("queue: %d", w.Code)
	}
	q := decodeBody[queueResponse](t, w)
	if q.Count != 2 || q.Flags[0].FlaggerID != high.id {
		t.Errorf("expected the high-trust flag first, got %+v", q.Flags)
	}

	w = env.do(t, "GET", "/api/v1/moderation/queue?limit=1", &mod, nil)
	if q := decodeBody[queueResponse](t, w); q.Count != 1 {
		t.Errorf("expected limit to apply, got %d", q.Count)
	}
}

func TestExpireNeedInfo_Disabled(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())
	mod := moderator(env.user(80))

	w := env.do(t, "POST", "/api/v1/moderation/expire-need-info", &mod, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decodeBody[map[string]int](t, w); body["expired"] != 0 {
		t.Errorf("expected nothing expired, got %v", body)
	}
}

func TestRegisterUser(t *testing.T) {
	env := newTestEnv(t, counter.NewMemory())
	id := uuid.New()

	for i := 0; i < 2; i++ {
		w := env.do(t, "POST", "/api/v1/users", nil, map[string]any{"user_id": id, "phone_verified": true})
		if w.Code != http.StatusOK {
			t.Fatalf("register #%d: expected 200, got %d", i+1, w.Code)
		}
		tr := decodeBody[trustResponse](t, w)
		if tr.UserID != id || tr.TrustScore != 20 || tr.AccountStatus != moderation.AccountActive {
			t.Errorf("unexpected registration %+v", tr)
		}
	}

	if w := env.do(t, "POST", "/api/v1/users", nil, map[string]any{"phone_verified": true}); w.Code != http.StatusBadRequest {
		t.Errorf("missing id: expected 400, got %d", w.Code)
	}

	c := member(id)
	if w := env.do(t, "GET", "/api/v1/users/"+uuid.NewString()+"/trust", &c, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown user: expected 404, got %d", w.Code)
	}
}
