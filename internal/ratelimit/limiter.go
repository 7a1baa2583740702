package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/common"
)

const (
	keyPrefix  = "daily_flags"
	counterTTL = 24 * time.Hour
)

// CounterStore is a durable counter with atomic increment and TTL.
type CounterStore interface {
	IncrementAndGet(ctx context.Context, key string) (int64, error)
	SetExpiry(ctx context.Context, key string, ttl time.Duration) error
	Get(ctx context.Context, key string) (int64, bool, error)
}

// DailyLimit returns how many flags a user may submit per UTC day.
func DailyLimit(trustScore int) int {
	switch {
	case trustScore >= 90:
		return 5
	case trustScore >= 70:
		return 3
	case trustScore >= 50:
		return 2
	default:
		return 1
	}
}

// Key returns the counter key for a user on the UTC day containing t.
func Key(userID uuid.UUID, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, userID, t.UTC().Format(time.DateOnly))
}

// NextReset returns the UTC midnight following t.
func NextReset(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

// Decision is the outcome of a consume attempt.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Err returns an *ExceededError when the attempt was denied.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &ExceededError{Limit: d.Limit, Remaining: 0, ResetAt: d.ResetAt}
}

// Quota is the read-only view of today's allowance. Known is false when the
// counter store could not be read.
type Quota struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	Known     bool      `json:"known"`
	ResetAt   time.Time `json:"reset_at"`
}

// ExceededError reports an exhausted daily quota.
type ExceededError struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("daily flag limit of %d reached, resets at %s", e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Limiter enforces the per-user daily flag quota.
type Limiter struct {
	store    CounterStore
	failOpen bool
	now      func() time.Time
	logger   *slog.Logger
}

type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithFailOpen allows consumption when the counter store is unreachable.
// Only meant for local development.
func WithFailOpen(failOpen bool) Option {
	return func(l *Limiter) { l.failOpen = failOpen }
}

func New(store CounterStore, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndConsume counts one flag attempt against today's quota. Every call
// increments the counter, including calls that end up denied.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID uuid.UUID, trustScore int) (Decision, error) {
	now := l.now().UTC()
	limit := DailyLimit(trustScore)
	key := Key(userID, now)
	d := Decision{Limit: limit, ResetAt: NextReset(now)}

	n, err := l.store.IncrementAndGet(ctx, key)
	if err != nil {
		if l.failOpen {
			l.logger.Warn("counter store unavailable, allowing flag",
				"user_id", userID,
				"key", key,
				"error", err,
			)
			d.Allowed = true
			d.Remaining = limit
			return d, nil
		}
		return d, common.Infra("increment daily flag counter", err)
	}

	if n == 1 {
		if err := l.store.SetExpiry(ctx, key, counterTTL); err != nil {
			l.logger.Warn("failed to set daily flag counter expiry", "key", key, "error", err)
		}
	}

	d.Used = int(n)
	d.Allowed = d.Used <= limit
	d.Remaining = max(0, limit-d.Used)
	return d, nil
}

// Quota reports today's allowance without consuming it. A counter store
// failure is logged and reported as an unknown count, never as an error.
func (l *Limiter) Quota(ctx context.Context, userID uuid.UUID, trustScore int) Quota {
	now := l.now().UTC()
	limit := DailyLimit(trustScore)
	q := Quota{Limit: limit, Remaining: limit, ResetAt: NextReset(now)}

	n, _, err := l.store.Get(ctx, Key(userID, now))
	if err != nil {
		l.logger.Warn("failed to read daily flag counter", "user_id", userID, "error", err)
		return q
	}

	q.Known = true
	q.Used = min(int(n), limit)
	q.Remaining = max(0, limit-int(n))
	return q
}
