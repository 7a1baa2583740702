package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/metrics"
	"github.com/scoopsocials/scoop-trust/internal/ratelimit"
)

// DefaultQueueLimit caps a moderator queue listing when the caller gives no limit.
const DefaultQueueLimit = 100

// Service runs the flag adjudication workflow: submission, moderator
// decisions, resubmission and the trust adjustments they cause.
type Service struct {
	store     Store
	limiter   *ratelimit.Limiter
	validator *flags.Validator
	notifier  Notifier
	policy    Policy
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source used for timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(store Store, limiter *ratelimit.Limiter, notifier Notifier, policy Policy, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:     store,
		limiter:   limiter,
		validator: flags.NewValidator(store),
		notifier:  notifier,
		policy:    policy,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the moderation policy in force.
func (s *Service) Policy() Policy {
	return s.policy
}

// SubmitRequest is the flagger-supplied part of a new flag.
type SubmitRequest struct {
	FlaggedUserID   uuid.UUID        `json:"flagged_user_id"`
	FlaggedAccount  flags.AccountRef `json:"flagged_account"`
	Category        flags.Category   `json:"category"`
	Evidence        string           `json:"evidence"`
	VerificationURL string           `json:"verification_url"`
}

// SubmitFlag validates a flag, charges it against the flagger's daily quota
// and queues it as PENDING. Rule violations return *flags.ValidationError,
// an exhausted quota returns *ratelimit.ExceededError.
func (s *Service) SubmitFlag(ctx context.Context, actor Actor, req SubmitRequest) (*flags.Flag, error) {
	if !actor.CanFlag() {
		return nil, ErrForbidden
	}

	sub := flags.Submission{
		FlaggerID:       actor.UserID,
		FlaggedUserID:   req.FlaggedUserID,
		FlaggedAccount:  req.FlaggedAccount,
		Category:        req.Category,
		Evidence:        req.Evidence,
		VerificationURL: req.VerificationURL,
	}
	if err := s.validator.Validate(ctx, sub); err != nil {
		var ve *flags.ValidationError
		if errors.As(err, &ve) {
			s.metrics.FlagRejected(string(ve.Kind))
			return nil, err
		}
		return nil, s.infra("submit_flag", err)
	}

	flagger, err := s.store.GetUser(ctx, actor.UserID)
	if err != nil {
		return nil, s.userErr("submit_flag", "flagger", actor.UserID, err)
	}
	flagged, err := s.store.GetUser(ctx, req.FlaggedUserID)
	if err != nil {
		return nil, s.userErr("submit_flag", "flagged user", req.FlaggedUserID, err)
	}

	flaggerScore := flagger.TrustScore()
	d, err := s.limiter.CheckAndConsume(ctx, actor.UserID, flaggerScore)
	if err != nil {
		return nil, s.infra("consume_quota", err)
	}
	if !d.Allowed {
		s.metrics.FlagRateLimited()
		s.logger.Info("flag rate limited",
			"user_id", actor.UserID,
			"limit", d.Limit,
			"used", d.Used,
		)
		return nil, d.Err()
	}

	now := s.now().UTC()
	f := &flags.Flag{
		ID:              uuid.New(),
		FlaggerID:       actor.UserID,
		FlaggedUserID:   req.FlaggedUserID,
		FlaggedAccount:  req.FlaggedAccount,
		Category:        req.Category,
		Evidence:        req.Evidence,
		VerificationURL: req.VerificationURL,
		Priority:        flags.ClassifyPriority(req.Category, flaggerScore, flagged.TrustScore(), flags.EvidenceLength(req.Evidence)),
		Status:          flags.StatusPending,
		SubmittedAt:     now,
		UpdatedAt:       now,
		Version:         1,
	}

	err = s.store.InTx(ctx, func(r Repository) error {
		if err := r.CreateFlag(ctx, f); err != nil {
			if errors.Is(err, common.ErrAlreadyExists) {
				return &flags.ValidationError{Kind: flags.KindDuplicatePendingFlag}
			}
			return fmt.Errorf("create flag: %w", err)
		}
		return r.AppendAudit(ctx, flags.AuditEntry{
			ID:      uuid.New(),
			FlagID:  f.ID,
			ActorID: actor.UserID,
			Action:  flags.ActionSubmitted,
			At:      now,
		})
	})
	if err != nil {
		var ve *flags.ValidationError
		if errors.As(err, &ve) {
			s.metrics.FlagRejected(string(ve.Kind))
			return nil, err
		}
		return nil, s.infra("submit_flag", err)
	}

	s.metrics.FlagSubmitted(string(f.Category), string(f.Priority))
	s.logger.Info("flag submitted",
		"flag_id", f.ID,
		"flagger_id", f.FlaggerID,
		"flagged_user_id", f.FlaggedUserID,
		"account", f.FlaggedAccount.String(),
		"category", f.Category,
		"priority", f.Priority,
	)
	s.notify(ctx, Event{
		Type:          EventFlagSubmitted,
		FlagID:        f.ID,
		FlaggerID:     f.FlaggerID,
		FlaggedUserID: f.FlaggedUserID,
		Account:       f.FlaggedAccount.String(),
		Category:      f.Category,
		Priority:      f.Priority,
		Status:        f.Status,
		At:            now,
	})
	return f, nil
}

// Quota reports today's flag allowance of a user without consuming it.
// A counter store outage yields Known=false rather than an error.
func (s *Service) Quota(ctx context.Context, userID uuid.UUID) (ratelimit.Quota, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return ratelimit.Quota{}, s.userErr("quota", "user", userID, err)
	}
	return s.limiter.Quota(ctx, userID, u.TrustScore()), nil
}

// UserTrust returns the stored trust state of a user.
func (s *Service) UserTrust(ctx context.Context, userID uuid.UUID) (*User, error) {
	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, s.userErr("user_trust", "user", userID, err)
	}
	return u, nil
}

// TrustScore computes the current score of a user from stored components.
func (s *Service) TrustScore(ctx context.Context, userID uuid.UUID) (int, error) {
	u, err := s.UserTrust(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.TrustScore(), nil
}

// GetFlag returns a flag and its audit trail. Only the two parties and
// moderators may see it.
func (s *Service) GetFlag(ctx context.Context, actor Actor, flagID uuid.UUID) (*flags.Flag, []flags.AuditEntry, error) {
	f, err := s.store.GetFlag(ctx, flagID)
	if err != nil {
		return nil, nil, classify("get_flag", err)
	}
	if !actor.Moderator && actor.UserID != f.FlaggerID && actor.UserID != f.FlaggedUserID {
		return nil, nil, ErrForbidden
	}
	trail, err := s.store.ListAudit(ctx, flagID)
	if err != nil {
		return nil, nil, s.infra("list_audit", err)
	}
	return f, trail, nil
}

// ListPending returns a fresh snapshot of the moderator queue, most urgent
// first and oldest first within a tier.
func (s *Service) ListPending(ctx context.Context, limit int) ([]flags.Flag, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	queue, err := s.store.ListFlagsByStatus(ctx, flags.StatusPending, limit)
	if err != nil {
		return nil, s.infra("list_pending", err)
	}
	flags.SortQueue(queue)
	return queue, nil
}

func (s *Service) notify(ctx context.Context, evt Event) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, evt); err != nil {
		s.logger.Warn("notification failed", "type", evt.Type, "flag_id", evt.FlagID, "error", err)
	}
}

func (s *Service) infra(op string, err error) error {
	err = classify(op, err)
	if common.IsInfrastructure(err) {
		s.metrics.InfraFailure(op)
		s.logger.Error("store unavailable", "op", op, "error", err)
	}
	return err
}

func (s *Service) userErr(op, role string, id uuid.UUID, err error) error {
	if errors.Is(err, common.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", role, id, ErrNotFound)
	}
	return s.infra(op, err)
}
