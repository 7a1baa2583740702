package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/trust"
)

// SystemActor is the actor id recorded for automatic transitions.
var SystemActor = uuid.Nil

const expiryExplanation = "No additional information was supplied before the deadline."

// DecideRequest is a moderator ruling on a pending flag.
type DecideRequest struct {
	FlagID      uuid.UUID    `json:"flag_id"`
	ModeratorID uuid.UUID    `json:"moderator_id"`
	Decision    flags.Status `json:"decision"`
	Explanation string       `json:"explanation"`
}

// scoreChange records one trust mutation made inside a decision.
type scoreChange struct {
	userID uuid.UUID
	kind   string
	before int
	after  int
}

// Decide applies a moderator ruling. The state change, the resulting trust
// adjustments and the audit entry are written in one transaction. A flag
// that is no longer PENDING, including one that a concurrent moderator
// decided first, yields ErrInvalidStateTransition and changes nothing.
func (s *Service) Decide(ctx context.Context, req DecideRequest) error {
	explanation := strings.TrimSpace(req.Explanation)
	if utf8.RuneCountInString(explanation) < MinExplanationLength {
		return ErrExplanationTooShort
	}
	switch req.Decision {
	case flags.StatusApproved, flags.StatusDenied, flags.StatusNeedInfo:
	default:
		return ErrInvalidDecision
	}

	now := s.now().UTC()
	var (
		decided *flags.Flag
		changes []scoreChange
	)
	err := s.store.InTx(ctx, func(r Repository) error {
		changes = changes[:0]

		f, err := r.GetFlag(ctx, req.FlagID)
		if err != nil {
			return err
		}
		if f.Status != flags.StatusPending {
			return ErrInvalidStateTransition
		}
		if req.ModeratorID == f.FlaggerID || req.ModeratorID == f.FlaggedUserID {
			return ErrForbidden
		}

		f.Status = req.Decision
		f.UpdatedAt = now
		f.Decision = &flags.Decision{
			DecidedBy:   req.ModeratorID,
			Explanation: explanation,
			DecidedAt:   now,
		}
		if err := r.TransitionFlag(ctx, f, flags.StatusPending); err != nil {
			return err
		}

		switch req.Decision {
		case flags.StatusApproved:
			changes, err = s.applyApproved(ctx, r, f)
		case flags.StatusDenied:
			changes, err = s.applyDenied(ctx, r, f)
		}
		if err != nil {
			return err
		}

		if err := r.AppendAudit(ctx, flags.AuditEntry{
			ID:          uuid.New(),
			FlagID:      f.ID,
			ActorID:     req.ModeratorID,
			Action:      flags.ActionFor(req.Decision),
			Explanation: explanation,
			At:          now,
		}); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		decided = f
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidStateTransition) || errors.Is(err, common.ErrConflict) {
			s.logger.Info("decision rejected, flag already decided", "flag_id", req.FlagID, "moderator_id", req.ModeratorID)
		}
		return s.infra("decide", err)
	}

	s.metrics.Decision(string(req.Decision))
	s.logger.Info("flag decided",
		"flag_id", decided.ID,
		"moderator_id", req.ModeratorID,
		"decision", req.Decision,
		"adjustments", len(changes),
	)
	s.notify(ctx, Event{
		Type:          EventFlagDecided,
		FlagID:        decided.ID,
		FlaggerID:     decided.FlaggerID,
		FlaggedUserID: decided.FlaggedUserID,
		Account:       decided.FlaggedAccount.String(),
		Category:      decided.Category,
		Priority:      decided.Priority,
		Status:        decided.Status,
		At:            now,
	})
	s.publishChanges(ctx, decided.ID, changes, now)
	return nil
}

// applyApproved penalises the flagged user, marks the disputed account and
// rewards the flagger for an accurate flag.
func (s *Service) applyApproved(ctx context.Context, r Repository, f *flags.Flag) ([]scoreChange, error) {
	flagged, err := r.GetUser(ctx, f.FlaggedUserID)
	if err != nil {
		return nil, fmt.Errorf("load flagged user: %w", err)
	}
	before := flagged.TrustScore()
	comps := flagged.Components.Adjust(s.policy.ApprovedFlagComponent, -s.policy.ApprovedFlagPenalty)
	if err := r.UpdateUserTrust(ctx, flagged.ID, comps, flagged.FalseFlagCount); err != nil {
		return nil, fmt.Errorf("update flagged user trust: %w", err)
	}
	if err := r.MarkAccountDisputed(ctx, flagged.ID, f.FlaggedAccount); err != nil {
		return nil, fmt.Errorf("mark account disputed: %w", err)
	}
	changes := []scoreChange{{
		userID: flagged.ID,
		kind:   "approved_flag",
		before: before,
		after:  trust.ComputeScore(comps),
	}}

	if s.policy.AccurateFlagReward > 0 {
		flagger, err := r.GetUser(ctx, f.FlaggerID)
		if err != nil {
			return nil, fmt.Errorf("load flagger: %w", err)
		}
		before := flagger.TrustScore()
		comps := flagger.Components.Adjust(trust.ValidationAccuracy, s.policy.AccurateFlagReward)
		if err := r.UpdateUserTrust(ctx, flagger.ID, comps, flagger.FalseFlagCount); err != nil {
			return nil, fmt.Errorf("update flagger trust: %w", err)
		}
		changes = append(changes, scoreChange{
			userID: flagger.ID,
			kind:   "accurate_flag",
			before: before,
			after:  trust.ComputeScore(comps),
		})
	}
	return changes, nil
}

// applyDenied charges the flagger for a false flag along the escalating ladder.
func (s *Service) applyDenied(ctx context.Context, r Repository, f *flags.Flag) ([]scoreChange, error) {
	flagger, err := r.GetUser(ctx, f.FlaggerID)
	if err != nil {
		return nil, fmt.Errorf("load flagger: %w", err)
	}
	count := flagger.FalseFlagCount + 1
	before := flagger.TrustScore()
	comps := trust.ApplyScorePenalty(flagger.Components, s.policy.FalseFlagPenalty(count), s.policy.FalseFlagOrder)
	if err := r.UpdateUserTrust(ctx, flagger.ID, comps, count); err != nil {
		return nil, fmt.Errorf("update flagger trust: %w", err)
	}
	return []scoreChange{{
		userID: flagger.ID,
		kind:   "false_flag",
		before: before,
		after:  trust.ComputeScore(comps),
	}}, nil
}

func (s *Service) publishChanges(ctx context.Context, flagID uuid.UUID, changes []scoreChange, at time.Time) {
	for _, c := range changes {
		s.metrics.TrustAdjusted(c.kind)
		s.logger.Info("trust adjusted",
			"user_id", c.userID,
			"flag_id", flagID,
			"kind", c.kind,
			"before", c.before,
			"after", c.after,
		)
		s.notify(ctx, Event{
			Type:          EventTrustUpdated,
			FlagID:        flagID,
			UserID:        c.userID,
			TrustScore:    c.after,
			PreviousScore: c.before,
			At:            at,
		})
	}
}

// ResubmitRequest carries the flagger's answer to a NEED_INFO ruling.
type ResubmitRequest struct {
	FlagID          uuid.UUID `json:"flag_id"`
	FlaggerID       uuid.UUID `json:"flagger_id"`
	Evidence        string    `json:"evidence"`
	VerificationURL string    `json:"verification_url"`
}

// Resubmit moves a NEED_INFO flag back to PENDING with new evidence. Only the
// original flagger may resubmit, and it does not count against the daily quota.
func (s *Service) Resubmit(ctx context.Context, req ResubmitRequest) (*flags.Flag, error) {
	if err := flags.CheckEvidence(req.Evidence, req.VerificationURL); err != nil {
		var ve *flags.ValidationError
		if errors.As(err, &ve) {
			s.metrics.FlagRejected(string(ve.Kind))
		}
		return nil, err
	}

	now := s.now().UTC()
	var updated *flags.Flag
	err := s.store.InTx(ctx, func(r Repository) error {
		f, err := r.GetFlag(ctx, req.FlagID)
		if err != nil {
			return err
		}
		if f.FlaggerID != req.FlaggerID {
			return ErrForbidden
		}
		if f.Status != flags.StatusNeedInfo {
			return ErrInvalidStateTransition
		}
		dup, err := r.HasPendingFlag(ctx, f.FlaggerID, f.FlaggedUserID, f.FlaggedAccount)
		if err != nil {
			return fmt.Errorf("check pending flags: %w", err)
		}
		if dup {
			return &flags.ValidationError{Kind: flags.KindDuplicatePendingFlag}
		}

		flagger, err := r.GetUser(ctx, f.FlaggerID)
		if err != nil {
			return fmt.Errorf("load flagger: %w", err)
		}
		flagged, err := r.GetUser(ctx, f.FlaggedUserID)
		if err != nil {
			return fmt.Errorf("load flagged user: %w", err)
		}

		f.Evidence = req.Evidence
		f.VerificationURL = req.VerificationURL
		f.Priority = flags.ClassifyPriority(f.Category, flagger.TrustScore(), flagged.TrustScore(), flags.EvidenceLength(req.Evidence))
		f.Status = flags.StatusPending
		f.Decision = nil
		f.UpdatedAt = now
		if err := r.TransitionFlag(ctx, f, flags.StatusNeedInfo); err != nil {
			if errors.Is(err, common.ErrAlreadyExists) {
				return &flags.ValidationError{Kind: flags.KindDuplicatePendingFlag}
			}
			return err
		}
		if err := r.AppendAudit(ctx, flags.AuditEntry{
			ID:      uuid.New(),
			FlagID:  f.ID,
			ActorID: req.FlaggerID,
			Action:  flags.ActionResubmitted,
			At:      now,
		}); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		updated = f
		return nil
	})
	if err != nil {
		var ve *flags.ValidationError
		if errors.As(err, &ve) {
			s.metrics.FlagRejected(string(ve.Kind))
		}
		return nil, s.infra("resubmit", err)
	}

	s.logger.Info("flag resubmitted", "flag_id", updated.ID, "priority", updated.Priority)
	s.notify(ctx, Event{
		Type:          EventFlagResubmitted,
		FlagID:        updated.ID,
		FlaggerID:     updated.FlaggerID,
		FlaggedUserID: updated.FlaggedUserID,
		Account:       updated.FlaggedAccount.String(),
		Category:      updated.Category,
		Priority:      updated.Priority,
		Status:        updated.Status,
		At:            now,
	})
	return updated, nil
}

// ExpireNeedInfo denies every NEED_INFO flag that has waited longer than
// the policy's NeedInfoExpiry. Expired flags carry no false-flag penalty.
// It returns the number of flags expired; with expiry disabled it does nothing.
func (s *Service) ExpireNeedInfo(ctx context.Context) (int, error) {
	if s.policy.NeedInfoExpiry <= 0 {
		return 0, nil
	}
	now := s.now().UTC()
	cutoff := now.Add(-s.policy.NeedInfoExpiry)

	stale, err := s.store.ListFlagsUpdatedBefore(ctx, flags.StatusNeedInfo, cutoff)
	if err != nil {
		return 0, s.infra("expire_need_info", err)
	}

	expired := 0
	for _, candidate := range stale {
		var done *flags.Flag
		err := s.store.InTx(ctx, func(r Repository) error {
			f, err := r.GetFlag(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if f.Status != flags.StatusNeedInfo || !f.UpdatedAt.Before(cutoff) {
				return ErrInvalidStateTransition
			}
			f.Status = flags.StatusDenied
			f.UpdatedAt = now
			f.Decision = &flags.Decision{
				DecidedBy:   SystemActor,
				Explanation: expiryExplanation,
				DecidedAt:   now,
			}
			if err := r.TransitionFlag(ctx, f, flags.StatusNeedInfo); err != nil {
				return err
			}
			if err := r.AppendAudit(ctx, flags.AuditEntry{
				ID:          uuid.New(),
				FlagID:      f.ID,
				ActorID:     SystemActor,
				Action:      flags.ActionExpired,
				Explanation: expiryExplanation,
				At:          now,
			}); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}
			done = f
			return nil
		})
		err = classify("expire_need_info", err)
		switch {
		case err == nil:
		case errors.Is(err, ErrInvalidStateTransition), errors.Is(err, ErrNotFound):
			s.logger.Debug("need-info flag changed before expiry", "flag_id", candidate.ID)
			continue
		default:
			s.metrics.InfraFailure("expire_need_info")
			return expired, err
		}

		expired++
		s.metrics.Decision("EXPIRED")
		s.notify(ctx, Event{
			Type:          EventFlagDecided,
			FlagID:        done.ID,
			FlaggerID:     done.FlaggerID,
			FlaggedUserID: done.FlaggedUserID,
			Account:       done.FlaggedAccount.String(),
			Category:      done.Category,
			Priority:      done.Priority,
			Status:        done.Status,
			At:            now,
		})
	}

	if expired > 0 {
		s.logger.Info("expired need-info flags", "count", expired, "cutoff", cutoff)
	}
	return expired, nil
}
