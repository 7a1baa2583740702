package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
	"github.com/scoopsocials/scoop-trust/internal/trust"
)

const userColumns = `id, account_status, phone_verified,
	social_media_verification, community_network, platform_activity, content_quality,
	time_investment, comment_engagement, event_participation, validation_accuracy,
	false_flag_count, created_at, updated_at`

// GetUser fetches a user with its trust components. Inside a transaction
// the row stays locked until commit so concurrent decisions serialize on it.
func (r *repo) GetUser(ctx context.Context, id uuid.UUID) (*moderation.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	if r.inTx {
		query += ` FOR UPDATE`
	}

	var (
		u      moderation.User
		status string
		c      trust.Components
	)
	err := r.q.QueryRow(ctx, query, id).Scan(
		&u.ID, &status, &u.PhoneVerified,
		&c.SocialMediaVerification, &c.CommunityNetwork, &c.PlatformActivity, &c.ContentQuality,
		&c.TimeInvestment, &c.CommentEngagement, &c.EventParticipation, &c.ValidationAccuracy,
		&u.FalseFlagCount, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(fmt.Sprintf("get user %s", id), err)
	}
	u.AccountStatus = moderation.AccountStatus(status)
	u.Components = c
	return &u, nil
}

func (r *repo) CreateUser(ctx context.Context, u *moderation.User) error {
	c := u.Components.Clamped()
	_, err := r.q.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		u.ID, string(u.AccountStatus), u.PhoneVerified,
		c.SocialMediaVerification, c.CommunityNetwork, c.PlatformActivity, c.ContentQuality,
		c.TimeInvestment, c.CommentEngagement, c.EventParticipation, c.ValidationAccuracy,
		u.FalseFlagCount, u.CreatedAt, u.UpdatedAt,
	)
	return mapErr("insert user", err)
}

// UpdateUserTrust overwrites the components and false-flag count of a user.
func (r *repo) UpdateUserTrust(ctx context.Context, id uuid.UUID, components trust.Components, falseFlagCount int) error {
	c := components.Clamped()
	tag, err := r.q.Exec(ctx, `
		UPDATE users SET
			social_media_verification = $2,
			community_network = $3,
			platform_activity = $4,
			content_quality = $5,
			time_investment = $6,
			comment_engagement = $7,
			event_participation = $8,
			validation_accuracy = $9,
			false_flag_count = $10,
			updated_at = now()
		WHERE id = $1`,
		id,
		c.SocialMediaVerification, c.CommunityNetwork, c.PlatformActivity, c.ContentQuality,
		c.TimeInvestment, c.CommentEngagement, c.EventParticipation, c.ValidationAccuracy,
		falseFlagCount,
	)
	if err != nil {
		return fmt.Errorf("update user trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update user trust %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// MarkAccountDisputed flags a linked account as disputed, recording it if
// it was not known yet.
func (r *repo) MarkAccountDisputed(ctx context.Context, userID uuid.UUID, account flags.AccountRef) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO linked_accounts (user_id, platform, handle, disputed, disputed_at)
		VALUES ($1, $2, $3, true, now())
		ON CONFLICT (user_id, platform, handle)
		DO UPDATE SET disputed = true, disputed_at = now()`,
		userID, account.Platform, account.Handle,
	)
	if err != nil {
		return fmt.Errorf("mark account disputed: %w", err)
	}
	return nil
}

// IsAccountDisputed reports whether a linked account carries the dispute marker.
func (r *repo) IsAccountDisputed(ctx context.Context, userID uuid.UUID, account flags.AccountRef) (bool, error) {
	var disputed bool
	err := r.q.QueryRow(ctx, `
		SELECT disputed FROM linked_accounts
		WHERE user_id = $1 AND platform = $2 AND handle = $3`,
		userID, account.Platform, account.Handle,
	).Scan(&disputed)
	if err != nil {
		err = mapErr("get linked account", err)
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return disputed, nil
}
