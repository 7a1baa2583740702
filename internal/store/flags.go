package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/flags"
)

const flagColumns = `id, flagger_id, flagged_user_id, platform, handle, category, evidence,
	verification_url, priority, status, version, decided_by::text, decision_explanation,
	decided_at, submitted_at, updated_at`

func scanFlag(row pgx.Row) (*flags.Flag, error) {
	var (
		f                     flags.Flag
		category, priority    string
		status                string
		decidedBy, decisionEx *string
		decidedAt             *time.Time
	)
	err := row.Scan(
		&f.ID, &f.FlaggerID, &f.FlaggedUserID, &f.FlaggedAccount.Platform, &f.FlaggedAccount.Handle,
		&category, &f.Evidence, &f.VerificationURL, &priority, &status, &f.Version,
		&decidedBy, &decisionEx, &decidedAt, &f.SubmittedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Category = flags.Category(category)
	f.Priority = flags.Priority(priority)
	f.Status = flags.Status(status)

	if decidedBy != nil && decidedAt != nil {
		by, err := uuid.Parse(*decidedBy)
		if err != nil {
			return nil, fmt.Errorf("parse decided_by: %w", err)
		}
		d := &flags.Decision{DecidedBy: by, DecidedAt: *decidedAt}
		if decisionEx != nil {
			d.Explanation = *decisionEx
		}
		f.Decision = d
	}
	return &f, nil
}

func collectFlags(rows pgx.Rows) ([]flags.Flag, error) {
	defer rows.Close()
	var out []flags.Flag
	for rows.Next() {
		f, err := scanFlag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// decisionArgs flattens the optional decision into nullable columns.
func decisionArgs(d *flags.Decision) (any, any, any) {
	if d == nil {
		return nil, nil, nil
	}
	return d.DecidedBy, d.Explanation, d.DecidedAt
}

func (r *repo) GetFlag(ctx context.Context, id uuid.UUID) (*flags.Flag, error) {
	f, err := scanFlag(r.q.QueryRow(ctx, `SELECT `+flagColumns+` FROM flags WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(fmt.Sprintf("get flag %s", id), err)
	}
	return f, nil
}

// CreateFlag inserts a flag. A second PENDING flag from the same flagger on
// the same account violates flags_one_pending_per_account and comes back as
// common.ErrAlreadyExists.
func (r *repo) CreateFlag(ctx context.Context, f *flags.Flag) error {
	by, ex, at := decisionArgs(f.Decision)
	_, err := r.q.Exec(ctx, `
		INSERT INTO flags (id, flagger_id, flagged_user_id, platform, handle, category, evidence,
			verification_url, priority, priority_rank, status, version,
			decided_by, decision_explanation, decided_at, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		f.ID, f.FlaggerID, f.FlaggedUserID, f.FlaggedAccount.Platform, f.FlaggedAccount.Handle,
		string(f.Category), f.Evidence, f.VerificationURL, string(f.Priority), f.Priority.Rank(),
		string(f.Status), f.Version, by, ex, at, f.SubmittedAt, f.UpdatedAt,
	)
	return mapErr("insert flag", err)
}

func (r *repo) HasPendingFlag(ctx context.Context, flaggerID, flaggedUserID uuid.UUID, account flags.AccountRef) (bool, error) {
	var exists bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM flags
			WHERE flagger_id = $1 AND flagged_user_id = $2 AND platform = $3 AND handle = $4
				AND status = 'PENDING'
		)`,
		flaggerID, flaggedUserID, account.Platform, account.Handle,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query pending flag: %w", err)
	}
	return exists, nil
}

// TransitionFlag is the optimistic write behind every state change: it only
// matches the row when both status and version are still what the caller read.
func (r *repo) TransitionFlag(ctx context.Context, f *flags.Flag, from flags.Status) error {
	by, ex, at := decisionArgs(f.Decision)
	tag, err := r.q.Exec(ctx, `
		UPDATE flags SET
			status = $3,
			evidence = $4,
			verification_url = $5,
			priority = $6,
			priority_rank = $7,
			decided_by = $8,
			decision_explanation = $9,
			decided_at = $10,
			updated_at = $11,
			version = version + 1
		WHERE id = $1 AND status = $2 AND version = $12`,
		f.ID, string(from), string(f.Status), f.Evidence, f.VerificationURL,
		string(f.Priority), f.Priority.Rank(), by, ex, at, f.UpdatedAt, f.Version,
	)
	if err != nil {
		return mapErr("transition flag", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetFlag(ctx, f.ID); err != nil {
			return err
		}
		return fmt.Errorf("flag %s at version %d: %w", f.ID, f.Version, common.ErrConflict)
	}
	f.Version++
	return nil
}

// ListFlagsByStatus returns flags in queue order: highest priority first,
// oldest first within a priority.
func (r *repo) ListFlagsByStatus(ctx context.Context, status flags.Status, limit int) ([]flags.Flag, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+flagColumns+` FROM flags
		WHERE status = $1
		ORDER BY priority_rank DESC, submitted_at ASC
		LIMIT $2`,
		string(status), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list flags: %w", err)
	}
	return collectFlags(rows)
}

func (r *repo) ListFlagsUpdatedBefore(ctx context.Context, status flags.Status, before time.Time) ([]flags.Flag, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+flagColumns+` FROM flags
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC`,
		string(status), before,
	)
	if err != nil {
		return nil, fmt.Errorf("list stale flags: %w", err)
	}
	return collectFlags(rows)
}

func (r *repo) AppendAudit(ctx context.Context, e flags.AuditEntry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO flag_audit (id, flag_id, actor_id, action, explanation, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.FlagID, e.ActorID, string(e.Action), e.Explanation, e.At,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *repo) ListAudit(ctx context.Context, flagID uuid.UUID) ([]flags.AuditEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, flag_id, actor_id, action, explanation, at
		FROM flag_audit
		WHERE flag_id = $1
		ORDER BY at ASC, id ASC`,
		flagID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var out []flags.AuditEntry
	for rows.Next() {
		var (
			e      flags.AuditEntry
			action string
		)
		if err := rows.Scan(&e.ID, &e.FlagID, &e.ActorID, &action, &e.Explanation, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = flags.AuditAction(action)
		out = append(out, e)
	}
	return out, rows.Err()
}
