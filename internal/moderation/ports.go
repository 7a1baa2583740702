package moderation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/trust"
)

// AccountStatus is the standing of a user account as reported by the
// identity provider.
type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
	AccountBanned    AccountStatus = "banned"
)

// User is the trust-bearing part of the user aggregate.
type User struct {
	ID             uuid.UUID        `json:"id"`
	AccountStatus  AccountStatus    `json:"account_status"`
	PhoneVerified  bool             `json:"phone_verified"`
	Components     trust.Components `json:"components"`
	FalseFlagCount int              `json:"false_flag_count"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TrustScore derives the user's visible score from the stored components.
func (u *User) TrustScore() int {
	return trust.ComputeScore(u.Components)
}

// Actor is the authenticated caller, as vouched for by the identity provider.
type Actor struct {
	UserID        uuid.UUID
	AccountStatus AccountStatus
	PhoneVerified bool
	Moderator     bool
}

// CanFlag reports whether the actor is in good standing to file flags.
func (a Actor) CanFlag() bool {
	return a.PhoneVerified && (a.AccountStatus == "" || a.AccountStatus == AccountActive)
}

// Repository is the record-store surface used inside and outside transactions.
// Lookups of missing records return common.ErrNotFound.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	// CreateUser returns common.ErrAlreadyExists when the id is taken.
	CreateUser(ctx context.Context, u *User) error
	UpdateUserTrust(ctx context.Context, id uuid.UUID, components trust.Components, falseFlagCount int) error
	MarkAccountDisputed(ctx context.Context, userID uuid.UUID, account flags.AccountRef) error

	GetFlag(ctx context.Context, id uuid.UUID) (*flags.Flag, error)
	// CreateFlag returns common.ErrAlreadyExists when the flagger already has
	// a pending flag on the same account.
	CreateFlag(ctx context.Context, f *flags.Flag) error
	HasPendingFlag(ctx context.Context, flaggerID, flaggedUserID uuid.UUID, account flags.AccountRef) (bool, error)
	// TransitionFlag persists f only if the stored flag still has status from
	// and version f.Version; otherwise it returns common.ErrConflict. On
	// success f.Version is incremented.
	TransitionFlag(ctx context.Context, f *flags.Flag, from flags.Status) error
	ListFlagsByStatus(ctx context.Context, status flags.Status, limit int) ([]flags.Flag, error)
	ListFlagsUpdatedBefore(ctx context.Context, status flags.Status, before time.Time) ([]flags.Flag, error)

	AppendAudit(ctx context.Context, e flags.AuditEntry) error
	ListAudit(ctx context.Context, flagID uuid.UUID) ([]flags.AuditEntry, error)
}

// Store is a Repository that can run a unit of work atomically: either every
// write made through the Repository passed to fn is kept, or none is.
type Store interface {
	Repository
	InTx(ctx context.Context, fn func(Repository) error) error
}

// EventType names a notification emitted by the workflow.
type EventType string

const (
	EventFlagSubmitted   EventType = "flag.submitted"
	EventFlagDecided     EventType = "flag.decided"
	EventFlagResubmitted EventType = "flag.resubmitted"
	EventTrustUpdated    EventType = "trust.updated"
)

// Event is a fire-and-forget notification about a flag or a score change.
type Event struct {
	Type          EventType      `json:"type"`
	FlagID        uuid.UUID      `json:"flag_id,omitempty"`
	FlaggerID     uuid.UUID      `json:"flagger_id,omitempty"`
	FlaggedUserID uuid.UUID      `json:"flagged_user_id,omitempty"`
	Account       string         `json:"account,omitempty"`
	Category      flags.Category `json:"category,omitempty"`
	Priority      flags.Priority `json:"priority,omitempty"`
	Status        flags.Status   `json:"status,omitempty"`
	UserID        uuid.UUID      `json:"user_id,omitempty"`
	TrustScore    int            `json:"trust_score,omitempty"`
	PreviousScore int            `json:"previous_score,omitempty"`
	At            time.Time      `json:"at"`
}

// Notifier delivers events to interested parties. Failures are logged by
// the caller and never retried.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Notifiers fans an event out to several notifiers.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, evt Event) error {
	var errs []error
	for _, n := range ns {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
