package flags

import (
	"time"

	"github.com/google/uuid"
)

// Category is the kind of misrepresentation a flag alleges.
type Category string

const (
	CategoryAccountNotOwned        Category = "ACCOUNT_NOT_OWNED"
	CategoryFakeAccount            Category = "FAKE_ACCOUNT"
	CategoryImpersonation          Category = "IMPERSONATION"
	CategoryMisleadingProfessional Category = "MISLEADING_PROFESSIONAL"
	CategoryHarassment             Category = "HARASSMENT"
	CategoryInappropriateContent   Category = "INAPPROPRIATE_CONTENT"
	CategorySpam                   Category = "SPAM"
	CategoryAccountNotConnected    Category = "ACCOUNT_NOT_CONNECTED"
)

// Categories is the closed set of accepted categories.
var Categories = []Category{
	CategoryAccountNotOwned,
	CategoryFakeAccount,
	CategoryImpersonation,
	CategoryMisleadingProfessional,
	CategoryHarassment,
	CategoryInappropriateContent,
	CategorySpam,
	CategoryAccountNotConnected,
}

func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Priority orders the moderator queue.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Rank returns a sortable weight, higher is more urgent.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// Status is the adjudication state of a flag.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
	StatusNeedInfo Status = "NEED_INFO"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// AccountRef identifies the linked social-media account under dispute.
type AccountRef struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
}

func (a AccountRef) String() string {
	return a.Platform + ":" + a.Handle
}

// Decision is the moderator's ruling on a flag.
type Decision struct {
	DecidedBy   uuid.UUID `json:"decided_by"`
	Explanation string    `json:"explanation"`
	DecidedAt   time.Time `json:"decided_at"`
}

// Flag is one user's accusation against a linked account of another user.
type Flag struct {
	ID              uuid.UUID  `json:"id"`
	FlaggerID       uuid.UUID  `json:"flagger_id"`
	FlaggedUserID   uuid.UUID  `json:"flagged_user_id"`
	FlaggedAccount  AccountRef `json:"flagged_account"`
	Category        Category   `json:"category"`
	Evidence        string     `json:"evidence"`
	VerificationURL string     `json:"verification_url"`
	Priority        Priority   `json:"priority"`
	Status          Status     `json:"status"`
	SubmittedAt     time.Time  `json:"submitted_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int        `json:"version"`
	Decision        *Decision  `json:"moderator_decision,omitempty"`
}

// AuditAction is what happened to a flag in one audit entry.
type AuditAction string

const (
	ActionSubmitted   AuditAction = "SUBMITTED"
	ActionApproved    AuditAction = "APPROVED"
	ActionDenied      AuditAction = "DENIED"
	ActionNeedInfo    AuditAction = "NEED_INFO"
	ActionResubmitted AuditAction = "RESUBMITTED"
	ActionExpired     AuditAction = "EXPIRED"
)

// ActionFor maps a moderator decision to its audit action.
func ActionFor(decision Status) AuditAction {
	switch decision {
	case StatusApproved:
		return ActionApproved
	case StatusDenied:
		return ActionDenied
	case StatusNeedInfo:
		return ActionNeedInfo
	default:
		return AuditAction(decision)
	}
}

// AuditEntry is an immutable record of a flag transition.
type AuditEntry struct {
	ID          uuid.UUID   `json:"id"`
	FlagID      uuid.UUID   `json:"flag_id"`
	ActorID     uuid.UUID   `json:"actor_id"`
	Action      AuditAction `json:"action"`
	Explanation string      `json:"explanation,omitempty"`
	At          time.Time   `json:"at"`
}
