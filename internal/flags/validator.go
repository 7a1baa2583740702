package flags

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	MinEvidenceLength = 20
	urlPrefix         = "http"
)

// ValidationKind identifies which submission rule failed.
type ValidationKind string

const (
	KindInvalidCategory        ValidationKind = "INVALID_CATEGORY"
	KindEvidenceTooShort       ValidationKind = "EVIDENCE_TOO_SHORT"
	KindMissingVerificationURL ValidationKind = "MISSING_VERIFICATION_URL"
	KindDuplicatePendingFlag   ValidationKind = "DUPLICATE_PENDING_FLAG"
	KindSelfFlagForbidden      ValidationKind = "SELF_FLAG_FORBIDDEN"
	KindMissingAccount         ValidationKind = "MISSING_ACCOUNT"
)

// ValidationError is returned when a submission breaks a rule. The caller
// re-prompts the user with Message.
type ValidationError struct {
	Kind ValidationKind
}

func (e *ValidationError) Error() string {
	return "invalid flag submission: " + string(e.Kind)
}

// Message is a user-facing explanation of the failed rule.
func (e *ValidationError) Message() string {
	switch e.Kind {
	case KindInvalidCategory:
		return "Choose one of the listed reasons for flagging this account."
	case KindEvidenceTooShort:
		return fmt.Sprintf("Please describe the problem in at least %d characters.", MinEvidenceLength)
	case KindMissingVerificationURL:
		return "Provide a link (starting with http) to the profile you believe is the real one."
	case KindDuplicatePendingFlag:
		return "You already have a pending flag on this account."
	case KindSelfFlagForbidden:
		return "You cannot flag your own account."
	case KindMissingAccount:
		return "Select the linked account you want to flag."
	default:
		return "The flag could not be submitted."
	}
}

func invalid(kind ValidationKind) error {
	return &ValidationError{Kind: kind}
}

// Submission is the typed input of a new flag.
type Submission struct {
	FlaggerID       uuid.UUID
	FlaggedUserID   uuid.UUID
	FlaggedAccount  AccountRef
	Category        Category
	Evidence        string
	VerificationURL string
}

// EvidenceLength is the trimmed character count used for validation and
// priority scoring.
func EvidenceLength(evidence string) int {
	return utf8.RuneCountInString(strings.TrimSpace(evidence))
}

// CheckEvidence validates the evidence text and the claimed-real profile URL.
func CheckEvidence(evidence, verificationURL string) error {
	if EvidenceLength(evidence) < MinEvidenceLength {
		return invalid(KindEvidenceTooShort)
	}
	u := strings.TrimSpace(verificationURL)
	if u == "" || !strings.HasPrefix(u, urlPrefix) {
		return invalid(KindMissingVerificationURL)
	}
	return nil
}

// CheckContent runs every rule that needs no store access.
func CheckContent(s Submission) error {
	if !s.Category.Valid() {
		return invalid(KindInvalidCategory)
	}
	if err := CheckEvidence(s.Evidence, s.VerificationURL); err != nil {
		return err
	}
	if s.FlaggerID == s.FlaggedUserID {
		return invalid(KindSelfFlagForbidden)
	}
	if strings.TrimSpace(s.FlaggedAccount.Platform) == "" || strings.TrimSpace(s.FlaggedAccount.Handle) == "" {
		return invalid(KindMissingAccount)
	}
	return nil
}

// PendingChecker looks up open flags for duplicate suppression.
type PendingChecker interface {
	HasPendingFlag(ctx context.Context, flaggerID, flaggedUserID uuid.UUID, account AccountRef) (bool, error)
}

// Validator admits or rejects flag submissions.
type Validator struct {
	pending PendingChecker
}

func NewValidator(pending PendingChecker) *Validator {
	return &Validator{pending: pending}
}

// Validate checks a submission. Rule failures come back as *ValidationError;
// any other error is a failed duplicate lookup.
func (v *Validator) Validate(ctx context.Context, s Submission) error {
	if err := CheckContent(s); err != nil {
		return err
	}
	if v.pending == nil {
		return nil
	}
	dup, err := v.pending.HasPendingFlag(ctx, s.FlaggerID, s.FlaggedUserID, s.FlaggedAccount)
	if err != nil {
		return fmt.Errorf("check pending flags: %w", err)
	}
	if dup {
		return invalid(KindDuplicatePendingFlag)
	}
	return nil
}
