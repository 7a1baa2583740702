package moderation

import (
	"errors"

	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/flags"
)

var (
	ErrInvalidStateTransition = errors.New("INVALID_STATE_TRANSITION")
	ErrExplanationTooShort    = errors.New("EXPLANATION_TOO_SHORT")
	ErrInvalidDecision        = errors.New("INVALID_DECISION")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = common.ErrNotFound
)

// classify turns an error from a unit of work into what callers act on.
// Workflow errors and not-found pass through, a lost optimistic update
// becomes ErrInvalidStateTransition, anything else is an infrastructure
// failure.
func classify(op string, err error) error {
	var ve *flags.ValidationError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrConflict):
		return ErrInvalidStateTransition
	case errors.Is(err, common.ErrNotFound),
		errors.Is(err, ErrInvalidStateTransition),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrInvalidDecision),
		errors.Is(err, ErrExplanationTooShort),
		errors.As(err, &ve):
		return err
	default:
		return common.Infra(op, err)
	}
}
