package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/trust"
)

// RegisterRequest onboards a user into the trust engine.
type RegisterRequest struct {
	UserID        uuid.UUID     `json:"user_id"`
	AccountStatus AccountStatus `json:"account_status"`
	PhoneVerified bool          `json:"phone_verified"`
}

// RegisterUser creates a user with default trust components. Registering an
// existing user is a no-op that returns the stored record.
func (s *Service) RegisterUser(ctx context.Context, req RegisterRequest) (*User, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.New("register user: missing user id")
	}
	status := req.AccountStatus
	if status == "" {
		status = AccountActive
	}
	now := s.now().UTC()
	u := &User{
		ID:            req.UserID,
		AccountStatus: status,
		PhoneVerified: req.PhoneVerified,
		Components:    trust.DefaultComponents(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := s.store.CreateUser(ctx, u)
	if errors.Is(err, common.ErrAlreadyExists) {
		existing, err := s.store.GetUser(ctx, req.UserID)
		if err != nil {
			return nil, s.infra("register_user", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, s.infra("register_user", fmt.Errorf("create user: %w", err))
	}

	s.logger.Info("user registered", "user_id", u.ID, "trust_score", u.TrustScore())
	s.notify(ctx, Event{
		Type:       EventTrustUpdated,
		UserID:     u.ID,
		TrustScore: u.TrustScore(),
		At:         now,
	})
	return u, nil
}

// HandleUserRegistered is the NATS handler for scoop.user.registered.
func (s *Service) HandleUserRegistered(subject string, data []byte) {
	var req RegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Error("failed to parse user registered event", "subject", subject, "error", err)
		return
	}
	if _, err := s.RegisterUser(context.Background(), req); err != nil {
		s.logger.Error("failed to register user", "user_id", req.UserID, "error", err)
	}
}
