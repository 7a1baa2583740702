// Package memstore is a single-process record store for development and
// tests. It is not durable: everything is lost on restart.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scoopsocials/scoop-trust/internal/common"
	"github.com/scoopsocials/scoop-trust/internal/flags"
	"github.com/scoopsocials/scoop-trust/internal/moderation"
	"github.com/scoopsocials/scoop-trust/internal/trust"
)

var _ moderation.Store = (*Store)(nil)

type state struct {
	users    map[uuid.UUID]moderation.User
	disputed map[uuid.UUID]map[flags.AccountRef]bool
	flags    map[uuid.UUID]flags.Flag
	audit    map[uuid.UUID][]flags.AuditEntry
}

func newState() *state {
	return &state{
		users:    make(map[uuid.UUID]moderation.User),
		disputed: make(map[uuid.UUID]map[flags.AccountRef]bool),
		flags:    make(map[uuid.UUID]flags.Flag),
		audit:    make(map[uuid.UUID][]flags.AuditEntry),
	}
}

func (s *state) clone() *state {
	c := &state{
		users:    maps.Clone(s.users),
		disputed: make(map[uuid.UUID]map[flags.AccountRef]bool, len(s.disputed)),
		flags:    maps.Clone(s.flags),
		audit:    make(map[uuid.UUID][]flags.AuditEntry, len(s.audit)),
	}
	for id, accts := range s.disputed {
		c.disputed[id] = maps.Clone(accts)
	}
	for id, trail := range s.audit {
		c.audit[id] = slices.Clone(trail)
	}
	return c
}

// Store keeps every record in memory behind one mutex. Transactions run on
// a copy of the state that replaces the original only when fn succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
	now   func() time.Time
}

func New() *Store {
	return &Store{state: newState(), now: time.Now}
}

// AddUser seeds a user record, replacing any existing one.
func (s *Store) AddUser(u moderation.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Components = u.Components.Clamped()
	s.state.users[u.ID] = u
}

// IsAccountDisputed reports whether an approved flag marked the account.
func (s *Store) IsAccountDisputed(userID uuid.UUID, account flags.AccountRef) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.disputed[userID][account]
}

func (s *Store) InTx(ctx context.Context, fn func(moderation.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&repo{st: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// locked runs fn against the live state outside any transaction.
func (s *Store) locked(fn func(r *repo) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&repo{st: s.state, now: s.now})
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (u *moderation.User, err error) {
	err = s.locked(func(r *repo) error {
		u, err = r.GetUser(ctx, id)
		return err
	})
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, u *moderation.User) error {
	return s.locked(func(r *repo) error { return r.CreateUser(ctx, u) })
}

func (s *Store) UpdateUserTrust(ctx context.Context, id uuid.UUID, components trust.Components, falseFlagCount int) error {
	return s.locked(func(r *repo) error { return r.UpdateUserTrust(ctx, id, components, falseFlagCount) })
}

func (s *Store) MarkAccountDisputed(ctx context.Context, userID uuid.UUID, account flags.AccountRef) error {
	return s.locked(func(r *repo) error { return r.MarkAccountDisputed(ctx, userID, account) })
}

func (s *Store) GetFlag(ctx context.Context, id uuid.UUID) (f *flags.Flag, err error) {
	err = s.locked(func(r *repo) error {
		f, err = r.GetFlag(ctx, id)
		return err
	})
	return f, err
}

func (s *Store) CreateFlag(ctx context.Context, f *flags.Flag) error {
	return s.locked(func(r *repo) error { return r.CreateFlag(ctx, f) })
}

func (s *Store) HasPendingFlag(ctx context.Context, flaggerID, flaggedUserID uuid.UUID, account flags.AccountRef) (dup bool, err error) {
	err = s.locked(func(r *repo) error {
		dup, err = r.HasPendingFlag(ctx, flaggerID, flaggedUserID, account)
		return err
	})
	return dup, err
}

func (s *Store) TransitionFlag(ctx context.Context, f *flags.Flag, from flags.Status) error {
	return s.locked(func(r *repo) error { return r.TransitionFlag(ctx, f, from) })
}

func (s *Store) ListFlagsByStatus(ctx context.Context, status flags.Status, limit int) (out []flags.Flag, err error) {
	err = s.locked(func(r *repo) error {
		out, err = r.ListFlagsByStatus(ctx, status, limit)
		return err
	})
	return out, err
}

func (s *Store) ListFlagsUpdatedBefore(ctx context.Context, status flags.Status, before time.Time) (out []flags.Flag, err error) {
	err = s.locked(func(r *repo) error {
		out, err = r.ListFlagsUpdatedBefore(ctx, status, before)
		return err
	})
	return out, err
}

func (s *Store) AppendAudit(ctx context.Context, e flags.AuditEntry) error {
	return s.locked(func(r *repo) error { return r.AppendAudit(ctx, e) })
}

func (s *Store) ListAudit(ctx context.Context, flagID uuid.UUID) (out []flags.AuditEntry, err error) {
	err = s.locked(func(r *repo) error {
		out, err = r.ListAudit(ctx, flagID)
		return err
	})
	return out, err
}

// repo implements moderation.Repository over a state the caller has locked.
type repo struct {
	st  *state
	now func() time.Time
}

func (r *repo) GetUser(_ context.Context, id uuid.UUID) (*moderation.User, error) {
	u, ok := r.st.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, common.ErrNotFound)
	}
	return &u, nil
}

func (r *repo) CreateUser(_ context.Context, u *moderation.User) error {
	if _, ok := r.st.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, common.ErrAlreadyExists)
	}
	stored := *u
	stored.Components = stored.Components.Clamped()
	r.st.users[u.ID] = stored
	return nil
}

func (r *repo) UpdateUserTrust(_ context.Context, id uuid.UUID, components trust.Components, falseFlagCount int) error {
	u, ok := r.st.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, common.ErrNotFound)
	}
	u.Components = components.Clamped()
	u.FalseFlagCount = falseFlagCount
	u.UpdatedAt = r.now().UTC()
	r.st.users[id] = u
	return nil
}

func (r *repo) MarkAccountDisputed(_ context.Context, userID uuid.UUID, account flags.AccountRef) error {
	if r.st.disputed[userID] == nil {
		r.st.disputed[userID] = make(map[flags.AccountRef]bool)
	}
	r.st.disputed[userID][account] = true
	return nil
}

func (r *repo) GetFlag(_ context.Context, id uuid.UUID) (*flags.Flag, error) {
	f, ok := r.st.flags[id]
	if !ok {
		return nil, fmt.Errorf("flag %s: %w", id, common.ErrNotFound)
	}
	return copyFlag(f), nil
}

func (r *repo) CreateFlag(ctx context.Context, f *flags.Flag) error {
	if _, ok := r.st.flags[f.ID]; ok {
		return fmt.Errorf("flag %s: %w", f.ID, common.ErrAlreadyExists)
	}
	if f.Status == flags.StatusPending {
		dup, _ := r.HasPendingFlag(ctx, f.FlaggerID, f.FlaggedUserID, f.FlaggedAccount)
		if dup {
			return fmt.Errorf("pending flag on %s: %w", f.FlaggedAccount, common.ErrAlreadyExists)
		}
	}
	r.st.flags[f.ID] = *copyFlag(*f)
	return nil
}

func (r *repo) HasPendingFlag(_ context.Context, flaggerID, flaggedUserID uuid.UUID, account flags.AccountRef) (bool, error) {
	for _, f := range r.st.flags {
		if f.Status == flags.StatusPending &&
			f.FlaggerID == flaggerID &&
			f.FlaggedUserID == flaggedUserID &&
			f.FlaggedAccount == account {
			return true, nil
		}
	}
	return false, nil
}

func (r *repo) TransitionFlag(_ context.Context, f *flags.Flag, from flags.Status) error {
	cur, ok := r.st.flags[f.ID]
	if !ok {
		return fmt.Errorf("flag %s: %w", f.ID, common.ErrNotFound)
	}
	if cur.Status != from || cur.Version != f.Version {
		return fmt.Errorf("flag %s at version %d: %w", f.ID, f.Version, common.ErrConflict)
	}
	f.Version++
	r.st.flags[f.ID] = *copyFlag(*f)
	return nil
}

func (r *repo) ListFlagsByStatus(_ context.Context, status flags.Status, limit int) ([]flags.Flag, error) {
	var out []flags.Flag
	for _, f := range r.st.flags {
		if f.Status == status {
			out = append(out, *copyFlag(f))
		}
	}
	flags.SortQueue(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *repo) ListFlagsUpdatedBefore(_ context.Context, status flags.Status, before time.Time) ([]flags.Flag, error) {
	var out []flags.Flag
	for _, f := range r.st.flags {
		if f.Status == status && f.UpdatedAt.Before(before) {
			out = append(out, *copyFlag(f))
		}
	}
	slices.SortFunc(out, func(a, b flags.Flag) int {
		return cmp.Or(a.UpdatedAt.Compare(b.UpdatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return out, nil
}

func (r *repo) AppendAudit(_ context.Context, e flags.AuditEntry) error {
	if _, ok := r.st.flags[e.FlagID]; !ok {
		return fmt.Errorf("flag %s: %w", e.FlagID, common.ErrNotFound)
	}
	r.st.audit[e.FlagID] = append(r.st.audit[e.FlagID], e)
	return nil
}

func (r *repo) ListAudit(_ context.Context, flagID uuid.UUID) ([]flags.AuditEntry, error) {
	return slices.Clone(r.st.audit[flagID]), nil
}

func copyFlag(f flags.Flag) *flags.Flag {
	if f.Decision != nil {
		d := *f.Decision
		f.Decision = &d
	}
	return &f
}
