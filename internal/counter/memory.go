// Package counter provides the daily flag counter backends: Redis for
// deployments and an in-process map for single-process development. The
// in-memory store loses every count on restart.
package counter

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value     int64
	expiresAt time.Time // zero means no expiry
}

// Memory is an in-process counter store with TTL support.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for expiry.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// lookup returns the live entry for key, dropping it when expired.
// Caller must hold mu.
func (m *Memory) lookup(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) IncrementAndGet(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key)
	if e == nil {
		e = &memEntry{}
		m.entries[key] = e
	}
	e.value++
	return e.value, nil
}

func (m *Memory) SetExpiry(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e := m.lookup(key); e != nil {
		e.expiresAt = m.now().Add(ttl)
	}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.lookup(key)
	if e == nil {
		return 0, false, nil
	}
	return e.value, true, nil
}
