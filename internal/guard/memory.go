package guard

import (
	"context"
	"sync"
	"time"
)

// MemoryLeases is the in-process Leases used in dev mode and tests.
type MemoryLeases struct {
	mu     sync.Mutex
	ttl    time.Duration
	leases map[string]Lease
	now    func() time.Time
}

// NewMemoryLeases returns an empty in-memory Leases.
func NewMemoryLeases() *MemoryLeases {
	return &MemoryLeases{
		ttl:    DefaultTTL,
		leases: make(map[string]Lease),
		now:    time.Now,
	}
}

func (m *MemoryLeases) Acquire(_ context.Context, email, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().Unix()
	if l, ok := m.leases[email]; ok && l.ExpiresAt >= now && l.Owner != owner {
		return false, nil
	}
	m.leases[email] = Lease{
		UserEmail: email,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttl.Seconds()),
	}
	return true, nil
}

func (m *MemoryLeases) Release(_ context.Context, email, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[email]; ok && l.Owner == owner {
		delete(m.leases, email)
	}
	return nil
}
