package lock

import (
	"context"
	"sync"
	"time"
)

// Default timing for the in-memory locker.
var (
	DefaultRetryInterval = 25 * time.Millisecond
)

type lease struct {
	owner     uint64
	expiresAt time.Time
}

// Memory is an in-process advisory locker implementing core.Locker. Each
// Acquire returns within its wait bound; held locks expire after their TTL
// so a holder that never releases cannot wedge the engine. Use the
// database-backed locker in pkg/storage when runs span processes.
type Memory struct {
	mu     sync.Mutex
	leases map[string]*lease
	held   map[string]uint64
	nextID uint64
	now    func() time.Time
}

// NewMemory creates an in-memory locker.
func NewMemory() *Memory {
	return &Memory{
		leases: make(map[string]*lease),
		held:   make(map[string]uint64),
		now:    time.Now,
	}
}

// Acquire takes the named lock for at most ttl, waiting up to maxWait for
// it to free up. It returns false without error when the wait bound
// elapses first; callers treat that as a safe no-op.
func (m *Memory) Acquire(ctx context.Context, name string, ttl, maxWait time.Duration) (bool, error) {
	deadline := m.nowLocked().Add(maxWait)
	for {
		if m.tryAcquire(name, ttl) {
			return true, nil
		}
		if !m.nowLocked().Before(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(DefaultRetryInterval):
		}
	}
}

func (m *Memory) nowLocked() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now()
}

func (m *Memory) tryAcquire(name string, ttl time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if l, ok := m.leases[name]; ok && now.Before(l.expiresAt) {
		return false
	}
	m.nextID++
	m.leases[name] = &lease{owner: m.nextID, expiresAt: now.Add(ttl)}
	m.held[name] = m.nextID
	return true
}

// Release frees the named lock if this locker still owns it. Releasing an
// expired or foreign lease is a no-op, never an error, so deferred
// releases are always safe.
func (m *Memory) Release(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.held[name]
	if !ok {
		return nil
	}
	delete(m.held, name)
	if l, exists := m.leases[name]; exists && l.owner == owner {
		delete(m.leases, name)
	}
	return nil
}
