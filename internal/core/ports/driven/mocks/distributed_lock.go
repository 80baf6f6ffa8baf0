package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
)

const (
	mockHolder     = "mock-holder"
	externalHolder = "external-holder"
)

// MockDistributedLock is an in-memory DistributedLock.
// Locks it acquires belong to mockHolder; SetLockHeld simulates another instance.
type MockDistributedLock struct {
	mu       sync.Mutex
	locks    map[string]lockEntry
	acquired map[string]int

	// Optional overrides
	AcquireFn func(name string, ttl time.Duration) (bool, error)
	ReleaseFn func(name string) error
	ExtendFn  func(name string, ttl time.Duration) error
	PingFn    func() error
}

type lockEntry struct {
	holder string
	expiry time.Time
}

func (e lockEntry) live() bool { return time.Now().Before(e.expiry) }

// NewMockDistributedLock creates an empty lock table.
func NewMockDistributedLock() *MockDistributedLock {
	return &MockDistributedLock{
		locks:    make(map[string]lockEntry),
		acquired: make(map[string]int),
	}
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[name]; ok && entry.live() {
		return false, nil
	}
	m.locks[name] = lockEntry{holder: mockHolder, expiry: time.Now().Add(ttl)}
	m.acquired[name]++
	return true, nil
}

// Release only drops locks this holder owns.
func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	if m.ReleaseFn != nil {
		return m.ReleaseFn(name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, ok := m.locks[name]; ok && entry.holder == mockHolder {
		delete(m.locks, name)
	}
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	if m.ExtendFn != nil {
		return m.ExtendFn(name, ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[name]
	if !ok || !entry.live() || entry.holder != mockHolder {
		return fmt.Errorf("%w: %s", domain.ErrJobLocked, name)
	}
	entry.expiry = time.Now().Add(ttl)
	m.locks[name] = entry
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// IsHeld reports whether anyone holds name.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.locks[name]
	return ok && entry.live()
}

// AcquireCount returns how many times this holder took name.
func (m *MockDistributedLock) AcquireCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired[name]
}

// SetLockHeld makes name held by another instance for ttl.
func (m *MockDistributedLock) SetLockHeld(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locks[name] = lockEntry{holder: externalHolder, expiry: time.Now().Add(ttl)}
}
