package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexcore/backend/internal/domain/security"
)

type memoryHold struct {
	expiresAt time.Time
}

// MemoryRotationLock is the in-process security.RotationLock used by tests
// and single-instance deployments.
type MemoryRotationLock struct {
	mu    sync.Mutex
	holds map[uuid.UUID]memoryHold
}

// NewMemoryRotationLock creates an in-process rotation lock
func NewMemoryRotationLock() *MemoryRotationLock {
	return &MemoryRotationLock{holds: make(map[uuid.UUID]memoryHold)}
}

// Acquire takes the tenant's lock, returning false when held and unexpired
func (l *MemoryRotationLock) Acquire(_ context.Context, tenantID uuid.UUID, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if hold, ok := l.holds[tenantID]; ok && time.Now().Before(hold.expiresAt) {
		return false, nil
	}
	l.holds[tenantID] = memoryHold{expiresAt: time.Now().Add(ttl)}
	return true, nil
}

// Refresh extends a held lock's TTL
func (l *MemoryRotationLock) Refresh(_ context.Context, tenantID uuid.UUID, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hold, ok := l.holds[tenantID]
	if !ok || time.Now().After(hold.expiresAt) {
		return fmt.Errorf("rotation lock for tenant %s is no longer held", tenantID)
	}
	l.holds[tenantID] = memoryHold{expiresAt: time.Now().Add(ttl)}
	return nil
}

// Release drops the lock
func (l *MemoryRotationLock) Release(_ context.Context, tenantID uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.holds, tenantID)
	return nil
}

var _ security.RotationLock = (*MemoryRotationLock)(nil)
