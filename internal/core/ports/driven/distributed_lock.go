package driven

import (
	"context"
	"time"
)

// DistributedLock guards work that must run on one instance at a time:
// a document being processed, or the stale-processing sweep.
// Locks are scoped to the holder that acquired them and expire after their TTL.
type DistributedLock interface {
	// Acquire takes name for ttl. It returns false without error when
	// another holder has it and the TTL has not elapsed.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops name if this holder owns it. Releasing a lock that
	// expired or belongs to someone else is not an error.
	Release(ctx context.Context, name string) error

	// Extend resets the TTL of a lock this holder owns.
	// Returns domain.ErrJobLocked when the lock was lost.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks the lock backend
	Ping(ctx context.Context) error
}
