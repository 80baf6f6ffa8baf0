package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/custodia-labs/clinical-core/internal/core/domain"
	"github.com/custodia-labs/clinical-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.DistributedLock = (*LeaseLock)(nil)

// LeaseLock implements DistributedLock with rows in distributed_locks.
//
// Each row is a lease owned by one process. An expired lease can be
// taken over by any holder, so a crashed worker never blocks a document
// longer than its TTL. Release and Extend only touch leases this
// instance holds.
//
// Redis locks are preferred for multi-worker deployments; this is the
// fallback when Redis is unavailable.
type LeaseLock struct {
	db     *DB
	holder string
}

// NewLeaseLock creates a new PostgreSQL lease lock adapter.
func NewLeaseLock(db *DB) *LeaseLock {
	return &LeaseLock{db: db, holder: domain.GenerateID()}
}

// Acquire takes the named lease if it is free or expired.
// Returns false without blocking if another holder has a live lease.
func (l *LeaseLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	query := `
		INSERT INTO distributed_locks (name, holder, expires_at)
		VALUES ($1, $2, NOW() + $3 * INTERVAL '1 millisecond')
		ON CONFLICT (name) DO UPDATE SET
			holder = EXCLUDED.holder,
			expires_at = EXCLUDED.expires_at
		WHERE distributed_locks.expires_at < NOW()
		RETURNING name
	`
	var got string
	err := l.db.QueryRowContext(ctx, query, name, l.holder, ttl.Milliseconds()).Scan(&got)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return true, nil
}

// Release drops the named lease.
// Safe to call when the lease is not held.
func (l *LeaseLock) Release(ctx context.Context, name string) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM distributed_locks WHERE name = $1 AND holder = $2`,
		name, l.holder,
	)
	return err
}

// Extend pushes out the expiry of a lease this instance holds.
func (l *LeaseLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	result, err := l.db.ExecContext(ctx, `
		UPDATE distributed_locks
		SET expires_at = NOW() + $3 * INTERVAL '1 millisecond'
		WHERE name = $1 AND holder = $2
	`, name, l.holder, ttl.Milliseconds())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: lock %s not held", domain.ErrJobLocked, name)
	}
	return nil
}

// Ping checks if the PostgreSQL backend is healthy.
func (l *LeaseLock) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
