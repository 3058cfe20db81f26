package queue

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the named lease for owner until now+ttl. It reports false
// while any owner, including owner itself, holds an unexpired lease. Each
// successful acquisition bumps the lease epoch.
func (s *Store) AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.clock()
	res, err := s.execWithRetry(ctx,
		`INSERT INTO leases (name, owner, expires_at, epoch) VALUES (?, ?, ?, 1)
         ON CONFLICT(name) DO UPDATE SET
             owner = excluded.owner,
             expires_at = excluded.expires_at,
             epoch = leases.epoch + 1
         WHERE leases.expires_at <= ?`,
		name, owner, formatTime(now.Add(ttl)), formatTime(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s rows affected: %w", name, err)
	}
	return affected == 1, nil
}

// RenewLease extends a lease owner still holds to now+ttl. It reports false
// once another owner has taken the lease over.
func (s *Store) RenewLease(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE leases SET expires_at = ? WHERE name = ? AND owner = ?`,
		formatTime(s.clock().Add(ttl)), name, owner,
	)
	if err != nil {
		return false, fmt.Errorf("renew lease %s: %w", name, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("renew lease %s rows affected: %w", name, err)
	}
	return affected == 1, nil
}

// ReleaseLease drops the lease if owner still holds it.
func (s *Store) ReleaseLease(ctx context.Context, name, owner string) error {
	if _, err := s.execWithRetry(ctx, `DELETE FROM leases WHERE name = ? AND owner = ?`, name, owner); err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}
