package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rcliao/pattern-persistence/internal/model"
)

// AcquireLock is a compare-and-set on the resource row: the upsert only
// replaces an existing row whose expiry has passed, so of several concurrent
// callers exactly one sees a row affected.
func (s *SQLiteStore) AcquireLock(ctx context.Context, resource, holder string, ttl time.Duration) (model.Lock, bool, error) {
	if resource == "" || holder == "" {
		return model.Lock{}, false, fmt.Errorf("resource and holder are required")
	}
	if ttl <= 0 {
		return model.Lock{}, false, fmt.Errorf("lock ttl must be positive")
	}

	now := s.clock()
	l := model.Lock{
		Resource:   resource,
		Holder:     holder,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO locks (resource, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(resource) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		 WHERE locks.expires_at <= ?`,
		l.Resource, l.Holder, nanos(l.AcquiredAt), nanos(l.ExpiresAt), nanos(now))
	if err != nil {
		return model.Lock{}, false, unavailable("acquire lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Lock{}, false, unavailable("acquire lock", err)
	}
	if n == 0 {
		return model.Lock{}, false, nil
	}
	return l, true, nil
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, resource, holder string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM locks WHERE resource = ? AND holder = ?`, resource, holder)
	if err != nil {
		return false, unavailable("release lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("release lock", err)
	}
	return n > 0, nil
}

// GetLock returns the lock row for resource, or nil. The row may be expired.
func (s *SQLiteStore) GetLock(ctx context.Context, resource string) (*model.Lock, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT resource, holder, acquired_at, expires_at FROM locks WHERE resource = ?`, resource)
	l, err := scanLock(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get lock", err)
	}
	return &l, nil
}

func (s *SQLiteStore) ListLocks(ctx context.Context) ([]model.Lock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT resource, holder, acquired_at, expires_at FROM locks ORDER BY resource`)
	if err != nil {
		return nil, unavailable("list locks", err)
	}
	defer rows.Close()

	var out []model.Lock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, unavailable("scan lock", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanLock(row scanner) (model.Lock, error) {
	var l model.Lock
	var acquired, expires int64
	if err := row.Scan(&l.Resource, &l.Holder, &acquired, &expires); err != nil {
		return l, err
	}
	l.AcquiredAt = fromNanos(acquired)
	l.ExpiresAt = fromNanos(expires)
	return l, nil
}
