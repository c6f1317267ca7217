// Package coord implements the advisory lock used to serialize background
// passes across processes that share one database.
//
// Locks expire passively: nothing sweeps them, and an expired lock is
// treated as absent by the next Acquire for the same resource. A holder
// that crashes mid-pass therefore blocks the resource for at most one TTL.
package coord

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/store"
)

// DefaultTTL covers one full crystallize or curate pass with margin.
const DefaultTTL = 2 * time.Hour

// Pass names used in lock resources.
const (
	PassCrystallize = "crystallize"
	PassCurate      = "curate"
)

// ErrLockDenied is returned by TryAcquire when a live lock is held by
// someone else. It is control flow, not a failure.
var ErrLockDenied = errors.New("lock denied")

// Resource builds a namespaced lock resource name, "<pass>:<context>".
func Resource(pass, contextName string) string {
	return pass + ":" + contextName
}

// NewHolderID returns an id unique to this process instance.
func NewHolderID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// Config configures a Coordinator.
type Config struct {
	Locks  store.LockStore
	Holder string        // default NewHolderID()
	TTL    time.Duration // default DefaultTTL
	Logger *zap.Logger
	Now    func() time.Time
}

// Coordinator grants and releases advisory locks on behalf of one holder.
type Coordinator struct {
	locks  store.LockStore
	holder string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// LockStatus is a lock row annotated with its liveness.
type LockStatus struct {
	model.Lock
	Expired bool `json:"expired"`
}

func New(c Config) *Coordinator {
	co := &Coordinator{
		locks:  c.Locks,
		holder: c.Holder,
		ttl:    c.TTL,
		logger: c.Logger,
		now:    c.Now,
	}
	if co.holder == "" {
		co.holder = NewHolderID()
	}
	if co.ttl <= 0 {
		co.ttl = DefaultTTL
	}
	if co.logger == nil {
		co.logger = zap.NewNop()
	}
	if co.now == nil {
		co.now = time.Now
	}
	return co
}

// Holder returns the holder id this coordinator acquires locks as.
func (c *Coordinator) Holder() string {
	return c.holder
}

// Acquire grants resource to holder when no live lock exists. The check and
// the write are one compare-and-set in the store.
func (c *Coordinator) Acquire(ctx context.Context, resource, holder string, ttl time.Duration) (model.Lock, bool, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	l, granted, err := c.locks.AcquireLock(ctx, resource, holder, ttl)
	if err != nil {
		return model.Lock{}, false, err
	}
	if granted {
		c.logger.Debug("lock granted",
			zap.String("resource", resource),
			zap.String("holder", holder),
			zap.Time("expires_at", l.ExpiresAt))
	} else {
		c.logger.Debug("lock denied",
			zap.String("resource", resource),
			zap.String("holder", holder))
	}
	return l, granted, nil
}

// TryAcquire acquires resource as this coordinator's holder, returning
// ErrLockDenied when it is taken.
func (c *Coordinator) TryAcquire(ctx context.Context, resource string, ttl time.Duration) (model.Lock, error) {
	l, granted, err := c.Acquire(ctx, resource, c.holder, ttl)
	if err != nil {
		return model.Lock{}, err
	}
	if !granted {
		return model.Lock{}, fmt.Errorf("%s: %w", resource, ErrLockDenied)
	}
	return l, nil
}

// Release drops the lock if holder still owns it. Releasing a lock that
// expired, was taken over or never existed is a no-op.
func (c *Coordinator) Release(ctx context.Context, resource, holder string) error {
	released, err := c.locks.ReleaseLock(ctx, resource, holder)
	if err != nil {
		return err
	}
	if !released {
		c.logger.Debug("lock already gone",
			zap.String("resource", resource),
			zap.String("holder", holder))
	}
	return nil
}

// IsExpired reports whether l has passed its expiry by the wall clock.
func (c *Coordinator) IsExpired(l model.Lock) bool {
	return l.Expired(c.now())
}

// Inspect returns the lock row for resource, or nil when there is none.
func (c *Coordinator) Inspect(ctx context.Context, resource string) (*LockStatus, error) {
	l, err := c.locks.GetLock(ctx, resource)
	if err != nil || l == nil {
		return nil, err
	}
	return &LockStatus{Lock: *l, Expired: c.IsExpired(*l)}, nil
}

// List returns every lock row, live or expired.
func (c *Coordinator) List(ctx context.Context) ([]LockStatus, error) {
	locks, err := c.locks.ListLocks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]LockStatus, 0, len(locks))
	for _, l := range locks {
		out = append(out, LockStatus{Lock: l, Expired: c.IsExpired(l)})
	}
	return out, nil
}
