package coord

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/pattern-persistence/internal/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCoordinator(t *testing.T, clock *fakeClock) (*Coordinator, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(Config{Locks: s, Holder: "self", Now: clock.Now}), s
}

func TestResource(t *testing.T) {
	assert.Equal(t, "crystallize:alpha", Resource(PassCrystallize, "alpha"))
	assert.Equal(t, "curate:graph", Resource(PassCurate, "graph"))
}

func TestNewHolderIDUnique(t *testing.T) {
	a, b := NewHolderID(), NewHolderID()
	assert.NotEqual(t, a, b)
	assert.Len(t, strings.Split(a, ":"), 3)
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, _ := newTestCoordinator(t, clock)

	l, granted, err := c.Acquire(ctx, "crystallize:alpha", "a", time.Hour)
	require.NoError(t, err)
	require.True(t, granted)
	assert.Equal(t, "a", l.Holder)
	assert.Equal(t, clock.Now().Add(time.Hour), l.ExpiresAt)

	_, granted, err = c.Acquire(ctx, "crystallize:alpha", "b", time.Hour)
	require.NoError(t, err)
	assert.False(t, granted)

	// A different context is an independent resource.
	_, granted, err = c.Acquire(ctx, "crystallize:beta", "b", time.Hour)
	require.NoError(t, err)
	assert.True(t, granted)

	// Releasing as a non-holder never frees someone else's lock.
	require.NoError(t, c.Release(ctx, "crystallize:alpha", "b"))
	st, err := c.Inspect(ctx, "crystallize:alpha")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, "a", st.Holder)

	require.NoError(t, c.Release(ctx, "crystallize:alpha", "a"))
	require.NoError(t, c.Release(ctx, "crystallize:alpha", "a"))

	st, err = c.Inspect(ctx, "crystallize:alpha")
	require.NoError(t, err)
	assert.Nil(t, st)

	_, granted, err = c.Acquire(ctx, "crystallize:alpha", "b", time.Hour)
	require.NoError(t, err)
	assert.True(t, granted)
}

func TestTryAcquireDenied(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Now()}
	c, _ := newTestCoordinator(t, clock)

	_, granted, err := c.Acquire(ctx, "curate:graph", "other", 0)
	require.NoError(t, err)
	require.True(t, granted)

	_, err = c.TryAcquire(ctx, "curate:graph", 0)
	assert.True(t, errors.Is(err, ErrLockDenied))
}

func TestExpiryRecovery(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, _ := newTestCoordinator(t, clock)

	l, granted, err := c.Acquire(ctx, "crystallize:alpha", "crashed", 2*time.Hour)
	require.NoError(t, err)
	require.True(t, granted)
	assert.False(t, c.IsExpired(l))

	clock.Advance(time.Hour)
	_, granted, err = c.Acquire(ctx, "crystallize:alpha", "new", 2*time.Hour)
	require.NoError(t, err)
	assert.False(t, granted)

	clock.Advance(time.Hour)
	assert.True(t, c.IsExpired(l))

	locks, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.True(t, locks[0].Expired)

	l2, granted, err := c.Acquire(ctx, "crystallize:alpha", "new", 2*time.Hour)
	require.NoError(t, err)
	require.True(t, granted)
	assert.Equal(t, "new", l2.Holder)

	// The crashed holder's late release must not free the new lock.
	require.NoError(t, c.Release(ctx, "crystallize:alpha", "crashed"))
	st, err := c.Inspect(ctx, "crystallize:alpha")
	require.NoError(t, err)
	assert.Equal(t, "new", st.Holder)
	assert.False(t, st.Expired)
}

func TestConcurrentAcquireMutualExclusion(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "shared.db")

	// Separate handles on one file stand in for separate processes.
	const holders = 8
	stores := make([]*store.SQLiteStore, holders)
	for i := range stores {
		s, err := store.NewSQLiteStore(path)
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		stores[i] = s
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
		errs    []error
	)
	start := make(chan struct{})
	for i := 0; i < holders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := New(Config{Locks: stores[i]})
			<-start
			_, ok, err := c.Acquire(ctx, "crystallize:alpha", c.Holder(), time.Hour)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if ok {
				granted++
			}
		}(i)
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assert.Equal(t, 1, granted)
}
