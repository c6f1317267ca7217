package curate

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/eventstream"
	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/store"
)

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	events []*eventstream.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev *eventstream.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCurator(t *testing.T, g store.FactGraph, locks store.LockStore, mod func(*Config)) *Curator {
	t.Helper()
	c := Config{
		Graph:       g,
		Coordinator: coord.New(coord.Config{Locks: locks, Holder: "curator-test"}),
	}
	if mod != nil {
		mod(&c)
	}
	cur, err := New(c)
	require.NoError(t, err)
	return cur
}

func insert(t *testing.T, s store.FactGraph, subj, pred, obj string, at time.Time) model.Edge {
	t.Helper()
	e, err := s.InsertEdge(context.Background(), store.InsertEdgeParams{
		Subject: subj, Predicate: pred, Object: obj, CreatedAt: at, Provenance: "test",
	})
	require.NoError(t, err)
	return e
}

func ids(edges []model.Edge) []string {
	out := make([]string, 0, len(edges))
	for _, e := range edges {
		out = append(out, e.ID)
	}
	sort.Strings(out)
	return out
}

func TestJeffMarriedLyra(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	pub := &recordingPublisher{}
	c := newTestCurator(t, s, s, func(c *Config) { c.Publisher = pub })

	e1 := insert(t, s, "jeff", "married", "lyra", t0)
	e2 := insert(t, s, "Jeff", "married", "Lyra", t0.Add(time.Minute))
	e3 := insert(t, s, "jeff ", "MARRIED", "lyra", t0.Add(2*time.Minute))

	rep, err := c.Run(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Scanned)
	assert.Equal(t, 2, rep.RuleCounts[RuleDuplicate])
	assert.Equal(t, 0, rep.RuleCounts[RuleSelfReference])
	assert.Equal(t, 0, rep.RuleCounts[RuleVague])
	assert.ElementsMatch(t, []string{e2.ID, e3.ID}, rep.DeletedIDs)
	assert.Equal(t, 1, rep.Remaining)

	left, err := s.QueryEdges(ctx, store.EdgePattern{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, e1.ID, left[0].ID)

	require.Len(t, pub.events, 1)
	assert.Equal(t, eventstream.EventTypeCurationCompleted, pub.events[0].EventType)
	assert.Equal(t, 2, pub.events[0].Curation.Deleted)

	lock, err := s.GetLock(ctx, "curate:graph")
	require.NoError(t, err)
	assert.Nil(t, lock)
}

func TestSecondPassDeletesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, nil)

	insert(t, s, "Jeff", "same_as", "jeff", t0)
	insert(t, s, "it", "causes", "rain", t0.Add(time.Second))
	insert(t, s, "Jeff", "likes", "coffee", t0.Add(2*time.Second))
	insert(t, s, "jeff", "likes", "Coffee", t0.Add(3*time.Second))
	insert(t, s, "Lyra", "writes", "poems", t0.Add(4*time.Second))

	first, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Len(t, first.DeletedIDs, 3)
	assert.Equal(t, 2, first.Remaining)

	second, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Empty(t, second.DeletedIDs)
	assert.Empty(t, second.Flagged)
	assert.Equal(t, 2, second.Scanned)
	assert.Equal(t, 2, second.Remaining)
}

func TestSelfLoopRule(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, nil)

	reflexive := insert(t, s, "Lyra", "recognizes", "lyra", t0)
	kept := insert(t, s, "Lyra", "mentors", "Lyra", t0.Add(time.Second))

	rep, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{reflexive.ID}, rep.DeletedIDs)
	assert.Equal(t, 1, rep.RuleCounts[RuleSelfReference])

	left, err := s.QueryEdges(ctx, store.EdgePattern{})
	require.NoError(t, err)
	assert.Equal(t, []string{kept.ID}, ids(left))
}

func TestVaguenessEscape(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, nil)

	vague := insert(t, s, "she", "bought", "car", t0)
	phrase := insert(t, s, "she and Jeff", "bought", "car", t0.Add(time.Second))
	punct := insert(t, s, "Jeff", "said", "...", t0.Add(2*time.Second))

	rep, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{vague.ID, punct.ID}, rep.DeletedIDs)
	assert.Equal(t, 2, rep.RuleCounts[RuleVague])

	left, err := s.QueryEdges(ctx, store.EdgePattern{})
	require.NoError(t, err)
	assert.Equal(t, []string{phrase.ID}, ids(left))
}

func TestDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, nil)

	insert(t, s, "jeff", "married", "lyra", t0)
	insert(t, s, "jeff", "married", "lyra", t0.Add(time.Second))

	rep, err := c.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.True(t, rep.DryRun)
	require.Len(t, rep.Flagged, 1)
	assert.Equal(t, RuleDuplicate, rep.Flagged[0].Rule)
	assert.Empty(t, rep.DeletedIDs)
	assert.Equal(t, 2, rep.Remaining)
}

func TestPagingKeepsEarliestAcrossPages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, func(c *Config) { c.BatchSize = 2 })

	first := insert(t, s, "jeff", "married", "lyra", t0)
	for i := 1; i <= 6; i++ {
		insert(t, s, "Lyra", "wrote", "book", t0.Add(time.Duration(i)*time.Second))
	}
	for i := 7; i <= 9; i++ {
		insert(t, s, "JEFF", "married", "Lyra", t0.Add(time.Duration(i)*time.Second))
	}

	rep, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 10, rep.Scanned)
	assert.Equal(t, 8, rep.RuleCounts[RuleDuplicate])
	assert.Equal(t, 2, rep.Remaining)

	left, err := s.QueryEdges(ctx, store.EdgePattern{Subject: "jeff"})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, first.ID, left[0].ID)
}

func TestMaxEdgesBoundsPass(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, func(c *Config) { c.BatchSize = 2 })

	for i := 0; i < 5; i++ {
		insert(t, s, "jeff", "married", "lyra", t0.Add(time.Duration(i)*time.Second))
	}

	rep, err := c.Run(ctx, Options{MaxEdges: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, rep.Scanned)
	assert.Len(t, rep.DeletedIDs, 2)
	assert.Equal(t, 3, rep.Remaining)
}

func TestLockHeldDefers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, nil)

	insert(t, s, "jeff", "married", "lyra", t0)
	insert(t, s, "jeff", "married", "lyra", t0.Add(time.Second))

	_, granted, err := s.AcquireLock(ctx, "curate:graph", "someone-else", time.Hour)
	require.NoError(t, err)
	require.True(t, granted)

	rep, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, rep.Deferred)
	assert.Zero(t, rep.Scanned)

	n, err := s.CountEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// racingGraph deletes each edge behind the curator's back before the
// curator's own delete, as a concurrent pass would.
type racingGraph struct {
	*store.SQLiteStore
}

func (g racingGraph) DeleteEdge(ctx context.Context, id string) (bool, error) {
	if _, err := g.SQLiteStore.DeleteEdge(ctx, id); err != nil {
		return false, err
	}
	return g.SQLiteStore.DeleteEdge(ctx, id)
}

func TestLostDeleteRaceIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, racingGraph{s}, s, nil)

	insert(t, s, "jeff", "married", "lyra", t0)
	insert(t, s, "jeff", "married", "lyra", t0.Add(time.Second))

	rep, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.AlreadyGone)
	assert.Empty(t, rep.DeletedIDs)
	assert.Equal(t, 1, rep.Remaining)
}

func TestResolveEntities(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	c := newTestCurator(t, s, s, nil)

	orig := insert(t, s, "jeffrey.hayes", "married", "lyra", t0)
	insert(t, s, "Jeff", "married", "lyra", t0.Add(time.Second))
	insert(t, s, "Lyra", "mentors", "jeffrey.hayes", t0.Add(2*time.Second))

	r := NewAliasResolver(map[string]string{"jeffrey.hayes": "Jeff"})

	dry, err := c.ResolveEntities(ctx, r, true)
	require.NoError(t, err)
	assert.Len(t, dry.Rewrites, 2)
	n, err := s.CountEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	rep, err := c.ResolveEntities(ctx, r, false)
	require.NoError(t, err)
	require.Len(t, rep.Rewrites, 2)
	assert.Equal(t, "Jeff", rep.Rewrites[0].To.Subject)
	assert.Equal(t, "resolve:"+orig.ID, rep.Rewrites[0].To.Provenance)
	assert.Equal(t, orig.CreatedAt, rep.Rewrites[0].To.CreatedAt)
	assert.Equal(t, "Jeff", rep.Rewrites[1].To.Object)

	left, err := s.QueryEdges(ctx, store.EdgePattern{Subject: "jeffrey.hayes"})
	require.NoError(t, err)
	assert.Empty(t, left)

	// Resolution produced a duplicate; curation removes it and keeps the
	// rewritten edge, which inherited the earliest creation time.
	cur, err := c.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, cur.RuleCounts[RuleDuplicate])

	jeff, err := s.QueryEdges(ctx, store.EdgePattern{Subject: "jeff", Predicate: "married"})
	require.NoError(t, err)
	require.Len(t, jeff, 1)
	assert.Equal(t, "resolve:"+orig.ID, jeff[0].Provenance)
}

// brokenGraph fails every query until healed.
type brokenGraph struct {
	*store.SQLiteStore
	broken bool
}

func (g *brokenGraph) QueryEdges(ctx context.Context, p store.EdgePattern) ([]model.Edge, error) {
	if g.broken {
		return nil, store.ErrStorageUnavailable
	}
	return g.SQLiteStore.QueryEdges(ctx, p)
}

func TestRepeatedFailuresMarkUnhealthy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	g := &brokenGraph{SQLiteStore: s, broken: true}
	pub := &recordingPublisher{}
	cur := newTestCurator(t, g, s, func(c *Config) {
		c.Publisher = pub
		c.FailureThreshold = 2
	})

	_, err := cur.Run(ctx, Options{})
	require.ErrorIs(t, err, store.ErrStorageUnavailable)
	h := cur.Health()
	assert.Equal(t, 1, h.ConsecutiveFailures)
	assert.False(t, h.Unhealthy)
	assert.Empty(t, pub.events)

	_, err = cur.Run(ctx, Options{})
	require.Error(t, err)
	h = cur.Health()
	assert.Equal(t, 2, h.ConsecutiveFailures)
	assert.True(t, h.Unhealthy)
	assert.NotEmpty(t, h.LastError)
	require.Len(t, pub.events, 1)
	assert.Equal(t, eventstream.EventTypePassUnhealthy, pub.events[0].EventType)
	require.NotNil(t, pub.events[0].Health)
	assert.Equal(t, coord.PassCurate, pub.events[0].Health.Pass)
	assert.Equal(t, 2, pub.events[0].Health.ConsecutiveFailures)

	// Still unhealthy: no second event.
	_, err = cur.Run(ctx, Options{})
	require.Error(t, err)
	assert.Len(t, pub.events, 1)

	// The lock is released after each failed pass.
	lock, err := s.GetLock(ctx, "curate:graph")
	require.NoError(t, err)
	assert.Nil(t, lock)

	g.broken = false
	_, err = cur.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, Health{}, cur.Health())
	require.Len(t, pub.events, 2)
	assert.Equal(t, eventstream.EventTypeCurationCompleted, pub.events[1].EventType)
}
