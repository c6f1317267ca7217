package recall

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/pattern-persistence/internal/embedding"
	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func appendTurns(t *testing.T, s *store.SQLiteStore, contextName string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Append(context.Background(), store.AppendParams{
			Context: contextName, Role: model.RoleOriginator, Text: fmt.Sprintf("note %d", i),
		})
		require.NoError(t, err)
	}
}

func commit(t *testing.T, s *store.SQLiteStore, contextName string, start, end int64) {
	t.Helper()
	_, err := s.CommitCrystal(context.Background(), store.CommitParams{
		Context: contextName, StartSeq: start, EndSeq: end, Summary: fmt.Sprintf("summary %d-%d", start, end),
	})
	require.NoError(t, err)
}

func seqs(turns []model.Turn) []int64 {
	out := make([]int64, 0, len(turns))
	for _, t := range turns {
		out = append(out, t.Seq)
	}
	return out
}

func span(from, to int64) []int64 {
	var out []int64
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeFull, m)

	m, err = ParseMode("Brief")
	require.NoError(t, err)
	assert.Equal(t, ModeBrief, m)

	_, err = ParseMode("verbose")
	assert.Error(t, err)
}

func TestRecallFull(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendTurns(t, s, "alpha", 60)
	commit(t, s, "alpha", 1, 20)
	commit(t, s, "alpha", 21, 50)
	appendTurns(t, s, "beta", 5)
	_, _, err := s.AddAnchor(ctx, "I am the keeper of the river", nil)
	require.NoError(t, err)
	_, _, err = s.AddAnchor(ctx, "Jeff and Lyra are married", nil)
	require.NoError(t, err)

	a := New(Config{Store: s})
	b := a.Recall(ctx, Request{Context: "alpha"})

	assert.False(t, b.Partial())
	assert.Equal(t, int64(60), b.HighWater)
	require.Len(t, b.Crystals, 2)
	assert.Equal(t, int64(50), b.Crystals[0].EndSeq, "most recent first")
	assert.Equal(t, int64(20), b.Crystals[1].EndSeq)
	assert.Equal(t, span(51, 60), seqs(b.TailTurns))
	assert.Len(t, b.Anchors, 2)
}

func TestRecallBrief(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendTurns(t, s, "alpha", 40)
	commit(t, s, "alpha", 1, 10)
	commit(t, s, "alpha", 11, 20)
	_, _, err := s.AddAnchor(ctx, "anchor text", nil)
	require.NoError(t, err)

	a := New(Config{Store: s, BriefTail: 5})
	b := a.Recall(ctx, Request{Context: "alpha", Mode: ModeBrief})

	require.Len(t, b.Crystals, 1)
	assert.Equal(t, int64(20), b.Crystals[0].EndSeq)
	assert.Equal(t, span(36, 40), seqs(b.TailTurns))
	assert.Empty(t, b.Anchors)
	assert.True(t, b.Layers[LayerAnchors].Skipped)
	assert.False(t, b.Partial())

	b = a.Recall(ctx, Request{Context: "alpha", Mode: ModeBrief, Query: "anchor"})
	assert.Len(t, b.Anchors, 1)
}

func TestRecallEmptyContext(t *testing.T) {
	a := New(Config{Store: newTestStore(t)})
	b := a.Recall(context.Background(), Request{Context: "nobody"})

	assert.False(t, b.Partial())
	assert.Zero(t, b.HighWater)
	assert.Empty(t, b.Crystals)
	assert.Empty(t, b.TailTurns)
}

type faultyStore struct {
	*store.SQLiteStore
	failHighWater bool
	failAnchors   bool
	// afterHighWater runs between reading the high-water mark and the
	// crystal list, standing in for a concurrent crystallizer.
	afterHighWater func()
}

func (f *faultyStore) HighWater(ctx context.Context, contextName string) (int64, error) {
	if f.failHighWater {
		return 0, fmt.Errorf("high water: %w", store.ErrStorageUnavailable)
	}
	hw, err := f.SQLiteStore.HighWater(ctx, contextName)
	if f.afterHighWater != nil {
		f.afterHighWater()
	}
	return hw, err
}

func (f *faultyStore) SearchAnchors(ctx context.Context, p store.AnchorSearchParams) ([]model.Anchor, error) {
	if f.failAnchors {
		return nil, errors.New("vector index offline")
	}
	return f.SQLiteStore.SearchAnchors(ctx, p)
}

func TestRecallDegradesPerLayer(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendTurns(t, s, "alpha", 10)
	_, _, err := s.AddAnchor(ctx, "anchor", nil)
	require.NoError(t, err)

	a := New(Config{Store: &faultyStore{SQLiteStore: s, failAnchors: true}})
	b := a.Recall(ctx, Request{Context: "alpha"})
	assert.True(t, b.Partial())
	assert.False(t, b.Layers[LayerAnchors].Available)
	assert.Contains(t, b.Layers[LayerAnchors].Error, "vector index offline")
	assert.True(t, b.Layers[LayerTail].Available)
	assert.Len(t, b.TailTurns, 10)

	a = New(Config{Store: &faultyStore{SQLiteStore: s, failHighWater: true}})
	b = a.Recall(ctx, Request{Context: "alpha"})
	assert.True(t, b.Partial())
	assert.False(t, b.Layers[LayerCrystals].Available)
	assert.False(t, b.Layers[LayerTail].Available)
	assert.True(t, b.Layers[LayerAnchors].Available)
	assert.Len(t, b.Anchors, 1)
	assert.NotNil(t, b.TailTurns)
}

func TestRecallIgnoresCrystalsPastHighWater(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	appendTurns(t, s, "alpha", 30)
	commit(t, s, "alpha", 1, 20)

	f := &faultyStore{SQLiteStore: s}
	f.afterHighWater = func() {
		f.afterHighWater = nil
		appendTurns(t, s, "alpha", 5)
		commit(t, s, "alpha", 21, 35)
	}

	b := New(Config{Store: f}).Recall(ctx, Request{Context: "alpha"})
	assert.Equal(t, int64(30), b.HighWater)
	require.Len(t, b.Crystals, 1)
	assert.Equal(t, int64(20), b.Crystals[0].EndSeq)
	assert.Equal(t, span(21, 30), seqs(b.TailTurns))
}

type keywordEmbedder struct{}

func (keywordEmbedder) Embed(_ context.Context, text string) (embedding.Vector, error) {
	text = strings.ToLower(text)
	v := embedding.Vector{0, 0}
	if strings.Contains(text, "river") {
		v[0] = 1
	}
	if strings.Contains(text, "married") {
		v[1] = 1
	}
	return v, nil
}

func (keywordEmbedder) Dims() int { return 2 }

func TestRecallRanksAnchorsByLatestTurn(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	e := keywordEmbedder{}

	for _, text := range []string{"the river remembers", "Jeff and Lyra married in June"} {
		v, _ := e.Embed(ctx, text)
		_, _, err := s.AddAnchor(ctx, text, v)
		require.NoError(t, err)
	}
	_, err := s.Append(ctx, store.AppendParams{Context: "alpha", Role: model.RoleOriginator, Text: "when were they married?"})
	require.NoError(t, err)

	b := New(Config{Store: s, Embedder: e, AnchorLimit: 1}).Recall(ctx, Request{Context: "alpha"})
	require.Len(t, b.Anchors, 1)
	assert.Equal(t, "Jeff and Lyra married in June", b.Anchors[0].Text)
}
