package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rcliao/pattern-persistence/internal/model"
)

func TestAddAnchorIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStore(t, WithClock(clock.Now))

	a, created, err := s.AddAnchor(ctx, "  I prefer short answers.  ", nil)
	if err != nil {
		t.Fatalf("add anchor: %v", err)
	}
	if !created {
		t.Error("expected first add to create")
	}
	if a.ID != model.AnchorID("I prefer short answers.") {
		t.Errorf("expected content-hash id, got %s", a.ID)
	}

	clock.Advance(time.Hour)
	again, created, err := s.AddAnchor(ctx, "I prefer short answers.", []float32{1, 0})
	if err != nil {
		t.Fatalf("add anchor again: %v", err)
	}
	if created {
		t.Error("expected second add to report existing anchor")
	}
	if !again.CreatedAt.Equal(a.CreatedAt) {
		t.Errorf("existing anchor was overwritten: %v vs %v", again.CreatedAt, a.CreatedAt)
	}
	if len(again.Vector) != 0 {
		t.Error("expected stored anchor to keep its missing vector")
	}

	if _, _, err := s.AddAnchor(ctx, "   ", nil); err == nil {
		t.Error("expected error for empty anchor")
	}
	if _, err := s.GetAnchor(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSearchAnchorsText(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStore(t, WithClock(clock.Now))

	for _, text := range []string{"likes tea", "likes coffee", "dislikes noise"} {
		s.AddAnchor(ctx, text, nil)
		clock.Advance(time.Minute)
	}

	got, err := s.SearchAnchors(ctx, AnchorSearchParams{Query: "likes", Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Text != "dislikes noise" || got[1].Text != "likes coffee" {
		t.Errorf("expected newest first, got %q, %q", got[0].Text, got[1].Text)
	}

	all, _ := s.ListAnchors(ctx, 0)
	if len(all) != 3 {
		t.Errorf("expected 3 anchors, got %d", len(all))
	}
}

func TestSearchAnchorsVector(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	s.AddAnchor(ctx, "north", []float32{0, 1})
	s.AddAnchor(ctx, "east", []float32{1, 0})
	s.AddAnchor(ctx, "no vector", nil)

	got, err := s.SearchAnchors(ctx, AnchorSearchParams{Vector: []float32{0.9, 0.1}, Limit: 5})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected only anchors with vectors, got %d", len(got))
	}
	if got[0].Text != "east" {
		t.Errorf("expected east to rank first, got %q", got[0].Text)
	}
	if len(got[0].Vector) != 2 {
		t.Errorf("expected vector to round-trip, got %v", got[0].Vector)
	}
}

func TestSearchAnchorsMatchesWildcardsLiterally(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, text := range []string{"100% honest", "1000 honest", "snake_case names", "snakeXcase names", `back\slash`} {
		if _, _, err := s.AddAnchor(ctx, text, nil); err != nil {
			t.Fatalf("add anchor: %v", err)
		}
	}

	cases := map[string]string{
		"100%":       "100% honest",
		"snake_case": "snake_case names",
		`k\s`:        `back\slash`,
	}
	for query, want := range cases {
		got, err := s.SearchAnchors(ctx, AnchorSearchParams{Query: query, Limit: 10})
		if err != nil {
			t.Fatalf("search %q: %v", query, err)
		}
		if len(got) != 1 || got[0].Text != want {
			t.Errorf("search %q: expected only %q, got %+v", query, want, got)
		}
	}
}

func TestSetAnchorVectorOnlyFillsMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	a, _, err := s.AddAnchor(ctx, "plain", nil)
	if err != nil {
		t.Fatalf("add anchor: %v", err)
	}
	set, err := s.SetAnchorVector(ctx, a.ID, []float32{1, 2})
	if err != nil || !set {
		t.Fatalf("expected vector to be set, got %v (err %v)", set, err)
	}
	set, err = s.SetAnchorVector(ctx, a.ID, []float32{3, 4})
	if err != nil || set {
		t.Fatalf("expected existing vector to be kept, got %v (err %v)", set, err)
	}
	got, err := s.GetAnchor(ctx, a.ID)
	if err != nil {
		t.Fatalf("get anchor: %v", err)
	}
	if len(got.Vector) != 2 || got.Vector[0] != 1 {
		t.Errorf("unexpected vector %v", got.Vector)
	}
}
