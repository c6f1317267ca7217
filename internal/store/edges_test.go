package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestInsertAndQueryEdges(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStore(t, WithClock(clock.Now))

	valid := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	first, err := s.InsertEdge(ctx, InsertEdgeParams{Subject: "Jeff", Predicate: "married", Object: "Lyra", ValidAt: &valid, Provenance: "chat"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	clock.Advance(time.Second)
	dup, err := s.InsertEdge(ctx, InsertEdgeParams{Subject: "jeff", Predicate: "married", Object: "lyra"})
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if first.ID == dup.ID {
		t.Error("expected duplicate insert to get its own id")
	}
	clock.Advance(time.Second)
	s.InsertEdge(ctx, InsertEdgeParams{Subject: "lyra", Predicate: "lives_in", Object: "Oslo"})

	got, err := s.QueryEdges(ctx, EdgePattern{Subject: "JEFF"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 edges for jeff, got %d", len(got))
	}
	if got[0].ID != first.ID {
		t.Errorf("expected oldest first, got %s", got[0].ID)
	}
	if got[0].ValidAt == nil || !got[0].ValidAt.Equal(valid) {
		t.Errorf("expected valid_at to round-trip, got %v", got[0].ValidAt)
	}
	if got[1].ValidAt != nil {
		t.Error("expected timeless fact to have nil valid_at")
	}

	byProv, _ := s.QueryEdges(ctx, EdgePattern{Provenance: "chat"})
	if len(byProv) != 1 {
		t.Errorf("expected 1 edge by provenance, got %d", len(byProv))
	}

	n, _ := s.CountEdges(ctx)
	if n != 3 {
		t.Errorf("expected 3 edges, got %d", n)
	}

	if _, err := s.InsertEdge(ctx, InsertEdgeParams{Subject: "a", Predicate: " ", Object: "b"}); err == nil {
		t.Error("expected error for empty predicate")
	}
}

func TestQueryEdgesPaging(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock()
	s := newTestStore(t, WithClock(clock.Now))

	// Half the edges share a timestamp so the id tie-break is exercised.
	for i := 0; i < 10; i++ {
		s.InsertEdge(ctx, InsertEdgeParams{Subject: fmt.Sprintf("s%d", i), Predicate: "p", Object: "o"})
		if i%2 == 1 {
			clock.Advance(time.Millisecond)
		}
	}

	seen := map[string]bool{}
	var page []string
	p := EdgePattern{Limit: 3}
	for {
		edges, err := s.QueryEdges(ctx, p)
		if err != nil {
			t.Fatalf("query page: %v", err)
		}
		if len(edges) == 0 {
			break
		}
		for _, e := range edges {
			if seen[e.ID] {
				t.Fatalf("edge %s returned twice", e.ID)
			}
			seen[e.ID] = true
			page = append(page, e.Subject)
		}
		last := edges[len(edges)-1]
		p.AfterCreated, p.AfterID = last.CreatedAt, last.ID
	}
	if len(seen) != 10 {
		t.Fatalf("expected 10 edges across pages, got %d", len(seen))
	}
	for i, subj := range page {
		if subj != fmt.Sprintf("s%d", i) {
			t.Fatalf("expected insertion order, position %d is %s", i, subj)
		}
	}
}

func TestDeleteEdgeIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e, _ := s.InsertEdge(ctx, InsertEdgeParams{Subject: "a", Predicate: "knows", Object: "b"})

	deleted, err := s.DeleteEdge(ctx, e.ID)
	if err != nil || !deleted {
		t.Fatalf("expected delete to succeed, got %v %v", deleted, err)
	}
	deleted, err = s.DeleteEdge(ctx, e.ID)
	if err != nil || deleted {
		t.Errorf("expected second delete to be a no-op, got %v %v", deleted, err)
	}
	if _, err := s.GetEdge(ctx, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
