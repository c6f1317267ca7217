package store

import (
	"context"
	"sort"

	"github.com/rcliao/pattern-persistence/internal/embedding"
	"github.com/rcliao/pattern-persistence/internal/model"
)

// Snapshot is a portable copy of the persisted state. Every record carries
// its natural key, so importing the same snapshot twice changes nothing.
type Snapshot struct {
	Turns    []model.Turn    `json:"turns" yaml:"turns"`
	Anchors  []model.Anchor  `json:"anchors" yaml:"anchors"`
	Edges    []model.Edge    `json:"edges" yaml:"edges"`
	Crystals []model.Crystal `json:"crystals" yaml:"crystals"`
}

// ImportResult counts the records an import actually inserted.
type ImportResult struct {
	Turns    int               `json:"turns"`
	Anchors  int               `json:"anchors"`
	Edges    int               `json:"edges"`
	Crystals int               `json:"crystals"`
	Rejected []RejectedCrystal `json:"rejected_crystals,omitempty"`
}

// RejectedCrystal is a snapshot crystal that was not imported because it
// would break the context's range contiguity or summarizes turns that differ
// from the local log.
type RejectedCrystal struct {
	ID       string `json:"id"`
	Context  string `json:"context"`
	StartSeq int64  `json:"start_seq"`
	EndSeq   int64  `json:"end_seq"`
	Reason   string `json:"reason"`
}

const (
	rejectRange    = "range does not continue the local crystals"
	rejectConflict = "range covers turns that differ locally"
)

// ExportAll returns everything, optionally restricted to one context
// (turns and crystals only; anchors and edges are global).
func (s *SQLiteStore) ExportAll(ctx context.Context, contextName string) (*Snapshot, error) {
	snap := &Snapshot{}

	contexts := []string{contextName}
	if contextName == "" {
		var err error
		if contexts, err = s.Contexts(ctx); err != nil {
			return nil, err
		}
	}
	for _, c := range contexts {
		turns, err := s.ReadRange(ctx, c, 1, 0)
		if err != nil {
			return nil, err
		}
		snap.Turns = append(snap.Turns, turns...)
	}

	crystals, err := s.ListCrystals(ctx, CrystalQuery{Context: contextName, IncludeArchived: true, Ascending: true})
	if err != nil {
		return nil, err
	}
	snap.Crystals = crystals

	if snap.Anchors, err = s.ListAnchors(ctx, 0); err != nil {
		return nil, err
	}
	if snap.Edges, err = s.QueryEdges(ctx, EdgePattern{}); err != nil {
		return nil, err
	}
	return snap, nil
}

// Import inserts the snapshot's records, skipping those already present.
// Crystals are applied oldest first through the same range guard as
// CommitCrystal; the ones it refuses are listed in the result. It runs in
// one transaction.
func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) (*ImportResult, error) {
	res := &ImportResult{}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable("import", err)
	}
	defer tx.Rollback()

	count := func(n *int, query string, args ...interface{}) (bool, error) {
		r, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return false, unavailable("import", err)
		}
		affected, err := r.RowsAffected()
		if err != nil {
			return false, unavailable("import", err)
		}
		*n += int(affected)
		return affected > 0, nil
	}

	// seqs whose local text differs from the snapshot, per context
	conflicts := make(map[string][]int64)
	for _, t := range snap.Turns {
		inserted, err := count(&res.Turns,
			`INSERT OR IGNORE INTO turns (context, seq, role, text, created_at) VALUES (?, ?, ?, ?, ?)`,
			t.Context, t.Seq, string(t.Role), t.Text, nanos(t.CreatedAt))
		if err != nil {
			return nil, err
		}
		if inserted {
			continue
		}
		var local string
		err = tx.QueryRowContext(ctx,
			`SELECT text FROM turns WHERE context = ? AND seq = ?`, t.Context, t.Seq).Scan(&local)
		if err != nil {
			return nil, unavailable("import", err)
		}
		if local != t.Text {
			conflicts[t.Context] = append(conflicts[t.Context], t.Seq)
		}
	}
	for _, a := range snap.Anchors {
		var blob []byte
		if len(a.Vector) > 0 {
			blob = embedding.Encode(a.Vector)
		}
		if _, err := count(&res.Anchors,
			`INSERT OR IGNORE INTO anchors (id, text, created_at, vector) VALUES (?, ?, ?, ?)`,
			model.AnchorID(a.Text), a.Text, nanos(a.CreatedAt), blob); err != nil {
			return nil, err
		}
	}
	for _, e := range snap.Edges {
		var validAt *int64
		if e.ValidAt != nil {
			v := nanos(*e.ValidAt)
			validAt = &v
		}
		if _, err := count(&res.Edges,
			`INSERT OR IGNORE INTO edges (id, subject, predicate, object, valid_at, provenance, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Subject, e.Predicate, e.Object, validAt, e.Provenance, nanos(e.CreatedAt)); err != nil {
			return nil, err
		}
	}

	crystals := make([]model.Crystal, len(snap.Crystals))
	copy(crystals, snap.Crystals)
	sort.SliceStable(crystals, func(i, j int) bool {
		if crystals[i].Context != crystals[j].Context {
			return crystals[i].Context < crystals[j].Context
		}
		return crystals[i].StartSeq < crystals[j].StartSeq
	})
	for _, c := range crystals {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM crystals WHERE id = ?`, c.ID).Scan(&exists)
		if err != nil {
			return nil, unavailable("import", err)
		}
		if exists > 0 {
			continue
		}

		reject := func(reason string) {
			res.Rejected = append(res.Rejected, RejectedCrystal{
				ID: c.ID, Context: c.Context, StartSeq: c.StartSeq, EndSeq: c.EndSeq, Reason: reason,
			})
		}
		if c.StartSeq < 1 || c.EndSeq < c.StartSeq {
			reject(rejectRange)
			continue
		}
		if overlaps(conflicts[c.Context], c.StartSeq, c.EndSeq) {
			reject(rejectConflict)
			continue
		}
		ok, err := insertCrystal(ctx, tx, &c, c.Archived)
		if err != nil {
			return nil, err
		}
		if !ok {
			reject(rejectRange)
			continue
		}
		res.Crystals++
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable("import", err)
	}
	return res, nil
}

func overlaps(seqs []int64, start, end int64) bool {
	for _, seq := range seqs {
		if seq >= start && seq <= end {
			return true
		}
	}
	return false
}
