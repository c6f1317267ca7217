package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath          string         `json:"db_path"`
	DBSizeBytes     int64          `json:"db_size_bytes"`
	TotalTurns      int            `json:"total_turns"`
	TotalAnchors    int            `json:"total_anchors"`
	TotalEdges      int            `json:"total_edges"`
	TotalCrystals   int            `json:"total_crystals"`
	ArchivedCrystal int            `json:"archived_crystals"`
	LiveLocks       int            `json:"live_locks"`
	Contexts        []ContextStats `json:"contexts"`
}

// ContextStats holds per-context counts.
type ContextStats struct {
	Context   string `json:"context"`
	Turns     int    `json:"turns"`
	HighWater int64  `json:"high_water"`
	Crystals  int    `json:"crystals"`
	TailStart int64  `json:"tail_start"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM turns`, &st.TotalTurns},
		{`SELECT COUNT(*) FROM anchors`, &st.TotalAnchors},
		{`SELECT COUNT(*) FROM edges`, &st.TotalEdges},
		{`SELECT COUNT(*) FROM crystals`, &st.TotalCrystals},
		{`SELECT COUNT(*) FROM crystals WHERE archived = 1`, &st.ArchivedCrystal},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return st, unavailable("stats", err)
		}
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM locks WHERE expires_at > ?`, nanos(s.clock())).Scan(&st.LiveLocks); err != nil {
		return st, unavailable("stats", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.context, COUNT(*), MAX(t.seq),
		       (SELECT COUNT(*) FROM crystals c WHERE c.context = t.context),
		       (SELECT COALESCE(MAX(end_seq), 0) + 1 FROM crystals c WHERE c.context = t.context)
		FROM turns t GROUP BY t.context ORDER BY t.context`)
	if err != nil {
		return st, unavailable("stats", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cs ContextStats
		if err := rows.Scan(&cs.Context, &cs.Turns, &cs.HighWater, &cs.Crystals, &cs.TailStart); err != nil {
			return st, unavailable("stats", err)
		}
		st.Contexts = append(st.Contexts, cs)
	}

	return st, rows.Err()
}
