package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/rcliao/pattern-persistence/internal/embedding"
	"github.com/rcliao/pattern-persistence/internal/model"
)

// AddAnchor never overwrites: a second add of the same text is a no-op that
// returns the stored anchor.
func (s *SQLiteStore) AddAnchor(ctx context.Context, text string, vector []float32) (model.Anchor, bool, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Anchor{}, false, fmt.Errorf("anchor text is required")
	}

	now := s.clock()
	a := model.Anchor{
		ID:        model.AnchorID(text),
		Text:      text,
		CreatedAt: now,
		Vector:    vector,
	}

	var blob []byte
	if len(vector) > 0 {
		blob = embedding.Encode(vector)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO anchors (id, text, created_at, vector) VALUES (?, ?, ?, ?)`,
		a.ID, a.Text, nanos(now), blob)
	if err != nil {
		return model.Anchor{}, false, unavailable("add anchor", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Anchor{}, false, unavailable("add anchor", err)
	}
	if n == 1 {
		return a, true, nil
	}

	existing, err := s.GetAnchor(ctx, a.ID)
	if err != nil {
		return model.Anchor{}, false, err
	}
	return *existing, false, nil
}

// GetAnchor returns the anchor with the given content hash.
func (s *SQLiteStore) GetAnchor(ctx context.Context, id string) (*model.Anchor, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, text, created_at, vector FROM anchors WHERE id = ?`, id)
	a, err := scanAnchor(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("anchor %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get anchor", err)
	}
	return &a, nil
}

// SetAnchorVector fills in the vector of an anchor that has none. The
// anchor text is never changed.
func (s *SQLiteStore) SetAnchorVector(ctx context.Context, id string, vector []float32) (bool, error) {
	if len(vector) == 0 {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE anchors SET vector = ? WHERE id = ? AND vector IS NULL`, embedding.Encode(vector), id)
	if err != nil {
		return false, unavailable("set anchor vector", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("set anchor vector", err)
	}
	return n > 0, nil
}

// SearchAnchors ranks by cosine similarity when a query vector is given and
// falls back to substring match, newest first.
func (s *SQLiteStore) SearchAnchors(ctx context.Context, p AnchorSearchParams) ([]model.Anchor, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 5
	}

	if len(p.Vector) > 0 {
		return s.rankAnchors(ctx, p.Vector, limit)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, created_at, vector FROM anchors
		 WHERE text LIKE ? ESCAPE '\' ORDER BY created_at DESC LIMIT ?`,
		"%"+likeEscaper.Replace(p.Query)+"%", limit)
	if err != nil {
		return nil, unavailable("search anchors", err)
	}
	return collectAnchors(rows)
}

// ListAnchors returns anchors newest first.
func (s *SQLiteStore) ListAnchors(ctx context.Context, limit int) ([]model.Anchor, error) {
	query := `SELECT id, text, created_at, vector FROM anchors ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list anchors", err)
	}
	return collectAnchors(rows)
}

// likeEscaper makes the LIKE wildcards in a query match literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLiteStore) rankAnchors(ctx context.Context, query []float32, limit int) ([]model.Anchor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, created_at, vector FROM anchors WHERE vector IS NOT NULL`)
	if err != nil {
		return nil, unavailable("rank anchors", err)
	}
	anchors, err := collectAnchors(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		anchor model.Anchor
		score  float64
	}
	candidates := make([]scored, 0, len(anchors))
	for _, a := range anchors {
		candidates = append(candidates, scored{anchor: a, score: embedding.CosineSimilarity(query, a.Vector)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]model.Anchor, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.anchor)
	}
	return out, nil
}

func collectAnchors(rows *sql.Rows) ([]model.Anchor, error) {
	defer rows.Close()
	var anchors []model.Anchor
	for rows.Next() {
		a, err := scanAnchor(rows)
		if err != nil {
			return nil, unavailable("scan anchor", err)
		}
		anchors = append(anchors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read anchors", err)
	}
	return anchors, nil
}

func scanAnchor(row scanner) (model.Anchor, error) {
	var a model.Anchor
	var createdAt int64
	var blob []byte
	if err := row.Scan(&a.ID, &a.Text, &createdAt, &blob); err != nil {
		return a, err
	}
	a.CreatedAt = fromNanos(createdAt)
	if len(blob) > 0 {
		v, err := embedding.Decode(blob)
		if err != nil {
			return a, err
		}
		a.Vector = v
	}
	return a, nil
}
