package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/rcliao/pattern-persistence/internal/model"
)

// TailInfo describes the unconsolidated turns of a context.
type TailInfo struct {
	Count     int64
	HighWater int64
	Oldest    *model.Turn
}

// Append assigns the next per-context sequence id inside a single INSERT, so
// concurrent writers from several processes can never share a seq.
func (s *SQLiteStore) Append(ctx context.Context, p AppendParams) (model.Turn, error) {
	if strings.TrimSpace(p.Context) == "" {
		return model.Turn{}, fmt.Errorf("context is required")
	}
	if p.Role != model.RoleOriginator && p.Role != model.RoleResponder {
		return model.Turn{}, fmt.Errorf("invalid role %q", p.Role)
	}

	now := s.clock()
	t := model.Turn{
		Context:   p.Context,
		Role:      p.Role,
		Text:      p.Text,
		CreatedAt: now,
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO turns (context, seq, role, text, created_at)
		 SELECT ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ? FROM turns WHERE context = ?
		 RETURNING id, seq`,
		p.Context, string(p.Role), p.Text, nanos(now), p.Context).Scan(&t.ID, &t.Seq)
	if err != nil {
		return model.Turn{}, unavailable("append turn", err)
	}

	return t, nil
}

func (s *SQLiteStore) ReadRange(ctx context.Context, contextName string, start, end int64) ([]model.Turn, error) {
	return s.readTurns(ctx, contextName, start, end, 0)
}

// TailTurns returns up to limit turns with seq > after, oldest first.
// limit <= 0 returns the whole tail.
func (s *SQLiteStore) TailTurns(ctx context.Context, contextName string, after int64, limit int) ([]model.Turn, error) {
	return s.readTurns(ctx, contextName, after+1, 0, limit)
}

func (s *SQLiteStore) readTurns(ctx context.Context, contextName string, start, end int64, limit int) ([]model.Turn, error) {
	where := []string{"context = ?", "seq >= ?"}
	args := []interface{}{contextName, start}
	if end > 0 {
		where = append(where, "seq <= ?")
		args = append(args, end)
	}

	query := `SELECT id, seq, context, role, text, created_at FROM turns
	          WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("read turns", err)
	}
	defer rows.Close()

	var turns []model.Turn
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, unavailable("scan turn", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("read turns", err)
	}
	return turns, nil
}

func (s *SQLiteStore) HighWater(ctx context.Context, contextName string) (int64, error) {
	var hw int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM turns WHERE context = ?`, contextName).Scan(&hw)
	if err != nil {
		return 0, unavailable("high water", err)
	}
	return hw, nil
}

// Tail summarizes the turns after seq `after`.
func (s *SQLiteStore) Tail(ctx context.Context, contextName string, after int64) (TailInfo, error) {
	var info TailInfo
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(seq), 0) FROM turns WHERE context = ? AND seq > ?`,
		contextName, after).Scan(&info.Count, &info.HighWater)
	if err != nil {
		return info, unavailable("tail", err)
	}
	if info.Count == 0 {
		info.HighWater = after
		return info, nil
	}

	oldest, err := s.readTurns(ctx, contextName, after+1, 0, 1)
	if err != nil {
		return info, err
	}
	if len(oldest) > 0 {
		info.Oldest = &oldest[0]
	}
	return info, nil
}

// Contexts returns every context that has at least one turn.
func (s *SQLiteStore) Contexts(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT context FROM turns ORDER BY context`)
	if err != nil {
		return nil, unavailable("list contexts", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, unavailable("scan context", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanTurn(row scanner) (model.Turn, error) {
	var t model.Turn
	var role string
	var createdAt int64
	if err := row.Scan(&t.ID, &t.Seq, &t.Context, &role, &t.Text, &createdAt); err != nil {
		return t, err
	}
	t.Role = model.Role(role)
	t.CreatedAt = fromNanos(createdAt)
	return t, nil
}
