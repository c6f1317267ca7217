package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rcliao/pattern-persistence/internal/model"
)

func (s *SQLiteStore) LastCrystal(ctx context.Context, contextName string) (*model.Crystal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, context, start_seq, end_seq, summary, created_at, slot, archived
		 FROM crystals WHERE context = ? ORDER BY end_seq DESC LIMIT 1`, contextName)
	c, err := scanCrystal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("last crystal", err)
	}
	return &c, nil
}

// CommitCrystal inserts the crystal only if its range continues the context's
// last crystal and ends at or below the log's high-water mark. The guard and
// the insert are one statement, so two committers racing on the same range
// cannot both win.
func (s *SQLiteStore) CommitCrystal(ctx context.Context, p CommitParams) (model.Crystal, error) {
	if p.StartSeq < 1 || p.EndSeq < p.StartSeq {
		return model.Crystal{}, fmt.Errorf("invalid crystal range [%d,%d]", p.StartSeq, p.EndSeq)
	}
	if strings.TrimSpace(p.Summary) == "" {
		return model.Crystal{}, fmt.Errorf("crystal summary is required")
	}

	now := s.clock()
	c := model.Crystal{
		ID:        model.CrystalID(p.Context, p.StartSeq, p.EndSeq, p.Summary),
		Context:   p.Context,
		StartSeq:  p.StartSeq,
		EndSeq:    p.EndSeq,
		Summary:   p.Summary,
		CreatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Crystal{}, unavailable("commit crystal", err)
	}
	defer tx.Rollback()

	ok, err := insertCrystal(ctx, tx, &c, false)
	if err != nil {
		return model.Crystal{}, err
	}
	if !ok {
		return model.Crystal{}, fmt.Errorf("range [%d,%d] of %s: %w", p.StartSeq, p.EndSeq, p.Context, ErrRangeConflict)
	}

	if p.Retention > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE crystals SET archived = 1 WHERE context = ? AND archived = 0 AND slot <= ?`,
			c.Context, c.Slot-p.Retention)
		if err != nil {
			return model.Crystal{}, unavailable("archive crystals", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.Crystal{}, unavailable("commit crystal", err)
	}
	return c, nil
}

// insertCrystal writes c only if its range starts right after the context's
// last crystal and ends at or below the high-water mark. It reports false
// when the guard rejects the range and fills in c.Slot on success.
func insertCrystal(ctx context.Context, tx *sql.Tx, c *model.Crystal, archived bool) (bool, error) {
	flag := 0
	if archived {
		flag = 1
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO crystals (id, context, start_seq, end_seq, summary, created_at, slot, archived)
		 SELECT ?, ?, ?, ?, ?, ?, (SELECT COUNT(*) FROM crystals WHERE context = ?) + 1, ?
		 WHERE (SELECT COALESCE(MAX(end_seq), 0) FROM crystals WHERE context = ?) = ?
		   AND (SELECT COALESCE(MAX(seq), 0) FROM turns WHERE context = ?) >= ?`,
		c.ID, c.Context, c.StartSeq, c.EndSeq, c.Summary, nanos(c.CreatedAt), c.Context, flag,
		c.Context, c.StartSeq-1,
		c.Context, c.EndSeq)
	if isConstraint(err) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("insert crystal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("insert crystal", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.QueryRowContext(ctx, `SELECT slot FROM crystals WHERE id = ?`, c.ID).Scan(&c.Slot); err != nil {
		return false, unavailable("insert crystal", err)
	}
	c.Archived = archived
	return true, nil
}

func (s *SQLiteStore) ListCrystals(ctx context.Context, q CrystalQuery) ([]model.Crystal, error) {
	var where []string
	var args []interface{}
	if q.Context != "" {
		where = append(where, "context = ?")
		args = append(args, q.Context)
	}
	if !q.IncludeArchived {
		where = append(where, "archived = 0")
	}

	query := `SELECT id, context, start_seq, end_seq, summary, created_at, slot, archived FROM crystals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	if q.Ascending {
		query += ` ORDER BY context, end_seq ASC`
	} else {
		query += ` ORDER BY end_seq DESC, context`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list crystals", err)
	}
	defer rows.Close()

	var out []model.Crystal
	for rows.Next() {
		c, err := scanCrystal(rows)
		if err != nil {
			return nil, unavailable("scan crystal", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list crystals", err)
	}
	return out, nil
}

func scanCrystal(row scanner) (model.Crystal, error) {
	var c model.Crystal
	var createdAt int64
	var archived int
	err := row.Scan(&c.ID, &c.Context, &c.StartSeq, &c.EndSeq, &c.Summary, &createdAt, &c.Slot, &archived)
	if err != nil {
		return c, err
	}
	c.CreatedAt = fromNanos(createdAt)
	c.Archived = archived != 0
	return c, nil
}
