package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rcliao/pattern-persistence/internal/model"
)

func (s *SQLiteStore) InsertEdge(ctx context.Context, p InsertEdgeParams) (model.Edge, error) {
	if strings.TrimSpace(p.Subject) == "" || strings.TrimSpace(p.Predicate) == "" || strings.TrimSpace(p.Object) == "" {
		return model.Edge{}, fmt.Errorf("subject, predicate and object are required")
	}

	created := p.CreatedAt.UTC()
	if p.CreatedAt.IsZero() {
		created = s.clock()
	}

	e := model.Edge{
		ID:         s.newID(created),
		Subject:    p.Subject,
		Predicate:  p.Predicate,
		Object:     p.Object,
		Provenance: p.Provenance,
		CreatedAt:  created,
	}

	var validAt *int64
	if p.ValidAt != nil {
		v := nanos(*p.ValidAt)
		validAt = &v
		t := p.ValidAt.UTC()
		e.ValidAt = &t
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO edges (id, subject, predicate, object, valid_at, provenance, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Subject, e.Predicate, e.Object, validAt, e.Provenance, nanos(created))
	if err != nil {
		return model.Edge{}, unavailable("insert edge", err)
	}
	return e, nil
}

func (s *SQLiteStore) QueryEdges(ctx context.Context, p EdgePattern) ([]model.Edge, error) {
	var where []string
	var args []interface{}

	if p.Subject != "" {
		where = append(where, "subject = ? COLLATE NOCASE")
		args = append(args, p.Subject)
	}
	if p.Predicate != "" {
		where = append(where, "predicate = ? COLLATE NOCASE")
		args = append(args, p.Predicate)
	}
	if p.Object != "" {
		where = append(where, "object = ? COLLATE NOCASE")
		args = append(args, p.Object)
	}
	if p.Provenance != "" {
		where = append(where, "provenance = ?")
		args = append(args, p.Provenance)
	}
	if !p.AfterCreated.IsZero() {
		after := nanos(p.AfterCreated)
		where = append(where, "(created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, after, after, p.AfterID)
	}

	query := `SELECT id, subject, predicate, object, valid_at, provenance, created_at FROM edges`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("query edges", err)
	}
	defer rows.Close()

	var edges []model.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, unavailable("scan edge", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("query edges", err)
	}
	return edges, nil
}

// GetEdge returns a single edge by id.
func (s *SQLiteStore) GetEdge(ctx context.Context, id string) (*model.Edge, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, subject, predicate, object, valid_at, provenance, created_at FROM edges WHERE id = ?`, id)
	e, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("edge %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get edge", err)
	}
	return &e, nil
}

func (s *SQLiteStore) DeleteEdge(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return false, unavailable("delete edge", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("delete edge", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CountEdges(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&n); err != nil {
		return 0, unavailable("count edges", err)
	}
	return n, nil
}

func scanEdge(row scanner) (model.Edge, error) {
	var e model.Edge
	var validAt sql.NullInt64
	var createdAt int64
	err := row.Scan(&e.ID, &e.Subject, &e.Predicate, &e.Object, &validAt, &e.Provenance, &createdAt)
	if err != nil {
		return e, err
	}
	e.CreatedAt = fromNanos(createdAt)
	if validAt.Valid {
		t := fromNanos(validAt.Int64)
		e.ValidAt = &t
	}
	return e, nil
}
