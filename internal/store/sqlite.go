package store

import (
	"database/sql"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite. Several processes may open the
// same file concurrently; WAL mode and a busy timeout serialize their writers.
type SQLiteStore struct {
	db   *sql.DB
	path string
	now  func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithClock replaces the wall clock used for timestamps and lock expiry.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		s.now = now
	}
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, unavailable("open db", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, unavailable("migrate", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) clock() time.Time {
	return s.now().UTC()
}

func (s *SQLiteStore) newID(t time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), s.entropy).String()
}

// Timestamps are stored as unix nanoseconds so that ordering and expiry
// comparisons happen inside SQL.
func nanos(t time.Time) int64 {
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		context    TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		text       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (context, seq)
	);

	CREATE TABLE IF NOT EXISTS anchors (
		id         TEXT PRIMARY KEY,
		text       TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		vector     BLOB
	);
	CREATE INDEX IF NOT EXISTS idx_anchors_created ON anchors(created_at DESC);

	CREATE TABLE IF NOT EXISTS edges (
		id         TEXT PRIMARY KEY,
		subject    TEXT NOT NULL,
		predicate  TEXT NOT NULL,
		object     TEXT NOT NULL,
		valid_at   INTEGER,
		provenance TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_edges_created ON edges(created_at, id);
	CREATE INDEX IF NOT EXISTS idx_edges_subject ON edges(subject COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_edges_object ON edges(object COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS crystals (
		id         TEXT PRIMARY KEY,
		context    TEXT NOT NULL,
		start_seq  INTEGER NOT NULL,
		end_seq    INTEGER NOT NULL,
		summary    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		slot       INTEGER NOT NULL,
		archived   INTEGER NOT NULL DEFAULT 0,
		UNIQUE (context, start_seq)
	);
	CREATE INDEX IF NOT EXISTS idx_crystals_context_end ON crystals(context, end_seq DESC);

	CREATE TABLE IF NOT EXISTS locks (
		resource    TEXT PRIMARY KEY,
		holder      TEXT NOT NULL,
		acquired_at INTEGER NOT NULL,
		expires_at  INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}
