// Package store provides the SQLite persistence layer: the append log, the
// anchor store, the fact graph, crystals and the advisory lock table.
package store

import (
	"context"
	"time"

	"github.com/rcliao/pattern-persistence/internal/model"
)

// AppendParams holds parameters for appending a turn.
type AppendParams struct {
	Context string
	Role    model.Role
	Text    string
}

// AppendLog is the durable, ordered record of turns. It has no delete API.
type AppendLog interface {
	// Append stores a turn and returns it with its assigned sequence id.
	Append(ctx context.Context, p AppendParams) (model.Turn, error)

	// ReadRange returns the context's turns with start <= seq <= end in order.
	// end <= 0 reads up to the high-water mark.
	ReadRange(ctx context.Context, contextName string, start, end int64) ([]model.Turn, error)

	// HighWater returns the highest sequence id appended for the context.
	HighWater(ctx context.Context, contextName string) (int64, error)
}

// AnchorSearchParams holds parameters for searching anchors.
// When Vector is set anchors are ranked by similarity, otherwise by substring match.
type AnchorSearchParams struct {
	Query  string
	Vector []float32
	Limit  int
}

// AnchorStore owns the authoritative anchor text and lifecycle.
type AnchorStore interface {
	// AddAnchor stores an anchor. created is false when an anchor with the
	// same content hash already exists; the existing anchor is returned unchanged.
	AddAnchor(ctx context.Context, text string, vector []float32) (a model.Anchor, created bool, err error)

	SearchAnchors(ctx context.Context, p AnchorSearchParams) ([]model.Anchor, error)
}

// InsertEdgeParams holds parameters for inserting a fact.
type InsertEdgeParams struct {
	Subject    string
	Predicate  string
	Object     string
	ValidAt    *time.Time
	Provenance string
	CreatedAt  time.Time // zero means now
}

// EdgePattern matches edges. Empty fields are wildcards; set fields match
// case-insensitively. Results are ordered by creation, oldest first, and
// AfterCreated/AfterID page past a previous result.
type EdgePattern struct {
	Subject      string
	Predicate    string
	Object       string
	Provenance   string
	Limit        int
	AfterCreated time.Time
	AfterID      string
}

// FactGraph stores subject-predicate-object edges.
type FactGraph interface {
	// InsertEdge always accepts; duplicates are removed out-of-band by curation.
	InsertEdge(ctx context.Context, p InsertEdgeParams) (model.Edge, error)

	QueryEdges(ctx context.Context, p EdgePattern) ([]model.Edge, error)

	// DeleteEdge removes an edge. It reports false with a nil error when the
	// edge is already gone.
	DeleteEdge(ctx context.Context, id string) (bool, error)

	CountEdges(ctx context.Context) (int, error)
}

// CommitParams holds parameters for committing a crystal.
type CommitParams struct {
	Context   string
	StartSeq  int64
	EndSeq    int64
	Summary   string
	Retention int // crystals beyond this count are archived; 0 disables archiving
}

// CrystalQuery holds parameters for listing crystals.
type CrystalQuery struct {
	Context         string
	Limit           int
	IncludeArchived bool
	Ascending       bool // oldest first; default is most recent first
}

// CrystalStore persists crystals.
type CrystalStore interface {
	// LastCrystal returns the context's most recent crystal, or nil.
	LastCrystal(ctx context.Context, contextName string) (*model.Crystal, error)

	// CommitCrystal writes a crystal all-or-nothing. The range must start right
	// after the last crystal's end, otherwise ErrRangeConflict is returned.
	CommitCrystal(ctx context.Context, p CommitParams) (model.Crystal, error)

	ListCrystals(ctx context.Context, q CrystalQuery) ([]model.Crystal, error)
}

// LockStore is the compare-and-set lock table behind the coordinator.
type LockStore interface {
	// AcquireLock grants the lock when no live lock exists for resource.
	AcquireLock(ctx context.Context, resource, holder string, ttl time.Duration) (model.Lock, bool, error)

	// ReleaseLock deletes the lock only if holder owns it.
	ReleaseLock(ctx context.Context, resource, holder string) (bool, error)

	GetLock(ctx context.Context, resource string) (*model.Lock, error)
	ListLocks(ctx context.Context) ([]model.Lock, error)
}

// Store is everything the SQLite implementation provides.
type Store interface {
	AppendLog
	AnchorStore
	FactGraph
	CrystalStore
	LockStore

	// Close closes the store.
	Close() error
}
