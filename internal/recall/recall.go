// Package recall assembles the working context a front end loads at session
// start: recent crystals, relevant anchors and the unconsolidated tail.
//
// Recall is a pure read and never fails outright. Each layer reports its own
// availability, so an unavailable sub-store degrades the bundle instead of
// breaking it.
package recall

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/pattern-persistence/internal/embedding"
	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/store"
)

const (
	DefaultCrystalLimit = 3
	DefaultAnchorLimit  = 5
	DefaultBriefTail    = 20

	// crystalSlack covers crystals committed after the high-water mark was
	// read; they are fetched and then dropped.
	crystalSlack = 4
)

// Mode selects how much context a recall returns.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeBrief Mode = "brief"
)

// ParseMode accepts "full" (the default for "") and "brief".
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeBrief:
		return ModeBrief, nil
	}
	return "", fmt.Errorf("invalid recall mode %q (valid: full, brief)", s)
}

// Layer names one part of a bundle.
type Layer string

const (
	LayerCrystals Layer = "crystals"
	LayerAnchors  Layer = "anchors"
	LayerTail     Layer = "tail"
)

// LayerStatus says whether a layer could be read.
type LayerStatus struct {
	Available bool   `json:"available"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Bundle is the result of a recall.
type Bundle struct {
	Context   string                `json:"context"`
	Mode      Mode                  `json:"mode"`
	HighWater int64                 `json:"high_water"`
	Crystals  []model.Crystal       `json:"crystals"`
	Anchors   []model.Anchor        `json:"anchors"`
	TailTurns []model.Turn          `json:"tail_turns"`
	Layers    map[Layer]LayerStatus `json:"layers"`
}

// Partial reports whether any layer is unavailable.
func (b Bundle) Partial() bool {
	for _, s := range b.Layers {
		if !s.Available {
			return true
		}
	}
	return false
}

// Store is the read surface recall needs.
type Store interface {
	HighWater(ctx context.Context, contextName string) (int64, error)
	ReadRange(ctx context.Context, contextName string, start, end int64) ([]model.Turn, error)
	TailTurns(ctx context.Context, contextName string, after int64, limit int) ([]model.Turn, error)
	ListCrystals(ctx context.Context, q store.CrystalQuery) ([]model.Crystal, error)
	SearchAnchors(ctx context.Context, p store.AnchorSearchParams) ([]model.Anchor, error)
}

// Config configures an Aggregator.
type Config struct {
	Store    Store
	Embedder embedding.Embedder // optional; nil uses text search
	Logger   *zap.Logger

	CrystalLimit int
	AnchorLimit  int
	BriefTail    int
}

// Aggregator answers recall requests.
type Aggregator struct {
	store    Store
	embedder embedding.Embedder
	logger   *zap.Logger

	crystalLimit int
	anchorLimit  int
	briefTail    int
}

func New(c Config) *Aggregator {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.CrystalLimit <= 0 {
		c.CrystalLimit = DefaultCrystalLimit
	}
	if c.AnchorLimit <= 0 {
		c.AnchorLimit = DefaultAnchorLimit
	}
	if c.BriefTail <= 0 {
		c.BriefTail = DefaultBriefTail
	}
	return &Aggregator{
		store:        c.Store,
		embedder:     c.Embedder,
		logger:       c.Logger,
		crystalLimit: c.CrystalLimit,
		anchorLimit:  c.AnchorLimit,
		briefTail:    c.BriefTail,
	}
}

// Request is a recall request. Query steers anchor relevance. When it is
// empty, anchors are ranked against the context's latest turn if an embedder
// is configured and listed newest first otherwise.
type Request struct {
	Context string
	Mode    Mode
	Query   string
}

// Recall builds a bundle for req. The append log's high-water mark is read
// first and bounds everything else, so a crystal committed mid-recall is
// either wholly visible with its turns removed from the tail or not visible
// at all.
func (a *Aggregator) Recall(ctx context.Context, req Request) Bundle {
	if req.Mode == "" {
		req.Mode = ModeFull
	}
	b := Bundle{
		Context:   req.Context,
		Mode:      req.Mode,
		Crystals:  []model.Crystal{},
		Anchors:   []model.Anchor{},
		TailTurns: []model.Turn{},
		Layers:    make(map[Layer]LayerStatus, 3),
	}

	hw, hwErr := a.store.HighWater(ctx, req.Context)
	b.HighWater = hw

	var (
		crystals []model.Crystal
		tail     []model.Turn
		anchors  []model.Anchor
		logErr   error
		anchErr  error
		skipAnch bool
	)

	var g errgroup.Group
	g.Go(func() error {
		if hwErr != nil {
			logErr = hwErr
			return nil
		}
		crystals, tail, logErr = a.readLog(ctx, req, hw)
		return nil
	})
	g.Go(func() error {
		if req.Mode == ModeBrief && req.Query == "" {
			skipAnch = true
			return nil
		}
		anchors, anchErr = a.readAnchors(ctx, req, hw, hwErr)
		return nil
	})
	_ = g.Wait()

	if logErr != nil {
		a.logger.Warn("recall log layers unavailable", zap.String("context", req.Context), zap.Error(logErr))
		b.Layers[LayerCrystals] = LayerStatus{Error: logErr.Error()}
		b.Layers[LayerTail] = LayerStatus{Error: logErr.Error()}
	} else {
		b.Crystals, b.TailTurns = crystals, tail
		b.Layers[LayerCrystals] = LayerStatus{Available: true}
		b.Layers[LayerTail] = LayerStatus{Available: true}
	}

	switch {
	case skipAnch:
		b.Layers[LayerAnchors] = LayerStatus{Available: true, Skipped: true}
	case anchErr != nil:
		a.logger.Warn("recall anchor layer unavailable", zap.String("context", req.Context), zap.Error(anchErr))
		b.Layers[LayerAnchors] = LayerStatus{Error: anchErr.Error()}
	default:
		b.Anchors = anchors
		b.Layers[LayerAnchors] = LayerStatus{Available: true}
	}

	return b
}

// readLog returns the most recent crystals ending at or below hw and the
// turns between the newest of them and hw.
func (a *Aggregator) readLog(ctx context.Context, req Request, hw int64) ([]model.Crystal, []model.Turn, error) {
	limit := a.crystalLimit
	if req.Mode == ModeBrief {
		limit = 1
	}

	listed, err := a.store.ListCrystals(ctx, store.CrystalQuery{Context: req.Context, Limit: limit + crystalSlack})
	if err != nil {
		return nil, nil, err
	}
	crystals := make([]model.Crystal, 0, limit)
	for _, c := range listed {
		if c.EndSeq > hw {
			continue
		}
		if len(crystals) == limit {
			break
		}
		crystals = append(crystals, c)
	}

	var boundary int64
	if len(crystals) > 0 {
		boundary = crystals[0].EndSeq
	}
	if boundary >= hw {
		return crystals, []model.Turn{}, nil
	}

	turns, err := a.store.TailTurns(ctx, req.Context, boundary, int(hw-boundary))
	if err != nil {
		return nil, nil, err
	}
	if req.Mode == ModeBrief && len(turns) > a.briefTail {
		turns = turns[len(turns)-a.briefTail:]
	}
	return crystals, turns, nil
}

func (a *Aggregator) readAnchors(ctx context.Context, req Request, hw int64, hwErr error) ([]model.Anchor, error) {
	query := req.Query
	if query == "" && a.embedder != nil && hwErr == nil && hw > 0 {
		last, err := a.store.ReadRange(ctx, req.Context, hw, hw)
		if err == nil && len(last) == 1 {
			query = last[0].Text
		}
	}

	p := store.AnchorSearchParams{Query: query, Limit: a.anchorLimit}
	if a.embedder != nil && query != "" {
		v, err := a.embedder.Embed(ctx, query)
		if err != nil {
			a.logger.Debug("embed recall query, falling back to text search", zap.Error(err))
		} else {
			p.Vector = v
		}
	}
	return a.store.SearchAnchors(ctx, p)
}
