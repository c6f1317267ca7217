package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/crystallize"
	"github.com/rcliao/pattern-persistence/internal/curate"
	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/recall"
	"github.com/rcliao/pattern-persistence/internal/store"
)

// AppendTurn records a turn in the context's append log.
func (s *Service) AppendTurn(ctx context.Context, contextName string, role model.Role, text string) (model.Turn, error) {
	return s.store.Append(ctx, store.AppendParams{Context: contextName, Role: role, Text: text})
}

// GetTailTurns returns the context's unconsolidated turns, oldest first.
// limit > 0 keeps only the most recent limit turns.
func (s *Service) GetTailTurns(ctx context.Context, contextName string, limit int) ([]model.Turn, error) {
	last, err := s.store.LastCrystal(ctx, contextName)
	if err != nil {
		return nil, err
	}
	var after int64
	if last != nil {
		after = last.EndSeq
	}
	turns, err := s.store.TailTurns(ctx, contextName, after, 0)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	return turns, nil
}

// AddAnchor stores an anchor. created is false when the same text was
// already anchored. The vector is computed when an embedder is configured;
// an embedding failure stores the anchor without one.
func (s *Service) AddAnchor(ctx context.Context, text string) (model.Anchor, bool, error) {
	var vec []float32
	if s.embedder != nil && strings.TrimSpace(text) != "" {
		v, err := s.embedder.Embed(ctx, text)
		if err != nil {
			s.logger.Warn("embed anchor", zap.Error(err))
		} else {
			vec = v
		}
	}
	return s.store.AddAnchor(ctx, text, vec)
}

// SearchAnchors returns up to k anchors relevant to query.
func (s *Service) SearchAnchors(ctx context.Context, query string, k int) ([]model.Anchor, error) {
	p := store.AnchorSearchParams{Query: query, Limit: k}
	if s.embedder != nil && strings.TrimSpace(query) != "" {
		v, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("embed query, using text search", zap.Error(err))
		} else {
			p.Vector = v
		}
	}
	return s.store.SearchAnchors(ctx, p)
}

// InsertFact adds an edge to the fact graph. Duplicates are accepted and
// left to curation.
func (s *Service) InsertFact(ctx context.Context, p store.InsertEdgeParams) (model.Edge, error) {
	return s.store.InsertEdge(ctx, p)
}

func (s *Service) QueryFacts(ctx context.Context, p store.EdgePattern) ([]model.Edge, error) {
	return s.store.QueryEdges(ctx, p)
}

// DeleteFact removes an edge. Deleting a missing edge reports false.
func (s *Service) DeleteFact(ctx context.Context, id string) (bool, error) {
	return s.store.DeleteEdge(ctx, id)
}

// GetCrystals returns the context's crystals, most recent first.
func (s *Service) GetCrystals(ctx context.Context, contextName string, limit int, includeArchived bool) ([]model.Crystal, error) {
	return s.store.ListCrystals(ctx, store.CrystalQuery{
		Context:         contextName,
		Limit:           limit,
		IncludeArchived: includeArchived,
	})
}

// Recall assembles a context bundle. It never fails; unavailable layers
// are reported in the bundle.
func (s *Service) Recall(ctx context.Context, req recall.Request) recall.Bundle {
	return s.recall.Recall(ctx, req)
}

// RunCrystallization runs one pass for contextName, or for every context
// when contextName is empty.
func (s *Service) RunCrystallization(ctx context.Context, contextName string, force bool) ([]crystallize.Result, error) {
	if contextName == "" {
		if force {
			return nil, fmt.Errorf("force requires a context")
		}
		return s.crystallizer.Tick(ctx)
	}
	res, err := s.crystallizer.Run(ctx, contextName, crystallize.RunOptions{Force: force})
	return []crystallize.Result{res}, err
}

// CheckEligibility reports whether a context would be crystallized now.
func (s *Service) CheckEligibility(ctx context.Context, contextName string) (crystallize.Eligibility, error) {
	return s.crystallizer.CheckEligibility(ctx, contextName)
}

func (s *Service) RunCuration(ctx context.Context, opts curate.Options) (curate.Report, error) {
	return s.curator.Run(ctx, opts)
}

// ResolveEntities rewrites aliased entity names using the configured
// aliases merged with extra.
func (s *Service) ResolveEntities(ctx context.Context, extra map[string]string, dryRun bool) (curate.ResolveReport, error) {
	aliases := make(map[string]string, len(s.cfg.Curation.Aliases)+len(extra))
	for k, v := range s.cfg.Curation.Aliases {
		aliases[k] = v
	}
	for k, v := range extra {
		aliases[k] = v
	}
	if len(aliases) == 0 {
		return curate.ResolveReport{DryRun: dryRun, Rewrites: []curate.Rewrite{}}, nil
	}
	return s.curator.ResolveEntities(ctx, curate.NewAliasResolver(aliases), dryRun)
}

// Locks lists every lock row with its expiry state.
func (s *Service) Locks(ctx context.Context) ([]coord.LockStatus, error) {
	return s.coord.List(ctx)
}

// Status is the operator view of the database and the passes run by this
// process.
type Status struct {
	*store.Stats
	Crystallize []crystallize.Health `json:"crystallize_health,omitempty"`
	Curate      curate.Health        `json:"curate_health"`
}

func (s *Service) Stats(ctx context.Context) (*Status, error) {
	st, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Stats:       st,
		Crystallize: s.crystallizer.Health(),
		Curate:      s.curator.Health(),
	}, nil
}

// Export snapshots the database, optionally restricted to one context.
func (s *Service) Export(ctx context.Context, contextName string) (*store.Snapshot, error) {
	return s.store.ExportAll(ctx, contextName)
}

// Import loads a snapshot, skipping records that already exist.
func (s *Service) Import(ctx context.Context, snap *store.Snapshot) (*store.ImportResult, error) {
	if snap == nil {
		return nil, fmt.Errorf("snapshot is required")
	}
	res, err := s.store.Import(ctx, snap)
	if err != nil {
		return nil, err
	}
	s.embedAnchors(ctx, snap.Anchors)
	return res, nil
}

// embedAnchors computes vectors for anchors stored without one. Snapshots
// do not carry vectors, so imported anchors are re-embedded here.
func (s *Service) embedAnchors(ctx context.Context, anchors []model.Anchor) {
	if s.embedder == nil {
		return
	}
	for _, a := range anchors {
		id := model.AnchorID(a.Text)
		stored, err := s.store.GetAnchor(ctx, id)
		if err != nil || len(stored.Vector) > 0 {
			continue
		}
		v, err := s.embedder.Embed(ctx, stored.Text)
		if err != nil {
			s.logger.Warn("embed imported anchor", zap.String("id", id), zap.Error(err))
			continue
		}
		if _, err := s.store.SetAnchorVector(ctx, id, v); err != nil {
			s.logger.Warn("store anchor vector", zap.String("id", id), zap.Error(err))
		}
	}
}
