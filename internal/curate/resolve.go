package curate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/store"
)

// Resolver maps an entity name to its canonical form. It is never applied
// by Run; callers invoke ResolveEntities explicitly.
type Resolver interface {
	Resolve(name string) (canonical string, ok bool)
}

// AliasResolver resolves names through a fixed alias table. Lookups are
// case- and whitespace-insensitive.
type AliasResolver map[string]string

// NewAliasResolver builds a resolver from alias → canonical pairs.
func NewAliasResolver(aliases map[string]string) AliasResolver {
	r := make(AliasResolver, len(aliases))
	for alias, canonical := range aliases {
		if a := normalize(alias); a != "" && canonical != "" {
			r[a] = canonical
		}
	}
	return r
}

func (r AliasResolver) Resolve(name string) (string, bool) {
	c, ok := r[normalize(name)]
	if !ok || c == name {
		return "", false
	}
	return c, true
}

// Rewrite records one edge replaced by entity resolution.
type Rewrite struct {
	From model.Edge `json:"from"`
	To   model.Edge `json:"to"`
}

// ResolveReport is the outcome of an entity resolution pass.
type ResolveReport struct {
	DryRun   bool      `json:"dry_run"`
	Deferred bool      `json:"deferred,omitempty"`
	Scanned  int       `json:"scanned"`
	Rewrites []Rewrite `json:"rewrites"`
}

// ResolveEntities rewrites every edge whose subject or object the resolver
// maps to a different name. The replacement keeps the predicate, validity
// and creation time; its provenance records the replaced edge. Duplicates
// this creates are left for the next curation pass.
func (c *Curator) ResolveEntities(ctx context.Context, r Resolver, dryRun bool) (ResolveReport, error) {
	rep := ResolveReport{DryRun: dryRun, Rewrites: []Rewrite{}}
	if r == nil {
		return rep, errors.New("resolver is required")
	}

	lock, err := c.coord.TryAcquire(ctx, c.resource, c.lockTTL)
	if errors.Is(err, coord.ErrLockDenied) {
		rep.Deferred = true
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	defer func() {
		if err := c.coord.Release(context.WithoutCancel(ctx), lock.Resource, lock.Holder); err != nil {
			c.logger.Warn("release curate lock", zap.String("resource", c.resource), zap.Error(err))
		}
	}()

	inserted := make(map[string]bool)
	pattern := store.EdgePattern{Limit: c.batchSize}
	for {
		page, err := c.graph.QueryEdges(ctx, pattern)
		if err != nil {
			return rep, err
		}
		for _, e := range page {
			if inserted[e.ID] {
				continue
			}
			rep.Scanned++
			subject, sok := r.Resolve(e.Subject)
			object, ook := r.Resolve(e.Object)
			if !sok && !ook {
				continue
			}
			if !sok {
				subject = e.Subject
			}
			if !ook {
				object = e.Object
			}

			to := model.Edge{Subject: subject, Predicate: e.Predicate, Object: object, ValidAt: e.ValidAt}
			if !dryRun {
				to, err = c.graph.InsertEdge(ctx, store.InsertEdgeParams{
					Subject:    subject,
					Predicate:  e.Predicate,
					Object:     object,
					ValidAt:    e.ValidAt,
					Provenance: "resolve:" + e.ID,
					CreatedAt:  e.CreatedAt,
				})
				if err != nil {
					return rep, fmt.Errorf("rewrite edge %s: %w", e.ID, err)
				}
				inserted[to.ID] = true
				if _, err := c.graph.DeleteEdge(ctx, e.ID); err != nil {
					return rep, fmt.Errorf("rewrite edge %s: %w", e.ID, err)
				}
			}
			rep.Rewrites = append(rep.Rewrites, Rewrite{From: e, To: to})
		}

		if len(page) < pattern.Limit {
			break
		}
		last := page[len(page)-1]
		pattern.AfterCreated, pattern.AfterID = last.CreatedAt, last.ID
	}

	c.logger.Info("entity resolution complete",
		zap.Bool("dry_run", dryRun),
		zap.Int("scanned", rep.Scanned),
		zap.Int("rewritten", len(rep.Rewrites)))
	return rep, nil
}
