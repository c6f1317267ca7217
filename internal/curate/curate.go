// Package curate removes structurally invalid and duplicated edges from the
// fact graph.
//
// A pass walks the graph oldest first in pages. Each edge is checked against
// the self-reference rule, then the vagueness rule; edges that pass both are
// grouped by signature and every edge after the first of its group is a
// duplicate. Deletes are idempotent, so overlapping passes and retries over
// stale pages are harmless.
package curate

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/eventstream"
	"github.com/rcliao/pattern-persistence/internal/eventstream/nop"
	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/store"
)

const (
	DefaultBatchSize        = 500
	MaxBatchCap             = 5000
	DefaultScope            = "graph"
	DefaultFailureThreshold = 3
)

// DefaultReflexivePredicates and DefaultVagueTerms are used when the
// configuration leaves the lists unset.
var (
	DefaultReflexivePredicates = []string{
		"same_as", "is", "is_same_as", "equals", "identical_to", "alias_of",
		"meets", "met", "recognizes", "recognises", "knows",
	}
	DefaultVagueTerms = []string{
		"i", "me", "my", "you", "your", "he", "him", "his", "she", "her", "it", "its",
		"we", "us", "our", "they", "them", "their", "this", "that", "these", "those",
		"someone", "something", "somebody", "thing", "things", "stuff", "entity",
		"unknown", "none", "null", "nil", "n/a", "na", "user", "assistant",
	}
)

// Config configures a Curator.
type Config struct {
	Graph       store.FactGraph
	Coordinator *coord.Coordinator
	Publisher   eventstream.Publisher
	Logger      *zap.Logger

	BatchSize           int
	MaxEdges            int // 0 scans the full graph
	ReflexivePredicates []string
	VagueTerms          []string
	LockTTL             time.Duration
	Scope               string // lock resource suffix, default "graph"
	FailureThreshold    int

	Now func() time.Time
}

// Curator runs curation passes.
type Curator struct {
	graph     store.FactGraph
	coord     *coord.Coordinator
	publisher eventstream.Publisher
	logger    *zap.Logger
	tracer    trace.Tracer
	rules     *Rules

	batchSize        int
	maxEdges         int
	lockTTL          time.Duration
	resource         string
	failureThreshold int
	now              func() time.Time

	mu     sync.Mutex
	health Health
}

// Health tracks consecutive failed curation passes.
type Health struct {
	ConsecutiveFailures int    `json:"consecutive_failures"`
	LastError           string `json:"last_error,omitempty"`
	Unhealthy           bool   `json:"unhealthy"`
}

func New(c Config) (*Curator, error) {
	if c.Graph == nil {
		return nil, errors.New("curator requires a fact graph")
	}
	if c.Coordinator == nil {
		return nil, errors.New("curator requires a coordinator")
	}
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.BatchSize > MaxBatchCap {
		c.BatchSize = MaxBatchCap
	}
	if c.MaxEdges < 0 {
		c.MaxEdges = 0
	}
	if c.ReflexivePredicates == nil {
		c.ReflexivePredicates = DefaultReflexivePredicates
	}
	if c.VagueTerms == nil {
		c.VagueTerms = DefaultVagueTerms
	}
	if c.LockTTL <= 0 {
		c.LockTTL = coord.DefaultTTL
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Curator{
		graph:            c.Graph,
		coord:            c.Coordinator,
		publisher:        c.Publisher,
		logger:           c.Logger,
		tracer:           otel.Tracer("github.com/rcliao/pattern-persistence/internal/curate"),
		rules:            NewRules(c.ReflexivePredicates, c.VagueTerms),
		batchSize:        c.BatchSize,
		maxEdges:         c.MaxEdges,
		lockTTL:          c.LockTTL,
		resource:         coord.Resource(coord.PassCurate, c.Scope),
		failureThreshold: c.FailureThreshold,
		now:              c.Now,
	}, nil
}

// Rules returns the curator's rule set.
func (c *Curator) Rules() *Rules {
	return c.rules
}

// Options modifies a single pass.
type Options struct {
	DryRun   bool
	MaxEdges int // overrides the configured bound when > 0
}

// Flag is an edge selected for deletion and the rule that selected it.
type Flag struct {
	Edge model.Edge `json:"edge"`
	Rule Rule       `json:"rule"`
}

// Report is the outcome of one curation pass.
type Report struct {
	StartedAt   time.Time    `json:"started_at"`
	FinishedAt  time.Time    `json:"finished_at"`
	DryRun      bool         `json:"dry_run"`
	Deferred    bool         `json:"deferred,omitempty"`
	Scanned     int          `json:"scanned"`
	RuleCounts  map[Rule]int `json:"rule_counts"`
	Flagged     []Flag       `json:"flagged"`
	DeletedIDs  []string     `json:"deleted_ids"`
	AlreadyGone int          `json:"already_gone"`
	Remaining   int          `json:"remaining"`
}

func newReport(now time.Time, dryRun bool) Report {
	return Report{
		StartedAt: now,
		DryRun:    dryRun,
		RuleCounts: map[Rule]int{
			RuleSelfReference: 0,
			RuleVague:         0,
			RuleDuplicate:     0,
		},
		Flagged:    []Flag{},
		DeletedIDs: []string{},
	}
}

// Run performs one curation pass under the curate lock. When the lock is
// held elsewhere the returned report has Deferred set and nothing is done.
func (c *Curator) Run(ctx context.Context, opts Options) (Report, error) {
	rep := newReport(c.now().UTC(), opts.DryRun)

	lock, err := c.coord.TryAcquire(ctx, c.resource, c.lockTTL)
	if errors.Is(err, coord.ErrLockDenied) {
		c.logger.Debug("curation deferred", zap.String("resource", c.resource))
		rep.Deferred = true
		rep.FinishedAt = c.now().UTC()
		return rep, nil
	}
	if err != nil {
		return rep, c.fail(ctx, err)
	}
	defer func() {
		if err := c.coord.Release(context.WithoutCancel(ctx), lock.Resource, lock.Holder); err != nil {
			c.logger.Warn("release curate lock", zap.String("resource", c.resource), zap.Error(err))
		}
	}()

	ctx, span := c.tracer.Start(ctx, "curate.Run",
		trace.WithAttributes(attribute.Bool("pps.curate.dry_run", opts.DryRun)))
	defer span.End()

	if err := c.scan(ctx, opts, &rep); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return rep, c.fail(ctx, err)
	}

	remaining, err := c.graph.CountEdges(ctx)
	if err != nil {
		return rep, c.fail(ctx, err)
	}
	rep.Remaining = remaining
	rep.FinishedAt = c.now().UTC()

	span.SetAttributes(
		attribute.Int("pps.curate.scanned", rep.Scanned),
		attribute.Int("pps.curate.deleted", len(rep.DeletedIDs)))
	span.SetStatus(codes.Ok, "")
	c.succeed()

	c.logger.Info("curation pass complete",
		zap.Bool("dry_run", rep.DryRun),
		zap.Int("scanned", rep.Scanned),
		zap.Int("self_reference", rep.RuleCounts[RuleSelfReference]),
		zap.Int("vague", rep.RuleCounts[RuleVague]),
		zap.Int("duplicate", rep.RuleCounts[RuleDuplicate]),
		zap.Int("deleted", len(rep.DeletedIDs)),
		zap.Int("remaining", rep.Remaining))
	c.publish(ctx, curationEvent(rep))

	return rep, nil
}

func (c *Curator) scan(ctx context.Context, opts Options, rep *Report) error {
	limit := c.maxEdges
	if opts.MaxEdges > 0 {
		limit = opts.MaxEdges
	}

	keepers := make(map[string]string)
	pattern := store.EdgePattern{Limit: c.batchSize}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if limit > 0 {
			left := limit - rep.Scanned
			if left <= 0 {
				return nil
			}
			if left < pattern.Limit {
				pattern.Limit = left
			}
		}

		page, err := c.graph.QueryEdges(ctx, pattern)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		for _, e := range page {
			rep.Scanned++
			rule, flagged := c.rules.Check(e)
			if !flagged {
				sig := Signature(e)
				if _, seen := keepers[sig]; seen {
					rule, flagged = RuleDuplicate, true
				} else {
					keepers[sig] = e.ID
				}
			}
			if !flagged {
				continue
			}

			rep.RuleCounts[rule]++
			rep.Flagged = append(rep.Flagged, Flag{Edge: e, Rule: rule})
			if opts.DryRun {
				continue
			}
			deleted, err := c.graph.DeleteEdge(ctx, e.ID)
			if err != nil {
				return err
			}
			if deleted {
				rep.DeletedIDs = append(rep.DeletedIDs, e.ID)
			} else {
				rep.AlreadyGone++
			}
		}

		last := page[len(page)-1]
		pattern.AfterCreated, pattern.AfterID = last.CreatedAt, last.ID
		if len(page) < pattern.Limit {
			return nil
		}
	}
}

// Health returns the consecutive-failure state of the curation pass.
func (c *Curator) Health() Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.health
}

func (c *Curator) fail(ctx context.Context, err error) error {
	c.mu.Lock()
	c.health.ConsecutiveFailures++
	c.health.LastError = err.Error()
	crossed := !c.health.Unhealthy && c.health.ConsecutiveFailures >= c.failureThreshold
	if crossed {
		c.health.Unhealthy = true
	}
	h := c.health
	c.mu.Unlock()

	if crossed {
		c.logger.Error("curation pass unhealthy",
			zap.Int("consecutive_failures", h.ConsecutiveFailures),
			zap.Error(err))
		ev := eventstream.NewEvent(eventstream.EventTypePassUnhealthy, "")
		ev.Health = &eventstream.HealthMeta{
			Pass:                coord.PassCurate,
			ConsecutiveFailures: h.ConsecutiveFailures,
			LastError:           h.LastError,
		}
		c.publish(context.WithoutCancel(ctx), ev)
	}
	return err
}

func (c *Curator) succeed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.health = Health{}
}

func (c *Curator) publish(ctx context.Context, ev *eventstream.Event) {
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warn("publish event", zap.String("event_type", ev.EventType), zap.Error(err))
	}
}

func curationEvent(rep Report) *eventstream.Event {
	counts := make(map[string]int, len(rep.RuleCounts))
	for r, n := range rep.RuleCounts {
		counts[string(r)] = n
	}
	ev := eventstream.NewEvent(eventstream.EventTypeCurationCompleted, "")
	ev.Curation = &eventstream.CurationMeta{
		Scanned:    rep.Scanned,
		Deleted:    len(rep.DeletedIDs),
		Remaining:  rep.Remaining,
		RuleCounts: counts,
		DryRun:     rep.DryRun,
	}
	return ev
}
