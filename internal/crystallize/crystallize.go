// Package crystallize compresses the unconsolidated tail of a context's
// append log into crystals.
//
// Each context moves through IDLE → ELIGIBLE → RUNNING → IDLE. A context is
// eligible once its tail reaches the turn threshold or has gone stale. The
// RUNNING step holds the "crystallize:<context>" lock, so the same context
// is never crystallized by two processes at once while different contexts
// proceed in parallel.
package crystallize

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/rcliao/pattern-persistence/internal/summarize"
)

const (
	DefaultTurnThreshold    = 50
	DefaultStaleness        = 24 * time.Hour
	DefaultMaxBatch         = 500
	DefaultSummarizeTimeout = 2 * time.Minute
	DefaultFailureThreshold = 3

	// MaxBatchCap bounds MaxBatch regardless of configuration.
	MaxBatchCap = 5000

	tickConcurrency = 2
)

// Store is the slice of storage the crystallizer reads and writes.
type Store interface {
	store.CrystalStore
	Tail(ctx context.Context, contextName string, after int64) (store.TailInfo, error)
	TailTurns(ctx context.Context, contextName string, after int64, limit int) ([]model.Turn, error)
	Contexts(ctx context.Context) ([]string, error)
}

// Config configures a Crystallizer. Zero values take the package defaults.
type Config struct {
	Store       Store
	Coordinator *coord.Coordinator
	Summarizer  summarize.Summarizer
	Publisher   eventstream.Publisher
	Logger      *zap.Logger

	TurnThreshold    int
	Staleness        time.Duration
	MaxBatch         int
	Retention        int
	SummarizeTimeout time.Duration
	LockTTL          time.Duration
	FailureThreshold int

	Now func() time.Time
}

// Crystallizer runs crystallization passes and tracks per-context state.
type Crystallizer struct {
	store      Store
	coord      *coord.Coordinator
	summarizer summarize.Summarizer
	publisher  eventstream.Publisher
	logger     *zap.Logger
	tracer     trace.Tracer

	turnThreshold    int64
	staleness        time.Duration
	maxBatch         int
	retention        int
	summarizeTimeout time.Duration
	lockTTL          time.Duration
	failureThreshold int

	now func() time.Time

	mu       sync.Mutex
	states   map[string]State
	failures map[string]*Health
}

// New creates a Crystallizer.
func New(c Config) (*Crystallizer, error) {
	if c.Store == nil {
		return nil, errors.New("crystallizer requires a store")
	}
	if c.Coordinator == nil {
		return nil, errors.New("crystallizer requires a coordinator")
	}
	if c.Summarizer == nil {
		c.Summarizer = summarize.NewBounded(&summarize.Extractive{}, 0)
	}
	if c.Publisher == nil {
		c.Publisher = nop.NewPublisher()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.TurnThreshold <= 0 {
		c.TurnThreshold = DefaultTurnThreshold
	}
	if c.Staleness <= 0 {
		c.Staleness = DefaultStaleness
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.MaxBatch > MaxBatchCap {
		c.MaxBatch = MaxBatchCap
	}
	if c.SummarizeTimeout <= 0 {
		c.SummarizeTimeout = DefaultSummarizeTimeout
	}
	if c.LockTTL <= 0 {
		c.LockTTL = coord.DefaultTTL
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Crystallizer{
		store:            c.Store,
		coord:            c.Coordinator,
		summarizer:       c.Summarizer,
		publisher:        c.Publisher,
		logger:           c.Logger,
		tracer:           otel.Tracer("github.com/rcliao/pattern-persistence/internal/crystallize"),
		turnThreshold:    int64(c.TurnThreshold),
		staleness:        c.Staleness,
		maxBatch:         c.MaxBatch,
		retention:        c.Retention,
		summarizeTimeout: c.SummarizeTimeout,
		lockTTL:          c.LockTTL,
		failureThreshold: c.FailureThreshold,
		now:              c.Now,
		states:           make(map[string]State),
		failures:         make(map[string]*Health),
	}, nil
}

// Eligibility explains whether a context should be crystallized now.
type Eligibility struct {
	Context   string `json:"context"`
	Eligible  bool   `json:"eligible"`
	Reason    string `json:"reason"`
	TailCount int64  `json:"tail_count"`
	LastEnd   int64  `json:"last_end"`
	HighWater int64  `json:"high_water"`
}

const (
	reasonThreshold = "turn threshold reached"
	reasonStale     = "tail is stale"
	reasonForced    = "forced"
	reasonEmpty     = "tail is empty"
	reasonWaiting   = "below threshold"
)

// CheckEligibility evaluates the trigger conditions without side effects.
func (c *Crystallizer) CheckEligibility(ctx context.Context, contextName string) (Eligibility, error) {
	e := Eligibility{Context: contextName}

	last, err := c.store.LastCrystal(ctx, contextName)
	if err != nil {
		return e, err
	}
	if last != nil {
		e.LastEnd = last.EndSeq
	}

	tail, err := c.store.Tail(ctx, contextName, e.LastEnd)
	if err != nil {
		return e, err
	}
	e.TailCount = tail.Count
	e.HighWater = tail.HighWater

	switch {
	case tail.Count == 0:
		e.Reason = reasonEmpty
	case tail.Count >= c.turnThreshold:
		e.Eligible, e.Reason = true, reasonThreshold
	default:
		var since time.Time
		if last != nil {
			since = last.CreatedAt
		} else if tail.Oldest != nil {
			since = tail.Oldest.CreatedAt
		}
		if !since.IsZero() && c.now().Sub(since) > c.staleness {
			e.Eligible, e.Reason = true, reasonStale
		} else {
			e.Reason = reasonWaiting
		}
	}
	return e, nil
}

// RunOptions modifies a single pass.
type RunOptions struct {
	// Force crystallizes any non-empty tail regardless of the triggers.
	Force bool
}

// Run performs one pass for contextName. A pass that is not eligible or
// finds the lock held returns a Result with a nil error. A failed pass
// commits nothing, releases the lock and returns the error.
func (c *Crystallizer) Run(ctx context.Context, contextName string, opts RunOptions) (Result, error) {
	res := Result{Context: contextName, Outcome: OutcomeIdle}

	e, err := c.CheckEligibility(ctx, contextName)
	if err != nil {
		return c.fail(ctx, res, err)
	}
	res.Reason = e.Reason
	if opts.Force && e.TailCount > 0 {
		e.Eligible, res.Reason = true, reasonForced
	}
	if !e.Eligible {
		return res, nil
	}

	c.setState(contextName, StateEligible)
	defer c.setState(contextName, StateIdle)

	resource := coord.Resource(coord.PassCrystallize, contextName)
	lock, err := c.coord.TryAcquire(ctx, resource, c.lockTTL)
	if errors.Is(err, coord.ErrLockDenied) {
		c.logger.Debug("crystallize deferred", zap.String("context", contextName))
		res.Outcome = OutcomeDeferred
		return res, nil
	}
	if err != nil {
		return c.fail(ctx, res, err)
	}
	defer func() {
		if err := c.coord.Release(context.WithoutCancel(ctx), lock.Resource, lock.Holder); err != nil {
			c.logger.Warn("release crystallize lock", zap.String("resource", resource), zap.Error(err))
		}
	}()

	// Another process may have committed between the first check and the
	// lock, leaving a tail that no longer meets the triggers.
	e, err = c.CheckEligibility(ctx, contextName)
	if err != nil {
		return c.fail(ctx, res, err)
	}
	if !e.Eligible && !(opts.Force && e.TailCount > 0) {
		res.Reason = e.Reason
		c.logger.Debug("crystallize no longer eligible",
			zap.String("context", contextName), zap.String("reason", e.Reason))
		return res, nil
	}

	c.setState(contextName, StateRunning)

	ctx, span := c.tracer.Start(ctx, "crystallize.Run",
		trace.WithAttributes(attribute.String("pps.context", contextName)))
	defer span.End()

	crystal, err := c.crystallize(ctx, contextName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return c.fail(ctx, res, err)
	}
	if crystal == nil {
		res.Reason = reasonEmpty
		return res, nil
	}
	span.SetAttributes(
		attribute.Int64("pps.crystal.start_seq", crystal.StartSeq),
		attribute.Int64("pps.crystal.end_seq", crystal.EndSeq))
	span.SetStatus(codes.Ok, "")

	c.succeed(contextName)
	res.Outcome = OutcomeCrystallized
	res.Crystal = crystal

	c.logger.Info("crystal committed",
		zap.String("context", contextName),
		zap.Int64("start_seq", crystal.StartSeq),
		zap.Int64("end_seq", crystal.EndSeq),
		zap.Int("slot", crystal.Slot))
	c.publish(ctx, crystalEvent(crystal))

	return res, nil
}

// crystallize reads the tail under the lock, summarizes it and commits the
// crystal. The last crystal is re-read here because another process may
// have committed between the eligibility check and the lock.
func (c *Crystallizer) crystallize(ctx context.Context, contextName string) (*model.Crystal, error) {
	last, err := c.store.LastCrystal(ctx, contextName)
	if err != nil {
		return nil, err
	}
	var after int64
	if last != nil {
		after = last.EndSeq
	}

	turns, err := c.store.TailTurns(ctx, contextName, after, c.maxBatch)
	if err != nil {
		return nil, err
	}
	if len(turns) == 0 {
		return nil, nil
	}
	start, end := turns[0].Seq, turns[len(turns)-1].Seq
	if start != after+1 || end-start+1 != int64(len(turns)) {
		return nil, fmt.Errorf("tail of %s is not contiguous after %d: %w", contextName, after, store.ErrRangeConflict)
	}

	summary, err := summarize.Call(ctx, c.summarizer, c.summarizeTimeout, summarize.Request{
		Context:    contextName,
		StartSeq:   start,
		EndSeq:     end,
		Transcript: summarize.Transcript(turns),
	})
	if err != nil {
		return nil, err
	}

	crystal, err := c.store.CommitCrystal(ctx, store.CommitParams{
		Context:   contextName,
		StartSeq:  start,
		EndSeq:    end,
		Summary:   summary,
		Retention: c.retention,
	})
	if err != nil {
		return nil, err
	}
	return &crystal, nil
}

// Tick runs one pass for every context that has turns, at most
// tickConcurrency contexts at a time. Errors are absorbed into the results;
// work left undone is retried on the next tick.
func (c *Crystallizer) Tick(ctx context.Context) ([]Result, error) {
	contexts, err := c.store.Contexts(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(contexts))
	for i, name := range contexts {
		results[i] = Result{Context: name, Outcome: OutcomeIdle}
	}

	sem := make(chan struct{}, tickConcurrency)
	var wg sync.WaitGroup
	for i, name := range contexts {
		if ctx.Err() != nil {
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := c.Run(ctx, name, RunOptions{})
			if err != nil {
				c.logger.Warn("crystallize pass failed", zap.String("context", name), zap.Error(err))
			}
			results[i] = res
		}(i, name)
	}

	wg.Wait()
	return results, ctx.Err()
}

func (c *Crystallizer) publish(ctx context.Context, ev *eventstream.Event) {
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warn("publish event", zap.String("event_type", ev.EventType), zap.Error(err))
	}
}

func crystalEvent(cr *model.Crystal) *eventstream.Event {
	ev := eventstream.NewEvent(eventstream.EventTypeCrystalCreated, cr.Context)
	ev.Crystal = &eventstream.CrystalMeta{
		ID:       cr.ID,
		StartSeq: cr.StartSeq,
		EndSeq:   cr.EndSeq,
		Slot:     cr.Slot,
	}
	return ev
}
