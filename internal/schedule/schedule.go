// Package schedule runs idempotent background passes on fixed intervals.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a named pass run every Every. A task with Every <= 0 is disabled.
type Task struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Stats counts the runs of one task.
type Stats struct {
	Runs     int64 `json:"runs"`
	Failures int64 `json:"failures"`
}

type counters struct {
	runs     atomic.Int64
	failures atomic.Int64
}

// Runner drives a set of tasks until its context is cancelled. Each task
// has its own ticker, and a task never overlaps with itself: a tick that
// arrives while the previous run is still going is dropped.
type Runner struct {
	tasks  []Task
	logger *zap.Logger
	stats  map[string]*counters
}

// NewRunner creates a Runner for the enabled tasks.
func NewRunner(logger *zap.Logger, tasks ...Task) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Runner{logger: logger, stats: make(map[string]*counters)}
	for _, t := range tasks {
		if t.Every <= 0 || t.Run == nil {
			logger.Info("task disabled", zap.String("task", t.Name))
			continue
		}
		r.tasks = append(r.tasks, t)
		r.stats[t.Name] = &counters{}
	}
	return r
}

// Tasks returns the enabled tasks.
func (r *Runner) Tasks() []Task {
	return r.tasks
}

// Stats returns run counters per task.
func (r *Runner) Stats() map[string]Stats {
	out := make(map[string]Stats, len(r.stats))
	for name, c := range r.stats {
		out[name] = Stats{Runs: c.runs.Load(), Failures: c.failures.Load()}
	}
	return out
}

// Run runs every task once immediately and then on its interval. It blocks
// until ctx is cancelled and all in-flight runs have returned.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range r.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			r.loop(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (r *Runner) loop(ctx context.Context, t Task) {
	r.logger.Info("task started", zap.String("task", t.Name), zap.Duration("every", t.Every))

	ticker := time.NewTicker(t.Every)
	defer ticker.Stop()

	r.runOnce(ctx, t)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("task stopped", zap.String("task", t.Name))
			return
		case <-ticker.C:
			r.runOnce(ctx, t)
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, t Task) {
	if ctx.Err() != nil {
		return
	}
	c := r.stats[t.Name]
	c.runs.Add(1)

	start := time.Now()
	err := t.Run(ctx)
	if err != nil && ctx.Err() == nil {
		c.failures.Add(1)
		r.logger.Warn("task failed", zap.String("task", t.Name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	r.logger.Debug("task finished", zap.String("task", t.Name), zap.Duration("elapsed", time.Since(start)))
}
