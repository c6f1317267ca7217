package crystallize

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/eventstream"
	"github.com/rcliao/pattern-persistence/internal/model"
)

// State is a context's position in the crystallization cycle.
type State int

const (
	StateIdle State = iota
	StateEligible
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateEligible:
		return "ELIGIBLE"
	case StateRunning:
		return "RUNNING"
	default:
		return "IDLE"
	}
}

// Outcome is how a pass ended.
type Outcome string

const (
	OutcomeIdle         Outcome = "idle"
	OutcomeDeferred     Outcome = "deferred"
	OutcomeCrystallized Outcome = "crystallized"
	OutcomeFailed       Outcome = "failed"
)

// Result reports one pass over one context.
type Result struct {
	Context string         `json:"context"`
	Outcome Outcome        `json:"outcome"`
	Reason  string         `json:"reason,omitempty"`
	Crystal *model.Crystal `json:"crystal,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Health tracks consecutive failed passes for one context.
type Health struct {
	Context             string    `json:"context"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	Unhealthy           bool      `json:"unhealthy"`
}

// State returns the current state of contextName.
func (c *Crystallizer) State(contextName string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.states[contextName]
}

func (c *Crystallizer) setState(contextName string, s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s == StateIdle {
		delete(c.states, contextName)
		return
	}
	c.states[contextName] = s
}

// Health returns every context with at least one consecutive failure.
func (c *Crystallizer) Health() []Health {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Health, 0, len(c.failures))
	for _, h := range c.failures {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Context < out[j].Context })
	return out
}

func (c *Crystallizer) fail(ctx context.Context, res Result, err error) (Result, error) {
	res.Outcome = OutcomeFailed
	res.Error = err.Error()

	c.mu.Lock()
	h, ok := c.failures[res.Context]
	if !ok {
		h = &Health{Context: res.Context}
		c.failures[res.Context] = h
	}
	h.ConsecutiveFailures++
	h.LastError = err.Error()
	h.LastFailure = c.now().UTC()
	crossed := !h.Unhealthy && h.ConsecutiveFailures >= c.failureThreshold
	if crossed {
		h.Unhealthy = true
	}
	snapshot := *h
	c.mu.Unlock()

	if crossed {
		c.logger.Error("crystallize pass unhealthy",
			zap.String("context", res.Context),
			zap.Int("consecutive_failures", snapshot.ConsecutiveFailures),
			zap.Error(err))
		ev := eventstream.NewEvent(eventstream.EventTypePassUnhealthy, res.Context)
		ev.Health = &eventstream.HealthMeta{
			Pass:                coord.PassCrystallize,
			ConsecutiveFailures: snapshot.ConsecutiveFailures,
			LastError:           snapshot.LastError,
		}
		c.publish(context.WithoutCancel(ctx), ev)
	}
	return res, err
}

func (c *Crystallizer) succeed(contextName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.failures, contextName)
}
