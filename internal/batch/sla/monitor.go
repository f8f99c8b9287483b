// Package sla tracks batch completion against the nightly deadline and
// raises escalating alerts.
package sla

import (
	"context"
	"math"
	"time"

	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// defaultTick is how often progress is re-evaluated.
const defaultTick = 15 * time.Second

// Milestone is one escalation checkpoint: by ElapsedFraction of the batch
// window, ExpectedComplete of the work should be done.
type Milestone struct {
	ElapsedFraction  float64
	ExpectedComplete float64
	Level            string
}

// DefaultMilestones returns the standard escalation ladder.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{ElapsedFraction: 0.25, ExpectedComplete: 0.20, Level: "notice"},
		{ElapsedFraction: 0.50, ExpectedComplete: 0.50, Level: "warning"},
		{ElapsedFraction: 0.75, ExpectedComplete: 0.80, Level: "critical"},
	}
}

// ProgressFunc reports processed and total counts for the running job.
type ProgressFunc func() (processed, total int)

// ScaleFunc asks the worker pool for more capacity, with a reason.
type ScaleFunc func(ctx context.Context, reason string)

// Monitor evaluates one job's progress against its deadline. Alerts fire
// once per milestone; a violation never fails the job.
type Monitor struct {
	started    time.Time
	deadline   time.Time
	tick       time.Duration
	milestones []Milestone
	progress   ProgressFunc
	scaleUp    ScaleFunc
	fired      map[int]bool
	log        logger.Logger
}

// Option applies a configuration option to the Monitor.
type Option func(*Monitor)

// WithTick overrides the evaluation interval.
func WithTick(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.tick = d
		}
	}
}

// WithMilestones replaces the escalation ladder.
func WithMilestones(ms []Milestone) Option {
	return func(m *Monitor) {
		if len(ms) > 0 {
			m.milestones = ms
		}
	}
}

// WithLogger sets a custom logger for the monitor.
func WithLogger(l logger.Logger) Option {
	return func(m *Monitor) {
		if l != nil {
			m.log = l
		}
	}
}

// New creates a monitor for a job window [started, deadline].
func New(started, deadline time.Time, progress ProgressFunc, scaleUp ScaleFunc, opts ...Option) *Monitor {
	m := &Monitor{
		started:    started,
		deadline:   deadline,
		tick:       defaultTick,
		milestones: DefaultMilestones(),
		progress:   progress,
		scaleUp:    scaleUp,
		fired:      make(map[int]bool),
		log:        logger.Get().Named("sla"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run evaluates progress until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Evaluate(ctx, time.Now())
		}
	}
}

// Evaluate runs one progress check at the given time. Exported for tests.
func (m *Monitor) Evaluate(ctx context.Context, now time.Time) {
	processed, total := m.progress()
	if total <= 0 {
		return
	}

	completion := float64(processed) / float64(total)
	window := m.deadline.Sub(m.started).Seconds()
	if window <= 0 {
		return
	}
	elapsed := now.Sub(m.started).Seconds()
	elapsedFraction := elapsed / window

	metrics.UpdateJobProgress(completion)
	metrics.UpdateSLAETA(m.etaSeconds(processed, total, elapsed))
	metrics.UpdateSLADeadlineRisk(m.deadlineRisk(completion, elapsedFraction))

	for i, ms := range m.milestones {
		if m.fired[i] || elapsedFraction < ms.ElapsedFraction || completion >= ms.ExpectedComplete {
			continue
		}
		m.fired[i] = true
		metrics.RecordSLAAlert(ms.Level)
		m.log.Warn(ctx, "batch behind schedule",
			logger.String("level", ms.Level),
			logger.Float64("completion", completion),
			logger.Float64("expected", ms.ExpectedComplete),
			logger.Float64("elapsed_fraction", elapsedFraction),
		)
		if m.scaleUp != nil {
			m.scaleUp(ctx, ms.Level)
		}
	}
}

// etaSeconds projects time to completion from the observed rate.
func (m *Monitor) etaSeconds(processed, total int, elapsed float64) float64 {
	if processed <= 0 || elapsed <= 0 {
		return math.Inf(1)
	}
	rate := float64(processed) / elapsed
	return float64(total-processed) / rate
}

// deadlineRisk estimates how likely the deadline is to slip: 0 while
// ahead of the linear schedule, rising to 1 as the lag approaches the
// whole remaining window.
func (m *Monitor) deadlineRisk(completion, elapsedFraction float64) float64 {
	lag := elapsedFraction - completion
	if lag <= 0 {
		return 0
	}
	remaining := 1 - elapsedFraction
	if remaining <= 0 {
		return 1
	}
	return math.Min(1, lag/remaining)
}
