// Package worker runs the scoring pipeline over queued work units.
package worker

import (
	"context"
	"time"

	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultUnitTimeout = 2 * time.Minute
	defaultMaxRetries  = 3
)

// Report is the outcome of processing one work unit. Err marks a
// unit-level failure (upstream fetch, timeout); per-vehicle validation
// failures land in Skipped and never fail the unit.
type Report struct {
	Processed []string
	Skipped   []model.SkipReason
	Err       error
}

// Processor runs matcher, evaluator and calculator for one unit's VINs.
type Processor interface {
	ProcessUnit(ctx context.Context, u model.WorkUnit) Report
}

// Queue defines how workers receive units.
type Queue interface {
	Dequeue(ctx context.Context) <-chan model.WorkUnit
}

// Requeuer puts a retryable unit back on the queue.
type Requeuer interface {
	Enqueue(ctx context.Context, u model.WorkUnit) bool
}

// Sink receives terminal unit outcomes from workers.
type Sink interface {
	// UnitDone reports a unit that completed (possibly with skips).
	UnitDone(ctx context.Context, u model.WorkUnit, r Report)

	// UnitDeadLettered reports a unit that exhausted its retries.
	UnitDeadLettered(ctx context.Context, u model.WorkUnit, r Report)
}

// Worker pulls units off the queue and drives them through the processor.
type Worker struct {
	queue       Queue
	processor   Processor
	requeue     Requeuer
	sink        Sink
	name        string
	unitTimeout time.Duration
	maxRetries  int

	done chan struct{}
	log  logger.Logger
}

// Option applies a configuration option to the Worker.
type Option func(*Worker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *Worker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithUnitTimeout bounds how long one unit may process before it is
// marked failed and retryable.
func WithUnitTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.unitTimeout = d
		}
	}
}

// WithMaxRetries sets the retry limit before dead-lettering.
func WithMaxRetries(n int) Option {
	return func(w *Worker) {
		if n >= 0 {
			w.maxRetries = n
		}
	}
}

// NewWorker creates a worker with configuration options.
func NewWorker(queue Queue, processor Processor, requeue Requeuer, sink Sink, opts ...Option) *Worker {
	w := &Worker{
		queue:       queue,
		processor:   processor,
		requeue:     requeue,
		sink:        sink,
		name:        "worker",
		unitTimeout: defaultUnitTimeout,
		maxRetries:  defaultMaxRetries,
		done:        make(chan struct{}),
		log:         logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.log = logger.Get().Named(w.name)
	}
	return w
}

// Run processes units until ctx is cancelled or the queue drains after
// close. Cancellation takes effect between units; the unit in flight
// runs to completion under its own bounded timeout.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	for u := range w.queue.Dequeue(ctx) {
		w.processUnit(ctx, u)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Done reports worker completion to the pool.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// processUnit drives one unit through the processor and routes the
// outcome: done, requeued, or dead-lettered.
func (w *Worker) processUnit(ctx context.Context, u model.WorkUnit) {
	start := time.Now()
	u.Status = model.UnitInProgress

	// The unit keeps processing under its own deadline even when the job
	// is being cancelled; teardown waits for in-flight units.
	unitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.unitTimeout)
	report := w.processor.ProcessUnit(unitCtx, u)
	cancel()

	metrics.RecordUnitLatency(float64(time.Since(start).Milliseconds()))

	if report.Err == nil {
		u.Status = model.UnitDone
		w.sink.UnitDone(ctx, u, report)
		return
	}

	metrics.RecordWorkerError()
	w.log.Warn(ctx, "work unit failed",
		logger.String("unit_id", u.ID),
		logger.Int("retry_count", u.RetryCount),
		logger.Error(report.Err),
	)

	if u.RetryCount < w.maxRetries {
		u.RetryCount++
		u.Status = model.UnitQueued
		metrics.RecordUnitRetry()
		if w.requeue.Enqueue(ctx, u) {
			return
		}
		w.log.Warn(ctx, "requeue rejected, dead-lettering unit", logger.String("unit_id", u.ID))
	}

	u.Status = model.UnitFailed
	metrics.RecordUnitDeadLettered()
	w.sink.UnitDeadLettered(ctx, u, report)
}
