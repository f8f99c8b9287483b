package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// Default pool configuration constants.
const (
	defaultMinWorkers    = 2
	defaultMaxWorkers    = 16
	defaultHighWatermark = 1000
	defaultLowWatermark  = 50
	defaultScaleTick     = 5 * time.Second
)

// DepthQueue is a dequeue source that also exposes its depth for the
// autoscaler watermarks.
type DepthQueue interface {
	Queue
	Len(ctx context.Context) int
}

// Pool manages a dynamic set of workers over a shared queue.
type Pool struct {
	queue     DepthQueue
	processor Processor
	requeue   Requeuer
	sink      Sink

	minWorkers    int
	maxWorkers    int
	highWatermark int
	lowWatermark  int
	scaleTick     time.Duration
	unitTimeout   time.Duration
	maxRetries    int

	mu      sync.Mutex
	workers map[int]*member
	nextID  int
	started bool

	wg       sync.WaitGroup
	shutdown chan struct{}
	log      logger.Logger
}

// member pairs a running worker with its cancel handle so the pool can
// retire it individually on scale-down.
type member struct {
	worker *Worker
	cancel context.CancelFunc
}

// PoolOption applies a configuration option to the Pool.
type PoolOption func(*Pool)

// WithWorkerBounds sets the minimum and maximum worker counts.
func WithWorkerBounds(min, max int) PoolOption {
	return func(p *Pool) {
		if min > 0 {
			p.minWorkers = min
		}
		if max >= p.minWorkers {
			p.maxWorkers = max
		}
	}
}

// WithWatermarks sets the queue depths that trigger scaling. Depth
// above high adds a worker, depth below low retires one.
func WithWatermarks(low, high int) PoolOption {
	return func(p *Pool) {
		if low >= 0 && high > low {
			p.lowWatermark = low
			p.highWatermark = high
		}
	}
}

// WithScaleTick sets how often the autoscaler samples queue depth.
func WithScaleTick(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.scaleTick = d
		}
	}
}

// WithPoolUnitTimeout sets the per-unit processing timeout passed to
// each worker.
func WithPoolUnitTimeout(d time.Duration) PoolOption {
	return func(p *Pool) {
		if d > 0 {
			p.unitTimeout = d
		}
	}
}

// WithPoolMaxRetries sets the retry limit passed to each worker.
func WithPoolMaxRetries(n int) PoolOption {
	return func(p *Pool) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// NewPool creates a worker pool with configuration options.
func NewPool(queue DepthQueue, processor Processor, requeue Requeuer, sink Sink, opts ...PoolOption) *Pool {
	p := &Pool{
		queue:         queue,
		processor:     processor,
		requeue:       requeue,
		sink:          sink,
		minWorkers:    defaultMinWorkers,
		maxWorkers:    defaultMaxWorkers,
		highWatermark: defaultHighWatermark,
		lowWatermark:  defaultLowWatermark,
		scaleTick:     defaultScaleTick,
		unitTimeout:   defaultUnitTimeout,
		maxRetries:    defaultMaxRetries,
		workers:       make(map[int]*member),
		shutdown:      make(chan struct{}),
		log:           logger.Get().Named("pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the minimum worker set and the autoscaler.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	for i := 0; i < p.minWorkers; i++ {
		p.spawnLocked(ctx)
	}
	metrics.UpdateWorkersDesired(p.minWorkers)
	p.mu.Unlock()

	p.wg.Add(1)
	go p.autoscale(ctx)

	p.log.Info(ctx, "worker pool started",
		logger.Int("min_workers", p.minWorkers),
		logger.Int("max_workers", p.maxWorkers),
	)
	return nil
}

// ScaleUp adds one worker if the pool is below its maximum. The SLA
// monitor calls this when a milestone slips.
func (p *Pool) ScaleUp(ctx context.Context, reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || len(p.workers) >= p.maxWorkers {
		return
	}
	p.spawnLocked(ctx)
	metrics.UpdateWorkersDesired(len(p.workers))
	p.log.Info(ctx, "scaled up worker pool",
		logger.String("reason", reason),
		logger.Int("workers", len(p.workers)),
	)
}

// Size returns the current worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Shutdown retires the autoscaler and waits for every worker to finish
// its in-flight unit and exit. The queue must be closed first so the
// workers drain and return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	select {
	case <-p.shutdown:
	default:
		close(p.shutdown)
	}
	members := make([]*member, 0, len(p.workers))
	for _, m := range p.workers {
		members = append(members, m)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, m := range members {
			<-m.worker.Done()
		}
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.mu.Lock()
		p.workers = make(map[int]*member)
		p.started = false
		p.mu.Unlock()
		metrics.UpdateWorkersActive(0)
		metrics.UpdateWorkersDesired(0)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

// spawnLocked starts one worker. Caller holds p.mu.
func (p *Pool) spawnLocked(ctx context.Context) {
	id := p.nextID
	p.nextID++

	wctx, cancel := context.WithCancel(ctx)
	w := NewWorker(p.queue, p.processor, p.requeue, p.sink,
		WithName(fmt.Sprintf("worker-%d", id)),
		WithUnitTimeout(p.unitTimeout),
		WithMaxRetries(p.maxRetries),
	)
	p.workers[id] = &member{worker: w, cancel: cancel}
	metrics.UpdateWorkersActive(len(p.workers))

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		w.Run(wctx)
		cancel()

		p.mu.Lock()
		delete(p.workers, id)
		metrics.UpdateWorkersActive(len(p.workers))
		p.mu.Unlock()
	}()
}

// retireOneLocked cancels a single worker. Caller holds p.mu.
func (p *Pool) retireOneLocked() {
	for id, m := range p.workers {
		m.cancel()
		delete(p.workers, id)
		metrics.UpdateWorkersActive(len(p.workers))
		return
	}
}

// autoscale samples queue depth and adjusts the worker count between
// the configured bounds.
func (p *Pool) autoscale(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.scaleTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.shutdown:
			return
		case <-ticker.C:
			p.evaluateScale(ctx)
		}
	}
}

func (p *Pool) evaluateScale(ctx context.Context) {
	depth := p.queue.Len(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}

	switch {
	case depth > p.highWatermark && len(p.workers) < p.maxWorkers:
		p.spawnLocked(ctx)
		metrics.UpdateWorkersDesired(len(p.workers))
		p.log.Debug(ctx, "autoscaler added worker",
			logger.Int("queue_depth", depth),
			logger.Int("workers", len(p.workers)),
		)
	case depth < p.lowWatermark && len(p.workers) > p.minWorkers:
		p.retireOneLocked()
		metrics.UpdateWorkersDesired(len(p.workers))
		p.log.Debug(ctx, "autoscaler retired worker",
			logger.Int("queue_depth", depth),
			logger.Int("workers", len(p.workers)),
		)
	}
}
