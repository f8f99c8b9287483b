package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// Default checkpointer configuration constants.
const (
	defaultEveryN = 5000
	defaultEveryT = 30 * time.Second
)

// Checkpointer tracks processed VINs for one job and flushes a durable
// checkpoint every N VINs or T seconds, whichever comes first. It is the
// only component with serialized write access to the progress store; all
// methods are safe for concurrent use by workers.
type Checkpointer struct {
	store  *Store
	jobID  string
	everyN int
	everyT time.Duration
	log    logger.Logger

	mu        sync.Mutex
	processed map[string]struct{}
	cursor    int
	sinceLast int
	lastWrite time.Time
	seq       int
}

// Option applies a configuration option to the Checkpointer.
type Option func(*Checkpointer)

// WithInterval sets the flush thresholds: every n processed VINs or every
// t elapsed, whichever first.
func WithInterval(n int, t time.Duration) Option {
	return func(c *Checkpointer) {
		if n > 0 {
			c.everyN = n
		}
		if t > 0 {
			c.everyT = t
		}
	}
}

// WithLogger sets a custom logger for the checkpointer.
func WithLogger(l logger.Logger) Option {
	return func(c *Checkpointer) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a checkpointer for one job.
func New(store *Store, jobID string, opts ...Option) *Checkpointer {
	c := &Checkpointer{
		store:     store,
		jobID:     jobID,
		everyN:    defaultEveryN,
		everyT:    defaultEveryT,
		log:       logger.Get().Named("checkpoint"),
		processed: make(map[string]struct{}),
		lastWrite: time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resume loads the job's latest checkpoint, seeds the processed set from
// it, and reports whether one existed. Call before enqueuing work.
func (c *Checkpointer) Resume(ctx context.Context) (model.Checkpoint, bool, error) {
	cp, err := c.store.Load(c.jobID)
	if errors.Is(err, ErrNotFound) {
		return model.Checkpoint{}, false, nil
	}
	if err != nil {
		return model.Checkpoint{}, false, err
	}

	c.mu.Lock()
	for _, vin := range cp.ProcessedVINs {
		c.processed[vin] = struct{}{}
	}
	c.cursor = cp.UnitCursor
	c.mu.Unlock()

	c.log.Info(ctx, "resuming from checkpoint",
		logger.String("job_id", cp.JobID),
		logger.Int("processed", cp.Processed),
		logger.Int("cursor", cp.UnitCursor),
	)
	return cp, true, nil
}

// MarkProcessed records VINs as done and advances the unit cursor.
// Flushes when either interval threshold is crossed. Marking an already
// processed VIN is a no-op, which keeps recovery correct under
// at-least-once delivery.
func (c *Checkpointer) MarkProcessed(ctx context.Context, vins []string, cursor int) error {
	c.mu.Lock()
	for _, vin := range vins {
		if _, dup := c.processed[vin]; dup {
			continue
		}
		c.processed[vin] = struct{}{}
		c.sinceLast++
	}
	if cursor > c.cursor {
		c.cursor = cursor
	}
	due := c.sinceLast >= c.everyN || time.Since(c.lastWrite) >= c.everyT
	c.mu.Unlock()

	if due {
		return c.Flush(ctx)
	}
	return nil
}

// Processed reports whether a VIN was already completed this job.
func (c *Checkpointer) Processed(vin string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.processed[vin]
	return ok
}

// Count returns the number of processed VINs.
func (c *Checkpointer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.processed)
}

// Flush writes the current progress snapshot unconditionally.
func (c *Checkpointer) Flush(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	vins := make([]string, 0, len(c.processed))
	for vin := range c.processed {
		vins = append(vins, vin)
	}
	cp := model.Checkpoint{
		JobID:         c.jobID,
		Processed:     len(vins),
		ProcessedVINs: vins,
		UnitCursor:    c.cursor,
		Timestamp:     time.Now(),
	}
	seq := c.seq
	c.seq++
	c.sinceLast = 0
	c.lastWrite = cp.Timestamp
	c.mu.Unlock()

	if err := c.store.Save(cp, seq); err != nil {
		metrics.RecordErrorByComponent("checkpoint", "write_failed")
		return err
	}

	metrics.RecordCheckpointWritten()
	metrics.RecordCheckpointLatency(float64(time.Since(start).Milliseconds()))
	metrics.UpdateCheckpointLastUnix(cp.Timestamp.Unix())
	c.log.Debug(ctx, "checkpoint written",
		logger.String("job_id", c.jobID),
		logger.Int("processed", cp.Processed),
	)
	return nil
}

// Purge drops the job's durable state after a terminal job transition.
func (c *Checkpointer) Purge() error {
	return c.store.Purge(c.jobID)
}
