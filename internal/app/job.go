package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harbinger-io/harbinger/internal/adapters/mq/queue"
	"github.com/harbinger-io/harbinger/internal/adapters/mq/worker"
	"github.com/harbinger-io/harbinger/internal/batch/checkpoint"
	"github.com/harbinger-io/harbinger/internal/batch/partition"
	"github.com/harbinger-io/harbinger/internal/batch/segment"
	"github.com/harbinger-io/harbinger/internal/batch/sla"
	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/cohort"
	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// skipSampleCap bounds the skip reasons retained on the job record.
const skipSampleCap = 50

// SubmitRequest describes one batch run. An explicit VIN list bypasses
// change detection. Reusing a prior JobID resumes that job from its
// last checkpoint.
type SubmitRequest struct {
	JobID       string   `json:"job_id,omitempty"`
	VINs        []string `json:"vins,omitempty"`
	FullRefresh bool     `json:"full_refresh,omitempty"`
}

// jobRun is the mutable state of one batch job. All fields behind mu;
// the pipeline handles (queue, pool, checkpointer) are set once before
// workers start and read-only after.
type jobRun struct {
	mu        sync.Mutex
	job       model.BatchJob
	results   []model.RiskScoreResult
	remaining int
	cancelled bool
	export    *segment.Export
	allDone   chan struct{}
	cancelJob context.CancelFunc

	snap    *catalog.Snapshot
	matcher *cohort.Matcher
	cp      *checkpoint.Checkpointer
	q       *queue.PriorityQueue
	pool    *worker.Pool
	cursor  int
}

func (r *jobRun) snapshot() model.BatchJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.job
}

func (r *jobRun) requestCancel() {
	r.mu.Lock()
	r.cancelled = true
	cancel := r.cancelJob
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *jobRun) queueDepth(ctx context.Context) int {
	if r.q == nil {
		return 0
	}
	return r.q.Len(ctx)
}

func (r *jobRun) workerCount() int {
	if r.pool == nil {
		return 0
	}
	return r.pool.Size()
}

// markProcessed records scored VINs against the checkpoint under a
// monotonic unit cursor.
func (r *jobRun) markProcessed(ctx context.Context, vins []string) error {
	r.mu.Lock()
	r.cursor++
	cursor := r.cursor
	r.mu.Unlock()
	return r.cp.MarkProcessed(ctx, vins, cursor)
}

// addResults accumulates scored results for segmentation.
func (r *jobRun) addResults(results []model.RiskScoreResult) {
	r.mu.Lock()
	r.results = append(r.results, results...)
	r.mu.Unlock()
}

// UnitDone implements worker.Sink.
func (r *jobRun) UnitDone(ctx context.Context, u model.WorkUnit, rep worker.Report) {
	r.mu.Lock()
	r.job.ProcessedVINs += len(rep.Processed)
	r.job.SkippedVINs += len(rep.Skipped)
	for _, sk := range rep.Skipped {
		if len(r.job.SkipSample) < skipSampleCap {
			r.job.SkipSample = append(r.job.SkipSample, sk)
		}
	}
	r.finishUnitLocked()
	r.mu.Unlock()
}

// UnitDeadLettered implements worker.Sink. The unit's unscored VINs stay
// unscored; their previous results remain valid until they expire.
func (r *jobRun) UnitDeadLettered(ctx context.Context, u model.WorkUnit, rep worker.Report) {
	r.mu.Lock()
	r.job.FailedUnits++
	r.job.ProcessedVINs += len(rep.Processed)
	r.job.SkippedVINs += len(rep.Skipped)
	r.finishUnitLocked()
	r.mu.Unlock()
}

// finishUnitLocked decrements the outstanding unit count. Caller holds mu.
func (r *jobRun) finishUnitLocked() {
	r.remaining--
	if r.remaining == 0 {
		close(r.allDone)
	}
}

// SubmitJob validates the request, registers the run and launches the
// pipeline in the background. Only one job runs at a time.
func (s *Service) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return "", ErrNotStarted
	}
	if s.active != nil {
		return "", fmt.Errorf("%w: %s", ErrJobActive, s.active.job.ID)
	}

	for _, vin := range req.VINs {
		if !model.ValidVIN(vin) {
			return "", fmt.Errorf("%w: %q", ErrInvalidVIN, vin)
		}
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	} else if prev, ok := s.jobs[jobID]; ok && !prev.snapshot().State.Terminal() {
		return "", fmt.Errorf("%w: %s", ErrJobActive, jobID)
	}

	now := time.Now().UTC()
	jobCtx, cancel := context.WithCancel(context.Background())
	run := &jobRun{
		job: model.BatchJob{
			ID:        jobID,
			State:     model.JobPending,
			StartedAt: now,
			Deadline:  now.Add(s.cfg.Deadline()),
		},
		allDone:   make(chan struct{}),
		cancelJob: cancel,
	}
	s.active = run
	s.jobs[jobID] = run
	metrics.RecordJobState(string(model.JobPending))

	s.wg.Add(1)
	go s.runJob(jobCtx, run, req)

	s.log.Info(ctx, "job submitted",
		logger.String("job_id", jobID),
		logger.Int("explicit_vins", len(req.VINs)),
	)
	return jobID, nil
}

// Cancel stops a running job between units. In-flight units complete.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	s.mu.Lock()
	run, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if run.snapshot().State.Terminal() {
		return fmt.Errorf("%w: %s", ErrNotRunning, jobID)
	}
	run.requestCancel()
	s.log.Info(ctx, "job cancel requested", logger.String("job_id", jobID))
	return nil
}

// JobStatus returns the current job record.
func (s *Service) JobStatus(ctx context.Context, jobID string) (model.BatchJob, error) {
	s.mu.Lock()
	run, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return model.BatchJob{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return run.snapshot(), nil
}

// Segments returns a completed job's per-location actionable export.
func (s *Service) Segments(ctx context.Context, jobID string) (segment.Export, error) {
	s.mu.Lock()
	run, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return segment.Export{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	run.mu.Lock()
	exp := run.export
	run.mu.Unlock()
	if exp == nil {
		return segment.Export{}, fmt.Errorf("%w: %s", ErrNoSegments, jobID)
	}
	return *exp, nil
}

// runJob drives one job end to end: detect, partition, resume, score,
// finalize.
func (s *Service) runJob(ctx context.Context, run *jobRun, req SubmitRequest) {
	defer s.wg.Done()

	jobID := run.snapshot().ID
	log := s.log.Named("job")

	snap, err := s.catalog.Active()
	if err != nil {
		s.finalizeJob(ctx, run, nil, err)
		return
	}
	run.snap = snap
	run.matcher = cohort.NewMatcher(snap)

	summaries, err := s.store.Summaries(ctx)
	if err != nil {
		s.finalizeJob(ctx, run, snap, fmt.Errorf("load last run summaries: %w", err))
		return
	}
	lastRun := make(map[string]partition.LastRun, len(summaries))
	for vin, sum := range summaries {
		lastRun[vin] = partition.LastRun{Posterior: sum.Posterior, CohortID: sum.CohortID}
	}

	vins := req.VINs
	if len(vins) == 0 {
		s.mu.Lock()
		prevHashes := s.prevHashes
		s.mu.Unlock()

		// First run after startup has no hash baseline, so refresh fully.
		full := req.FullRefresh || s.cfg.FullRefresh || prevHashes == nil
		res, derr := s.detector.Detect(ctx, snap, time.Now().UTC().Add(-s.cfg.ChangeLookback()), prevHashes, full)
		if derr != nil {
			s.finalizeJob(ctx, run, snap, fmt.Errorf("change detection: %w", derr))
			return
		}
		vins = res.VINs
	}
	metrics.UpdateChangedVINs(len(vins))

	units := s.part.Partition(jobID, vins, lastRun, snap.Severity)

	cp := checkpoint.New(s.ckStore, jobID,
		checkpoint.WithInterval(s.cfg.CheckpointEveryN, s.cfg.CheckpointInterval()),
	)
	run.cp = cp
	if prior, resumed, rerr := cp.Resume(ctx); rerr != nil {
		log.Warn(ctx, "checkpoint resume failed, starting clean",
			logger.String("job_id", jobID), logger.Error(rerr))
	} else if resumed {
		log.Info(ctx, "resuming from checkpoint",
			logger.String("job_id", jobID),
			logger.Int("already_processed", prior.Processed),
		)
		run.mu.Lock()
		run.job.ProcessedVINs = prior.Processed
		run.cursor = prior.UnitCursor
		run.mu.Unlock()
	}

	run.mu.Lock()
	run.job.State = model.JobRunning
	run.job.TotalVINs = len(vins)
	run.job.ChangedVINs = len(vins)
	run.job.TotalUnits = len(units)
	run.job.CatalogVersion = snap.Version
	run.remaining = len(units)
	cancelled := run.cancelled
	run.mu.Unlock()
	metrics.RecordJobState(string(model.JobRunning))

	if len(units) == 0 || cancelled {
		s.finalizeJob(ctx, run, snap, nil)
		return
	}

	q := queue.NewPriorityQueue(queue.WithCapacity(s.cfg.QueueCapacity))
	run.q = q
	proc := &unitProcessor{svc: s, run: run}
	pool := worker.NewPool(q, proc, q, run,
		worker.WithWorkerBounds(s.cfg.MinWorkers, s.cfg.MaxWorkers),
		worker.WithWatermarks(s.cfg.LowWatermark, s.cfg.HighWatermark),
		worker.WithPoolUnitTimeout(s.cfg.UnitTimeout()),
		worker.WithPoolMaxRetries(s.cfg.MaxRetries),
	)
	run.pool = pool
	if err := pool.Start(ctx); err != nil {
		s.finalizeJob(ctx, run, snap, err)
		return
	}

	job := run.snapshot()
	monitor := sla.New(job.StartedAt, job.Deadline,
		func() (int, int) {
			j := run.snapshot()
			return j.ProcessedVINs + j.SkippedVINs, j.TotalVINs
		},
		pool.ScaleUp,
	)
	monCtx, monCancel := context.WithCancel(ctx)
	go monitor.Run(monCtx)

	for _, u := range units {
		if ctx.Err() != nil {
			break
		}
		if !q.Enqueue(ctx, u) {
			// Capacity is sized above any realistic unit count; a
			// rejection here means the queue closed under cancellation.
			run.mu.Lock()
			run.job.FailedUnits++
			run.finishUnitLocked()
			run.mu.Unlock()
			log.Warn(ctx, "unit enqueue rejected", logger.String("unit_id", u.ID))
		}
	}

	select {
	case <-run.allDone:
	case <-ctx.Done():
	}
	monCancel()

	_ = q.Close()
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 2*s.cfg.UnitTimeout())
	if serr := pool.Shutdown(shutCtx); serr != nil {
		log.Error(ctx, "worker pool shutdown incomplete",
			logger.String("job_id", jobID), logger.Error(serr))
	}
	shutCancel()

	s.finalizeJob(ctx, run, snap, nil)
}

// finalizeJob settles the terminal state, builds the segment export and
// persists the cohort hash baseline for the next run's change detection.
func (s *Service) finalizeJob(ctx context.Context, run *jobRun, snap *catalog.Snapshot, fatal error) {
	run.mu.Lock()
	job := &run.job
	switch {
	case fatal != nil:
		job.State = model.JobFailed
	case run.cancelled:
		job.State = model.JobCancelled
	case job.TotalUnits > 0 && float64(job.FailedUnits)/float64(job.TotalUnits) > s.cfg.FailureRateThreshold:
		job.State = model.JobFailed
	case job.FailedUnits > 0:
		job.State = model.JobCompletedWithErrors
	default:
		job.State = model.JobCompleted
	}
	job.CompletedAt = time.Now().UTC()
	state := job.State
	results := run.results
	duration := job.CompletedAt.Sub(job.StartedAt)
	jobID := job.ID
	run.mu.Unlock()

	metrics.RecordJobState(string(state))
	metrics.RecordJobDuration(duration.Seconds())

	if run.cp != nil {
		if err := run.cp.Flush(ctx); err != nil {
			s.log.Warn(ctx, "final checkpoint flush failed", logger.Error(err))
		}
	}

	if snap != nil && (state == model.JobCompleted || state == model.JobCompletedWithErrors) {
		exp := segment.NewSegmenter(snap.Severity).Build(jobID, results)
		run.mu.Lock()
		run.export = &exp
		run.mu.Unlock()

		s.mu.Lock()
		s.prevHashes = snap.CohortHashes()
		s.mu.Unlock()

		if run.cp != nil {
			if err := run.cp.Purge(); err != nil {
				s.log.Warn(ctx, "checkpoint purge failed", logger.Error(err))
			}
		}
	}

	s.mu.Lock()
	if s.active == run {
		s.active = nil
	}
	s.mu.Unlock()

	if fatal != nil {
		s.log.Error(ctx, "job failed", logger.String("job_id", jobID), logger.Error(fatal))
		return
	}
	s.log.Info(ctx, "job finished",
		logger.String("job_id", jobID),
		logger.String("state", string(state)),
		logger.Duration("duration", duration),
	)
}
