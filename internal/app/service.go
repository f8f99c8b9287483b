// Package app wires the scoring pipeline and owns the batch job
// lifecycle: change detection, partitioning, the worker pool, checkpoint
// recovery, segmentation and SLA tracking.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harbinger-io/harbinger/internal/adapters/repository"
	"github.com/harbinger-io/harbinger/internal/batch/checkpoint"
	"github.com/harbinger-io/harbinger/internal/batch/detect"
	"github.com/harbinger-io/harbinger/internal/batch/partition"
	"github.com/harbinger-io/harbinger/internal/config"
	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/internal/domain/risk"
	"github.com/harbinger-io/harbinger/internal/domain/stressor"
	"github.com/harbinger-io/harbinger/pkg/logger"
)

// VehicleSource fetches the current input contract for a set of VINs.
// VINs absent from the returned slice are skipped, not failed.
type VehicleSource interface {
	Fetch(ctx context.Context, vins []string) ([]model.VehicleInput, error)
}

// Service coordinates scoring components and exposes the operations the
// HTTP layer serves.
type Service struct {
	cfg       *config.Config
	catalog   *catalog.Catalog
	store     repository.Store
	ckStore   *checkpoint.Store
	source    VehicleSource
	detector  *detect.Detector
	part      *partition.Partitioner
	evaluator *stressor.Evaluator
	scorer    *risk.Scorer

	mu         sync.Mutex
	active     *jobRun
	jobs       map[string]*jobRun
	prevHashes map[string]string
	started    bool

	wg  sync.WaitGroup
	log logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore overrides the score repository.
func WithStore(s repository.Store) Option {
	return func(svc *Service) {
		if s != nil {
			svc.store = s
		}
	}
}

// WithDetectSources registers the sharded change feeds.
func WithDetectSources(sources ...detect.Source) Option {
	return func(svc *Service) {
		svc.detector = detect.New(sources, nil, nil)
	}
}

// New creates the service. The detector is rebuilt in Start once the
// inventory and assignment views are known.
func New(cfg *config.Config, cat *catalog.Catalog, store repository.Store, ckStore *checkpoint.Store, source VehicleSource, sources []detect.Source, inventory detect.Inventory) (*Service, error) {
	combiner, ok := risk.CombinerByName(cfg.Combiner)
	if !ok {
		return nil, fmt.Errorf("%w: unknown combiner %q", config.ErrInvalidConfig, cfg.Combiner)
	}

	svc := &Service{
		cfg:       cfg,
		catalog:   cat,
		store:     store,
		ckStore:   ckStore,
		source:    source,
		evaluator: stressor.NewEvaluator(),
		scorer:    risk.NewScorer(risk.WithCombiner(combiner)),
		part: partition.New(
			partition.WithTargetUnitSize(cfg.UnitSize),
			partition.WithMaxPriorityUnits(cfg.MaxPriorityUnits),
			partition.WithThresholdMargin(cfg.ThresholdMargin),
		),
		jobs: make(map[string]*jobRun),
		log:  logger.Get().Named("app"),
	}
	svc.detector = detect.New(sources, inventory, svc)
	return svc, nil
}

// LastAssignments satisfies detect.Assignments: the previous run's
// VIN to cohort mapping, read from the result store.
func (s *Service) LastAssignments(ctx context.Context) (map[string]string, error) {
	summaries, err := s.store.Summaries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(summaries))
	for vin, sum := range summaries {
		out[vin] = sum.CohortID
	}
	return out, nil
}

// Start marks the service ready. The catalog must already be loaded.
func (s *Service) Start(ctx context.Context) error {
	if _, err := s.catalog.Active(); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.log.Info(ctx, "service started", logger.String("combiner", s.cfg.Combiner))
	return nil
}

// Shutdown cancels the active job, if any, and waits for its pipeline to
// wind down.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	run := s.active
	s.started = false
	s.mu.Unlock()

	if run != nil {
		run.requestCancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("service shutdown: %w", ctx.Err())
	}
}

// Score returns the stored result for one VIN.
func (s *Service) Score(ctx context.Context, vin string) (model.RiskScoreResult, error) {
	if !model.ValidVIN(vin) {
		return model.RiskScoreResult{}, fmt.Errorf("%w: %q", ErrInvalidVIN, vin)
	}
	return s.store.Get(ctx, vin)
}

// Stats is a point-in-time operational snapshot.
type Stats struct {
	CatalogVersion int            `json:"catalog_version"`
	StoredResults  int            `json:"stored_results"`
	ActiveJobID    string         `json:"active_job_id,omitempty"`
	ActiveJobState model.JobState `json:"active_job_state,omitempty"`
	QueueDepth     int            `json:"queue_depth"`
	Workers        int            `json:"workers"`
	Uptime         time.Duration  `json:"-"`
}

// Stat reports service-level counters for the stats endpoint.
func (s *Service) Stat(ctx context.Context) (Stats, error) {
	snap, err := s.catalog.Active()
	if err != nil {
		return Stats{}, err
	}
	count, err := s.store.Count(ctx)
	if err != nil {
		return Stats{}, err
	}

	st := Stats{CatalogVersion: snap.Version, StoredResults: count}

	s.mu.Lock()
	run := s.active
	s.mu.Unlock()
	if run != nil {
		job := run.snapshot()
		st.ActiveJobID = job.ID
		st.ActiveJobState = job.State
		st.QueueDepth = run.queueDepth(ctx)
		st.Workers = run.workerCount()
	}
	return st, nil
}
