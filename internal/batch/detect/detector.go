// Package detect identifies which VINs need recomputation since the
// previous run.
package detect

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// Source is one sharded upstream feed of changed VINs (telemetry updates,
// maintenance events, weather-region refreshes).
type Source interface {
	Name() string

	// Shards returns how many independently fetchable shards the source
	// has. Shard failures are isolated from each other.
	Shards() int

	// ChangedVINs lists VINs the shard saw change since the given time.
	ChangedVINs(ctx context.Context, shard int, since time.Time) ([]string, error)
}

// Inventory lists every VIN in the fleet, for forced full refreshes.
type Inventory interface {
	AllVINs(ctx context.Context) ([]string, error)
}

// Assignments exposes the previous run's VIN -> cohort mapping so catalog
// edits can requeue exactly the cohorts they touched.
type Assignments interface {
	LastAssignments(ctx context.Context) (map[string]string, error)
}

// Result is the detector output: a deduplicated, sorted VIN set plus how
// many upstream shards failed (partial results are acceptable).
type Result struct {
	VINs          []string
	ShardFailures int
	FullRefresh   bool
}

// Detector aggregates change signals into the recomputation set.
type Detector struct {
	sources     []Source
	inventory   Inventory
	assignments Assignments
	log         logger.Logger
}

// Option applies a configuration option to the Detector.
type Option func(*Detector)

// WithLogger sets a custom logger for the detector.
func WithLogger(l logger.Logger) Option {
	return func(d *Detector) {
		if l != nil {
			d.log = l
		}
	}
}

// New creates a detector over the given upstream sources.
func New(sources []Source, inventory Inventory, assignments Assignments, opts ...Option) *Detector {
	d := &Detector{
		sources:     sources,
		inventory:   inventory,
		assignments: assignments,
		log:         logger.Get().Named("detect"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Detect returns the VINs needing recomputation. prevHashes holds the
// cohort definition hashes of the snapshot the last completed run used;
// cohorts whose hash changed requeue all their previously assigned VINs.
// fullRefresh forces the whole fleet.
func (d *Detector) Detect(ctx context.Context, snap *catalog.Snapshot, since time.Time, prevHashes map[string]string, fullRefresh bool) (Result, error) {
	if fullRefresh {
		vins, err := d.inventory.AllVINs(ctx)
		if err != nil {
			return Result{}, err
		}
		sort.Strings(vins)
		return Result{VINs: vins, FullRefresh: true}, nil
	}

	var mu sync.Mutex
	seen := make(map[string]struct{})
	failures := 0

	// One goroutine per source shard. A shard that cannot be reached
	// logs and counts as a failure; it never blocks the other shards.
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range d.sources {
		for shard := 0; shard < src.Shards(); shard++ {
			src, shard := src, shard
			g.Go(func() error {
				vins, err := src.ChangedVINs(gctx, shard, since)
				if err != nil {
					metrics.RecordDetectorShardFailure()
					d.log.Warn(gctx, "change source shard failed, continuing with partial results",
						logger.String("source", src.Name()),
						logger.Int("shard", shard),
						logger.Error(err),
					)
					mu.Lock()
					failures++
					mu.Unlock()
					return nil
				}
				mu.Lock()
				for _, vin := range vins {
					seen[vin] = struct{}{}
				}
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	// Catalog edits: requeue every VIN whose cohort definition changed.
	changed := changedCohorts(prevHashes, snap.CohortHashes())
	if len(changed) > 0 && d.assignments != nil {
		assign, err := d.assignments.LastAssignments(ctx)
		if err != nil {
			d.log.Warn(ctx, "last-run assignments unavailable, skipping cohort-change requeue", logger.Error(err))
		} else {
			for vin, cohortID := range assign {
				if _, ok := changed[cohortID]; ok {
					seen[vin] = struct{}{}
				}
			}
		}
	}

	vins := make([]string, 0, len(seen))
	for vin := range seen {
		vins = append(vins, vin)
	}
	sort.Strings(vins)

	return Result{VINs: vins, ShardFailures: failures}, nil
}

// changedCohorts returns the cohort IDs whose definition hash differs
// between the previous and current snapshots. New cohorts count too.
func changedCohorts(prev, curr map[string]string) map[string]struct{} {
	out := make(map[string]struct{})
	if prev == nil {
		return out
	}
	for id, hash := range curr {
		if prevHash, ok := prev[id]; !ok || prevHash != hash {
			out[id] = struct{}{}
		}
	}
	return out
}
