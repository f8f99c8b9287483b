// Package partition splits the changed-VIN set into priority-ordered,
// cohort-aware work units.
package partition

import (
	"fmt"
	"sort"

	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// Default partitioner configuration constants.
const (
	defaultTargetUnitSize   = 500
	defaultMaxPriorityUnits = 4
	defaultThresholdMargin  = 0.02
)

// LastRun is the per-VIN outcome of the previous job the fast path keys
// off: how close the posterior sat to a bucket boundary, and which cohort
// the VIN belonged to (for cache-friendly grouping).
type LastRun struct {
	Posterior float64
	CohortID  string
}

// Partitioner builds work units. Partitioning is deterministic given the
// same inputs and configuration, which keeps runs reproducible.
type Partitioner struct {
	targetUnitSize   int
	maxPriorityUnits int
	thresholdMargin  float64
}

// Option applies a configuration option to the Partitioner.
type Option func(*Partitioner)

// WithTargetUnitSize sets the VIN count a unit aims for.
func WithTargetUnitSize(n int) Option {
	return func(p *Partitioner) {
		if n > 0 {
			p.targetUnitSize = n
		}
	}
}

// WithMaxPriorityUnits caps how many high-priority units get carved out.
func WithMaxPriorityUnits(n int) Option {
	return func(p *Partitioner) {
		if n >= 0 {
			p.maxPriorityUnits = n
		}
	}
}

// WithThresholdMargin sets how close to a severity boundary a last-run
// posterior must sit to qualify for the fast path.
func WithThresholdMargin(m float64) Option {
	return func(p *Partitioner) {
		if m > 0 {
			p.thresholdMargin = m
		}
	}
}

// New creates a partitioner with default configuration.
func New(opts ...Option) *Partitioner {
	p := &Partitioner{
		targetUnitSize:   defaultTargetUnitSize,
		maxPriorityUnits: defaultMaxPriorityUnits,
		thresholdMargin:  defaultThresholdMargin,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Partition splits vins into work units for jobID. lastRun may be nil on
// a first run; severity supplies the bucket boundaries for the fast path.
// Every input VIN lands in exactly one unit.
func (p *Partitioner) Partition(jobID string, vins []string, lastRun map[string]LastRun, severity *catalog.SeverityTable) []model.WorkUnit {
	ordered := append([]string(nil), vins...)
	sort.Strings(ordered)

	// Fast path: vehicles already near a severity threshold get
	// re-evaluated first, closest to a boundary leading.
	var near []string
	rest := make([]string, 0, len(ordered))
	if severity != nil && lastRun != nil && p.maxPriorityUnits > 0 {
		budget := p.maxPriorityUnits * p.targetUnitSize
		type candidate struct {
			vin  string
			dist float64
		}
		var candidates []candidate
		for _, vin := range ordered {
			prev, ok := lastRun[vin]
			if !ok {
				continue
			}
			if d := severity.NearestBoundary(prev.Posterior); d <= p.thresholdMargin {
				candidates = append(candidates, candidate{vin: vin, dist: d})
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].dist != candidates[j].dist {
				return candidates[i].dist < candidates[j].dist
			}
			return candidates[i].vin < candidates[j].vin
		})
		if len(candidates) > budget {
			candidates = candidates[:budget]
		}
		fast := make(map[string]struct{}, len(candidates))
		for _, c := range candidates {
			near = append(near, c.vin)
			fast[c.vin] = struct{}{}
		}
		for _, vin := range ordered {
			if _, ok := fast[vin]; !ok {
				rest = append(rest, vin)
			}
		}
	} else {
		rest = ordered
	}

	var units []model.WorkUnit
	seq := 0
	emit := func(vins []string, priority int, cohortHint string) {
		for start := 0; start < len(vins); start += p.targetUnitSize {
			end := start + p.targetUnitSize
			if end > len(vins) {
				end = len(vins)
			}
			units = append(units, model.WorkUnit{
				ID:         fmt.Sprintf("%s-u%04d", jobID, seq),
				JobID:      jobID,
				VINs:       append([]string(nil), vins[start:end]...),
				Priority:   priority,
				CohortHint: cohortHint,
				Status:     model.UnitQueued,
			})
			seq++
		}
	}

	emit(near, model.PriorityHigh, "")

	// The remainder groups by last-run cohort: homogeneous units keep the
	// matcher and evaluator hot on one cohort's definitions.
	byCohort := make(map[string][]string)
	for _, vin := range rest {
		cohortID := ""
		if lastRun != nil {
			cohortID = lastRun[vin].CohortID
		}
		byCohort[cohortID] = append(byCohort[cohortID], vin)
	}
	cohortIDs := make([]string, 0, len(byCohort))
	for id := range byCohort {
		cohortIDs = append(cohortIDs, id)
	}
	sort.Strings(cohortIDs)
	for _, id := range cohortIDs {
		emit(byCohort[id], model.PriorityNormal, id)
	}

	return units
}
