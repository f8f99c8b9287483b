package catalog

import (
	"fmt"
)

// Level is one severity bucket with its business action and revenue
// estimate. Buckets come from configuration, not code.
type Level struct {
	Bucket          string
	MinPosterior    float64
	Action          string
	RevenueEstimate float64
	Actionable      bool
}

// SeverityTable classifies posteriors into buckets via a monotone step
// function. Levels are ordered by descending MinPosterior.
type SeverityTable struct {
	levels []Level
}

// buildSeverityTable validates and orders the configured levels.
func buildSeverityTable(docs []levelDoc) (*SeverityTable, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: severity table is empty", ErrCohortConfiguration)
	}

	levels := make([]Level, len(docs))
	seen := make(map[string]bool, len(docs))
	for i, d := range docs {
		if d.Bucket == "" {
			return nil, fmt.Errorf("%w: severity level %d without bucket name", ErrCohortConfiguration, i)
		}
		if seen[d.Bucket] {
			return nil, fmt.Errorf("%w: duplicate severity bucket %q", ErrCohortConfiguration, d.Bucket)
		}
		seen[d.Bucket] = true
		if d.MinPosterior < 0 || d.MinPosterior >= 1 {
			return nil, fmt.Errorf("%w: bucket %q min_posterior %v must be in [0, 1)", ErrCohortConfiguration, d.Bucket, d.MinPosterior)
		}
		levels[i] = Level{
			Bucket:          d.Bucket,
			MinPosterior:    d.MinPosterior,
			Action:          d.Action,
			RevenueEstimate: d.RevenueEstimate,
			Actionable:      d.Actionable,
		}
	}

	// The document must list levels strictly descending so the step
	// function is unambiguous, and the last one must catch everything.
	for i := 1; i < len(levels); i++ {
		if levels[i].MinPosterior >= levels[i-1].MinPosterior {
			return nil, fmt.Errorf("%w: severity thresholds must be strictly descending (%q >= %q)",
				ErrCohortConfiguration, levels[i].Bucket, levels[i-1].Bucket)
		}
	}
	if levels[len(levels)-1].MinPosterior != 0 {
		return nil, fmt.Errorf("%w: last severity bucket %q must have min_posterior 0", ErrCohortConfiguration, levels[len(levels)-1].Bucket)
	}

	return &SeverityTable{levels: levels}, nil
}

// Classify returns the level whose threshold the posterior meets.
func (t *SeverityTable) Classify(posterior float64) Level {
	for _, l := range t.levels {
		if posterior >= l.MinPosterior {
			return l
		}
	}
	// Unreachable: the last level's threshold is 0.
	return t.levels[len(t.levels)-1]
}

// Levels returns the ordered levels (descending threshold).
func (t *SeverityTable) Levels() []Level {
	out := make([]Level, len(t.levels))
	copy(out, t.levels)
	return out
}

// NearestBoundary returns the smallest absolute distance from posterior to
// any bucket boundary. The partitioner uses it to fast-path vehicles that
// sit close to a threshold.
func (t *SeverityTable) NearestBoundary(posterior float64) float64 {
	nearest := 1.0
	for _, l := range t.levels {
		if l.MinPosterior == 0 {
			continue
		}
		d := posterior - l.MinPosterior
		if d < 0 {
			d = -d
		}
		if d < nearest {
			nearest = d
		}
	}
	return nearest
}
