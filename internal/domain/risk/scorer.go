package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// Input bundles everything the scorer needs for one vehicle: the matched
// cohort, the evaluated stressor observations and the severity table of
// the same catalog snapshot.
type Input struct {
	VIN               string
	Cohort            *catalog.Cohort
	Fallback          bool
	Observations      []model.StressorObservation
	MissingCount      int
	ServicingLocation string
	Severity          *catalog.SeverityTable
	ResultTTL         time.Duration
	Now               time.Time
}

// Scorer turns evaluated vehicles into RiskScoreResults. It never blocks:
// the whole computation is in-memory arithmetic, so worker batches can
// run it tightly per VIN.
type Scorer struct {
	combiner Combiner
}

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithCombiner overrides the evidence combination rule.
func WithCombiner(c Combiner) Option {
	return func(s *Scorer) {
		if c != nil {
			s.combiner = c
		}
	}
}

// NewScorer creates a scorer with the interpolated-odds default rule.
func NewScorer(opts ...Option) *Scorer {
	s := &Scorer{combiner: InterpolatedCombiner{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the posterior, bucket, action and confidence for one
// vehicle. The ctx parameter keeps the call-site convention; the
// computation itself has no suspension points.
func (s *Scorer) Score(_ context.Context, in Input) (model.RiskScoreResult, error) {
	defs := in.Cohort.Stressors
	if len(in.Observations) != len(defs) {
		return model.RiskScoreResult{}, fmt.Errorf("%w: %d observations for %d stressor definitions",
			ErrCalculation, len(in.Observations), len(defs))
	}
	evidence := make([]Evidence, 0, len(defs))
	applied := make([]model.AppliedStressor, 0, len(defs))
	for i, obs := range in.Observations {
		evidence = append(evidence, Evidence{LR: defs[i].Ratio, Intensity: obs.Intensity})
		if obs.Intensity > 0 {
			applied = append(applied, model.AppliedStressor{
				Name:            obs.Name,
				Intensity:       obs.Intensity,
				LikelihoodRatio: defs[i].Ratio,
			})
		}
	}

	posterior, combined, err := Calculate(s.combiner, in.Cohort.Prior.Probability, evidence)
	if err != nil {
		return model.RiskScoreResult{}, err
	}

	level := in.Severity.Classify(posterior)

	return model.RiskScoreResult{
		VIN:               in.VIN,
		CohortID:          in.Cohort.ID,
		CohortFallback:    in.Fallback,
		Prior:             in.Cohort.Prior.Probability,
		Applied:           applied,
		CombinedLR:        combined,
		Posterior:         posterior,
		Severity:          level.Bucket,
		Action:            level.Action,
		RevenueEstimate:   level.RevenueEstimate,
		Confidence:        Confidence(in.MissingCount, len(defs), in.Fallback),
		ServicingLocation: in.ServicingLocation,
		ComputedAt:        in.Now,
		ExpiresAt:         in.Now.Add(in.ResultTTL),
	}, nil
}
