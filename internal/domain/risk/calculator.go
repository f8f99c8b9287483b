// Package risk implements the Bayesian failure-risk engine: prior odds
// updated by interpolated likelihood-ratio evidence, clamped, and bucketed.
package risk

import (
	"fmt"
)

// Posterior clamp bounds: the engine never asserts certainty either way,
// and the clamp keeps downstream log/odds math finite even when a zero
// likelihood ratio drives the combined multiplier to 0.
const (
	MinPosterior = 0.001
	MaxPosterior = 0.999
)

// Evidence is one stressor's contribution: the documented likelihood
// ratio and how strongly the stressor is present for this vehicle.
type Evidence struct {
	LR        float64
	Intensity float64
}

// Calculate combines a cohort prior with stressor evidence into a
// posterior probability using the configured combiner. Pure and
// deterministic: identical inputs yield bit-identical outputs.
//
// Returns ErrCalculation when the prior is outside (0, 1) or any LR is
// negative; those inputs indicate an upstream contract violation, not a
// scoring outcome.
func Calculate(c Combiner, prior float64, evidence []Evidence) (posterior, combined float64, err error) {
	if prior <= 0 || prior >= 1 {
		return 0, 0, fmt.Errorf("%w: prior %v outside (0, 1)", ErrCalculation, prior)
	}
	for _, ev := range evidence {
		if ev.LR < 0 {
			return 0, 0, fmt.Errorf("%w: likelihood ratio %v is negative", ErrCalculation, ev.LR)
		}
		if ev.Intensity < 0 || ev.Intensity > 1 {
			return 0, 0, fmt.Errorf("%w: intensity %v outside [0, 1]", ErrCalculation, ev.Intensity)
		}
	}

	combined = c.Combine(evidence)

	odds := prior / (1 - prior) * combined
	posterior = odds / (1 + odds)

	return clampPosterior(posterior), combined, nil
}

func clampPosterior(p float64) float64 {
	if p < MinPosterior {
		return MinPosterior
	}
	if p > MaxPosterior {
		return MaxPosterior
	}
	return p
}

// Confidence derives the result's confidence score from evidence
// completeness and cohort matching quality. A fleet-default fallback
// halves confidence (flagged LOW); each missing measurement erodes the
// remainder proportionally.
func Confidence(missing, total int, fallback bool) float64 {
	conf := 1.0
	if total > 0 {
		conf -= 0.5 * float64(missing) / float64(total)
	}
	if fallback {
		conf *= 0.5
	}
	return conf
}
