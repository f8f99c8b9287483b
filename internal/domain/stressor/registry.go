// Package stressor converts raw per-vehicle measurements into bounded
// stressor intensities.
package stressor

import (
	"fmt"
	"math"
)

// Kind identifies a normalization strategy for a stressor. The set is
// fixed; catalog documents referencing an unknown kind are rejected at
// load time.
type Kind string

const (
	// KindLinearRatio maps raw to min(1, raw/refMax).
	KindLinearRatio Kind = "linear_ratio"

	// KindBandedLinear maps raw linearly from [refMin, refMax] onto [0, 1].
	KindBandedLinear Kind = "banded_linear"

	// KindStep maps raw to 1 when raw >= threshold, else 0.
	KindStep Kind = "step"
)

// Params carries the declarative knobs for a normalization function.
type Params struct {
	RefMin    float64 `yaml:"ref_min"`
	RefMax    float64 `yaml:"ref_max"`
	Threshold float64 `yaml:"threshold"`

	// Physical bounds for the raw measurement. Raw values outside
	// [PhysMin, PhysMax] are a data validation failure, never silently
	// clamped. PhysMax of 0 means unbounded above.
	PhysMin float64 `yaml:"phys_min"`
	PhysMax float64 `yaml:"phys_max"`
}

// Normalizer maps a raw measurement to an intensity in [0, 1]. All
// registered normalizers are monotonic non-decreasing in raw.
type Normalizer func(raw float64) float64

// Bind validates params for the kind and returns the bound normalizer.
// Returns ErrUnknownKind for kinds outside the registry.
func Bind(kind Kind, p Params) (Normalizer, error) {
	switch kind {
	case KindLinearRatio:
		if p.RefMax <= 0 {
			return nil, fmt.Errorf("%w: %s requires ref_max > 0", ErrInvalidParams, kind)
		}
		refMax := p.RefMax
		return func(raw float64) float64 {
			return clamp01(raw / refMax)
		}, nil

	case KindBandedLinear:
		if p.RefMax <= p.RefMin {
			return nil, fmt.Errorf("%w: %s requires ref_max > ref_min", ErrInvalidParams, kind)
		}
		lo, span := p.RefMin, p.RefMax-p.RefMin
		return func(raw float64) float64 {
			return clamp01((raw - lo) / span)
		}, nil

	case KindStep:
		threshold := p.Threshold
		return func(raw float64) float64 {
			if raw >= threshold {
				return 1
			}
			return 0
		}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// Def is one stressor definition bound to a cohort: the documented
// likelihood ratio plus the normalization bound at catalog load.
type Def struct {
	Name       string
	Ratio      float64
	Definition string
	Provenance string
	Kind       Kind
	Params     Params
	Normalize  Normalizer
}

// InRange reports whether raw is physically plausible for this stressor.
func (d Def) InRange(raw float64) bool {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return false
	}
	if raw < d.Params.PhysMin {
		return false
	}
	if d.Params.PhysMax > 0 && raw > d.Params.PhysMax {
		return false
	}
	return true
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
