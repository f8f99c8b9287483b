package risk

// Combiner folds stressor evidence into a single odds multiplier. The
// combination rule is pluggable; InterpolatedCombiner is the default and
// the form the scoring contract is validated against.
type Combiner interface {
	// Combine returns the combined odds multiplier, always > 0 logically
	// but possibly 0 when a zero likelihood ratio meets full intensity;
	// Calculate clamps the resulting posterior to the lower bound.
	Combine(evidence []Evidence) float64

	// Name identifies the rule in result traces and configuration.
	Name() string
}

// InterpolatedCombiner scales each multiplier linearly with intensity:
// m = 1 + (LR-1) * intensity. At intensity 0 a stressor is inert; at 1
// the full documented ratio applies. The interpolation keeps a large LR
// from blowing up the odds when the evidence is only weakly present.
type InterpolatedCombiner struct{}

// Combine multiplies the interpolated per-stressor multipliers.
func (InterpolatedCombiner) Combine(evidence []Evidence) float64 {
	combined := 1.0
	for _, ev := range evidence {
		combined *= 1 + (ev.LR-1)*ev.Intensity
	}
	return combined
}

// Name identifies the interpolated-odds rule.
func (InterpolatedCombiner) Name() string { return "interpolated_odds" }

// FullRatioCombiner applies the full documented ratio for any stressor
// with non-zero intensity. Kept for comparison runs against historical
// scores produced under the older rule.
type FullRatioCombiner struct{}

// Combine multiplies the full ratios of all active stressors.
func (FullRatioCombiner) Combine(evidence []Evidence) float64 {
	combined := 1.0
	for _, ev := range evidence {
		if ev.Intensity > 0 {
			combined *= ev.LR
		}
	}
	return combined
}

// Name identifies the full-ratio rule.
func (FullRatioCombiner) Name() string { return "full_ratio" }

// CombinerByName returns the combiner for a configured rule name, or the
// interpolated default for unknown names along with false.
func CombinerByName(name string) (Combiner, bool) {
	switch name {
	case "", "interpolated_odds":
		return InterpolatedCombiner{}, true
	case "full_ratio":
		return FullRatioCombiner{}, true
	default:
		return InterpolatedCombiner{}, false
	}
}
