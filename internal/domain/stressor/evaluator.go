package stressor

import (
	"context"
	"fmt"

	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// Evaluation is the outcome for one vehicle: intensities for every
// stressor the cohort defines, plus how many measurements were absent.
type Evaluation struct {
	Observations []model.StressorObservation
	MissingCount int
}

// Evaluator normalizes raw measurements against a cohort's stressor
// definitions. It is stateless and safe for concurrent use.
type Evaluator struct{}

// NewEvaluator creates a new evaluator.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate converts raw measurements into bounded intensities.
//
// A missing measurement yields intensity 0 (stressor inert) and counts
// toward MissingCount so the caller can degrade the result's confidence.
// An out-of-physical-range measurement fails the whole vehicle with
// ErrDataValidation; the caller excludes the vehicle from the run.
func (e *Evaluator) Evaluate(ctx context.Context, defs []Def, measurements map[string]model.Measurement) (Evaluation, error) {
	out := Evaluation{
		Observations: make([]model.StressorObservation, 0, len(defs)),
	}

	for _, def := range defs {
		m, ok := measurements[def.Name]
		if !ok {
			out.Observations = append(out.Observations, model.StressorObservation{
				Name:    def.Name,
				Missing: true,
			})
			out.MissingCount++
			continue
		}

		if !def.InRange(m.Value) {
			return Evaluation{}, fmt.Errorf("%w: stressor %q raw value %v outside physical range [%v, %v]",
				ErrDataValidation, def.Name, m.Value, def.Params.PhysMin, def.Params.PhysMax)
		}

		out.Observations = append(out.Observations, model.StressorObservation{
			Name:      def.Name,
			Raw:       m.Value,
			Intensity: clamp01(def.Normalize(m.Value)),
		})
	}

	return out, nil
}
