package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harbinger-io/harbinger/internal/adapters/mq/worker"
	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/internal/domain/risk"
	"github.com/harbinger-io/harbinger/internal/domain/stressor"
	"github.com/harbinger-io/harbinger/pkg/logger"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// Skip reasons carried on job records and metrics labels.
const (
	skipMissingInput   = "missing_input_contract"
	skipDataValidation = "data_validation"
	skipCalculation    = "calculation"
)

// unitProcessor scores one work unit's VINs against the job's pinned
// catalog snapshot. A per-vehicle failure skips that vehicle; only
// upstream fetch or store errors fail the unit.
type unitProcessor struct {
	svc *Service
	run *jobRun
}

func (p *unitProcessor) ProcessUnit(ctx context.Context, u model.WorkUnit) worker.Report {
	var rep worker.Report

	// Recovery path: drop VINs already scored before the crash.
	pending := make([]string, 0, len(u.VINs))
	for _, vin := range u.VINs {
		if !p.run.cp.Processed(vin) {
			pending = append(pending, vin)
		}
	}
	if len(pending) == 0 {
		return rep
	}

	inputs, err := p.svc.source.Fetch(ctx, pending)
	if err != nil {
		rep.Err = fmt.Errorf("%w: %w", ErrFetchFailed, err)
		return rep
	}
	byVIN := make(map[string]model.VehicleInput, len(inputs))
	for _, in := range inputs {
		byVIN[in.VIN] = in
	}

	results := make([]model.RiskScoreResult, 0, len(pending))
	for _, vin := range pending {
		in, ok := byVIN[vin]
		if !ok {
			rep.Skipped = append(rep.Skipped, model.SkipReason{VIN: vin, Reason: skipMissingInput})
			metrics.RecordVehicleSkipped(skipMissingInput)
			continue
		}

		res, serr := p.scoreVehicle(ctx, in)
		if serr != nil {
			reason := skipCalculation
			if errors.Is(serr, stressor.ErrDataValidation) {
				reason = skipDataValidation
			}
			rep.Skipped = append(rep.Skipped, model.SkipReason{VIN: vin, Reason: reason})
			metrics.RecordVehicleSkipped(reason)
			metrics.RecordDataQualityAlert()
			p.svc.log.Warn(ctx, "vehicle skipped",
				logger.String("vin", vin),
				logger.String("reason", reason),
				logger.Error(serr),
			)
			continue
		}

		if perr := p.svc.store.Put(ctx, res); perr != nil {
			rep.Err = fmt.Errorf("%w: %w", ErrStoreFailed, perr)
			return rep
		}
		results = append(results, res)
		rep.Processed = append(rep.Processed, vin)
	}

	p.run.addResults(results)
	if merr := p.run.markProcessed(ctx, rep.Processed); merr != nil {
		p.svc.log.Warn(ctx, "checkpoint write failed", logger.Error(merr))
	}
	return rep
}

// scoreVehicle runs one vehicle through cohort matching, stressor
// evaluation and posterior calculation.
func (p *unitProcessor) scoreVehicle(ctx context.Context, in model.VehicleInput) (model.RiskScoreResult, error) {
	start := time.Now()

	match := p.run.matcher.Match(ctx, in.Attributes)
	eval, err := p.svc.evaluator.Evaluate(ctx, match.Cohort.Stressors, in.Measurements)
	if err != nil {
		return model.RiskScoreResult{}, err
	}

	res, err := p.svc.scorer.Score(ctx, risk.Input{
		VIN:               in.VIN,
		Cohort:            match.Cohort,
		Fallback:          match.Fallback,
		Observations:      eval.Observations,
		MissingCount:      eval.MissingCount,
		ServicingLocation: in.ServicingLocation,
		Severity:          p.run.snap.Severity,
		ResultTTL:         p.run.snap.ResultTTL,
		Now:               start,
	})
	if err != nil {
		return model.RiskScoreResult{}, err
	}

	metrics.RecordVehicleScored()
	metrics.RecordSeverityBucket(res.Severity)
	metrics.RecordScoringLatency(float64(time.Since(start).Microseconds()) / 1000.0)
	return res, nil
}
