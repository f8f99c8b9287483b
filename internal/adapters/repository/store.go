// Package repository defines the risk score store interface and errors.
package repository

import (
	"context"

	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// Summary is the lean per-VIN view of the previous run used by the
// change detector and the partitioner fast path.
type Summary struct {
	Posterior float64 `json:"posterior"`
	CohortID  string  `json:"cohort_id"`
}

// Store provides read/write access to scored results. A result is
// superseded by the next run's Put for the same VIN, never mutated.
type Store interface {
	// Put stores a result under its VIN, replacing any previous run's.
	Put(ctx context.Context, r model.RiskScoreResult) error

	// Get returns the current result for a VIN. Returns ErrNotFound for
	// unknown VINs and ErrExpired past the result's expiry.
	Get(ctx context.Context, vin string) (model.RiskScoreResult, error)

	// Summaries returns the stored per-VIN summaries. Called at job start
	// to capture the previous run's state before workers overwrite it.
	Summaries(ctx context.Context) (map[string]Summary, error)

	// Count returns the number of stored results.
	Count(ctx context.Context) (int, error)
}
