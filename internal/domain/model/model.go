// Package model contains domain models passed between layers.
package model

import (
	"strings"
	"time"
)

// vinLength is fixed by ISO 3779.
const vinLength = 17

// ValidVIN reports whether s is a well-formed 17-character VIN.
// The letters I, O and Q are never used in a VIN.
func ValidVIN(s string) bool {
	if len(s) != vinLength {
		return false
	}
	for _, r := range strings.ToUpper(s) {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'A' && r <= 'Z':
			if r == 'I' || r == 'O' || r == 'Q' {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// Attributes holds the static attributes used for cohort matching.
type Attributes struct {
	ModelClass string `json:"model_class"`
	Powertrain string `json:"powertrain"`
	Region     string `json:"region"`
	UsageClass string `json:"usage_class"`
	AgeYears   int    `json:"age_years"`
}

// Measurement is a raw per-stressor reading from upstream telemetry.
type Measurement struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// VehicleInput is the per-vehicle input contract from telemetry, weather
// and maintenance collaborators.
type VehicleInput struct {
	VIN               string                 `json:"vin"`
	Attributes        Attributes             `json:"attributes"`
	Measurements      map[string]Measurement `json:"measurements"`
	ServicingLocation string                 `json:"servicing_location"`
}

// StressorObservation is a normalized per-stressor reading. Created fresh
// each run; not persisted beyond the result trace.
type StressorObservation struct {
	Name      string
	Raw       float64
	Intensity float64
	Missing   bool
}

// AppliedStressor records one piece of evidence that entered the posterior.
type AppliedStressor struct {
	Name            string  `json:"name"`
	Intensity       float64 `json:"intensity"`
	LikelihoodRatio float64 `json:"likelihood_ratio"`
}

// RiskScoreResult is the immutable output for one VIN in one run. The next
// run supersedes it; it is never mutated in place.
type RiskScoreResult struct {
	VIN               string            `json:"vin"`
	CohortID          string            `json:"cohort_id"`
	CohortFallback    bool              `json:"cohort_fallback,omitempty"`
	Prior             float64           `json:"prior"`
	Applied           []AppliedStressor `json:"applied"`
	CombinedLR        float64           `json:"combined_lr"`
	Posterior         float64           `json:"posterior"`
	Severity          string            `json:"severity"`
	Action            string            `json:"action"`
	RevenueEstimate   float64           `json:"revenue_estimate"`
	Confidence        float64           `json:"confidence"`
	ServicingLocation string            `json:"servicing_location,omitempty"`
	ComputedAt        time.Time         `json:"computed_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
}

// UnitStatus is the per-WorkUnit state machine.
type UnitStatus string

const (
	UnitQueued     UnitStatus = "QUEUED"
	UnitInProgress UnitStatus = "IN_PROGRESS"
	UnitDone       UnitStatus = "DONE"
	UnitFailed     UnitStatus = "FAILED"
)

// Priority tiers for work units. Lower value dequeues first.
const (
	PriorityHigh   = 0
	PriorityNormal = 1
)

// WorkUnit is a batch of VINs assigned together to one worker. VIN sets
// are disjoint across units of the same job.
type WorkUnit struct {
	ID         string
	JobID      string
	VINs       []string
	Priority   int
	CohortHint string
	Status     UnitStatus
	RetryCount int
	EnqueuedAt time.Time
}

// JobState is the per-BatchJob state machine.
type JobState string

const (
	JobPending             JobState = "PENDING"
	JobRunning             JobState = "RUNNING"
	JobCompleted           JobState = "COMPLETED"
	JobCompletedWithErrors JobState = "COMPLETED_WITH_ERRORS"
	JobFailed              JobState = "FAILED"
	JobCancelled           JobState = "CANCELLED"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobCompletedWithErrors, JobFailed, JobCancelled:
		return true
	default:
		return false
	}
}

// SkipReason is one sampled per-vehicle exclusion, surfaced in job status.
type SkipReason struct {
	VIN    string `json:"vin"`
	Reason string `json:"reason"`
}

// BatchJob is an immutable snapshot of one nightly run's bookkeeping.
type BatchJob struct {
	ID             string       `json:"id"`
	State          JobState     `json:"state"`
	TotalVINs      int          `json:"total_vins"`
	ChangedVINs    int          `json:"changed_vins"`
	ProcessedVINs  int          `json:"processed_vins"`
	SkippedVINs    int          `json:"skipped_vins"`
	FailedUnits    int          `json:"failed_units"`
	TotalUnits     int          `json:"total_units"`
	StartedAt      time.Time    `json:"started_at"`
	Deadline       time.Time    `json:"deadline"`
	CompletedAt    time.Time    `json:"completed_at,omitempty"`
	CatalogVersion int          `json:"catalog_version"`
	SkipSample     []SkipReason `json:"skip_sample,omitempty"`
}

// Checkpoint is a durable progress marker for crash recovery. Write-once
// per interval, read-once on recovery.
type Checkpoint struct {
	JobID         string    `json:"job_id"`
	Processed     int       `json:"processed"`
	ProcessedVINs []string  `json:"processed_vins"`
	UnitCursor    int       `json:"unit_cursor"`
	Timestamp     time.Time `json:"timestamp"`
}
