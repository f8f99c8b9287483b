package catalog

import "errors"

// Sentinel error kinds for this package. These allow errors.Is/As from callers.
var (
	// ErrCohortConfiguration marks an invalid catalog: overlapping or
	// incomplete cohort keys, out-of-range priors, bad severity table.
	// Fatal at load; blocks job start.
	ErrCohortConfiguration = errors.New("cohort configuration invalid")

	ErrParse    = errors.New("catalog parse failed")
	ErrNoActive = errors.New("no active catalog snapshot")
)
