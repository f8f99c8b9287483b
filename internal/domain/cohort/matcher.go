// Package cohort maps a vehicle's static attributes to exactly one cohort.
package cohort

import (
	"context"

	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/pkg/metrics"
)

// Match is the matcher outcome for one vehicle. Fallback marks vehicles
// outside the declared attribute space that received the fleet default
// cohort; their confidence is flagged LOW downstream.
type Match struct {
	Cohort   *catalog.Cohort
	Fallback bool
}

// Matcher resolves cohorts against a catalog snapshot. Matching is
// deterministic: the snapshot's keys partition the attribute space, so a
// covered vehicle can match exactly one cohort.
type Matcher struct {
	snap *catalog.Snapshot
}

// NewMatcher creates a matcher bound to one immutable snapshot. A work
// unit keeps its matcher for its whole lifetime so mid-unit reloads never
// mix catalog versions.
func NewMatcher(snap *catalog.Snapshot) *Matcher {
	return &Matcher{snap: snap}
}

// Match resolves the cohort for a vehicle's static attributes.
func (m *Matcher) Match(ctx context.Context, attrs model.Attributes) Match {
	key := catalog.Key{
		ModelClass: attrs.ModelClass,
		Region:     attrs.Region,
		UsageClass: m.effectiveUsageClass(attrs),
	}

	if c := m.snap.Lookup(key); c != nil {
		return Match{Cohort: c}
	}

	metrics.RecordCohortFallback()
	return Match{Cohort: m.snap.Default, Fallback: true}
}

// effectiveUsageClass applies the age escalation rule: old vehicles are
// treated one usage class more intense than declared.
func (m *Matcher) effectiveUsageClass(attrs model.Attributes) string {
	uc := attrs.UsageClass
	if m.snap.AgeEscalationYears <= 0 || attrs.AgeYears < m.snap.AgeEscalationYears {
		return uc
	}
	classes := m.snap.UsageClasses
	for i, c := range classes {
		if c == uc {
			if i+1 < len(classes) {
				return classes[i+1]
			}
			return uc
		}
	}
	return uc
}
