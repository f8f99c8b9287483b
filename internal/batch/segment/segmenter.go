// Package segment groups completed results for downstream consumers.
package segment

import (
	"sort"

	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// unknownLocation buckets results whose input carried no servicing
// location; downstream routing handles them manually.
const unknownLocation = "UNASSIGNED"

// Segment is the per-consumer slice of a job's export: one servicing
// location, actionable results only, highest severity and revenue first.
type Segment struct {
	Location string                  `json:"location"`
	Results  []model.RiskScoreResult `json:"results"`
}

// Export is the segmented output of one completed job.
type Export struct {
	JobID    string    `json:"job_id"`
	Segments []Segment `json:"segments"`
}

// Segmenter filters and orders results according to the severity table of
// the snapshot the job ran under.
type Segmenter struct {
	rank       map[string]int
	actionable map[string]bool
}

// NewSegmenter creates a segmenter for one severity table.
func NewSegmenter(table *catalog.SeverityTable) *Segmenter {
	levels := table.Levels()
	s := &Segmenter{
		rank:       make(map[string]int, len(levels)),
		actionable: make(map[string]bool, len(levels)),
	}
	for i, l := range levels {
		s.rank[l.Bucket] = i
		s.actionable[l.Bucket] = l.Actionable
	}
	return s
}

// Build produces the job's export: actionable severities only, grouped by
// servicing location, sorted by severity then descending revenue.
func (s *Segmenter) Build(jobID string, results []model.RiskScoreResult) Export {
	byLocation := make(map[string][]model.RiskScoreResult)
	for _, r := range results {
		if !s.actionable[r.Severity] {
			continue
		}
		loc := r.ServicingLocation
		if loc == "" {
			loc = unknownLocation
		}
		byLocation[loc] = append(byLocation[loc], r)
	}

	export := Export{JobID: jobID}
	locations := make([]string, 0, len(byLocation))
	for loc := range byLocation {
		locations = append(locations, loc)
	}
	sort.Strings(locations)

	for _, loc := range locations {
		rs := byLocation[loc]
		sort.SliceStable(rs, func(i, j int) bool {
			ri, rj := s.rank[rs[i].Severity], s.rank[rs[j].Severity]
			if ri != rj {
				return ri < rj
			}
			if rs[i].RevenueEstimate != rs[j].RevenueEstimate {
				return rs[i].RevenueEstimate > rs[j].RevenueEstimate
			}
			return rs[i].VIN < rs[j].VIN
		})
		export.Segments = append(export.Segments, Segment{Location: loc, Results: rs})
	}

	return export
}
