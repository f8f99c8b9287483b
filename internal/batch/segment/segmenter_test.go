package segment_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/harbinger-io/harbinger/internal/batch/segment"
	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
)

const segDoc = `
attribute_space:
  model_classes: [sedan]
  regions: [north]
  usage_classes: [light]
cohorts:
  - id: a
    keys:
      - {model_class: sedan, region: north, usage_class: light}
    prior: {probability: 0.02}
default_cohort:
  id: fleet-default
  prior: {probability: 0.05}
severity:
  - {bucket: HIGH, min_posterior: 0.30, action: immediate_service, revenue_estimate: 420, actionable: true}
  - {bucket: MEDIUM, min_posterior: 0.10, action: next_service, revenue_estimate: 180, actionable: true}
  - {bucket: LOW, min_posterior: 0, action: monitor}
`

func result(vin, severity, location string, revenue float64) model.RiskScoreResult {
	return model.RiskScoreResult{
		VIN:               vin,
		Severity:          severity,
		ServicingLocation: location,
		RevenueEstimate:   revenue,
	}
}

func TestBuild(t *testing.T) {
	Convey("Given a segmenter for a loaded severity table", t, func() {
		cat := catalog.New("unused.yaml")
		So(cat.LoadBytes(context.Background(), []byte(segDoc)), ShouldBeNil)
		snap, _ := cat.Active()
		seg := segment.NewSegmenter(snap.Severity)

		Convey("When building from mixed-severity results", func() {
			exp := seg.Build("job-1", []model.RiskScoreResult{
				result("VINC", "MEDIUM", "DEPOT-A", 180),
				result("VINA", "LOW", "DEPOT-A", 0),
				result("VINB", "HIGH", "DEPOT-A", 420),
				result("VIND", "HIGH", "DEPOT-B", 420),
			})

			Convey("Then non-actionable severities are excluded", func() {
				So(exp.JobID, ShouldEqual, "job-1")
				So(exp.Segments, ShouldHaveLength, 2)
				for _, s := range exp.Segments {
					for _, r := range s.Results {
						So(r.Severity, ShouldNotEqual, "LOW")
					}
				}
			})

			Convey("And locations are sorted with severity leading inside", func() {
				So(exp.Segments[0].Location, ShouldEqual, "DEPOT-A")
				So(exp.Segments[0].Results[0].VIN, ShouldEqual, "VINB")
				So(exp.Segments[0].Results[1].VIN, ShouldEqual, "VINC")
				So(exp.Segments[1].Location, ShouldEqual, "DEPOT-B")
			})
		})

		Convey("When revenue breaks ties within a severity", func() {
			exp := seg.Build("job-2", []model.RiskScoreResult{
				result("VINA", "HIGH", "DEPOT-A", 100),
				result("VINB", "HIGH", "DEPOT-A", 400),
			})

			So(exp.Segments[0].Results[0].VIN, ShouldEqual, "VINB")
		})

		Convey("When a result has no servicing location", func() {
			exp := seg.Build("job-3", []model.RiskScoreResult{
				result("VINA", "HIGH", "", 420),
			})

			Convey("Then it lands in the unassigned bucket", func() {
				So(exp.Segments, ShouldHaveLength, 1)
				So(exp.Segments[0].Location, ShouldEqual, "UNASSIGNED")
			})
		})

		Convey("When no results are actionable", func() {
			exp := seg.Build("job-4", []model.RiskScoreResult{
				result("VINA", "LOW", "DEPOT-A", 0),
			})

			So(exp.Segments, ShouldBeEmpty)
		})
	})
}
