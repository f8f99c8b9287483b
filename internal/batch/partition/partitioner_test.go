package partition_test

import (
	"context"
	"fmt"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/harbinger-io/harbinger/internal/batch/partition"
	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
)

const severityDoc = `
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
  - {bucket: HIGH, min_posterior: 0.30, action: immediate_service, actionable: true}
  - {bucket: MEDIUM, min_posterior: 0.10, action: next_service, actionable: true}
  - {bucket: LOW, min_posterior: 0, action: monitor}
`

func severityTable() *catalog.SeverityTable {
	cat := catalog.New("unused.yaml")
	if err := cat.LoadBytes(context.Background(), []byte(severityDoc)); err != nil {
		panic(err)
	}
	snap, _ := cat.Active()
	return snap.Severity
}

func makeVINs(n int) []string {
	vins := make([]string, n)
	for i := range vins {
		vins[i] = fmt.Sprintf("5YJSA1E2%09d", i)
	}
	return vins
}

func TestPartition(t *testing.T) {
	Convey("Given a partitioner with a small unit size", t, func() {
		p := partition.New(
			partition.WithTargetUnitSize(10),
			partition.WithMaxPriorityUnits(2),
			partition.WithThresholdMargin(0.02),
		)
		table := severityTable()
		vins := makeVINs(55)

		Convey("When partitioning without last-run data", func() {
			units := p.Partition("job-1", vins, nil, table)

			Convey("Then every VIN lands in exactly one unit", func() {
				So(units, ShouldHaveLength, 6)
				seen := make(map[string]int)
				for _, u := range units {
					So(len(u.VINs), ShouldBeLessThanOrEqualTo, 10)
					So(u.JobID, ShouldEqual, "job-1")
					So(u.Status, ShouldEqual, model.UnitQueued)
					for _, vin := range u.VINs {
						seen[vin]++
					}
				}
				So(seen, ShouldHaveLength, 55)
				for _, n := range seen {
					So(n, ShouldEqual, 1)
				}
			})

			Convey("And no high-priority units are carved out", func() {
				for _, u := range units {
					So(u.Priority, ShouldEqual, model.PriorityNormal)
				}
			})
		})

		Convey("When some VINs sat near a severity boundary last run", func() {
			lastRun := map[string]partition.LastRun{
				vins[0]: {Posterior: 0.295, CohortID: "a"},
				vins[1]: {Posterior: 0.101, CohortID: "a"},
				vins[2]: {Posterior: 0.20, CohortID: "a"},
			}
			units := p.Partition("job-2", vins, lastRun, table)

			Convey("Then near-threshold VINs lead in a high-priority unit", func() {
				So(units[0].Priority, ShouldEqual, model.PriorityHigh)
				So(units[0].VINs, ShouldResemble, []string{vins[1], vins[0]})
			})

			Convey("And mid-band VINs stay on the normal path", func() {
				for _, u := range units[1:] {
					So(u.Priority, ShouldEqual, model.PriorityNormal)
					So(u.VINs, ShouldNotContain, vins[0])
					So(u.VINs, ShouldNotContain, vins[1])
				}
			})
		})

		Convey("When more candidates qualify than the priority budget", func() {
			lastRun := make(map[string]partition.LastRun, len(vins))
			for _, vin := range vins {
				lastRun[vin] = partition.LastRun{Posterior: 0.30, CohortID: "a"}
			}
			units := p.Partition("job-3", vins, lastRun, table)

			high := 0
			for _, u := range units {
				if u.Priority == model.PriorityHigh {
					high++
				}
			}
			Convey("Then the fast path is capped at max priority units", func() {
				So(high, ShouldEqual, 2)
			})
		})

		Convey("When the remainder groups by last-run cohort", func() {
			lastRun := map[string]partition.LastRun{
				vins[0]: {Posterior: 0.5, CohortID: "zeta"},
				vins[1]: {Posterior: 0.5, CohortID: "alpha"},
			}
			p2 := partition.New(partition.WithTargetUnitSize(10), partition.WithMaxPriorityUnits(0))
			units := p2.Partition("job-4", vins[:2], lastRun, table)

			Convey("Then units carry the cohort hint in sorted order", func() {
				So(units, ShouldHaveLength, 2)
				So(units[0].CohortHint, ShouldEqual, "alpha")
				So(units[1].CohortHint, ShouldEqual, "zeta")
			})
		})

		Convey("When partitioning twice with the same inputs", func() {
			lastRun := map[string]partition.LastRun{vins[3]: {Posterior: 0.29, CohortID: "a"}}
			a := p.Partition("job-5", vins, lastRun, table)
			b := p.Partition("job-5", vins, lastRun, table)

			Convey("Then the result is identical", func() {
				So(a, ShouldResemble, b)
			})
		})
	})
}
