package catalog_test

import (
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/harbinger-io/harbinger/internal/domain/catalog"
)

const validDoc = `
attribute_space:
  model_classes: [sedan, suv]
  regions: [north]
  usage_classes: [light, heavy]
age_escalation_years: 10
result_ttl_hours: 26
cohorts:
  - id: sedan-north
    keys:
      - {model_class: sedan, region: north, usage_class: light}
      - {model_class: sedan, region: north, usage_class: heavy}
    prior:
      probability: 0.023
      provenance: "warranty claims 2019-2024"
      sample_size: 48210
    likelihood_ratios:
      cold_starts_per_week:
        ratio: 3.5
        kind: linear_ratio
        params: {ref_max: 20, phys_max: 200}
      vibration_rms:
        ratio: 2.83
        kind: banded_linear
        params: {ref_min: 2, ref_max: 10, phys_max: 50}
  - id: suv-north
    keys:
      - {model_class: suv, region: north, usage_class: light}
      - {model_class: suv, region: north, usage_class: heavy}
    prior:
      probability: 0.031
      provenance: "warranty claims 2019-2024"
      sample_size: 30112
    likelihood_ratios:
      cold_starts_per_week:
        ratio: 2.9
        kind: linear_ratio
        params: {ref_max: 25, phys_max: 200}
default_cohort:
  id: fleet-default
  prior:
    probability: 0.05
    provenance: "fleet-wide baseline"
    sample_size: 112000
  likelihood_ratios:
    cold_starts_per_week:
      ratio: 3.0
      kind: linear_ratio
      params: {ref_max: 20, phys_max: 200}
severity:
  - {bucket: HIGH, min_posterior: 0.30, action: immediate_service, revenue_estimate: 420, actionable: true}
  - {bucket: MEDIUM, min_posterior: 0.10, action: next_service, revenue_estimate: 180, actionable: true}
  - {bucket: LOW, min_posterior: 0, action: monitor, revenue_estimate: 0, actionable: false}
`

func TestLoadBytes(t *testing.T) {
	Convey("Given a catalog", t, func() {
		ctx := context.Background()
		cat := catalog.New("unused.yaml")

		Convey("When loading a valid document", func() {
			err := cat.LoadBytes(ctx, []byte(validDoc))
			So(err, ShouldBeNil)

			snap, err := cat.Active()
			So(err, ShouldBeNil)

			Convey("Then the snapshot carries the parsed definitions", func() {
				So(snap.Version, ShouldEqual, 1)
				So(snap.Cohorts, ShouldHaveLength, 2)
				So(snap.Default.ID, ShouldEqual, "fleet-default")
				So(snap.AgeEscalationYears, ShouldEqual, 10)

				c := snap.Lookup(catalog.Key{ModelClass: "sedan", Region: "north", UsageClass: "heavy"})
				So(c, ShouldNotBeNil)
				So(c.ID, ShouldEqual, "sedan-north")
				So(c.Prior.Probability, ShouldAlmostEqual, 0.023, 1e-12)
				So(c.Stressors, ShouldHaveLength, 2)
			})

			Convey("And a key outside the space has no cohort", func() {
				So(snap.Lookup(catalog.Key{ModelClass: "van", Region: "north", UsageClass: "light"}), ShouldBeNil)
			})

			Convey("And reloading bumps the version", func() {
				So(cat.LoadBytes(ctx, []byte(validDoc)), ShouldBeNil)
				snap2, _ := cat.Active()
				So(snap2.Version, ShouldEqual, 2)
				So(snap2.CohortHashes(), ShouldResemble, snap.CohortHashes())
			})
		})

		Convey("When a reload fails the previous snapshot stays active", func() {
			So(cat.LoadBytes(ctx, []byte(validDoc)), ShouldBeNil)
			before, _ := cat.Active()

			err := cat.LoadBytes(ctx, []byte("cohorts: []"))
			So(err, ShouldNotBeNil)

			after, _ := cat.Active()
			So(after, ShouldEqual, before)
		})

		Convey("When before any load", func() {
			_, err := cat.Active()
			So(err, ShouldWrap, catalog.ErrNoActive)
		})
	})
}

func TestSnapshotValidation(t *testing.T) {
	Convey("Given catalog documents with configuration defects", t, func() {
		ctx := context.Background()

		load := func(doc string) error {
			return catalog.New("unused.yaml").LoadBytes(ctx, []byte(doc))
		}

		Convey("A coverage gap is rejected", func() {
			doc := `
attribute_space:
  model_classes: [sedan, suv]
  regions: [north]
  usage_classes: [light]
cohorts:
  - id: sedan-only
    keys:
      - {model_class: sedan, region: north, usage_class: light}
    prior: {probability: 0.02}
default_cohort:
  id: fleet-default
  prior: {probability: 0.05}
severity:
  - {bucket: LOW, min_posterior: 0, action: monitor}
`
			err := load(doc)
			So(err, ShouldWrap, catalog.ErrCohortConfiguration)
			So(err.Error(), ShouldContainSubstring, "uncovered")
		})

		Convey("An overlapping key is rejected", func() {
			doc := `
attribute_space:
  model_classes: [sedan]
  regions: [north]
  usage_classes: [light]
cohorts:
  - id: a
    keys:
      - {model_class: sedan, region: north, usage_class: light}
    prior: {probability: 0.02}
  - id: b
    keys:
      - {model_class: sedan, region: north, usage_class: light}
    prior: {probability: 0.03}
default_cohort:
  id: fleet-default
  prior: {probability: 0.05}
severity:
  - {bucket: LOW, min_posterior: 0, action: monitor}
`
			err := load(doc)
			So(err, ShouldWrap, catalog.ErrCohortConfiguration)
			So(err.Error(), ShouldContainSubstring, "covered by both")
		})

		Convey("A degenerate prior is rejected", func() {
			doc := `
attribute_space:
  model_classes: [sedan]
  regions: [north]
  usage_classes: [light]
cohorts:
  - id: a
    keys:
      - {model_class: sedan, region: north, usage_class: light}
    prior: {probability: 1.0}
default_cohort:
  id: fleet-default
  prior: {probability: 0.05}
severity:
  - {bucket: LOW, min_posterior: 0, action: monitor}
`
			So(load(doc), ShouldWrap, catalog.ErrCohortConfiguration)
		})

		Convey("An unknown normalization kind is rejected", func() {
			doc := `
attribute_space:
  model_classes: [sedan]
  regions: [north]
  usage_classes: [light]
cohorts:
  - id: a
    keys:
      - {model_class: sedan, region: north, usage_class: light}
    prior: {probability: 0.02}
    likelihood_ratios:
      mystery: {ratio: 2.0, kind: quadratic}
default_cohort:
  id: fleet-default
  prior: {probability: 0.05}
severity:
  - {bucket: LOW, min_posterior: 0, action: monitor}
`
			So(load(doc), ShouldWrap, catalog.ErrCohortConfiguration)
		})

		Convey("A severity table not ending at zero is rejected", func() {
			doc := `
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
  - {bucket: HIGH, min_posterior: 0.3, action: immediate_service}
  - {bucket: LOW, min_posterior: 0.1, action: monitor}
`
			err := load(doc)
			So(err, ShouldWrap, catalog.ErrCohortConfiguration)
			So(err.Error(), ShouldContainSubstring, "min_posterior 0")
		})

		Convey("Out-of-order severity thresholds are rejected", func() {
			doc := `
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
  - {bucket: MEDIUM, min_posterior: 0.1, action: next_service}
  - {bucket: HIGH, min_posterior: 0.3, action: immediate_service}
  - {bucket: LOW, min_posterior: 0, action: monitor}
`
			So(load(doc), ShouldWrap, catalog.ErrCohortConfiguration)
		})
	})
}

func TestSeverityTable(t *testing.T) {
	Convey("Given the severity table from a loaded snapshot", t, func() {
		cat := catalog.New("unused.yaml")
		So(cat.LoadBytes(context.Background(), []byte(validDoc)), ShouldBeNil)
		snap, _ := cat.Active()
		table := snap.Severity

		Convey("Classify applies thresholds as a step function", func() {
			So(table.Classify(0.31).Bucket, ShouldEqual, "HIGH")
			So(table.Classify(0.30).Bucket, ShouldEqual, "HIGH")
			So(table.Classify(0.299).Bucket, ShouldEqual, "MEDIUM")
			So(table.Classify(0.10).Bucket, ShouldEqual, "MEDIUM")
			So(table.Classify(0.05).Bucket, ShouldEqual, "LOW")
			So(table.Classify(0.0).Bucket, ShouldEqual, "LOW")
		})

		Convey("Only the configured buckets are actionable", func() {
			So(table.Classify(0.5).Actionable, ShouldBeTrue)
			So(table.Classify(0.01).Actionable, ShouldBeFalse)
		})

		Convey("NearestBoundary measures distance to the closest threshold", func() {
			So(table.NearestBoundary(0.29), ShouldAlmostEqual, 0.01, 1e-12)
			So(table.NearestBoundary(0.11), ShouldAlmostEqual, 0.01, 1e-12)
			So(table.NearestBoundary(0.20), ShouldAlmostEqual, 0.10, 1e-12)
		})
	})
}
