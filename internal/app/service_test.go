package app_test

import (
	"context"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/harbinger-io/harbinger/internal/adapters/repository"
	"github.com/harbinger-io/harbinger/internal/app"
	"github.com/harbinger-io/harbinger/internal/batch/checkpoint"
	"github.com/harbinger-io/harbinger/internal/batch/detect"
	"github.com/harbinger-io/harbinger/internal/config"
	"github.com/harbinger-io/harbinger/internal/domain/catalog"
	"github.com/harbinger-io/harbinger/internal/domain/model"
	"github.com/harbinger-io/harbinger/internal/fleetgen"
)

// serviceDoc covers exactly the attribute space the test fleet draws
// from: sedans in the north, light or heavy usage.
const serviceDoc = `
attribute_space:
  model_classes: [sedan]
  regions: [north]
  usage_classes: [light, heavy]
age_escalation_years: 10
result_ttl_hours: 26
cohorts:
  - id: sedan-north-light
    keys:
      - {model_class: sedan, region: north, usage_class: light}
    prior:
      probability: 0.023
      provenance: "warranty claims 2023-2025"
      sample_size: 30112
    likelihood_ratios:
      cold_starts_per_week:
        ratio: 3.5
        kind: linear_ratio
        params: {ref_max: 20, phys_max: 100}
      vibration_rms:
        ratio: 2.83
        kind: banded_linear
        params: {ref_min: 2, ref_max: 9, phys_max: 50}
  - id: sedan-north-heavy
    keys:
      - {model_class: sedan, region: north, usage_class: heavy}
    prior:
      probability: 0.041
      provenance: "warranty claims 2023-2025"
      sample_size: 18250
    likelihood_ratios:
      cold_starts_per_week:
        ratio: 3.9
        kind: linear_ratio
        params: {ref_max: 18, phys_max: 100}
default_cohort:
  id: fleet-default
  prior:
    probability: 0.03
    provenance: "fleet-wide baseline"
    sample_size: 120000
severity:
  - {bucket: HIGH, min_posterior: 0.30, action: inspect_within_7_days, revenue_estimate: 420, actionable: true}
  - {bucket: MEDIUM, min_posterior: 0.10, action: schedule_next_visit, revenue_estimate: 180, actionable: true}
  - {bucket: LOW, min_posterior: 0, action: monitor, revenue_estimate: 0, actionable: false}
`

func newTestService(t *testing.T, fleetSize int) (*app.Service, *fleetgen.Fleet, *repository.MemStore, *checkpoint.Store) {
	t.Helper()
	ctx := context.Background()

	cat := catalog.New("")
	if err := cat.LoadBytes(ctx, []byte(serviceDoc)); err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	fleet := fleetgen.New(
		fleetgen.WithSize(fleetSize),
		fleetgen.WithSeed(42),
		fleetgen.WithShards(2),
		fleetgen.WithMissingRate(0),
		fleetgen.WithAttributeSpace(
			[]string{"sedan"}, []string{"ev"}, []string{"north"}, []string{"light", "heavy"},
		),
	)

	store := repository.NewMemStore()
	ckStore, err := checkpoint.Open("")
	if err != nil {
		t.Fatalf("open checkpoint store: %v", err)
	}
	t.Cleanup(func() { _ = ckStore.Close() })

	cfg := config.New()
	cfg.UnitSize = 10
	cfg.MinWorkers = 2
	cfg.MaxWorkers = 4
	cfg.CheckpointEveryN = 20
	cfg.UnitTimeoutSeconds = 10

	svc, err := app.New(cfg, cat, store, ckStore, fleet, []detect.Source{fleet}, fleet)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	return svc, fleet, store, ckStore
}

// waitTerminal polls the job until it settles or the test deadline hits.
func waitTerminal(t *testing.T, svc *app.Service, jobID string) {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := svc.JobStatus(context.Background(), jobID)
		if err != nil {
			t.Fatalf("job status: %v", err)
		}
		if job.State.Terminal() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", jobID)
}

func TestService(t *testing.T) {
	Convey("Given a started service over a simulated fleet", t, func() {
		ctx := context.Background()
		svc, fleet, store, _ := newTestService(t, 60)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			So(svc.Shutdown(shutCtx), ShouldBeNil)
		}()

		vins, err := fleet.AllVINs(ctx)
		So(err, ShouldBeNil)

		Convey("When a job runs over an explicit VIN list", func() {
			jobID, err := svc.SubmitJob(ctx, app.SubmitRequest{VINs: vins})
			So(err, ShouldBeNil)
			So(jobID, ShouldNotBeEmpty)
			waitTerminal(t, svc, jobID)

			job, err := svc.JobStatus(ctx, jobID)
			So(err, ShouldBeNil)

			Convey("Then every vehicle is scored exactly once", func() {
				So(job.State, ShouldEqual, model.JobCompleted)
				So(job.TotalVINs, ShouldEqual, fleet.Size())
				So(job.ProcessedVINs, ShouldEqual, fleet.Size())
				So(job.SkippedVINs, ShouldEqual, 0)
				So(job.FailedUnits, ShouldEqual, 0)

				count, cerr := store.Count(ctx)
				So(cerr, ShouldBeNil)
				So(count, ShouldEqual, fleet.Size())
			})

			Convey("And stored scores are served with full trace fields", func() {
				res, serr := svc.Score(ctx, vins[0])
				So(serr, ShouldBeNil)
				So(res.VIN, ShouldEqual, vins[0])
				So(res.CohortID, ShouldBeIn, "sedan-north-light", "sedan-north-heavy")
				So(res.Posterior, ShouldBeGreaterThan, 0)
				So(res.Posterior, ShouldBeLessThan, 1)
				So(res.Severity, ShouldBeIn, "HIGH", "MEDIUM", "LOW")
				So(res.ExpiresAt.After(res.ComputedAt), ShouldBeTrue)
			})

			Convey("And the export excludes non-actionable severities", func() {
				exp, serr := svc.Segments(ctx, jobID)
				So(serr, ShouldBeNil)
				So(exp.JobID, ShouldEqual, jobID)
				for _, seg := range exp.Segments {
					So(seg.Location, ShouldNotBeEmpty)
					for _, r := range seg.Results {
						So(r.Severity, ShouldBeIn, "HIGH", "MEDIUM")
						So(r.ServicingLocation, ShouldEqual, seg.Location)
					}
				}
			})

			Convey("And the stats snapshot reflects the finished run", func() {
				st, serr := svc.Stat(ctx)
				So(serr, ShouldBeNil)
				So(st.StoredResults, ShouldEqual, fleet.Size())
				So(st.ActiveJobID, ShouldBeEmpty)
			})

			Convey("And a follow-up detection run scores only changed vehicles", func() {
				nextID, serr := svc.SubmitJob(ctx, app.SubmitRequest{})
				So(serr, ShouldBeNil)
				waitTerminal(t, svc, nextID)

				next, jerr := svc.JobStatus(ctx, nextID)
				So(jerr, ShouldBeNil)
				So(next.State, ShouldEqual, model.JobCompleted)
				So(next.TotalVINs, ShouldBeLessThan, fleet.Size())
			})
		})

		Convey("When the request carries a malformed VIN", func() {
			_, err := svc.SubmitJob(ctx, app.SubmitRequest{VINs: []string{"SHORT"}})
			So(err, ShouldWrap, app.ErrInvalidVIN)
		})

		Convey("When a score is requested for an unknown vehicle", func() {
			_, err := svc.Score(ctx, "5YJSA1E26MF000000")
			So(err, ShouldWrap, repository.ErrNotFound)
		})

		Convey("When a score lookup uses a malformed VIN", func() {
			_, err := svc.Score(ctx, "nope")
			So(err, ShouldWrap, app.ErrInvalidVIN)
		})

		Convey("When job operations name an unknown job", func() {
			_, err := svc.JobStatus(ctx, "missing")
			So(err, ShouldWrap, app.ErrJobNotFound)
			So(svc.Cancel(ctx, "missing"), ShouldWrap, app.ErrJobNotFound)
			_, err = svc.Segments(ctx, "missing")
			So(err, ShouldWrap, app.ErrJobNotFound)
		})
	})

	Convey("Given a service that has not been started", t, func() {
		svc, _, _, _ := newTestService(t, 10)
		_, err := svc.SubmitJob(context.Background(), app.SubmitRequest{})
		So(err, ShouldWrap, app.ErrNotStarted)
	})
}

func TestServiceCheckpointRecovery(t *testing.T) {
	Convey("Given durable state left by an interrupted run", t, func() {
		ctx := context.Background()
		svc, fleet, store, ckStore := newTestService(t, 30)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			So(svc.Shutdown(shutCtx), ShouldBeNil)
		}()

		vins, err := fleet.AllVINs(ctx)
		So(err, ShouldBeNil)

		// The first ten VINs were scored and checkpointed before the
		// process died. Their stored results carry a marker cohort so
		// any rescore would be visible.
		const jobID = "nightly-recovery"
		scored := vins[:10]
		for _, vin := range scored {
			So(store.Put(ctx, model.RiskScoreResult{
				VIN:       vin,
				CohortID:  "pre-restart",
				Posterior: 0.5,
				Severity:  "HIGH",
				ExpiresAt: time.Now().Add(time.Hour),
			}), ShouldBeNil)
		}
		cp := checkpoint.New(ckStore, jobID)
		So(cp.MarkProcessed(ctx, scored, 1), ShouldBeNil)
		So(cp.Flush(ctx), ShouldBeNil)

		Convey("When the job is resubmitted under the same identifier", func() {
			id, serr := svc.SubmitJob(ctx, app.SubmitRequest{JobID: jobID, VINs: vins})
			So(serr, ShouldBeNil)
			waitTerminal(t, svc, id)

			job, jerr := svc.JobStatus(ctx, id)
			So(jerr, ShouldBeNil)

			Convey("Then the run finishes as if never interrupted", func() {
				So(job.State, ShouldEqual, model.JobCompleted)
				So(job.ProcessedVINs, ShouldEqual, fleet.Size())
				So(job.SkippedVINs, ShouldEqual, 0)

				count, cerr := store.Count(ctx)
				So(cerr, ShouldBeNil)
				So(count, ShouldEqual, fleet.Size())
			})

			Convey("And checkpointed vehicles are not rescored", func() {
				for _, vin := range scored {
					res, gerr := store.Get(ctx, vin)
					So(gerr, ShouldBeNil)
					So(res.CohortID, ShouldEqual, "pre-restart")
				}
			})

			Convey("And the remainder is scored normally", func() {
				res, gerr := store.Get(ctx, vins[len(scored)])
				So(gerr, ShouldBeNil)
				So(res.CohortID, ShouldBeIn, "sedan-north-light", "sedan-north-heavy")
			})
		})
	})
}

func TestServiceResume(t *testing.T) {
	Convey("Given a job resubmitted under its original identifier", t, func() {
		ctx := context.Background()
		svc, fleet, store, _ := newTestService(t, 30)
		So(svc.Start(ctx), ShouldBeNil)
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			So(svc.Shutdown(shutCtx), ShouldBeNil)
		}()

		vins, err := fleet.AllVINs(ctx)
		So(err, ShouldBeNil)

		jobID, err := svc.SubmitJob(ctx, app.SubmitRequest{JobID: "nightly-2026-08-30", VINs: vins})
		So(err, ShouldBeNil)
		So(jobID, ShouldEqual, "nightly-2026-08-30")
		waitTerminal(t, svc, jobID)

		first, err := svc.JobStatus(ctx, jobID)
		So(err, ShouldBeNil)
		So(first.State, ShouldEqual, model.JobCompleted)

		Convey("When the same identifier is submitted again after completion", func() {
			// The completed job's checkpoint was purged, so the rerun
			// scores the full list again rather than skipping it.
			again, serr := svc.SubmitJob(ctx, app.SubmitRequest{JobID: jobID, VINs: vins})
			So(serr, ShouldBeNil)
			waitTerminal(t, svc, again)

			rerun, jerr := svc.JobStatus(ctx, again)
			So(jerr, ShouldBeNil)
			So(rerun.State, ShouldEqual, model.JobCompleted)
			So(rerun.ProcessedVINs, ShouldEqual, fleet.Size())

			count, cerr := store.Count(ctx)
			So(cerr, ShouldBeNil)
			So(count, ShouldEqual, fleet.Size())
		})
	})
}
