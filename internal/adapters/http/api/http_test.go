package api_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/harbinger-io/harbinger/internal/adapters/http/api"
	"github.com/harbinger-io/harbinger/internal/adapters/repository"
	"github.com/harbinger-io/harbinger/internal/app"
	"github.com/harbinger-io/harbinger/internal/batch/segment"
	"github.com/harbinger-io/harbinger/internal/domain/model"
)

const knownVIN = "5YJSA1E26MF000001"

// stubDeps is a canned Dependencies implementation for handler tests.
type stubDeps struct {
	submitted app.SubmitRequest
	cancelled string
}

func (s *stubDeps) SubmitJob(_ context.Context, req app.SubmitRequest) (string, error) {
	for _, vin := range req.VINs {
		if !model.ValidVIN(vin) {
			return "", fmt.Errorf("%w: %q", app.ErrInvalidVIN, vin)
		}
	}
	if req.JobID == "busy" {
		return "", fmt.Errorf("%w: busy", app.ErrJobActive)
	}
	s.submitted = req
	return "job-123", nil
}

func (s *stubDeps) Cancel(_ context.Context, jobID string) error {
	if jobID != "job-123" {
		return fmt.Errorf("%w: %s", app.ErrJobNotFound, jobID)
	}
	s.cancelled = jobID
	return nil
}

func (s *stubDeps) JobStatus(_ context.Context, jobID string) (model.BatchJob, error) {
	if jobID != "job-123" {
		return model.BatchJob{}, fmt.Errorf("%w: %s", app.ErrJobNotFound, jobID)
	}
	return model.BatchJob{ID: jobID, State: model.JobRunning, TotalVINs: 100, ProcessedVINs: 40}, nil
}

func (s *stubDeps) Segments(_ context.Context, jobID string) (segment.Export, error) {
	switch jobID {
	case "job-123":
		return segment.Export{
			JobID: jobID,
			Segments: []segment.Segment{
				{Location: "DEPOT-N1", Results: []model.RiskScoreResult{{VIN: knownVIN, Severity: "HIGH"}}},
			},
		}, nil
	case "job-running":
		return segment.Export{}, fmt.Errorf("%w: %s", app.ErrNoSegments, jobID)
	default:
		return segment.Export{}, fmt.Errorf("%w: %s", app.ErrJobNotFound, jobID)
	}
}

func (s *stubDeps) Score(_ context.Context, vin string) (model.RiskScoreResult, error) {
	switch vin {
	case knownVIN:
		return model.RiskScoreResult{VIN: vin, Posterior: 0.1116, Severity: "MEDIUM"}, nil
	case "stale":
		return model.RiskScoreResult{}, fmt.Errorf("%w: %s", repository.ErrExpired, vin)
	case "bad":
		return model.RiskScoreResult{}, fmt.Errorf("%w: %q", app.ErrInvalidVIN, vin)
	default:
		return model.RiskScoreResult{}, fmt.Errorf("%w: %s", repository.ErrNotFound, vin)
	}
}

func (s *stubDeps) Stat(_ context.Context) (app.Stats, error) {
	return app.Stats{CatalogVersion: 3, StoredResults: 9001}, nil
}

func newTestServer() (*stubDeps, *httptest.Server) {
	deps := &stubDeps{}
	mux := http.NewServeMux()
	api.NewServer(deps).Register(context.Background(), mux)
	return deps, httptest.NewServer(mux)
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp.StatusCode, decoded
}

func TestJobRoutes(t *testing.T) {
	Convey("Given the API mounted over stub dependencies", t, func() {
		deps, srv := newTestServer()
		defer srv.Close()

		Convey("When a job is submitted with a VIN list", func() {
			status, body := do(t, http.MethodPost, srv.URL+"/jobs",
				`{"vins": ["`+knownVIN+`"], "full_refresh": true}`)

			Convey("Then it is accepted and the request reaches the service", func() {
				So(status, ShouldEqual, http.StatusAccepted)
				So(body["job_id"], ShouldEqual, "job-123")
				So(deps.submitted.VINs, ShouldResemble, []string{knownVIN})
				So(deps.submitted.FullRefresh, ShouldBeTrue)
			})
		})

		Convey("When a job is submitted with an empty body", func() {
			status, body := do(t, http.MethodPost, srv.URL+"/jobs", "")
			So(status, ShouldEqual, http.StatusAccepted)
			So(body["job_id"], ShouldEqual, "job-123")
		})

		Convey("When the submission carries a malformed VIN", func() {
			status, body := do(t, http.MethodPost, srv.URL+"/jobs", `{"vins": ["nope"]}`)
			So(status, ShouldEqual, http.StatusBadRequest)
			So(body["code"], ShouldEqual, "bad_request")
		})

		Convey("When another job already holds the slot", func() {
			status, body := do(t, http.MethodPost, srv.URL+"/jobs", `{"job_id": "busy"}`)
			So(status, ShouldEqual, http.StatusConflict)
			So(body["code"], ShouldEqual, "conflict")
		})

		Convey("When the submission body is not JSON", func() {
			status, _ := do(t, http.MethodPost, srv.URL+"/jobs", "{not json")
			So(status, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When /jobs is hit with the wrong method", func() {
			status, _ := do(t, http.MethodGet, srv.URL+"/jobs", "")
			So(status, ShouldEqual, http.StatusMethodNotAllowed)
		})

		Convey("When the status of a known job is requested", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/jobs/job-123", "")
			So(status, ShouldEqual, http.StatusOK)
			So(body["id"], ShouldEqual, "job-123")
			So(body["state"], ShouldEqual, string(model.JobRunning))
			So(body["total_vins"], ShouldEqual, 100)
		})

		Convey("When the status of an unknown job is requested", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/jobs/missing", "")
			So(status, ShouldEqual, http.StatusNotFound)
			So(body["code"], ShouldEqual, "not_found")
		})

		Convey("When a known job is cancelled", func() {
			status, body := do(t, http.MethodPost, srv.URL+"/jobs/job-123/cancel", "")
			So(status, ShouldEqual, http.StatusAccepted)
			So(body["status"], ShouldEqual, "cancelling")
			So(deps.cancelled, ShouldEqual, "job-123")
		})

		Convey("When a cancel uses the wrong method", func() {
			status, _ := do(t, http.MethodGet, srv.URL+"/jobs/job-123/cancel", "")
			So(status, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestScoreAndSegmentRoutes(t *testing.T) {
	Convey("Given the API mounted over stub dependencies", t, func() {
		_, srv := newTestServer()
		defer srv.Close()

		Convey("When a stored score is fetched", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/scores/"+knownVIN, "")
			So(status, ShouldEqual, http.StatusOK)
			So(body["vin"], ShouldEqual, knownVIN)
			So(body["severity"], ShouldEqual, "MEDIUM")
		})

		Convey("When the score is missing", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/scores/5YJSA1E26MF000002", "")
			So(status, ShouldEqual, http.StatusNotFound)
			So(body["code"], ShouldEqual, "not_found")
		})

		Convey("When the score has expired", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/scores/stale", "")
			So(status, ShouldEqual, http.StatusGone)
			So(body["code"], ShouldEqual, "expired")
		})

		Convey("When the VIN is rejected by the service", func() {
			status, _ := do(t, http.MethodGet, srv.URL+"/scores/bad", "")
			So(status, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When a completed job's segments are fetched", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/segments/job-123", "")
			So(status, ShouldEqual, http.StatusOK)
			So(body["job_id"], ShouldEqual, "job-123")
			segments, ok := body["segments"].([]any)
			So(ok, ShouldBeTrue)
			So(segments, ShouldHaveLength, 1)
		})

		Convey("When segments are requested before the job finished", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/segments/job-running", "")
			So(status, ShouldEqual, http.StatusConflict)
			So(body["code"], ShouldEqual, "conflict")
		})

		Convey("When the stats snapshot is fetched", func() {
			status, body := do(t, http.MethodGet, srv.URL+"/stats", "")
			So(status, ShouldEqual, http.StatusOK)
			So(body["catalog_version"], ShouldEqual, 3)
			So(body["stored_results"], ShouldEqual, 9001)
		})
	})
}
