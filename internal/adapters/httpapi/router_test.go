package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"workassign/internal/adapters/reports"
	"workassign/internal/allocator"
	"workassign/internal/blob"
	"workassign/internal/config"
	"workassign/internal/core"
	"workassign/internal/fixtures"
	"workassign/internal/report"
	"workassign/pkg/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newService(t *testing.T, dataset string, opts ...core.Option) *core.Service {
	t.Helper()
	svc := core.NewInMemoryService(core.NewDefaultRulesEngine(8), opts...)
	ds, err := fixtures.Named(dataset)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if _, _, err := svc.LoadDataset(context.Background(), ds); err != nil {
		t.Fatalf("load: %v", err)
	}
	return svc
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTableEndpoint(t *testing.T) {
	r := NewRouter(RouterConfig{Service: newService(t, "tiny")})
	rec := do(r, http.MethodGet, "/api/table/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var rows []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rows) != 5 || rows[0]["name"] != "Supervisor" || rows[4]["name"] != "Unassigned" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[4]["12 Jan"] != float64(3) {
		t.Fatalf("expected 3 unassigned hours, got %v", rows[4]["12 Jan"])
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}

	csv := do(r, http.MethodGet, "/api/table.csv", "")
	if csv.Code != http.StatusOK || !strings.HasPrefix(csv.Body.String(), "name,11 Jan,12 Jan\n") {
		t.Fatalf("unexpected csv %d %q", csv.Code, csv.Body)
	}
	if !strings.HasPrefix(csv.Header().Get("Content-Type"), "text/csv") {
		t.Fatalf("unexpected content type %s", csv.Header().Get("Content-Type"))
	}
}

func TestAllocationEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	svc := newService(t, "unassigned_tasks", core.WithMetricsRecorder(metrics))
	r := NewRouter(RouterConfig{Service: svc, Gatherer: reg})

	rec := do(r, http.MethodPost, "/api/allocations", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var body allocationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Placed != 4 || body.Unplaced != 7 || body.UtilizationPercent != body.AverageUtilization*100 {
		t.Fatalf("unexpected body %+v", body)
	}

	table := do(r, http.MethodGet, "/api/table", "")
	if !strings.Contains(table.Body.String(), `"name":"Unassigned"`) {
		t.Fatalf("unplaced tasks stay in the Unassigned row: %s", table.Body)
	}

	scrape := do(r, http.MethodGet, "/metrics", "")
	if scrape.Code != http.StatusOK || !strings.Contains(scrape.Body.String(), "workassign_allocation_placed_tasks 4") {
		t.Fatalf("expected allocation gauge in scrape, got %s", scrape.Body)
	}
}

type stubService struct {
	err error
}

func (s stubService) BuildReport(context.Context) (report.Report, error) { return report.Report{}, s.err }
func (s stubService) Allocate(context.Context) (allocator.Result, error) {
	return allocator.Result{}, s.err
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{domain.NotFound(domain.EntityTask, 4), http.StatusNotFound, "not_found"},
		{fmt.Errorf("allocate: %w", domain.ErrInvalid), http.StatusBadRequest, "invalid"},
		{domain.ErrConflict, http.StatusBadRequest, "conflict"},
		{domain.RuleViolationError{}, http.StatusBadRequest, "rule_violation"},
		{reports.ErrQueueFull, http.StatusServiceUnavailable, "queue_full"},
		{reports.ErrStopped, http.StatusServiceUnavailable, "stopped"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		r := NewRouter(RouterConfig{Service: stubService{err: tc.err}})
		rec := do(r, http.MethodPost, "/api/allocations", "")
		if rec.Code != tc.status {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.status, rec.Code)
		}
		var env ErrorEnvelope
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Error.Code != tc.code || env.Error.Message == "" {
			t.Fatalf("%v: unexpected envelope %+v", tc.err, env)
		}
	}
}

func TestExportEndpoints(t *testing.T) {
	store, err := blob.Open(context.Background(), config.BlobConfig{Driver: config.BlobMemory})
	if err != nil {
		t.Fatalf("blob: %v", err)
	}
	svc := newService(t, "empty_position")
	worker := reports.NewWorker(svc, store)
	worker.Start()
	t.Cleanup(func() { _ = worker.Stop(context.Background()) })
	r := NewRouter(RouterConfig{Service: svc, Exports: worker})

	bad := do(r, http.MethodPost, "/api/reports/exports", `{"formats":["xlsx"]}`)
	if bad.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown format, got %d", bad.Code)
	}
	if rec := do(r, http.MethodPost, "/api/reports/exports", `{"formats":`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}

	created := do(r, http.MethodPost, "/api/reports/exports", `{"formats":["csv"],"requested_by":"ops"}`)
	if created.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", created.Code, created.Body)
	}
	var record reports.ExportRecord
	if err := json.Unmarshal(created.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for record.Status != reports.ExportStatusSucceeded {
		if time.Now().After(deadline) || record.Status == reports.ExportStatusFailed {
			t.Fatalf("export did not succeed: %+v", record)
		}
		time.Sleep(5 * time.Millisecond)
		rec := do(r, http.MethodGet, "/api/reports/exports/"+record.ID, "")
		if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
			t.Fatalf("decode: %v", err)
		}
	}

	dl := do(r, http.MethodGet, "/api/reports/exports/"+record.ID+"/artifacts/csv", "")
	if dl.Code != http.StatusOK || !strings.Contains(dl.Body.String(), "(No Position),2,4") {
		t.Fatalf("unexpected download %d %q", dl.Code, dl.Body)
	}
	if rec := do(r, http.MethodGet, "/api/reports/exports/"+record.ID+"/artifacts/json", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing artifact, got %d", rec.Code)
	}
	if rec := do(r, http.MethodGet, "/api/reports/exports/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHealthAndMissingRoutes(t *testing.T) {
	r := NewRouter(RouterConfig{Service: stubService{}})
	if rec := do(r, http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	doc := do(r, http.MethodGet, "/openapi.yaml", "")
	if doc.Code != http.StatusOK || !strings.Contains(doc.Body.String(), "/api/allocations:") {
		t.Fatalf("expected openapi document, got %d", doc.Code)
	}
	if rec := do(r, http.MethodGet, "/metrics", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics are only served with a gatherer, got %d", rec.Code)
	}
	if rec := do(r, http.MethodPost, "/api/reports/exports", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("exports are only served with a scheduler, got %d", rec.Code)
	}
}
