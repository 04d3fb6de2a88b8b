package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.IncAdmission("generate", "admitted")
	m.ObserveLedgerPosting("usage", -1)
	if m.Registry() != nil {
		t.Fatalf("nil metrics should have no registry")
	}
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("nil handler status: got=%d", rec.Code)
	}
}

func TestCountersAccumulate(t *testing.T) {
	m := NewMetrics()
	m.IncAdmission("generate", "admitted")
	m.IncAdmission("generate", "admitted")
	m.IncAdmission("generate", "insufficient_resources")
	if got := testutil.ToFloat64(m.admissions.WithLabelValues("generate", "admitted")); got != 2 {
		t.Fatalf("admitted: got=%v want=2", got)
	}
	m.ObserveLedgerPosting("usage", -1)
	m.ObserveLedgerPosting("usage", -1)
	m.ObserveLedgerPosting("purchase", 10)
	if got := testutil.ToFloat64(m.ledgerUnits.WithLabelValues("usage")); got != 2 {
		t.Fatalf("usage units: got=%v want=2", got)
	}
	if got := testutil.ToFloat64(m.ledgerPostings.WithLabelValues("purchase")); got != 1 {
		t.Fatalf("purchase postings: got=%v want=1", got)
	}
	m.IncAggregateConflict("Jobs.VideoQueue.Admit")
	if got := testutil.ToFloat64(m.aggregateConflicts.WithLabelValues("Jobs.VideoQueue.Admit")); got != 1 {
		t.Fatalf("conflicts: got=%v want=1", got)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := NewMetrics()
	m.IncDispatch("merge", "running")
	m.ObserveAPI("POST", "/api/projects/:id/video-jobs", "202", 20*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got=%d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"vq_dispatches_total", `outcome="running"`, "vq_api_request_duration_seconds_bucket"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}
