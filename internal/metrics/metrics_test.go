package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSolve(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.RecordSolve(true)
	m.RecordSolve(true)
	m.RecordSolve(false)

	if got := testutil.ToFloat64(m.SolverOutcomes.WithLabelValues(OutcomeConverged)); got != 2 {
		t.Fatalf("expected 2 converged, got %v", got)
	}
	if got := testutil.ToFloat64(m.SolverOutcomes.WithLabelValues(OutcomeNoConvergence)); got != 1 {
		t.Fatalf("expected 1 no_convergence, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordSolve(true)
	m.ObserveBuild(time.Second)
	m.SetSurfacePoints("SPY", 3)
	m.RecordProviderRequest("massive", 200)
	m.ObserveHTTP("GET", "/health", 200, time.Millisecond)
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := NewWithRegistry(prometheus.NewRegistry())
	m.SetSurfacePoints("SPY", 42)
	m.RecordProviderRequest("massive", 0)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`ivsurface_surface_points{symbol="SPY"} 42`,
		`ivsurface_provider_requests_total{provider="massive",status="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in output:\n%s", want, body)
		}
	}
}
