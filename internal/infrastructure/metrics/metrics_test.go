package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics

	m.ObserveHTTP("GET", "/health", http.StatusOK, time.Millisecond)
	m.ObserveCompression("br", 100, 10)
	m.ObserveDB("upsert_readings", time.Now())
	m.IngressMessage("reading", "ok")
	m.EgressPublish("rules", "delivered")
}

func TestObserveHelpers(t *testing.T) {
	m := New()

	m.IngressMessage("reading", "ok")
	m.IngressMessage("reading", "ok")
	m.EgressPublish("rules", "no_subscribers")

	if got := testutil.ToFloat64(m.IngressMessages.WithLabelValues("reading", "ok")); got != 2 {
		t.Errorf("ingress counter = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.EgressPublishes.WithLabelValues("rules", "no_subscribers")); got != 1 {
		t.Errorf("egress counter = %v, want 1", got)
	}
}

func TestHandlerExposesGatewayMetrics(t *testing.T) {
	m := New()
	m.DispatchSubmitted.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "sdrgw_dispatch_submitted_total 1") {
		t.Error("exposition missing sdrgw_dispatch_submitted_total")
	}
}
