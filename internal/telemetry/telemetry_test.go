package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewTimerObserveDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(5 * time.Millisecond)

	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_telemetry_duration_seconds",
		Help:    "scratch histogram for timer tests",
		Buckets: prometheus.DefBuckets,
	})
	timer.ObserveDuration(histogram)

	if got := testutil.CollectAndCount(histogram); got != 1 {
		t.Errorf("ObserveDuration() recorded %d samples, want 1", got)
	}
}

func TestBackupsTotalIncrementsByLabel(t *testing.T) {
	BackupsTotal.Reset()
	BackupsTotal.WithLabelValues("SECRET", "accepted").Inc()
	BackupsTotal.WithLabelValues("SECRET", "accepted").Inc()
	BackupsTotal.WithLabelValues("PUBLIC", "denied").Inc()

	if got := testutil.ToFloat64(BackupsTotal.WithLabelValues("SECRET", "accepted")); got != 2 {
		t.Errorf("BackupsTotal{SECRET,accepted} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(BackupsTotal.WithLabelValues("PUBLIC", "denied")); got != 1 {
		t.Errorf("BackupsTotal{PUBLIC,denied} = %v, want 1", got)
	}
}

func TestIncidentLevelGauge(t *testing.T) {
	IncidentLevel.Set(2)
	if got := testutil.ToFloat64(IncidentLevel); got != 2 {
		t.Errorf("IncidentLevel = %v, want 2", got)
	}
}

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	AuditAppendRetriesTotal.Add(0) // ensure the collector has been touched at least once

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("Handler() returned status %d, want 200", w.Code)
	}
	if w.Body.Len() == 0 {
		t.Error("Handler() wrote an empty body")
	}
}
