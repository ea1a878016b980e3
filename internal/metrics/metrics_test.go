package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveOutcome("forex", "fetched")
	m.ObserveOutcome("forex", "fetched")
	m.ObserveOutcome("stock", "no_data")
	m.AddInserted("forex", 3)
	m.AddInserted("forex", 0)
	m.AddRateSkipped("BTC", 2)
	m.ObserveAttempt("yahoo", "rate_limited")
	m.ObserveBackoff("yahoo", 1500*time.Millisecond)
	m.SetRateCacheSize(7)
	m.ObserveRun(2*time.Second, "completed")

	if got := testutil.ToFloat64(m.rateSkipped.WithLabelValues("BTC")); got != 2 {
		t.Errorf("rate skipped = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("forex", "fetched")); got != 2 {
		t.Errorf("fetched outcomes = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.inserted.WithLabelValues("forex")); got != 3 {
		t.Errorf("inserted = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.backoff.WithLabelValues("yahoo")); got != 1.5 {
		t.Errorf("backoff seconds = %v, want 1.5", got)
	}
	if got := testutil.ToFloat64(m.rateCache); got != 7 {
		t.Errorf("rate cache size = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.runDuration); got != 2 {
		t.Errorf("run duration = %v, want 2", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveOutcome("forex", "fetched")
	m.AddInserted("forex", 1)
	m.AddRateSkipped("BTC", 1)
	m.ObserveAttempt("yahoo", "ok")
	m.ObserveBackoff("yahoo", time.Second)
	m.SetRateCacheSize(1)
	m.ObserveRun(time.Second, "completed")
	if m.Registry() != nil {
		t.Error("nil metrics should have no registry")
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveAttempt("stooq", "ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `candlesync_adapter_attempts_total{adapter="stooq",result="ok"} 1`) {
		t.Errorf("metrics output missing attempt counter:\n%s", body)
	}
}
