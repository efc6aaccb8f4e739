package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDecision(t *testing.T) {
	m := New()
	m.RecordDecision("postup", "free", true)
	m.RecordDecision("postup", "free", false)
	m.RecordDecision("postup", "free", false)

	if got := testutil.ToFloat64(m.decisions.WithLabelValues("postup", "free", "denied")); got != 2 {
		t.Errorf("denied = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.decisions.WithLabelValues("postup", "free", "allowed")); got != 1 {
		t.Errorf("allowed = %v, want 1", got)
	}
}

func TestRecordRateLimit(t *testing.T) {
	m := New()
	m.RecordRateLimit("threadgen", true, true)
	m.RecordRateLimit("threadgen", false, false)

	if got := testutil.ToFloat64(m.rateLimit.WithLabelValues("threadgen", "fail_open")); got != 1 {
		t.Errorf("fail_open = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.rateLimit.WithLabelValues("threadgen", "blocked")); got != 1 {
		t.Errorf("blocked = %v, want 1", got)
	}
}

func TestClientGauge(t *testing.T) {
	m := New()
	m.ClientConnected()
	m.ClientConnected()
	m.ClientDisconnected()
	if got := testutil.ToFloat64(m.wsClients); got != 1 {
		t.Errorf("clients = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordGeneration("chaptergen", "ok", 1200*time.Millisecond)
	m.RecordUsageError("chaptergen")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`ltgv_generations_total{feature="chaptergen",outcome="ok"} 1`,
		`ltgv_usage_record_errors_total{feature="chaptergen"} 1`,
		"ltgv_generation_duration_seconds_bucket",
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
