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
	RecordRead("metrics_test")
	RecordRead("metrics_test")
	RecordSkipped("metrics_test", ReasonStructural)
	ObserveFlush("metrics_test_idx", 100, 97)
	ObserveFlush("metrics_test_idx", 50, 50)

	if got := testutil.ToFloat64(m.recordsRead.WithLabelValues("metrics_test")); got != 2 {
		t.Fatalf("records_read = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.recordsSkipped.WithLabelValues("metrics_test", ReasonStructural)); got != 1 {
		t.Fatalf("records_skipped = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.docsStored.WithLabelValues("metrics_test_idx")); got != 147 {
		t.Fatalf("documents_stored = %v, want 147", got)
	}
	if got := testutil.ToFloat64(m.flushes.WithLabelValues("metrics_test_idx")); got != 2 {
		t.Fatalf("flushes = %v, want 2", got)
	}
}

func TestHandlerExposesNamespace(t *testing.T) {
	FinishRun("metrics_test", true, 3*time.Second, time.Unix(1490090645, 0))

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`enrichd_runs_total{result="ok",source="metrics_test"} 1`,
		`enrichd_last_run_timestamp_seconds{source="metrics_test"} 1.490090645e+09`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
