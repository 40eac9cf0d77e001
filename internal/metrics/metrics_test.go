package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CycleCompleted("ok", time.Second)
	m.ItemsCollected("primary", 3)
	m.FetchFailed("primary", "timeout")
	m.RateLimited()
	m.ItemsDeduped(1)
	m.Analysis("relevant", time.Second)
	m.SignalSaved(true)
	m.Alert("sent")
	m.Checkpoint(time.Now())
	if m.Registry() != nil {
		t.Fatal("nil Metrics 不应返回 registry")
	}
}

func TestCountersAndHandler(t *testing.T) {
	m := New()
	m.ItemsCollected("primary", 3)
	m.ItemsCollected("mirror", 0)
	m.SignalSaved(true)
	m.SignalSaved(false)
	m.RateLimited()

	if got := testutil.ToFloat64(m.itemsCollected.WithLabelValues("primary")); got != 3 {
		t.Fatalf("primary 采集计数应为 3, 实际 %v", got)
	}
	if got := testutil.ToFloat64(m.saveFailures); got != 1 {
		t.Fatalf("保存失败计数应为 1, 实际 %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "xalpha_rate_limited_total 1") {
		t.Fatalf("导出内容缺少 rate_limited: %s", body)
	}
}
