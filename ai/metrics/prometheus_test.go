package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, exporter *PrometheusExporter) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	w := httptest.NewRecorder()
	exporter.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestPrometheusExporter(t *testing.T) {
	exporter := NewPrometheusExporter(DefaultConfig())

	exporter.RunStarted()
	exporter.RunStarted()
	exporter.RecordRun("sync", "done", 3*time.Second)
	exporter.RecordNode("reviews", time.Second, false)
	exporter.RecordNode("inventory", time.Minute, true)
	exporter.RecordReviewLoop("retried")
	exporter.RecordReviewLoop("retried")
	exporter.RecordReviewLoop("accepted")
	exporter.RecordGate("waited")
	exporter.RecordCacheHit("section")
	exporter.RecordLLMCall("gpt-4o-mini", 100, 40, 500*time.Millisecond)

	body := scrape(t, exporter)
	for _, line := range []string{
		`productsense_ai_runs_active 1`,
		`productsense_ai_runs_total{mode="sync",outcome="done"} 1`,
		`productsense_ai_node_timeouts_total{agent="inventory"} 1`,
		`productsense_ai_review_loop_total{outcome="retried"} 2`,
		`productsense_ai_gate_outcomes_total{outcome="waited"} 1`,
		`productsense_ai_cache_hits_total{cache_type="section"} 1`,
		`productsense_ai_llm_tokens_total{model="gpt-4o-mini",token_type="completion"} 40`,
	} {
		assert.Contains(t, body, line)
	}
	assert.NotContains(t, body, `productsense_ai_node_timeouts_total{agent="reviews"}`)
}

func TestNilExporterIsNoop(t *testing.T) {
	var exporter *PrometheusExporter

	assert.NotPanics(t, func() {
		exporter.RunStarted()
		exporter.RecordRun("sync", "done", time.Second)
		exporter.RecordNode("planner", time.Second, true)
		exporter.RecordReviewLoop("accepted")
		exporter.RecordToolCall("search_reviews", time.Millisecond, true)
		exporter.RecordGate("ran")
		exporter.RecordCacheHit("section")
		exporter.RecordCacheMiss("section")
		exporter.RecordPrewarm("dispatched")
		exporter.RecordLLMCall("m", 1, 1, time.Millisecond)
	})
}

func TestPrometheusExporterCustomRegistry(t *testing.T) {
	exporter := NewPrometheusExporter(Config{})

	exporter.RecordRun("stream", "failed", 100*time.Millisecond)
	exporter.RecordToolCall("search_reviews", 50*time.Millisecond, true)
	exporter.RecordPrewarm("skipped")

	body := scrape(t, exporter)
	for _, name := range []string{
		"productsense_ai_runs_total",
		"productsense_ai_tool_calls_total",
		"productsense_ai_prewarm_total",
	} {
		assert.True(t, strings.Contains(body, name), "expected %s in output", name)
	}
}

func BenchmarkPrometheusExporter(b *testing.B) {
	exporter := NewPrometheusExporter(DefaultConfig())

	b.Run("RecordNode", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			exporter.RecordNode("reviews", 100*time.Millisecond, false)
		}
	})

	b.Run("RecordGate", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			exporter.RecordGate("cache_hit")
		}
	})
}
