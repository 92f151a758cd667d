package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scriptfuzz/internal/ir"
)

func TestTestCaseGenerated(t *testing.T) {
	m := New()
	tc := &ir.TestCase{Mode: ir.ModeRelationSymbolic, Calls: make([]ir.CallInstance, 4), Fallbacks: 2, Dropped: 1}
	m.TestCaseGenerated(tc, 3*time.Millisecond)
	m.TestCaseGenerated(&ir.TestCase{Mode: ir.ModeGrammarOnly}, time.Millisecond)
	m.GenerationFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.generated.WithLabelValues("relation+symbolic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generated.WithLabelValues("grammar-only")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbacks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.genFailures))
}

func TestExecutionCounters(t *testing.T) {
	m := New()
	m.ExecutionStarted()
	m.ExecutionStarted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.inflight))

	m.ExecutionFinished(&ir.ExecutionResult{Outcome: ir.OutcomeCrash, Duration: time.Second, Usage: ir.Usage{PeakRSS: 64 << 20}})
	m.ExecutionFinished(nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.executions.WithLabelValues("crash")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.executions.WithLabelValues("hang")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.TestCaseGenerated(&ir.TestCase{}, time.Second)
	m.GenerationFailed()
	m.ExecutionStarted()
	m.ExecutionFinished(&ir.ExecutionResult{})
	assert.Nil(t, m.Registry())
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ExecutionStarted()
	m.ExecutionFinished(&ir.ExecutionResult{Outcome: ir.OutcomeHang, Duration: 120 * time.Second})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `scriptfuzz_monitor_executions_total{outcome="hang"} 1`), body)
}
