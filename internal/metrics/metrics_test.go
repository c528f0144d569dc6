package metrics

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)
	return c, reg
}

func handle(t *testing.T, c *Collector, et eventbus.EventType, meta map[string]interface{}) {
	t.Helper()
	require.NoError(t, c.Handle(context.Background(), eventbus.NewEvent(et, nil, "test", meta)))
}

func TestCollector_Plans(t *testing.T) {
	c, _ := newCollector(t)

	handle(t, c, eventbus.EventPlanningSucceeded, map[string]interface{}{"source": "fallback", "steps": 3, "duration_seconds": 0.5})
	handle(t, c, eventbus.EventPlanningSucceeded, map[string]interface{}{"source": "generative", "steps": 2, "duration_seconds": 1.5})
	handle(t, c, eventbus.EventPlanningFailed, map[string]interface{}{"stage": "analyzing", "duration_seconds": 0.25})
	handle(t, c, eventbus.EventPlanningCancelled, nil)
	handle(t, c, eventbus.EventPlanCacheHit, map[string]interface{}{"source": "fallback"})
	handle(t, c, eventbus.EventFallbackUsed, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("succeeded", "fallback")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("succeeded", "generative")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("failed", "")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.plans.WithLabelValues("cache_hit", "fallback")))

	s := c.Summary()
	assert.Equal(t, 2, s.PlansSucceeded)
	assert.Equal(t, 1, s.PlansFailed)
	assert.Equal(t, 1, s.PlansCancelled)
	assert.Equal(t, 1, s.CacheHits)
	assert.Equal(t, 1, s.FallbacksUsed)
	assert.Equal(t, 2250*time.Millisecond, s.TotalDuration)
	assert.Equal(t, 1500*time.Millisecond, s.LongestPlanTime)
	assert.Equal(t, 250*time.Millisecond, s.ShortestPlanTime)
}

func TestCollector_ToolsAndResolution(t *testing.T) {
	c, reg := newCollector(t)

	handle(t, c, eventbus.EventGeneratorFailed, map[string]interface{}{"stage": "decompose"})
	handle(t, c, eventbus.EventInputUnresolved, map[string]interface{}{"tool": "browser", "input": "url"})
	handle(t, c, eventbus.EventExtractorFailed, map[string]interface{}{"tool": "search"})
	handle(t, c, eventbus.EventToolRouted, map[string]interface{}{"tool": "browser", "strategy": "balanced"})
	handle(t, c, eventbus.EventToolOutcome, map[string]interface{}{"tool": "search", "success": true, "duration_seconds": 0.2})
	handle(t, c, eventbus.EventToolOutcome, map[string]interface{}{"tool": "search", "success": false, "duration_seconds": 1.0})
	handle(t, c, eventbus.EventSchemaReloaded, nil)
	handle(t, c, eventbus.EventSchemaReloadError, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.generatorFailures.WithLabelValues("decompose")))
	assert.Equal(t, 1, c.Summary().GeneratorFailures)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.unresolvedInputs.WithLabelValues("browser")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.extractorFailures.WithLabelValues("search")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.routed.WithLabelValues("browser", "balanced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolOutcomes.WithLabelValues("search", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.toolOutcomes.WithLabelValues("search", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.schemaReloads.WithLabelValues("error")))

	expected := `
# HELP stepwise_schema_reloads_total Tool schema reloads by result.
# TYPE stepwise_schema_reloads_total counter
stepwise_schema_reloads_total{result="error"} 1
stepwise_schema_reloads_total{result="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "stepwise_schema_reloads_total"))
}

func TestCollector_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestCollector_Attach(t *testing.T) {
	bus := eventbus.NewChannelEventBus(eventbus.WithWorkerCount(1), eventbus.WithRetries(0, time.Millisecond))
	defer bus.Close()
	c, _ := newCollector(t)

	_, err := c.Attach(bus)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventPlanCacheHit, nil, "test", nil)))

	require.Eventually(t, func() bool { return c.Summary().CacheHits == 1 }, time.Second, 10*time.Millisecond)
}
