// Package metrics turns planner events into prometheus metrics and a small
// in-process summary.
package metrics

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "stepwise"

// Summary is a point-in-time view of planning activity.
type Summary struct {
	PlansSucceeded    int
	PlansFailed       int
	PlansCancelled    int
	CacheHits         int
	FallbacksUsed     int
	GeneratorFailures int
	TotalDuration     time.Duration
	LongestPlanTime   time.Duration
	ShortestPlanTime  time.Duration
}

// Collector subscribes to an event bus and records what it sees.
type Collector struct {
	plans             *prometheus.CounterVec
	planDuration      prometheus.Histogram
	planSteps         prometheus.Histogram
	generatorFailures *prometheus.CounterVec
	unresolvedInputs  *prometheus.CounterVec
	extractorFailures *prometheus.CounterVec
	routed            *prometheus.CounterVec
	toolOutcomes      *prometheus.CounterVec
	toolLatency       *prometheus.HistogramVec
	schemaReloads     *prometheus.CounterVec

	summary Summary
	mu      sync.Mutex // protects summary
}

// New creates a Collector and registers its metrics with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		plans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Plans by outcome and plan source.",
		}, []string{"outcome", "source"}),
		planDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "planning_duration_seconds",
			Help:      "Time spent analyzing and decomposing a task.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		planSteps: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_steps",
			Help:      "Number of steps in successful plans.",
			Buckets:   prometheus.LinearBuckets(0, 1, 11),
		}),
		generatorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generator_failures_total",
			Help:      "Absorbed generator failures by planning stage.",
		}, []string{"stage"}),
		unresolvedInputs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unresolved_inputs_total",
			Help:      "Step inputs that could not be filled from earlier results.",
		}, []string{"tool"}),
		extractorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractor_failures_total",
			Help:      "Output extractors that failed on a tool result.",
		}, []string{"tool"}),
		routed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_routed_total",
			Help:      "Router selections by chosen tool and strategy.",
		}, []string{"tool", "strategy"}),
		toolOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_outcomes_total",
			Help:      "Reported tool executions by result.",
		}, []string{"tool", "success"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_latency_seconds",
			Help:      "Reported tool execution latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		schemaReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_reloads_total",
			Help:      "Tool schema reloads by result.",
		}, []string{"result"}),
	}
	for _, col := range []prometheus.Collector{
		c.plans, c.planDuration, c.planSteps, c.generatorFailures, c.unresolvedInputs,
		c.extractorFailures, c.routed, c.toolOutcomes, c.toolLatency, c.schemaReloads,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Attach subscribes the collector to every event on bus and returns the
// subscription ID.
func (c *Collector) Attach(bus eventbus.EventBus) (string, error) {
	return bus.SubscribeAll(c.Handle)
}

// Handle records one event. It never fails.
func (c *Collector) Handle(_ context.Context, e eventbus.Event) error {
	source := eventbus.MetaString(e, "source")
	switch e.Type() {
	case eventbus.EventPlanningSucceeded:
		c.plans.WithLabelValues("succeeded", source).Inc()
		d := c.observeDuration(e)
		if n, ok := eventbus.MetaFloat(e, "steps"); ok {
			c.planSteps.Observe(n)
		}
		c.update(func(s *Summary) {
			s.PlansSucceeded++
			c.foldDuration(s, d)
		})
	case eventbus.EventPlanningFailed:
		c.plans.WithLabelValues("failed", source).Inc()
		d := c.observeDuration(e)
		c.update(func(s *Summary) {
			s.PlansFailed++
			c.foldDuration(s, d)
		})
	case eventbus.EventPlanningCancelled:
		c.plans.WithLabelValues("cancelled", source).Inc()
		c.update(func(s *Summary) { s.PlansCancelled++ })
	case eventbus.EventPlanCacheHit:
		c.plans.WithLabelValues("cache_hit", source).Inc()
		c.update(func(s *Summary) { s.CacheHits++ })
	case eventbus.EventFallbackUsed:
		c.update(func(s *Summary) { s.FallbacksUsed++ })
	case eventbus.EventGeneratorFailed:
		c.generatorFailures.WithLabelValues(eventbus.MetaString(e, "stage")).Inc()
		c.update(func(s *Summary) { s.GeneratorFailures++ })
	case eventbus.EventInputUnresolved:
		c.unresolvedInputs.WithLabelValues(eventbus.MetaString(e, "tool")).Inc()
	case eventbus.EventExtractorFailed:
		c.extractorFailures.WithLabelValues(eventbus.MetaString(e, "tool")).Inc()
	case eventbus.EventToolRouted:
		c.routed.WithLabelValues(eventbus.MetaString(e, "tool"), eventbus.MetaString(e, "strategy")).Inc()
	case eventbus.EventToolOutcome:
		tool := eventbus.MetaString(e, "tool")
		success, _ := e.Metadata()["success"].(bool)
		c.toolOutcomes.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
		if secs, ok := eventbus.MetaFloat(e, "duration_seconds"); ok {
			c.toolLatency.WithLabelValues(tool).Observe(secs)
		}
	case eventbus.EventSchemaReloaded:
		c.schemaReloads.WithLabelValues("ok").Inc()
	case eventbus.EventSchemaReloadError:
		c.schemaReloads.WithLabelValues("error").Inc()
	}
	return nil
}

func (c *Collector) observeDuration(e eventbus.Event) time.Duration {
	secs, ok := eventbus.MetaFloat(e, "duration_seconds")
	if !ok {
		return 0
	}
	c.planDuration.Observe(secs)
	return time.Duration(secs * float64(time.Second))
}

func (c *Collector) foldDuration(s *Summary, d time.Duration) {
	s.TotalDuration += d
	if d > s.LongestPlanTime {
		s.LongestPlanTime = d
	}
	if s.ShortestPlanTime == 0 || d < s.ShortestPlanTime {
		s.ShortestPlanTime = d
	}
}

func (c *Collector) update(fn func(*Summary)) {
	c.mu.Lock()
	fn(&c.summary)
	c.mu.Unlock()
}

// Summary returns a copy of the running totals.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}
