package router

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, opts ...Option) (*Router, *registry.Registry) {
	t.Helper()
	reg := registry.New()
	require.NoError(t, reg.RegisterAll([]registry.ToolMetadata{
		{Name: "google", Description: "Google web search", Capabilities: []string{"search", "web"},
			Cost: registry.CostMedium, AvgLatency: 300 * time.Millisecond, Reliability: 99,
			RequiresAuth: true, RateLimit: 100, MaxConcurrency: 10},
		{Name: "ddg", Description: "DuckDuckGo search", Capabilities: []string{"search"},
			Cost: registry.CostFree, AvgLatency: 900 * time.Millisecond, Reliability: 90},
		{Name: "serp", Description: "SERP API", Capabilities: []string{"search", "web"},
			Cost: registry.CostLow, AvgLatency: 150 * time.Millisecond, Reliability: 80},
		{Name: "browser", Description: "Headless browser for web scraping", Capabilities: []string{"navigate"},
			Cost: registry.CostLow, AvgLatency: 2 * time.Second, Reliability: 95},
	}))
	return New(reg, opts...), reg
}

func TestRoute_Strategies(t *testing.T) {
	r, reg := newTestRouter(t)
	require.NoError(t, reg.UpdateStats("google", true, 300*time.Millisecond))
	require.NoError(t, reg.UpdateStats("ddg", true, 900*time.Millisecond))

	cases := map[Strategy]string{
		StrategyCapability:      "ddg",
		StrategyBestPerformance: "google",
		StrategyLowestCost:      "ddg",
		StrategyBalanced:        "ddg",
		StrategyLeastUsed:       "serp",
	}
	for strategy, want := range cases {
		d, err := r.Route(context.Background(), Request{Capability: "search"}, strategy, Constraints{})
		require.NoError(t, err, strategy)
		assert.Equal(t, want, d.Tool.Name, strategy)
		assert.Equal(t, 3, d.Candidates)
		assert.NotEmpty(t, d.Rationale)
	}
}

func TestRoute_ExcludedToolNeverReturned(t *testing.T) {
	r, _ := newTestRouter(t)
	for _, strategy := range Strategies {
		for i := 0; i < 4; i++ {
			d, err := r.Route(context.Background(), Request{Capability: "search", TaskType: "search"}, strategy,
				Constraints{ExcludeTools: []string{"google"}})
			require.NoError(t, err, strategy)
			assert.NotEqual(t, "google", d.Tool.Name, strategy)
		}
	}
	// google would otherwise win on performance
	d, err := r.Route(context.Background(), Request{Capability: "search"}, StrategyBestPerformance, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, "google", d.Tool.Name)
}

func TestRoute_RoundRobinCyclesPerTaskType(t *testing.T) {
	r, _ := newTestRouter(t)
	req := Request{Capability: "web", TaskType: "search"}

	first, err := r.Route(context.Background(), req, StrategyRoundRobin, Constraints{})
	require.NoError(t, err)
	second, err := r.Route(context.Background(), req, StrategyRoundRobin, Constraints{})
	require.NoError(t, err)
	third, err := r.Route(context.Background(), req, StrategyRoundRobin, Constraints{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"google", "serp"}, []string{first.Tool.Name, second.Tool.Name})
	assert.Equal(t, first.Tool.Name, third.Tool.Name)

	// another task type has its own position
	other, err := r.Route(context.Background(), Request{Capability: "web", TaskType: "web_scraping"}, StrategyRoundRobin, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, first.Tool.Name, other.Tool.Name)

	r.ResetRotation()
	again, err := r.Route(context.Background(), req, StrategyRoundRobin, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, first.Tool.Name, again.Tool.Name)
}

func TestRoute_Constraints(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()
	req := Request{Capability: "search"}

	low := registry.CostLow
	d, err := r.Route(ctx, req, StrategyBestPerformance, Constraints{MaxCost: &low})
	require.NoError(t, err)
	assert.Equal(t, "serp", d.Tool.Name)

	d, err = r.Route(ctx, req, StrategyLowestCost, Constraints{MinReliability: 95})
	require.NoError(t, err)
	assert.Equal(t, "google", d.Tool.Name)

	d, err = r.Route(ctx, req, StrategyLowestCost, Constraints{RequiredCapabilities: []string{"WEB"}})
	require.NoError(t, err)
	assert.Equal(t, "serp", d.Tool.Name)

	d, err = r.Route(ctx, req, StrategyCapability, Constraints{Expression: `latency_ms < 500 && contains(capabilities, "web") && cost_tier != "low"`})
	require.NoError(t, err)
	assert.Equal(t, "google", d.Tool.Name)

	_, err = r.Route(ctx, req, StrategyBalanced, Constraints{MinReliability: 100})
	assert.Error(t, err)

	_, err = r.Route(ctx, req, StrategyBalanced, Constraints{Expression: "reliability >"})
	assert.Error(t, err)

	// a non-boolean expression filters everything out
	_, err = r.Route(ctx, req, StrategyBalanced, Constraints{Expression: "reliability + 1"})
	assert.Error(t, err)
}

func TestRoute_ExpressionOverLimits(t *testing.T) {
	r, _ := newTestRouter(t)
	ctx := context.Background()
	req := Request{Capability: "search"}

	d, err := r.Route(ctx, req, StrategyBestPerformance, Constraints{Expression: `!requires_auth`})
	require.NoError(t, err)
	assert.NotEqual(t, "google", d.Tool.Name)

	d, err = r.Route(ctx, req, StrategyLowestCost, Constraints{Expression: `max_concurrency >= 5 && rate_limit >= 60`})
	require.NoError(t, err)
	assert.Equal(t, "google", d.Tool.Name)
}

func TestRoute_CustomFunction(t *testing.T) {
	r, _ := newTestRouter(t, WithFunction("startsWith", func(args ...interface{}) (interface{}, error) {
		return strings.HasPrefix(args[0].(string), args[1].(string)), nil
	}))
	require.NoError(t, r.ValidateExpression(`startsWith(name, "s")`))

	d, err := r.Route(context.Background(), Request{Capability: "search"}, StrategyBalanced,
		Constraints{Expression: `startsWith(name, "s")`})
	require.NoError(t, err)
	assert.Equal(t, "serp", d.Tool.Name)
}

func TestRoute_FallsBackToSearch(t *testing.T) {
	r, _ := newTestRouter(t)

	d, err := r.Route(context.Background(), Request{Capability: "scraping"}, StrategyBalanced, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, "browser", d.Tool.Name)
	assert.True(t, d.Searched)

	_, err = r.Route(context.Background(), Request{Capability: "teleport"}, StrategyBalanced, Constraints{})
	assert.Error(t, err)
}

func TestRoute_UnknownStrategyAndCancelledContext(t *testing.T) {
	r, _ := newTestRouter(t)

	_, err := r.Route(context.Background(), Request{Capability: "search"}, "random", Constraints{})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Route(ctx, Request{Capability: "search"}, StrategyBalanced, Constraints{})
	assert.Error(t, err)
}

func TestRouteWithFallback_RanksAll(t *testing.T) {
	r, _ := newTestRouter(t)

	ranked, err := r.RouteWithFallback(context.Background(), Request{Capability: "search"}, StrategyLowestCost, Constraints{})
	require.NoError(t, err)
	require.Len(t, ranked, 3)
	assert.Equal(t, "ddg", ranked[0].Tool.Name)
	assert.Equal(t, "serp", ranked[1].Tool.Name)
	assert.Equal(t, "google", ranked[2].Tool.Name)
	assert.Contains(t, ranked[2].Rationale, "rank 3 of 3")

	// the rotation view does not advance the rotation
	rr, err := r.RouteWithFallback(context.Background(), Request{Capability: "search"}, StrategyRoundRobin, Constraints{})
	require.NoError(t, err)
	d, err := r.Route(context.Background(), Request{Capability: "search"}, StrategyRoundRobin, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, rr[0].Tool.Name, d.Tool.Name)
}

func TestRoutingPlan(t *testing.T) {
	r, _ := newTestRouter(t)

	plan, err := r.RoutingPlan(context.Background(), Request{Capability: "search"}, StrategyLowestCost,
		Constraints{ExcludeTools: []string{"serp"}}, 0)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, "ddg", plan[0].Tool.Name)
	assert.True(t, strings.HasPrefix(plan[0].Rationale, "primary: "))
	assert.Equal(t, "google", plan[1].Tool.Name)
	assert.True(t, strings.HasPrefix(plan[1].Rationale, "fallback 1: "))

	limited, err := r.RoutingPlan(context.Background(), Request{Capability: "search"}, StrategyBalanced, Constraints{}, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = r.RoutingPlan(context.Background(), Request{Capability: "teleport"}, StrategyBalanced, Constraints{}, 0)
	assert.Error(t, err)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy(" Round_Robin ")
	require.NoError(t, err)
	assert.Equal(t, StrategyRoundRobin, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyBalanced, s)

	_, err = ParseStrategy("random")
	assert.Error(t, err)
}
