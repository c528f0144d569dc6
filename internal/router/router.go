// Package router picks tools from the registry for a requested capability
// using pluggable strategies and constraints.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/registry"
)

// Strategy names a selection rule.
type Strategy string

const (
	StrategyCapability      Strategy = "capability"
	StrategyBestPerformance Strategy = "best_performance"
	StrategyLowestCost      Strategy = "lowest_cost"
	StrategyBalanced        Strategy = "balanced"
	StrategyRoundRobin      Strategy = "round_robin"
	StrategyLeastUsed       Strategy = "least_used"
)

// Strategies lists every strategy.
var Strategies = []Strategy{
	StrategyCapability,
	StrategyBestPerformance,
	StrategyLowestCost,
	StrategyBalanced,
	StrategyRoundRobin,
	StrategyLeastUsed,
}

// ParseStrategy reads a strategy name. An empty name means balanced.
func ParseStrategy(s string) (Strategy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyBalanced, nil
	}
	for _, st := range Strategies {
		if string(st) == s {
			return st, nil
		}
	}
	return "", errbuilder.GenericErr(fmt.Sprintf("unknown routing strategy %q", s), nil)
}

// Source is the registry view the router reads.
type Source interface {
	FindByCapability(capability string) []registry.ToolMetadata
	Search(query string, filter registry.Filter) []registry.ToolMetadata
}

// Request describes what a tool is needed for.
type Request struct {
	Capability string
	// TaskType keys the round-robin rotation; the capability is used when empty.
	TaskType string
	// Query is searched when no tool offers Capability directly. It defaults
	// to Capability.
	Query string
}

func (req Request) rotationKey() string {
	if req.TaskType != "" {
		return req.TaskType
	}
	return strings.ToLower(req.Capability)
}

// Constraints filter candidates before a strategy ranks them.
type Constraints struct {
	MaxCost              *registry.CostTier
	MinReliability       float64
	RequiredCapabilities []string
	ExcludeTools         []string
	// Expression is a govaluate boolean over name, category, cost, cost_tier,
	// reliability, latency_ms, invocations, capabilities, tags,
	// max_concurrency, requires_auth and rate_limit.
	Expression string
}

func (c Constraints) excludes(name string) bool {
	for _, x := range c.ExcludeTools {
		if x == name {
			return true
		}
	}
	return false
}

// Decision is one routed tool.
type Decision struct {
	Tool      registry.ToolMetadata
	Strategy  Strategy
	Score     float64
	Rationale string
	// Searched is set when candidates came from free-text search.
	Searched   bool
	Candidates int
}

// Router is safe for concurrent use.
type Router struct {
	source Source
	logger logging.Logger
	funcs  map[string]govaluate.ExpressionFunction

	rrMu    sync.Mutex
	rrIndex map[string]int
}

// Option configures a Router.
type Option func(*Router)

func WithLogger(l logging.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithFunction makes fn callable from constraint expressions.
func WithFunction(name string, fn govaluate.ExpressionFunction) Option {
	return func(r *Router) { r.funcs[name] = fn }
}

// New returns a Router over source.
func New(source Source, opts ...Option) *Router {
	r := &Router{
		source:  source,
		funcs:   make(map[string]govaluate.ExpressionFunction),
		rrIndex: make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// Route picks one tool for req.
func (r *Router) Route(ctx context.Context, req Request, strategy Strategy, c Constraints) (Decision, error) {
	cands, searched, err := r.candidates(ctx, req, c)
	if err != nil {
		return Decision{}, err
	}

	var d Decision
	if strategy == StrategyRoundRobin {
		d = r.nextInRotation(req.rotationKey(), cands)
	} else {
		ranked, err := rank(cands, strategy)
		if err != nil {
			return Decision{}, err
		}
		d = ranked[0]
	}
	d.Searched = searched
	d.Candidates = len(cands)
	r.logger.Debug("tool routed", logging.Fields{
		"capability": req.Capability,
		"strategy":   string(strategy),
		"tool":       d.Tool.Name,
		"candidates": len(cands),
	})
	return d, nil
}

// RouteWithFallback returns every eligible tool for req, best first.
// Round-robin order starts at the tool the next Route would pick.
func (r *Router) RouteWithFallback(ctx context.Context, req Request, strategy Strategy, c Constraints) ([]Decision, error) {
	cands, searched, err := r.candidates(ctx, req, c)
	if err != nil {
		return nil, err
	}
	var ranked []Decision
	if strategy == StrategyRoundRobin {
		ranked = r.rotation(req.rotationKey(), cands)
	} else if ranked, err = rank(cands, strategy); err != nil {
		return nil, err
	}
	for i := range ranked {
		ranked[i].Searched = searched
		ranked[i].Candidates = len(cands)
		ranked[i].Rationale = fmt.Sprintf("%s (rank %d of %d)", ranked[i].Rationale, i+1, len(ranked))
	}
	return ranked, nil
}

// RoutingPlan routes req repeatedly, excluding earlier picks, and returns up to
// max decisions: the primary tool followed by its fallbacks. max <= 0 means
// no limit.
func (r *Router) RoutingPlan(ctx context.Context, req Request, strategy Strategy, c Constraints, max int) ([]Decision, error) {
	exclude := append([]string(nil), c.ExcludeTools...)
	var plan []Decision
	for max <= 0 || len(plan) < max {
		c.ExcludeTools = exclude
		d, err := r.Route(ctx, req, strategy, c)
		if err != nil {
			if len(plan) > 0 {
				// candidates exhausted
				break
			}
			return nil, err
		}
		if len(plan) == 0 {
			d.Rationale = "primary: " + d.Rationale
		} else {
			d.Rationale = fmt.Sprintf("fallback %d: %s", len(plan), d.Rationale)
		}
		plan = append(plan, d)
		exclude = append(exclude, d.Tool.Name)
	}
	return plan, nil
}

// candidates returns the eligible tools for req sorted by name.
func (r *Router) candidates(ctx context.Context, req Request, c Constraints) ([]registry.ToolMetadata, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, errbuilder.WrapIfContextDone(ctx, err)
	}
	var expr *govaluate.EvaluableExpression
	if strings.TrimSpace(c.Expression) != "" {
		var err error
		if expr, err = r.compile(c.Expression); err != nil {
			return nil, false, errbuilder.GenericErr("invalid routing constraint", err)
		}
	}

	found := r.source.FindByCapability(req.Capability)
	searched := false
	if len(found) == 0 {
		query := req.Query
		if query == "" {
			query = req.Capability
		}
		if strings.TrimSpace(query) != "" {
			found = r.source.Search(query, registry.Filter{})
			searched = len(found) > 0
		}
	}

	out := make([]registry.ToolMetadata, 0, len(found))
	for _, m := range found {
		if !r.allowed(m, c, expr) {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) == 0 {
		return nil, false, errbuilder.NotFoundErr(errbuilder.GenericErr(
			fmt.Sprintf("no tool satisfies capability %q under the given constraints", req.Capability), nil))
	}
	return out, searched, nil
}

func (r *Router) allowed(m registry.ToolMetadata, c Constraints, expr *govaluate.EvaluableExpression) bool {
	if m.Disabled || c.excludes(m.Name) {
		return false
	}
	if c.MaxCost != nil && m.Cost > *c.MaxCost {
		return false
	}
	if m.Reliability < c.MinReliability {
		return false
	}
	for _, need := range c.RequiredCapabilities {
		if !m.HasCapability(need) {
			return false
		}
	}
	if expr != nil {
		ok, err := matches(expr, m)
		if err != nil {
			r.logger.Warn("constraint expression failed", logging.Fields{"tool": m.Name, "error": err.Error()})
			return false
		}
		return ok
	}
	return true
}

// rank orders cands best first for strategy. Ties keep name order.
func rank(cands []registry.ToolMetadata, strategy Strategy) ([]Decision, error) {
	score, describe, err := strategyScore(strategy)
	if err != nil {
		return nil, err
	}
	out := make([]Decision, len(cands))
	for i, m := range cands {
		s := score(m)
		out[i] = Decision{Tool: m, Strategy: strategy, Score: s, Rationale: describe(m, s)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// strategyScore returns a higher-is-better score and a rationale builder.
func strategyScore(strategy Strategy) (func(registry.ToolMetadata) float64, func(registry.ToolMetadata, float64) string, error) {
	switch strategy {
	case StrategyCapability:
		return func(registry.ToolMetadata) float64 { return 0 },
			func(m registry.ToolMetadata, _ float64) string {
				return fmt.Sprintf("%s offers the capability", m.Name)
			}, nil
	case StrategyBestPerformance:
		return registry.PerformanceScore,
			func(m registry.ToolMetadata, s float64) string {
				return fmt.Sprintf("%s: reliability %.1f%% at %s, performance %.3f", m.Name, m.Reliability, m.AvgLatency, s)
			}, nil
	case StrategyLowestCost:
		return func(m registry.ToolMetadata) float64 { return -float64(m.Cost) },
			func(m registry.ToolMetadata, _ float64) string {
				return fmt.Sprintf("%s: %s cost", m.Name, m.Cost)
			}, nil
	case StrategyBalanced, "":
		return registry.BalancedScore,
			func(m registry.ToolMetadata, s float64) string {
				return fmt.Sprintf("%s: balanced score %.3f (reliability %.1f%%, latency %s, %s cost)",
					m.Name, s, m.Reliability, m.AvgLatency, m.Cost)
			}, nil
	case StrategyLeastUsed:
		return func(m registry.ToolMetadata) float64 { return -float64(m.Usage.Invocations) },
			func(m registry.ToolMetadata, _ float64) string {
				return fmt.Sprintf("%s: used %d times", m.Name, m.Usage.Invocations)
			}, nil
	}
	return nil, nil, errbuilder.GenericErr(fmt.Sprintf("unknown routing strategy %q", strategy), nil)
}

// nextInRotation returns the tool at the key's index and advances it.
func (r *Router) nextInRotation(key string, cands []registry.ToolMetadata) Decision {
	r.rrMu.Lock()
	idx := r.rrIndex[key] % len(cands)
	r.rrIndex[key] = idx + 1
	r.rrMu.Unlock()
	return rotationDecision(cands[idx], idx, len(cands))
}

// rotation lists cands starting at the key's index without advancing it.
func (r *Router) rotation(key string, cands []registry.ToolMetadata) []Decision {
	r.rrMu.Lock()
	start := r.rrIndex[key] % len(cands)
	r.rrMu.Unlock()
	out := make([]Decision, len(cands))
	for i := range cands {
		idx := (start + i) % len(cands)
		out[i] = rotationDecision(cands[idx], idx, len(cands))
	}
	return out
}

func rotationDecision(m registry.ToolMetadata, idx, n int) Decision {
	return Decision{
		Tool:      m,
		Strategy:  StrategyRoundRobin,
		Rationale: fmt.Sprintf("%s: rotation slot %d of %d", m.Name, idx+1, n),
	}
}

// ResetRotation forgets every round-robin position.
func (r *Router) ResetRotation() {
	r.rrMu.Lock()
	r.rrIndex = make(map[string]int)
	r.rrMu.Unlock()
}
