// Package stepwise plans multi-step tool invocations for natural-language tasks.
//
// A Planner analyzes a task, decomposes it into a linear chain of tool steps,
// and, as the caller executes those steps elsewhere, fills each step's inputs
// from the outputs of the steps before it. Tool execution itself is left to
// the caller.
package stepwise

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/eventbus"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/google/uuid"
)

// Planner is the entry point: it owns the collaborators that plan a task and
// resolve its steps. It is safe for concurrent use.
type Planner struct {
	analyzer   Analyzer
	decomposer Decomposer
	resolver   Resolver
	toolset    Toolset
	cache      Cache
	bus        eventbus.EventBus
	logger     logging.Logger
	newID      func() string

	background   map[string]*backgroundPlan
	backgroundMu sync.RWMutex
}

// Option configures a Planner.
type Option func(*Planner)

// WithAnalyzer sets the task analyzer. Without one, decomposition runs with an
// empty planning context.
func WithAnalyzer(a Analyzer) Option {
	return func(p *Planner) { p.analyzer = a }
}

func WithDecomposer(d Decomposer) Option {
	return func(p *Planner) { p.decomposer = d }
}

func WithResolver(r Resolver) Option {
	return func(p *Planner) { p.resolver = r }
}

func WithToolset(t Toolset) Option {
	return func(p *Planner) { p.toolset = t }
}

// WithCache enables plan caching keyed by a fingerprint of the task description.
func WithCache(c Cache) Option {
	return func(p *Planner) { p.cache = c }
}

func WithLogger(l logging.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithIDGenerator replaces the uuid generator used for tasks without an ID.
func WithIDGenerator(fn func() string) Option {
	return func(p *Planner) { p.newID = fn }
}

// New builds a Planner. A decomposer, a resolver and a toolset are required.
func New(opts ...Option) (*Planner, error) {
	p := &Planner{
		newID:      uuid.NewString,
		background: make(map[string]*backgroundPlan),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.OrNop(p.logger)

	switch {
	case p.decomposer == nil:
		return nil, NewConfigurationError("decomposer is required", nil)
	case p.resolver == nil:
		return nil, NewConfigurationError("resolver is required", nil)
	case p.toolset == nil:
		return nil, NewConfigurationError("toolset is required", nil)
	case p.newID == nil:
		return nil, NewConfigurationError("id generator cannot be nil", nil)
	}
	return p, nil
}

// Toolset returns the toolset the planner was built with.
func (p *Planner) Toolset() Toolset { return p.toolset }

// Plan produces the ordered steps for task. Generative failures never surface
// here; only cancellation and internal faults return an error.
func (p *Planner) Plan(ctx context.Context, task Task) (*Plan, error) {
	if task.ID == "" {
		task.ID = p.newID()
	}
	key := planCacheKey(task.Description)

	if cached, ok := p.cachedPlan(ctx, key); ok {
		plan := clonePlan(cached)
		plan.TaskID = task.ID
		plan.CreatedAt = time.Now()
		p.publish(ctx, eventbus.EventPlanCacheHit, task.Description, "Planner.Plan", map[string]interface{}{
			"task_id": task.ID,
			"source":  string(plan.Source),
		})
		return plan, nil
	}

	proc := NewPlanningProcess(task)
	plan, err := p.stateMachine().Execute(ctx, proc)
	meta := map[string]interface{}{
		"task_id":          task.ID,
		"duration_seconds": proc.TotalDuration().Seconds(),
	}
	if err != nil {
		meta["stage"] = proc.ErrorStage
		meta["error"] = err.Error()
		evt := eventbus.EventPlanningFailed
		if proc.CurrentState == StateCancelled {
			evt = eventbus.EventPlanningCancelled
		}
		// the caller's context may be done, so failure events are published detached
		p.publish(context.Background(), evt, task.Description, "Planner.Plan", meta)
		p.logger.Warn("planning failed", logging.Fields{"task_id": task.ID, "stage": proc.ErrorStage, "error": err.Error()})
		return nil, err
	}

	meta["source"] = string(plan.Source)
	meta["steps"] = len(plan.Steps)
	p.publish(ctx, eventbus.EventPlanningSucceeded, plan, "Planner.Plan", meta)
	p.logger.Info("plan ready", logging.Fields{"task_id": task.ID, "source": string(plan.Source), "steps": len(plan.Steps)})

	if p.cache != nil && plan.Source != SourceEmpty {
		if err := p.cache.Set(ctx, key, clonePlan(plan)); err != nil {
			p.logger.Debug("plan cache set failed", logging.Fields{"error": err.Error()})
		}
	}
	return plan, nil
}

func (p *Planner) cachedPlan(ctx context.Context, key string) (*Plan, bool) {
	if p.cache == nil {
		return nil, false
	}
	v, err := p.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	plan, ok := v.(*Plan)
	return plan, ok && plan != nil
}

// ResolveStep fills step's parameters from acc. Unresolved inputs are reported
// and published, never returned as errors.
func (p *Planner) ResolveStep(ctx context.Context, step Step, acc *Accumulated) (Step, ResolutionReport) {
	params, report := p.resolver.ResolveInputs(step.Tool, step.Parameters, acc)
	step.Parameters = params

	p.publish(ctx, eventbus.EventStepResolved, step, "Planner.ResolveStep", map[string]interface{}{
		"step_id":    step.ID,
		"tool":       step.Tool,
		"resolved":   len(report.Resolved),
		"unresolved": len(report.Unresolved),
	})
	for _, input := range report.Unresolved {
		p.publish(ctx, eventbus.EventInputUnresolved, input, "Planner.ResolveStep", map[string]interface{}{
			"step_id": step.ID,
			"tool":    step.Tool,
			"input":   input,
		})
	}
	return step, report
}

// RecordResult extracts the structured outputs of an executed step and appends
// them to acc.
func (p *Planner) RecordResult(ctx context.Context, acc *Accumulated, step Step, raw interface{}) StepResult {
	res := StepResult{
		StepID:    step.ID,
		Tool:      step.Tool,
		Result:    raw,
		Extracted: p.resolver.ExtractOutputs(step.Tool, raw),
	}
	acc.Add(res)
	p.publish(ctx, eventbus.EventResultRecorded, res.StepID, "Planner.RecordResult", map[string]interface{}{
		"step_id": step.ID,
		"tool":    step.Tool,
		"fields":  len(res.Extracted),
	})
	return res
}

// RecordOutcome folds one execution observation into the tool's statistics.
func (p *Planner) RecordOutcome(ctx context.Context, tool string, success bool, latency time.Duration) error {
	if err := p.toolset.RecordOutcome(tool, success, latency); err != nil {
		return err
	}
	p.publish(ctx, eventbus.EventToolOutcome, tool, "Planner.RecordOutcome", map[string]interface{}{
		"tool":             tool,
		"success":          success,
		"duration_seconds": latency.Seconds(),
	})
	return nil
}

func (p *Planner) publish(ctx context.Context, t eventbus.EventType, payload interface{}, source string, meta map[string]interface{}) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, eventbus.NewEvent(t, payload, source, meta)); err != nil {
		p.logger.Debug("event publish failed", logging.Fields{"event_type": string(t), "error": err.Error()})
	}
}

// planCacheKey fingerprints a description so trivially different spellings share a plan.
func planCacheKey(description string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(description)), " ")
	sum := sha1.Sum([]byte(norm))
	return "plan:" + hex.EncodeToString(sum[:])
}
