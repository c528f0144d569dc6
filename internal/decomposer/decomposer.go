// Package decomposer turns a task description into a linear chain of tool
// steps. A pre-analyzed task structure is used directly when present;
// otherwise the generator plans the steps, and a deterministic pattern matcher
// covers the cases where it cannot.
package decomposer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/ZanzyTHEbar/stepwise/internal/prompt"
	"github.com/ZanzyTHEbar/stepwise/internal/textscan"
)

// DefaultSearchSelector targets the search box of a typical page.
const DefaultSearchSelector = `input[type="search"], input[name="q"], input[name="search"], input[type="text"]`

// FailureFunc observes an absorbed generator failure.
type FailureFunc func(stage string, err error)

// Decomposer implements stepwise.Decomposer.
type Decomposer struct {
	tools          stepwise.Toolset
	gen            stepwise.Generator
	prompts        *prompt.Registry
	logger         logging.Logger
	lenient        bool
	strategy       string
	searchTool     string
	browserTool    string
	searchSelector string
	onFailure      FailureFunc
}

var _ stepwise.Decomposer = (*Decomposer)(nil)

// Option configures a Decomposer.
type Option func(*Decomposer)

// WithGenerator enables the generative path.
func WithGenerator(g stepwise.Generator) Option {
	return func(d *Decomposer) { d.gen = g }
}

func WithPrompts(r *prompt.Registry) Option {
	return func(d *Decomposer) { d.prompts = r }
}

func WithLogger(l logging.Logger) Option {
	return func(d *Decomposer) { d.logger = l }
}

// WithLenientParsing accepts the first well-formed JSON array found in a
// free-text completion instead of requiring structured output.
func WithLenientParsing() Option {
	return func(d *Decomposer) { d.lenient = true }
}

// WithSelectionStrategy sets the routing strategy used when a planned step
// names a capability instead of a tool.
func WithSelectionStrategy(strategy string) Option {
	return func(d *Decomposer) { d.strategy = strategy }
}

// WithKeywordTools names the tools the fallback uses for search and browsing.
func WithKeywordTools(search, browser string) Option {
	return func(d *Decomposer) {
		d.searchTool = search
		d.browserTool = browser
	}
}

// WithSearchSelector replaces DefaultSearchSelector.
func WithSearchSelector(selector string) Option {
	return func(d *Decomposer) { d.searchSelector = selector }
}

// WithFailureHook is called for every absorbed generator failure.
func WithFailureHook(fn FailureFunc) Option {
	return func(d *Decomposer) { d.onFailure = fn }
}

// New returns a decomposer over tools.
func New(tools stepwise.Toolset, opts ...Option) *Decomposer {
	d := &Decomposer{
		tools:          tools,
		searchTool:     "search",
		browserTool:    "browser",
		searchSelector: DefaultSearchSelector,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = logging.OrNop(d.logger)
	if d.prompts == nil {
		d.prompts = prompt.MustRegistry()
	}
	return d
}

// draft is a step before tool resolution and parameter inference.
type draft struct {
	tool        string
	method      string
	description string
	params      param.Map

	// generated steps must name a method when their tool requires one
	requireMethod bool
}

// Decompose plans description. The pre-analyzed structure in pc wins, then the
// generator, then the fallback patterns. Only cancellation is returned as an
// error.
func (d *Decomposer) Decompose(ctx context.Context, description, taskID string, pc stepwise.PlanningContext) (*stepwise.Decomposition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b := &builder{d: d, ctx: ctx, task: description, pc: pc}

	if structure := pc.Structure(); len(structure) > 0 {
		drafts := make([]draft, 0, len(structure))
		for _, s := range structure {
			drafts = append(drafts, draft{tool: s.Tool, method: s.Method, description: s.Description, params: s.Parameters})
		}
		if steps := b.build(drafts); len(steps) > 0 {
			return d.finish(taskID, stepwise.SourcePreAnalyzed, steps, b.warnings), nil
		}
		b.warnf("pre-analyzed structure produced no valid steps")
	}

	if d.gen != nil {
		drafts, err := d.generate(ctx, description, pc)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			d.absorb("decompose", err)
			b.warnf("generative planning failed: %v", err)
		} else if steps := b.build(drafts); len(steps) > 0 {
			return d.finish(taskID, stepwise.SourceGenerative, steps, b.warnings), nil
		} else {
			b.warnf("generative plan had no valid steps")
		}
	}

	if steps := b.build(d.fallback(ctx, description)); len(steps) > 0 {
		return d.finish(taskID, stepwise.SourceFallback, steps, b.warnings), nil
	}
	d.logger.Warn("no steps could be planned", logging.Fields{"task_id": taskID, "description": description})
	return &stepwise.Decomposition{Source: stepwise.SourceEmpty, Warnings: b.warnings}, nil
}

func (d *Decomposer) finish(taskID string, source stepwise.PlanSource, steps []stepwise.Step, warnings []string) *stepwise.Decomposition {
	d.logger.Info("task decomposed", logging.Fields{
		"task_id":  taskID,
		"source":   string(source),
		"steps":    len(steps),
		"warnings": len(warnings),
	})
	return &stepwise.Decomposition{Steps: steps, Source: source, Warnings: warnings}
}

// planElement is one step as returned by the generator.
type planElement struct {
	Tool        string                 `json:"tool"`
	Method      string                 `json:"method"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

func (d *Decomposer) generate(ctx context.Context, description string, pc stepwise.PlanningContext) ([]draft, error) {
	var views []prompt.ToolView
	for _, name := range d.tools.ToolNames() {
		if t, ok := d.tools.Schema(name); ok {
			views = append(views, prompt.DescribeTool(t))
		}
	}
	data := map[string]interface{}{
		"Description":    description,
		"Tools":          views,
		"RequiredFields": pc.RequiredFields(),
	}
	if qp := pc.QueryParams(); len(qp) > 0 {
		data["QueryParams"] = param.Object(qp).String()
	}
	text, err := d.prompts.Render(prompt.Decompose, data)
	if err != nil {
		return nil, err
	}

	var raw []json.RawMessage
	if d.lenient {
		completion, err := d.gen.GenerateText(ctx, text)
		if err != nil {
			return nil, err
		}
		arr, ok := textscan.FirstArray(completion)
		if !ok {
			return nil, fmt.Errorf("no JSON array in completion")
		}
		if err := json.Unmarshal([]byte(arr), &raw); err != nil {
			return nil, err
		}
	} else if err := d.gen.GenerateStructured(ctx, text, &raw); err != nil {
		return nil, err
	}

	drafts := make([]draft, 0, len(raw))
	for i, r := range raw {
		var el planElement
		if err := json.Unmarshal(r, &el); err != nil {
			d.logger.Warn("dropping malformed plan element", logging.Fields{"index": i, "error": err.Error()})
			continue
		}
		if strings.TrimSpace(el.Tool) == "" || el.Parameters == nil {
			d.logger.Warn("dropping plan element without tool or parameters", logging.Fields{"index": i})
			continue
		}
		drafts = append(drafts, draft{
			tool:        strings.TrimSpace(el.Tool),
			method:      el.Method,
			description: el.Description,
			params:      param.MapFromAny(el.Parameters),

			requireMethod: true,
		})
	}
	return drafts, nil
}

func (d *Decomposer) absorb(stage string, err error) {
	d.logger.Warn("generator call failed", logging.Fields{"stage": stage, "error": err.Error()})
	if d.onFailure != nil {
		d.onFailure(stage, err)
	}
}

// toolFor returns preferred when the toolset has it, otherwise the tool the
// toolset selects for capability.
func (d *Decomposer) toolFor(ctx context.Context, preferred, capability string) string {
	if preferred != "" {
		if _, ok := d.tools.Schema(preferred); ok {
			return preferred
		}
	}
	name, err := d.tools.Select(ctx, stepwise.Selection{Capability: capability, Strategy: d.strategy})
	if err != nil {
		d.logger.Debug("no tool for capability", logging.Fields{"capability": capability, "error": err.Error()})
		return ""
	}
	return name
}
