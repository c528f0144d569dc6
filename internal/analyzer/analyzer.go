// Package analyzer classifies tasks and pulls field lists and query parameters
// out of them. Every generative call has a deterministic fallback, so the
// analyzer works without a generator at all.
package analyzer

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/ZanzyTHEbar/stepwise/internal/prompt"
	"github.com/ZanzyTHEbar/stepwise/internal/textscan"
)

// DefaultRequiredFields is returned when no field list can be extracted.
var DefaultRequiredFields = []string{"title", "description"}

var (
	searchWords  = regexp.MustCompile(`\b(search|find|lookup|look up)\b`)
	browserWords = regexp.MustCompile(`\b(scrape|navigate|click|browse|visit|open)\b`)
	apiWords     = regexp.MustCompile(`\b(api|endpoint|json|rest)\b`)
	textWords    = regexp.MustCompile(`\b(write|summari[sz]e|generate|compose|translate|explain|draft)\b`)
)

// FailureFunc observes an absorbed generator failure.
type FailureFunc func(stage string, err error)

// Analyzer implements stepwise.Analyzer.
type Analyzer struct {
	tools       stepwise.Toolset
	gen         stepwise.Generator
	prompts     *prompt.Registry
	logger      logging.Logger
	lenient     bool
	searchTool  string
	browserTool string
	onFailure   FailureFunc
}

var _ stepwise.Analyzer = (*Analyzer)(nil)

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithGenerator enables generative analysis.
func WithGenerator(g stepwise.Generator) Option {
	return func(a *Analyzer) { a.gen = g }
}

func WithPrompts(r *prompt.Registry) Option {
	return func(a *Analyzer) { a.prompts = r }
}

func WithLogger(l logging.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithLenientParsing makes ExtractQueryParams mine a free-text completion for
// the first JSON object instead of requiring structured output.
func WithLenientParsing() Option {
	return func(a *Analyzer) { a.lenient = true }
}

// WithKeywordTools names the tools the keyword fallback maps search and
// browsing phrases to.
func WithKeywordTools(search, browser string) Option {
	return func(a *Analyzer) {
		a.searchTool = search
		a.browserTool = browser
	}
}

// WithFailureHook is called for every absorbed generator failure.
func WithFailureHook(fn FailureFunc) Option {
	return func(a *Analyzer) { a.onFailure = fn }
}

// New returns an analyzer over tools.
func New(tools stepwise.Toolset, opts ...Option) *Analyzer {
	a := &Analyzer{
		tools:       tools,
		searchTool:  "search",
		browserTool: "browser",
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrNop(a.logger)
	if a.prompts == nil {
		a.prompts = prompt.MustRegistry()
	}
	return a
}

type analysisResponse struct {
	TaskType       string                 `json:"task_type"`
	Complexity     string                 `json:"complexity"`
	RequiredTools  []string               `json:"required_tools"`
	EstimatedSteps int                    `json:"estimated_steps"`
	QueryParams    map[string]interface{} `json:"query_params"`
	RequiredFields []string               `json:"required_fields"`
	TaskStructure  *struct {
		Steps []stepwise.StructuredStep `json:"steps"`
	} `json:"task_structure"`
}

// Analyze classifies description with one structured generative call, or by
// keyword matching when that call is unavailable or unusable. Field lists,
// query parameters and a task type the analysis left out are filled by
// ExtractRequiredFields, ExtractQueryParams and DetectTaskType.
func (a *Analyzer) Analyze(ctx context.Context, description string) (*stepwise.TaskAnalysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var analysis *stepwise.TaskAnalysis
	labelled := true
	if a.gen != nil {
		var err error
		analysis, labelled, err = a.generativeAnalysis(ctx, description)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if err != nil {
			a.absorb("analyze", err)
		} else if analysis == nil {
			a.logger.Warn("analysis response unusable, using keywords", logging.Fields{"description": description})
		}
	}
	if analysis == nil {
		analysis, labelled = a.keywordAnalysis(ctx, description), true
	}

	if len(analysis.RequiredFields) == 0 {
		analysis.RequiredFields = a.ExtractRequiredFields(ctx, description)
	}
	if len(analysis.QueryParams) == 0 {
		analysis.QueryParams = a.ExtractQueryParams(ctx, description)
	}
	if !labelled {
		analysis.TaskType = a.DetectTaskType(ctx, description)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return analysis, nil
}

// generativeAnalysis reports whether the response carried a task type label
// from the closed set.
func (a *Analyzer) generativeAnalysis(ctx context.Context, description string) (*stepwise.TaskAnalysis, bool, error) {
	text, err := a.prompts.Render(prompt.Analyze, map[string]interface{}{
		"Description":  description,
		"Tools":        a.toolViews(),
		"Capabilities": a.tools.DescribeCapabilities(),
		"TaskTypes":    taskTypeLabels(),
	})
	if err != nil {
		return nil, false, err
	}
	var resp analysisResponse
	if err := a.gen.GenerateStructured(ctx, text, &resp); err != nil {
		return nil, false, err
	}

	var tools []string
	for _, name := range dedupe(resp.RequiredTools) {
		if a.known(name) {
			tools = append(tools, name)
		} else {
			a.logger.Debug("analysis named an unknown tool", logging.Fields{"tool": name})
		}
	}
	var steps []stepwise.StructuredStep
	if resp.TaskStructure != nil {
		for _, s := range resp.TaskStructure.Steps {
			if strings.TrimSpace(s.Tool) != "" {
				steps = append(steps, s)
			}
		}
	}
	if len(tools) == 0 && len(steps) == 0 {
		return nil, false, nil
	}

	analysis := &stepwise.TaskAnalysis{
		TaskType:       stepwise.ParseTaskType(resp.TaskType),
		Complexity:     stepwise.Complexity(strings.ToLower(strings.TrimSpace(resp.Complexity))),
		RequiredTools:  tools,
		EstimatedSteps: resp.EstimatedSteps,
		QueryParams:    param.MapFromAny(resp.QueryParams),
		RequiredFields: dedupe(resp.RequiredFields),
		Source:         stepwise.AnalysisGenerative,
	}
	switch analysis.Complexity {
	case stepwise.ComplexitySimple, stepwise.ComplexityModerate, stepwise.ComplexityComplex:
	default:
		analysis.Complexity = stepwise.ComplexityFor(len(tools))
	}
	if analysis.EstimatedSteps <= 0 {
		analysis.EstimatedSteps = max(1, len(steps), len(tools))
	}
	if len(steps) > 0 {
		analysis.TaskStructure = &stepwise.TaskStructure{Steps: steps}
	}
	a.logger.Debug("task analyzed", logging.Fields{
		"task_type": string(analysis.TaskType),
		"tools":     tools,
		"steps":     len(steps),
	})
	return analysis, knownTaskType(resp.TaskType), nil
}

// keywordAnalysis maps search and browsing phrases, and any URL or domain in
// the text, onto tools in order of first mention.
func (a *Analyzer) keywordAnalysis(ctx context.Context, description string) *stepwise.TaskAnalysis {
	lower := strings.ToLower(description)
	type mention struct {
		pos  int
		tool string
	}
	var mentions []mention
	if loc := searchWords.FindStringIndex(lower); loc != nil {
		if tool := a.toolFor(ctx, a.searchTool, "search"); tool != "" {
			mentions = append(mentions, mention{loc[0], tool})
		}
	}
	browserPos := -1
	if loc := browserWords.FindStringIndex(lower); loc != nil {
		browserPos = loc[0]
	}
	if u, ok := textscan.FirstURL(description); ok {
		browserPos = minPos(browserPos, strings.Index(description, u))
	} else if d, ok := textscan.BareDomain(description); ok {
		browserPos = minPos(browserPos, strings.Index(description, d))
	}
	if browserPos >= 0 {
		if tool := a.toolFor(ctx, a.browserTool, "navigate"); tool != "" {
			mentions = append(mentions, mention{browserPos, tool})
		}
	}
	sort.SliceStable(mentions, func(i, j int) bool { return mentions[i].pos < mentions[j].pos })

	var tools []string
	for _, m := range mentions {
		tools = append(tools, m.tool)
	}
	tools = dedupe(tools)
	return &stepwise.TaskAnalysis{
		TaskType:       keywordTaskType(lower, browserPos >= 0, searchWords.MatchString(lower)),
		Complexity:     stepwise.ComplexityFor(len(tools)),
		RequiredTools:  tools,
		EstimatedSteps: max(1, len(tools)),
		Source:         stepwise.AnalysisKeyword,
	}
}

func keywordTaskType(lower string, browsing, searching bool) stepwise.TaskType {
	switch {
	case apiWords.MatchString(lower):
		return stepwise.TaskTypeAPIRequest
	case browsing:
		return stepwise.TaskTypeWebScraping
	case searching:
		return stepwise.TaskTypeSearch
	case textWords.MatchString(lower):
		return stepwise.TaskTypeTextGeneration
	}
	return stepwise.TaskTypeGeneral
}

// toolFor returns preferred when the toolset has it, otherwise whatever tool
// the toolset selects for capability.
func (a *Analyzer) toolFor(ctx context.Context, preferred, capability string) string {
	if preferred != "" && a.known(preferred) {
		return preferred
	}
	name, err := a.tools.Select(ctx, stepwise.Selection{Capability: capability})
	if err != nil {
		a.logger.Debug("no tool for keyword capability", logging.Fields{"capability": capability, "error": err.Error()})
		return ""
	}
	return name
}

type fieldsResponse struct {
	UserRequested []string `json:"user_requested"`
	Suggested     []string `json:"suggested"`
}

// ExtractRequiredFields returns the fields query asks for, user-requested ones
// first. Without a usable response it returns DefaultRequiredFields.
func (a *Analyzer) ExtractRequiredFields(ctx context.Context, query string) []string {
	if a.gen == nil {
		return append([]string(nil), DefaultRequiredFields...)
	}
	text, err := a.prompts.Render(prompt.RequiredFields, map[string]interface{}{"Query": query})
	if err == nil {
		var resp fieldsResponse
		if err = a.gen.GenerateStructured(ctx, text, &resp); err == nil {
			if fields := dedupe(append(resp.UserRequested, resp.Suggested...)); len(fields) > 0 {
				return fields
			}
			a.logger.Warn("no required fields in response", logging.Fields{"query": query})
		}
	}
	if err != nil {
		a.absorb("required_fields", err)
	}
	return append([]string(nil), DefaultRequiredFields...)
}

// ExtractQueryParams returns the query parameters implied by description, or
// an empty map.
func (a *Analyzer) ExtractQueryParams(ctx context.Context, description string) param.Map {
	out := param.Map{}
	if a.gen == nil {
		return out
	}
	text, err := a.prompts.Render(prompt.QueryParams, map[string]interface{}{"Description": description})
	if err != nil {
		a.absorb("query_params", err)
		return out
	}

	var raw map[string]interface{}
	if a.lenient {
		completion, err := a.gen.GenerateText(ctx, text)
		if err != nil {
			a.absorb("query_params", err)
			return out
		}
		obj, ok := textscan.FirstObject(completion)
		if !ok {
			a.logger.Warn("no JSON object in completion", logging.Fields{"description": description})
			return out
		}
		if err := json.Unmarshal([]byte(obj), &raw); err != nil {
			a.absorb("query_params", err)
			return out
		}
	} else if err := a.gen.GenerateStructured(ctx, text, &raw); err != nil {
		a.absorb("query_params", err)
		return out
	}
	for k, v := range param.MapFromAny(raw) {
		out[k] = v
	}
	return out
}

// DetectTaskType asks the generator to pick a task type given the available
// capabilities. Labels outside the closed set become general; without a
// generator, or when it fails, keywords decide.
func (a *Analyzer) DetectTaskType(ctx context.Context, description string) stepwise.TaskType {
	if a.gen != nil {
		text, err := a.prompts.Render(prompt.TaskType, map[string]interface{}{
			"Description":  description,
			"Capabilities": a.tools.DescribeCapabilities(),
			"TaskTypes":    taskTypeLabels(),
		})
		if err == nil {
			var label string
			if label, err = a.gen.GenerateText(ctx, text); err == nil {
				return stepwise.ParseTaskType(label)
			}
		}
		a.absorb("task_type", err)
	}
	lower := strings.ToLower(description)
	_, hasURL := textscan.FirstURL(description)
	_, hasDomain := textscan.BareDomain(description)
	return keywordTaskType(lower, hasURL || hasDomain || browserWords.MatchString(lower), searchWords.MatchString(lower))
}

func (a *Analyzer) absorb(stage string, err error) {
	a.logger.Warn("generator call failed", logging.Fields{"stage": stage, "error": err.Error()})
	if a.onFailure != nil {
		a.onFailure(stage, err)
	}
}

func (a *Analyzer) known(tool string) bool {
	for _, n := range a.tools.ToolNames() {
		if n == tool {
			return true
		}
	}
	return false
}

func (a *Analyzer) toolViews() []prompt.ToolView {
	var views []prompt.ToolView
	for _, name := range a.tools.ToolNames() {
		if t, ok := a.tools.Schema(name); ok {
			views = append(views, prompt.DescribeTool(t))
		} else {
			views = append(views, prompt.ToolView{Name: name})
		}
	}
	return views
}

// knownTaskType reports whether label names a task type rather than falling
// back to general.
func knownTaskType(label string) bool {
	norm := strings.Trim(strings.ToLower(strings.TrimSpace(label)), "\"'`.")
	if norm == "" {
		return false
	}
	return stepwise.ParseTaskType(norm) != stepwise.TaskTypeGeneral || norm == string(stepwise.TaskTypeGeneral)
}

func taskTypeLabels() []string {
	labels := make([]string, len(stepwise.TaskTypes))
	for i, t := range stepwise.TaskTypes {
		labels[i] = string(t)
	}
	return labels
}

// dedupe trims, drops empties and removes case-insensitive repeats, keeping
// first occurrences in order.
func dedupe(items []string) []string {
	seen := make(map[string]bool, len(items))
	var out []string
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, it)
	}
	return out
}

func minPos(a, b int) int {
	switch {
	case b < 0:
		return a
	case a < 0 || b < a:
		return b
	}
	return a
}
