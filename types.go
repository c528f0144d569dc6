package stepwise

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/param"
)

// Task is one natural-language request to plan.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// TaskType classifies what a task mostly needs.
type TaskType string

const (
	TaskTypeTextGeneration TaskType = "text_generation"
	TaskTypeAPIRequest     TaskType = "api_request"
	TaskTypeWebScraping    TaskType = "web_scraping"
	TaskTypeSearch         TaskType = "search"
	TaskTypeGeneral        TaskType = "general"
)

// TaskTypes lists the closed set of task types.
var TaskTypes = []TaskType{
	TaskTypeTextGeneration,
	TaskTypeAPIRequest,
	TaskTypeWebScraping,
	TaskTypeSearch,
	TaskTypeGeneral,
}

// ParseTaskType maps a label onto the closed set. Anything unrecognised is general.
func ParseTaskType(label string) TaskType {
	norm := strings.ToLower(strings.TrimSpace(label))
	norm = strings.Trim(norm, "\"'`.")
	for _, t := range TaskTypes {
		if norm == string(t) {
			return t
		}
	}
	return TaskTypeGeneral
}

// Complexity grades a task by the number of tools it involves.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// ComplexityFor grades a task that needs toolCount tools.
func ComplexityFor(toolCount int) Complexity {
	switch {
	case toolCount <= 1:
		return ComplexitySimple
	case toolCount == 2:
		return ComplexityModerate
	default:
		return ComplexityComplex
	}
}

// StepMetadata asks the executor to check the step's output for completeness.
type StepMetadata struct {
	RequiredFields    []string `json:"required_fields,omitempty"`
	CheckCompleteness bool     `json:"check_completeness"`
}

// Step is one planned tool invocation. Steps form a linear chain: DependsOn
// names only the immediately preceding step.
type Step struct {
	ID          string        `json:"id"`
	Tool        string        `json:"tool"`
	Description string        `json:"description,omitempty"`
	Parameters  param.Map     `json:"parameters"`
	DependsOn   string        `json:"depends_on,omitempty"`
	Metadata    *StepMetadata `json:"metadata,omitempty"`
}

// StepID builds the identifier of the step at index using tool.
func StepID(index int, tool string) string {
	return fmt.Sprintf("step_%d_%s", index, tool)
}

// Method returns the step's method parameter, if any.
func (s Step) Method() string {
	if v, ok := s.Parameters["method"]; ok {
		if m, ok := v.Str(); ok {
			return m
		}
	}
	return ""
}

// StructuredStep is one entry of a pre-analyzed task structure.
type StructuredStep struct {
	Tool        string    `json:"tool" yaml:"tool"`
	Method      string    `json:"method,omitempty" yaml:"method,omitempty"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  param.Map `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// TaskStructure is the step outline produced alongside a task analysis.
type TaskStructure struct {
	Steps []StructuredStep `json:"steps" yaml:"steps"`
}

// AnalysisSource records how an analysis was produced.
type AnalysisSource string

const (
	AnalysisGenerative AnalysisSource = "generative"
	AnalysisKeyword    AnalysisSource = "keyword"
)

// TaskAnalysis is the classification of a task.
type TaskAnalysis struct {
	TaskType       TaskType       `json:"task_type"`
	Complexity     Complexity     `json:"complexity"`
	RequiredTools  []string       `json:"required_tools"`
	EstimatedSteps int            `json:"estimated_steps"`
	QueryParams    param.Map      `json:"query_params,omitempty"`
	RequiredFields []string       `json:"required_fields,omitempty"`
	TaskStructure  *TaskStructure `json:"task_structure,omitempty"`
	Source         AnalysisSource `json:"source"`
}

// PlanSource records which decomposition path produced the steps.
type PlanSource string

const (
	SourcePreAnalyzed PlanSource = "pre_analyzed"
	SourceGenerative  PlanSource = "generative"
	SourceFallback    PlanSource = "fallback"
	SourceEmpty       PlanSource = "empty"
)

// PlanningContext carries what the decomposer may reuse from earlier stages.
type PlanningContext struct {
	Analysis *TaskAnalysis
}

// Structure returns the pre-analyzed steps, if any.
func (pc PlanningContext) Structure() []StructuredStep {
	if pc.Analysis == nil || pc.Analysis.TaskStructure == nil {
		return nil
	}
	return pc.Analysis.TaskStructure.Steps
}

// RequiredFields returns the analyzer's field list, if any.
func (pc PlanningContext) RequiredFields() []string {
	if pc.Analysis == nil {
		return nil
	}
	return pc.Analysis.RequiredFields
}

// QueryParams returns the analyzer's query parameters, if any.
func (pc PlanningContext) QueryParams() param.Map {
	if pc.Analysis == nil {
		return nil
	}
	return pc.Analysis.QueryParams
}

// Decomposition is the decomposer's output.
type Decomposition struct {
	Steps    []Step     `json:"steps"`
	Source   PlanSource `json:"source"`
	Warnings []string   `json:"warnings,omitempty"`
}

// Plan is a finished, ordered list of steps for a task.
type Plan struct {
	TaskID      string        `json:"task_id"`
	Description string        `json:"description"`
	Analysis    *TaskAnalysis `json:"analysis,omitempty"`
	Steps       []Step        `json:"steps"`
	Source      PlanSource    `json:"source"`
	Warnings    []string      `json:"warnings,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// StepResult is the recorded output of one executed step.
type StepResult struct {
	StepID    string                 `json:"step_id"`
	Tool      string                 `json:"tool"`
	Result    interface{}            `json:"result"`
	Extracted map[string]interface{} `json:"extracted"`
}

// Accumulated is the ordered, append-only record of executed steps.
type Accumulated struct {
	mu      sync.RWMutex
	results []StepResult
}

// NewAccumulated returns an empty record, optionally seeded with results.
func NewAccumulated(results ...StepResult) *Accumulated {
	a := &Accumulated{}
	for _, r := range results {
		a.Add(r)
	}
	return a
}

// Add appends r.
func (a *Accumulated) Add(r StepResult) {
	a.mu.Lock()
	a.results = append(a.results, r)
	a.mu.Unlock()
}

// Len reports how many results have been recorded.
func (a *Accumulated) Len() int {
	if a == nil {
		return 0
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.results)
}

// All returns the results in insertion order.
func (a *Accumulated) All() []StepResult {
	if a == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]StepResult(nil), a.results...)
}

// Get returns the latest result recorded for stepID.
func (a *Accumulated) Get(stepID string) (StepResult, bool) {
	all := a.All()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].StepID == stepID {
			return all[i], true
		}
	}
	return StepResult{}, false
}

// ResolutionReport explains how a step's inputs were filled.
type ResolutionReport struct {
	// Resolved maps an input name to where its value came from.
	Resolved   map[string]string `json:"resolved,omitempty"`
	Unresolved []string          `json:"unresolved,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Warnf appends a formatted warning.
func (r *ResolutionReport) Warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// MarkResolved records the source of input.
func (r *ResolutionReport) MarkResolved(input, source string) {
	if r.Resolved == nil {
		r.Resolved = make(map[string]string)
	}
	r.Resolved[input] = source
}

// Selection asks the toolset to pick a tool for a capability.
type Selection struct {
	Capability string
	TaskType   TaskType
	Strategy   string
	Exclude    []string
}
