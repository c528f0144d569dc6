package stepwise

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
)

// Generator is the generative language service used for analysis and planning.
// Callers must tolerate empty or malformed output.
type Generator interface {
	// GenerateText returns a free-text completion.
	GenerateText(ctx context.Context, prompt string) (string, error)
	// GenerateStructured fills out, a pointer to a JSON-decodable value, from
	// a response constrained to out's shape. A response that does not decode
	// is an error.
	GenerateStructured(ctx context.Context, prompt string, out interface{}) error
}

// Analyzer classifies a task.
type Analyzer interface {
	Analyze(ctx context.Context, description string) (*TaskAnalysis, error)
}

// Decomposer turns a task into an ordered list of steps.
type Decomposer interface {
	Decompose(ctx context.Context, description, taskID string, pc PlanningContext) (*Decomposition, error)
}

// Resolver fills step inputs from earlier results and extracts structured outputs.
type Resolver interface {
	ResolveInputs(tool string, provided param.Map, acc *Accumulated) (param.Map, ResolutionReport)
	ExtractOutputs(tool string, raw interface{}) map[string]interface{}
}

// Toolset is the single view of the available tools: their I/O schemas and
// capability descriptions, plus metadata-scored selection among them.
type Toolset interface {
	Schema(tool string) (*schema.Tool, bool)
	ToolNames() []string
	DescribeCapabilities() string
	// HasCapability reports whether any registered tool offers capability.
	HasCapability(capability string) bool
	Select(ctx context.Context, sel Selection) (string, error)
	RecordOutcome(tool string, success bool, latency time.Duration) error
}

// Cache stores finished plans.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}
