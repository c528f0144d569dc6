package router

import (
	"fmt"
	"strings"

	"github.com/Knetic/govaluate"
	"github.com/ZanzyTHEbar/stepwise/internal/registry"
)

// builtinFunctions are always available to constraint expressions.
var builtinFunctions = map[string]govaluate.ExpressionFunction{
	"contains": func(args ...interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
		}
		return strings.Contains(strings.ToLower(fmt.Sprint(args[0])), strings.ToLower(fmt.Sprint(args[1]))), nil
	},
	"lower": func(args ...interface{}) (interface{}, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lower expects 1 argument, got %d", len(args))
		}
		return strings.ToLower(fmt.Sprint(args[0])), nil
	},
}

func (r *Router) functions() map[string]govaluate.ExpressionFunction {
	out := make(map[string]govaluate.ExpressionFunction, len(builtinFunctions)+len(r.funcs))
	for k, v := range builtinFunctions {
		out[k] = v
	}
	for k, v := range r.funcs {
		out[k] = v
	}
	return out
}

// compile parses a constraint expression against the router's functions.
func (r *Router) compile(expr string) (*govaluate.EvaluableExpression, error) {
	e, err := govaluate.NewEvaluableExpressionWithFunctions(expr, r.functions())
	if err != nil {
		return nil, fmt.Errorf("constraint expression %q: %w", expr, err)
	}
	return e, nil
}

// ValidateExpression reports whether expr parses.
func (r *Router) ValidateExpression(expr string) error {
	_, err := r.compile(expr)
	return err
}

// expressionParams exposes a candidate's metrics to an expression.
func expressionParams(m registry.ToolMetadata) map[string]interface{} {
	return map[string]interface{}{
		"name":         m.Name,
		"category":     m.Category,
		"cost":         float64(m.Cost),
		"cost_tier":    m.Cost.String(),
		"reliability":  m.Reliability,
		"latency_ms":   float64(m.AvgLatency.Milliseconds()),
		"invocations":  float64(m.Usage.Invocations),
		"capabilities": strings.Join(m.Capabilities, ","),
		"tags":         strings.Join(m.Tags, ","),

		"max_concurrency": float64(m.MaxConcurrency),
		"requires_auth":   m.RequiresAuth,
		"rate_limit":      float64(m.RateLimit),
	}
}

func matches(e *govaluate.EvaluableExpression, m registry.ToolMetadata) (bool, error) {
	res, err := e.Evaluate(expressionParams(m))
	if err != nil {
		return false, err
	}
	ok, isBool := res.(bool)
	if !isBool {
		return false, fmt.Errorf("expression yielded %T, want bool", res)
	}
	return ok, nil
}
