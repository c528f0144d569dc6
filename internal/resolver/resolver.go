// Package resolver threads data between planned steps: it fills a step's inputs
// from the recorded results of earlier steps and turns a raw tool result into
// the structured fields later steps can reference.
package resolver

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
)

// SchemaSource is the read-only schema view the resolver needs.
type SchemaSource interface {
	Tool(name string) (*schema.Tool, bool)
	ListTools() []string
	ValidateInputs(tool string, params param.Map) schema.Validation
	Stats() schema.Stats
}

// ExtractorFailureFunc observes an extractor that failed on a raw result.
type ExtractorFailureFunc func(tool, output string, err error)

// Resolver implements stepwise.Resolver over a schema source.
type Resolver struct {
	schemas   SchemaSource
	logger    logging.Logger
	onFailure ExtractorFailureFunc
}

var _ stepwise.Resolver = (*Resolver)(nil)

// Option configures a Resolver.
type Option func(*Resolver)

func WithLogger(l logging.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithExtractorFailureHook calls fn whenever an extractor fails.
func WithExtractorFailureHook(fn ExtractorFailureFunc) Option {
	return func(r *Resolver) { r.onFailure = fn }
}

// New creates a Resolver reading tool schemas from schemas.
func New(schemas SchemaSource, opts ...Option) *Resolver {
	r := &Resolver{schemas: schemas}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	if r.schemas == nil {
		r.schemas = schema.NewStore(nil, r.logger)
	}
	return r
}

const legacyPrefix = "$previous."

var (
	templatePattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)
	legacyPattern   = regexp.MustCompile(`^\$previous\.([A-Za-z0-9_\-]+)(?:\[(\d+)\])?$`)
)

// IsPlaceholder reports whether s defers to an earlier step's output.
func IsPlaceholder(s string) bool {
	return templatePattern.MatchString(s) || strings.HasPrefix(strings.TrimSpace(s), legacyPrefix)
}

func hasPlaceholder(v param.Value) bool {
	switch v.Kind() {
	case param.KindString:
		s, _ := v.Str()
		return IsPlaceholder(s)
	case param.KindList:
		items, _ := v.Items()
		for _, it := range items {
			if hasPlaceholder(it) {
				return true
			}
		}
	case param.KindMap:
		fields, _ := v.Fields()
		for _, f := range fields {
			if hasPlaceholder(f) {
				return true
			}
		}
	}
	return false
}

// ResolveInputs returns provided with placeholders replaced and missing required
// inputs filled from acc. Concrete values supplied by the caller are kept as
// they are. Whatever cannot be resolved is reported, never raised.
func (r *Resolver) ResolveInputs(tool string, provided param.Map, acc *stepwise.Accumulated) (param.Map, stepwise.ResolutionReport) {
	var report stepwise.ResolutionReport
	out := provided.Clone()
	results := acc.All()

	// placeholders first, in key order so warnings are stable
	for _, key := range out.Keys() {
		v := out[key]
		if !hasPlaceholder(v) {
			continue
		}
		resolved, source, ok := r.resolveValue(key, v, results, &report)
		if ok {
			out[key] = resolved
			report.MarkResolved(key, source)
		}
	}

	t, known := r.schemas.Tool(tool)
	if !known {
		report.Warnf("no schema for tool %q", tool)
		r.logger.Warn("no schema for tool", logging.Fields{"tool": tool})
		return out, report
	}

	for _, in := range t.Inputs {
		v, present := out[in.Name]
		switch {
		case present && !v.IsNull() && hasPlaceholder(v):
			// left untouched by the placeholder pass
			if in.Required {
				report.Unresolved = append(report.Unresolved, in.Name)
			}
			continue
		case present && !v.IsNull():
			if _, resolvedHere := report.Resolved[in.Name]; !resolvedHere {
				// caller-supplied literal: checked, never rewritten
				if _, err := param.Coerce(v, in.Type); err != nil {
					report.Warnf("input %q: %v", in.Name, err)
				}
				continue
			}
		case in.Required:
			if val, source, ok := r.fromAcceptsFrom(in, results); ok {
				v = val
				report.MarkResolved(in.Name, source)
			} else if in.HasDefault {
				v = in.Default
				report.MarkResolved(in.Name, "default")
			} else {
				report.Unresolved = append(report.Unresolved, in.Name)
				continue
			}
		default:
			continue
		}

		coerced, err := param.Coerce(v, in.Type)
		if err != nil {
			report.Warnf("input %q: %v; field omitted", in.Name, err)
			delete(out, in.Name)
			delete(report.Resolved, in.Name)
			if in.Required {
				report.Unresolved = append(report.Unresolved, in.Name)
			}
			continue
		}
		out[in.Name] = coerced
	}

	if len(report.Unresolved) > 0 {
		r.logger.Warn("required inputs unresolved", logging.Fields{
			"tool":   tool,
			"inputs": report.Unresolved,
		})
	}
	return out, report
}

// resolveValue resolves the placeholders inside v, recursing into lists and maps.
func (r *Resolver) resolveValue(key string, v param.Value, results []stepwise.StepResult, report *stepwise.ResolutionReport) (param.Value, string, bool) {
	switch v.Kind() {
	case param.KindString:
		s, _ := v.Str()
		return r.resolveString(key, s, results, report)
	case param.KindList:
		items, _ := v.Items()
		out := make([]param.Value, len(items))
		changed := false
		for i, it := range items {
			res, _, ok := r.resolveValue(fmt.Sprintf("%s[%d]", key, i), it, results, report)
			if ok {
				out[i], changed = res, true
			} else {
				out[i] = it
			}
		}
		return param.List(out...), "nested", changed
	case param.KindMap:
		fields, _ := v.Fields()
		out := fields.Clone()
		changed := false
		for _, k := range fields.Keys() {
			if !hasPlaceholder(fields[k]) {
				continue
			}
			if res, _, ok := r.resolveValue(key+"."+k, fields[k], results, report); ok {
				out[k], changed = res, true
			}
		}
		return param.Object(out), "nested", changed
	}
	return v, "", false
}

func (r *Resolver) resolveString(key, s string, results []stepwise.StepResult, report *stepwise.ResolutionReport) (param.Value, string, bool) {
	trimmed := strings.TrimSpace(s)

	// whole-value template keeps the referenced value's type
	if m := templatePattern.FindStringSubmatchIndex(trimmed); m != nil && m[0] == 0 && m[1] == len(trimmed) {
		path := trimmed[m[2]:m[3]]
		val, err := lookupTemplate(path, results)
		if err != nil {
			report.Warnf("input %q: template {{%s}} unresolved: %v", key, path, err)
			r.logger.Warn("template unresolved", logging.Fields{"input": key, "path": path, "error": err.Error()})
			return param.Value{}, "", false
		}
		return param.FromAny(val), "template:" + path, true
	}

	if templatePattern.MatchString(s) {
		resolvedAny := false
		out := templatePattern.ReplaceAllStringFunc(s, func(match string) string {
			path := strings.TrimSpace(match[2 : len(match)-2])
			val, err := lookupTemplate(path, results)
			if err != nil {
				report.Warnf("input %q: template {{%s}} unresolved: %v", key, path, err)
				return match
			}
			resolvedAny = true
			return param.FromAny(val).String()
		})
		if !resolvedAny {
			return param.Value{}, "", false
		}
		return param.String(out), "interpolated", true
	}

	if strings.HasPrefix(trimmed, legacyPrefix) {
		val, err := lookupLegacy(trimmed, results)
		if err != nil {
			report.Warnf("input %q: %s unresolved: %v", key, trimmed, err)
			r.logger.Warn("placeholder unresolved", logging.Fields{"input": key, "placeholder": trimmed, "error": err.Error()})
			return param.Value{}, "", false
		}
		return param.FromAny(val), "previous:" + strings.TrimPrefix(trimmed, legacyPrefix), true
	}
	return param.Value{}, "", false
}

func lookupTemplate(path string, results []stepwise.StepResult) (interface{}, error) {
	segs, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	head := segs[0]
	if head.index >= 0 {
		return nil, fmt.Errorf("step reference %q cannot be indexed", head)
	}
	step, ok := findStep(head.name, results)
	if !ok {
		return nil, fmt.Errorf("no step matches %q", head.name)
	}
	return walk(step.Extracted, segs[1:])
}

// lookupLegacy searches newest first, extracted fields before raw result fields.
func lookupLegacy(placeholder string, results []stepwise.StepResult) (interface{}, error) {
	m := legacyPattern.FindStringSubmatch(placeholder)
	if m == nil {
		return nil, fmt.Errorf("malformed placeholder")
	}
	seg := segment{name: m[1], index: -1}
	if m[2] != "" {
		seg.index, _ = strconv.Atoi(m[2])
	}
	for i := len(results) - 1; i >= 0; i-- {
		for _, root := range []interface{}{results[i].Extracted, results[i].Result} {
			if v, err := walk(root, []segment{seg}); err == nil {
				return v, nil
			}
		}
	}
	return nil, fmt.Errorf("no earlier step provides %q", seg)
}

// fromAcceptsFrom tries the input's candidate sources in order; the first one
// that resolves wins.
func (r *Resolver) fromAcceptsFrom(in schema.Input, results []stepwise.StepResult) (param.Value, string, bool) {
	for _, candidate := range in.AcceptsFrom {
		segs, err := parsePath(candidate)
		if err != nil || len(segs) < 2 || segs[0].index >= 0 {
			r.logger.Debug("invalid accepts_from candidate", logging.Fields{"input": in.Name, "candidate": candidate})
			continue
		}
		for _, step := range producers(segs[0].name, results) {
			if v, err := walk(step.Extracted, segs[1:]); err == nil {
				return param.FromAny(v), "accepts_from:" + candidate, true
			}
		}
	}
	return param.Value{}, "", false
}

// ValidateInputs checks params against the tool's declared inputs.
func (r *Resolver) ValidateInputs(tool string, params param.Map) schema.Validation {
	return r.schemas.ValidateInputs(tool, params)
}

// ToolMetadata returns the schema metadata of tool.
func (r *Resolver) ToolMetadata(tool string) (schema.Metadata, bool) {
	t, ok := r.schemas.Tool(tool)
	if !ok {
		return schema.Metadata{}, false
	}
	return t.Metadata, true
}

// ListTools lists the tools with a declared schema.
func (r *Resolver) ListTools() []string {
	return r.schemas.ListTools()
}

// ToolInputs returns the declared inputs of tool.
func (r *Resolver) ToolInputs(tool string) []schema.Input {
	if t, ok := r.schemas.Tool(tool); ok {
		return t.Inputs
	}
	return nil
}

// ToolOutputs returns the declared outputs of tool.
func (r *Resolver) ToolOutputs(tool string) []schema.Output {
	if t, ok := r.schemas.Tool(tool); ok {
		return t.Outputs
	}
	return nil
}

// SchemaStats summarises the loaded schema document.
func (r *Resolver) SchemaStats() schema.Stats {
	return r.schemas.Stats()
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
