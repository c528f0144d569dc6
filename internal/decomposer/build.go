package decomposer

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/analyzer"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/ZanzyTHEbar/stepwise/internal/resolver"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
	"github.com/ZanzyTHEbar/stepwise/internal/textscan"
)

// DefaultMethod is the navigation action used when a tool requires a method
// and declares no default.
const DefaultMethod = "navigate"

var versionedPath = regexp.MustCompile(`/v\d+(/|$)`)

// builder turns drafts into finished steps for one Decompose call.
type builder struct {
	d        *Decomposer
	ctx      context.Context
	task     string
	pc       stepwise.PlanningContext
	warnings []string
}

func (b *builder) warnf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.warnings = append(b.warnings, msg)
	b.d.logger.Warn(msg, nil)
}

// build resolves each draft into a step and chains the survivors.
func (b *builder) build(drafts []draft) []stepwise.Step {
	var steps []stepwise.Step
	for _, dr := range drafts {
		step, ok := b.step(dr)
		if !ok {
			continue
		}
		i := len(steps)
		step.ID = stepwise.StepID(i, step.Tool)
		if i > 0 {
			step.DependsOn = steps[i-1].ID
		}
		steps = append(steps, step)
	}
	return steps
}

func (b *builder) step(dr draft) (stepwise.Step, bool) {
	tool, ok := b.resolveTool(dr.tool)
	if !ok {
		b.warnf("dropping step for unknown tool %q", dr.tool)
		return stepwise.Step{}, false
	}
	sch, _ := b.d.tools.Schema(tool)

	supplied := dr.params.Clone()
	if supplied == nil {
		supplied = param.Map{}
	}
	if m := strings.TrimSpace(dr.method); m != "" && !supplied.Has("method") {
		supplied["method"] = param.String(m)
	}
	if dr.requireMethod && sch != nil && sch.RequiresMethod() && !supplied.Has("method") {
		b.warnf("dropping %s step without a method", tool)
		return stepwise.Step{}, false
	}

	text := strings.TrimSpace(dr.description)
	if text == "" {
		text = b.task
	}
	params := b.infer(sch, text, supplied)
	for k, v := range supplied {
		params[k] = v
	}
	b.coerce(tool, sch, params)
	b.propagateQuery(tool, sch, params)

	step := stepwise.Step{
		Tool:        tool,
		Description: strings.TrimSpace(dr.description),
		Parameters:  params,
	}
	if step.Description == "" {
		step.Description = strings.TrimSpace(tool + " " + step.Method())
	}
	if strings.Contains(strings.ToLower(step.Method()), "extract") {
		fields := b.pc.RequiredFields()
		if len(fields) == 0 {
			fields = analyzer.DefaultRequiredFields
		}
		step.Metadata = &stepwise.StepMetadata{
			RequiredFields:    append([]string(nil), fields...),
			CheckCompleteness: true,
		}
	}
	return step, true
}

// resolveTool accepts known tools as they are and routes a name that is only
// a capability to the tool the toolset selects for it.
func (b *builder) resolveTool(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if _, ok := b.d.tools.Schema(name); ok {
		return name, true
	}
	for _, n := range b.d.tools.ToolNames() {
		if n == name {
			return name, true
		}
	}
	if !b.d.tools.HasCapability(name) {
		return "", false
	}
	sel := stepwise.Selection{Capability: name, Strategy: b.d.strategy}
	if b.pc.Analysis != nil {
		sel.TaskType = b.pc.Analysis.TaskType
	}
	chosen, err := b.d.tools.Select(b.ctx, sel)
	if err != nil {
		b.warnf("no tool for capability %q: %v", name, err)
		return "", false
	}
	b.d.logger.Debug("routed capability to tool", logging.Fields{"capability": name, "tool": chosen})
	return chosen, true
}

// infer derives base values for the declared inputs the draft did not supply.
// Required inputs fall back to their schema default.
func (b *builder) infer(sch *schema.Tool, text string, supplied param.Map) param.Map {
	out := param.Map{}
	if sch == nil {
		return out
	}
	for _, in := range sch.Inputs {
		if supplied.Has(in.Name) {
			continue
		}
		if v, ok := b.inferInput(in, text); ok {
			out[in.Name] = v
			continue
		}
		if in.Required && in.HasDefault {
			out[in.Name] = in.Default
		}
	}
	return out
}

func (b *builder) inferInput(in schema.Input, text string) (param.Value, bool) {
	qp := b.pc.QueryParams()
	switch in.Name {
	case "query":
		if in.Required && text != "" {
			return param.String(text), true
		}
	case "url":
		if !in.Required {
			break
		}
		if u, ok := textscan.FirstURL(text); ok {
			return param.String(u), true
		}
		if u, ok := textscan.FirstURL(b.task); ok {
			return param.String(u), true
		}
	case "required_fields":
		if fields := b.pc.RequiredFields(); len(fields) > 0 {
			return param.Strings(fields), true
		}
	case "limit":
		for _, key := range []string{"limit", "max_results", "count", "top"} {
			if v, ok := qp[key]; ok {
				if n, err := param.Coerce(v, "integer"); err == nil {
					return n, true
				}
			}
		}
	case "method":
		if in.Required {
			if in.HasDefault {
				return in.Default, true
			}
			return param.String(DefaultMethod), true
		}
	case "params":
		if len(qp) > 0 {
			return param.Object(qp.Clone()), true
		}
	case "args":
		if in.Required {
			return param.Object(param.Map{}), true
		}
	}
	return param.Null(), false
}

// coerce converts literal values to their declared input types. A value that
// cannot be converted is dropped with a warning; placeholders are left for the
// resolver.
func (b *builder) coerce(tool string, sch *schema.Tool, params param.Map) {
	if sch == nil {
		return
	}
	for name, v := range params {
		if v.IsNull() {
			delete(params, name)
			continue
		}
		in, ok := sch.Input(name)
		if !ok || in.Type == "" {
			continue
		}
		if s, isStr := v.Str(); isStr && resolver.IsPlaceholder(s) {
			continue
		}
		c, err := param.Coerce(v, in.Type)
		if err != nil {
			b.warnf("%s.%s: %v; omitted", tool, name, err)
			delete(params, name)
			continue
		}
		params[name] = c
	}
}

// propagateQuery attaches the analyzer's query parameters to API-style steps:
// as the params input when the tool declares one, else on the URL.
func (b *builder) propagateQuery(tool string, sch *schema.Tool, params param.Map) {
	qp := b.pc.QueryParams()
	if len(qp) == 0 {
		return
	}
	rawURL, _ := params["url"].Str()
	literalURL := rawURL != "" && !resolver.IsPlaceholder(rawURL)
	if !isAPITool(tool, sch) && !(literalURL && isAPIURL(rawURL)) {
		return
	}
	if sch != nil {
		if _, ok := sch.Input("params"); ok {
			if !params.Has("params") {
				params["params"] = param.Object(qp.Clone())
			}
			return
		}
	}
	if literalURL {
		params["url"] = param.String(appendQuery(rawURL, qp))
	}
}

func isAPITool(tool string, sch *schema.Tool) bool {
	if sch != nil && strings.EqualFold(sch.Metadata.Category, "api") {
		return true
	}
	return strings.Contains(strings.ToLower(tool), "api")
}

// isAPIURL recognises api.* hosts, /api/ and /vN/ paths, and .json resources.
func isAPIURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasPrefix(strings.ToLower(u.Host), "api.") ||
		strings.Contains(path+"/", "/api/") ||
		versionedPath.MatchString(path) ||
		strings.HasSuffix(path, ".json")
}

// appendQuery serialises qp onto raw's query string, joining with & when raw
// already has one.
func appendQuery(raw string, qp param.Map) string {
	values := url.Values{}
	for _, k := range qp.Keys() {
		v := qp[k]
		if items, ok := v.Items(); ok {
			for _, it := range items {
				values.Add(k, it.String())
			}
			continue
		}
		values.Add(k, v.String())
	}
	encoded := values.Encode()
	if encoded == "" {
		return raw
	}
	fragment := ""
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		raw, fragment = raw[:i], raw[i:]
	}
	switch {
	case !strings.Contains(raw, "?"):
		raw += "?" + encoded
	case strings.HasSuffix(raw, "?") || strings.HasSuffix(raw, "&"):
		raw += encoded
	default:
		raw += "&" + encoded
	}
	return raw + fragment
}
