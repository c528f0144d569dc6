// Package prompt holds the named dotprompt templates used for analysis and
// decomposition. Built-in prompts are embedded; a prompt directory can
// override them by file name.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
	"github.com/google/dotprompt/go/dotprompt"
)

// Names of the built-in prompts.
const (
	Analyze        = "analyze"
	RequiredFields = "required_fields"
	QueryParams    = "query_params"
	TaskType       = "task_type"
	Decompose      = "decompose"
)

const promptExt = ".prompt"

//go:embed prompts/*.prompt
var builtin embed.FS

// Registry manages named prompts.
type Registry struct {
	mu       sync.RWMutex
	sources  map[string]string
	meta     map[string]dotprompt.PromptMetadata
	helpers  map[string]any
	partials map[string]string
}

// Option configures a Registry.
type Option func(*Registry)

// WithHelper makes fn callable from prompts as a Handlebars helper.
func WithHelper(name string, fn any) Option {
	return func(r *Registry) { r.helpers[name] = fn }
}

// WithPartial makes source includable from prompts as {{> name}}.
func WithPartial(name, source string) Option {
	return func(r *Registry) { r.partials[name] = source }
}

// NewRegistry returns a registry holding the built-in prompts.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		sources:  make(map[string]string),
		meta:     make(map[string]dotprompt.PromptMetadata),
		helpers:  map[string]any{"join": join, "upper": strings.ToUpper},
		partials: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	entries, err := builtin.ReadDir("prompts")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		data, err := builtin.ReadFile("prompts/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := r.Define(strings.TrimSuffix(e.Name(), promptExt), string(data)); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is NewRegistry for the built-in prompts, which always parse.
func MustRegistry() *Registry {
	r, err := NewRegistry()
	if err != nil {
		panic(err)
	}
	return r
}

// engine returns a fresh dotprompt instance. A Dotprompt keeps the last
// compiled template and its registered helpers, so instances are not shared
// between compilations.
func (r *Registry) engine() *dotprompt.Dotprompt {
	helpers := make(map[string]any, len(r.helpers))
	for k, v := range r.helpers {
		helpers[k] = v
	}
	partials := make(map[string]string, len(r.partials))
	for k, v := range r.partials {
		partials[k] = v
	}
	return dotprompt.NewDotprompt(&dotprompt.DotpromptOptions{Helpers: helpers, Partials: partials})
}

// Define adds or replaces a prompt. source is a .prompt document: optional
// YAML frontmatter followed by a Handlebars template.
func (r *Registry) Define(name, source string) error {
	if _, err := r.engine().Compile(source, nil); err != nil {
		return errbuilder.GenericErr(fmt.Sprintf("failed to define prompt '%s'", name), err)
	}
	parsed, err := dotprompt.ParseDocument(source)
	if err != nil {
		return errbuilder.GenericErr(fmt.Sprintf("failed to define prompt '%s'", name), err)
	}
	r.mu.Lock()
	r.sources[name] = source
	r.meta[name] = parsed.PromptMetadata
	r.mu.Unlock()
	return nil
}

// LoadDir defines one prompt per *.prompt file in dir, overriding built-ins of
// the same name.
func (r *Registry) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+promptExt))
	if err != nil {
		return err
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return errbuilder.GenericErr(fmt.Sprintf("failed to read prompt file %s", p), err)
		}
		if err := r.Define(strings.TrimSuffix(filepath.Base(p), promptExt), string(data)); err != nil {
			return err
		}
	}
	return nil
}

// Render renders the named prompt with input and returns its text. Role
// sections, if any, are separated by a blank line.
func (r *Registry) Render(name string, input map[string]any) (string, error) {
	r.mu.RLock()
	source, ok := r.sources[name]
	var dp *dotprompt.Dotprompt
	if ok {
		dp = r.engine()
	}
	r.mu.RUnlock()
	if !ok {
		return "", errbuilder.NotFoundErr(errbuilder.GenericErr(fmt.Sprintf("prompt '%s' not found", name), nil))
	}

	rendered, err := dp.Render(source, &dotprompt.DataArgument{Input: input}, nil)
	if err != nil {
		return "", errbuilder.GenericErr(fmt.Sprintf("failed to render prompt '%s'", name), err)
	}
	var sections []string
	for _, msg := range rendered.Messages {
		var b strings.Builder
		for _, part := range msg.Content {
			if t, ok := part.(*dotprompt.TextPart); ok {
				b.WriteString(t.Text)
			}
		}
		if s := strings.TrimSpace(b.String()); s != "" {
			sections = append(sections, s)
		}
	}
	return strings.Join(sections, "\n\n"), nil
}

// Metadata returns the frontmatter of the named prompt.
func (r *Registry) Metadata(name string) (dotprompt.PromptMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[name]
	return m, ok
}

// Names lists the defined prompts.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for n := range r.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func join(items []string, sep string) string {
	return strings.Join(items, sep)
}

// ToolView is the prompt-facing description of one tool.
type ToolView struct {
	Name        string
	Description string
	Inputs      []FieldView
	Outputs     []FieldView
	Example     string
}

// FieldView describes one input or output.
type FieldView struct {
	Name        string
	Type        string
	Required    bool
	Default     string
	Description string
}

// DescribeTool builds the view of t, with a one-line example call built from
// its required inputs.
func DescribeTool(t *schema.Tool) ToolView {
	v := ToolView{Name: t.Name, Description: strings.TrimSpace(t.Description)}
	var example []string
	for _, in := range t.Inputs {
		f := FieldView{Name: in.Name, Type: in.Type, Required: in.Required, Description: in.Description}
		if f.Type == "" {
			f.Type = "any"
		}
		if in.HasDefault {
			f.Default = in.Default.String()
		}
		v.Inputs = append(v.Inputs, f)
		if in.Required {
			example = append(example, fmt.Sprintf("%q: %s", in.Name, exampleValue(in)))
		}
	}
	for _, out := range t.Outputs {
		v.Outputs = append(v.Outputs, FieldView{Name: out.Name, Description: out.Description})
	}
	v.Example = fmt.Sprintf(`{"tool": %q, "parameters": {%s}, "description": "..."}`, t.Name, strings.Join(example, ", "))
	return v
}

func exampleValue(in schema.Input) string {
	if in.HasDefault {
		if s, ok := in.Default.Str(); ok {
			return fmt.Sprintf("%q", s)
		}
		return in.Default.String()
	}
	switch in.Type {
	case "integer", "int", "number":
		return "1"
	case "boolean", "bool":
		return "true"
	case "object", "map":
		return "{}"
	case "array", "list":
		return "[]"
	}
	return fmt.Sprintf(`"<%s>"`, in.Name)
}
