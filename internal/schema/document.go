// Package schema loads the tool I/O schema document: for each tool, its declared
// inputs, its outputs with the extractor that produces each one, and metadata.
package schema

import (
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"gopkg.in/yaml.v3"
)

// Reserved top-level keys hold document metadata rather than tools.
const (
	KeySchema      = "$schema"
	KeyID          = "$id"
	KeyTitle       = "title"
	KeyDescription = "description"
	KeyVersion     = "version"
)

// DefaultExtractor is used for outputs that do not name one.
const DefaultExtractor = "identity"

// Input is one declared tool input.
type Input struct {
	Name        string
	Type        string
	Required    bool
	AcceptsFrom []string
	Default     param.Value
	HasDefault  bool
	Description string
}

// Output is one declared tool output.
type Output struct {
	Name        string
	Extractor   string
	Description string
}

// Metadata describes a tool as a whole.
type Metadata struct {
	Category               string
	SupportsDynamicOutputs bool
}

// Tool is the schema of a single tool. Inputs and Outputs keep document order.
type Tool struct {
	Name        string
	Description string
	Inputs      []Input
	Outputs     []Output
	Metadata    Metadata
}

// Input returns the declared input called name.
func (t *Tool) Input(name string) (Input, bool) {
	for _, in := range t.Inputs {
		if in.Name == name {
			return in, true
		}
	}
	return Input{}, false
}

// RequiredInputs lists the names of required inputs in declaration order.
func (t *Tool) RequiredInputs() []string {
	var names []string
	for _, in := range t.Inputs {
		if in.Required {
			names = append(names, in.Name)
		}
	}
	return names
}

// RequiresMethod reports whether a step for this tool must name a method.
func (t *Tool) RequiresMethod() bool {
	in, ok := t.Input("method")
	return ok && in.Required
}

// Document is a parsed schema document.
type Document struct {
	SchemaURI   string
	ID          string
	Title       string
	Description string
	Version     string
	tools       map[string]*Tool
	order       []string
}

// Tool looks a tool up by exact name.
func (d *Document) Tool(name string) (*Tool, bool) {
	t, ok := d.tools[name]
	return t, ok
}

// Names lists tool names in document order.
func (d *Document) Names() []string {
	return append([]string(nil), d.order...)
}

type rawTool struct {
	Description string    `yaml:"description"`
	Inputs      yaml.Node `yaml:"inputs"`
	Outputs     yaml.Node `yaml:"outputs"`
	Metadata    rawMeta   `yaml:"metadata"`
}

type rawMeta struct {
	Category               string `yaml:"category"`
	SupportsDynamicOutputs *bool  `yaml:"supports_dynamic_outputs"`
}

type rawInput struct {
	Type        string    `yaml:"type"`
	Required    bool      `yaml:"required"`
	AcceptsFrom yaml.Node `yaml:"accepts_from"`
	Default     yaml.Node `yaml:"default"`
	Description string    `yaml:"description"`
}

type rawOutput struct {
	Extractor   string `yaml:"extractor"`
	Description string `yaml:"description"`
}

// Load reads and parses the document at path. YAML and JSON are both accepted.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("read schema document %s", path), err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("parse schema document %s", path), err)
	}
	return doc, nil
}

// Parse decodes a schema document.
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	doc := &Document{tools: make(map[string]*Tool)}
	if root.Kind == 0 {
		return doc, nil
	}
	top := &root
	if top.Kind == yaml.DocumentNode && len(top.Content) > 0 {
		top = top.Content[0]
	}
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema document must be a mapping, got %s", kindName(top.Kind))
	}

	for i := 0; i+1 < len(top.Content); i += 2 {
		key, val := top.Content[i].Value, top.Content[i+1]
		switch key {
		case KeySchema:
			doc.SchemaURI = val.Value
			continue
		case KeyID:
			doc.ID = val.Value
			continue
		case KeyTitle:
			doc.Title = val.Value
			continue
		case KeyDescription:
			doc.Description = val.Value
			continue
		case KeyVersion:
			doc.Version = val.Value
			continue
		}
		tool, err := parseTool(key, val)
		if err != nil {
			return nil, err
		}
		if _, dup := doc.tools[key]; !dup {
			doc.order = append(doc.order, key)
		}
		doc.tools[key] = tool
	}
	return doc, nil
}

func parseTool(name string, node *yaml.Node) (*Tool, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("tool %q: expected a mapping, got %s", name, kindName(node.Kind))
	}
	var raw rawTool
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("tool %q: %w", name, err)
	}
	tool := &Tool{
		Name:        name,
		Description: raw.Description,
		Metadata: Metadata{
			Category:               raw.Metadata.Category,
			SupportsDynamicOutputs: true,
		},
	}
	if raw.Metadata.SupportsDynamicOutputs != nil {
		tool.Metadata.SupportsDynamicOutputs = *raw.Metadata.SupportsDynamicOutputs
	}

	err := eachPair(&raw.Inputs, func(key string, val *yaml.Node) error {
		var ri rawInput
		if val.Kind == yaml.MappingNode {
			if err := val.Decode(&ri); err != nil {
				return err
			}
		}
		in := Input{Name: key, Type: ri.Type, Required: ri.Required, Description: ri.Description}
		sources, err := stringList(&ri.AcceptsFrom)
		if err != nil {
			return fmt.Errorf("accepts_from: %w", err)
		}
		in.AcceptsFrom = sources
		if ri.Default.Kind != 0 {
			if err := ri.Default.Decode(&in.Default); err != nil {
				return fmt.Errorf("default: %w", err)
			}
			in.HasDefault = true
		}
		tool.Inputs = append(tool.Inputs, in)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tool %q inputs: %w", name, err)
	}

	err = eachPair(&raw.Outputs, func(key string, val *yaml.Node) error {
		var ro rawOutput
		switch val.Kind {
		case yaml.MappingNode:
			if err := val.Decode(&ro); err != nil {
				return err
			}
		case yaml.ScalarNode:
			// shorthand: output: extractor_name
			ro.Extractor = val.Value
		}
		if ro.Extractor == "" {
			ro.Extractor = DefaultExtractor
		}
		tool.Outputs = append(tool.Outputs, Output{Name: key, Extractor: ro.Extractor, Description: ro.Description})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("tool %q outputs: %w", name, err)
	}
	return tool, nil
}

// eachPair walks a mapping node in order. Absent and null nodes are empty.
func eachPair(node *yaml.Node, fn func(key string, val *yaml.Node) error) error {
	if node.Kind == 0 || node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("expected a mapping, got %s", kindName(node.Kind))
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if err := fn(node.Content[i].Value, node.Content[i+1]); err != nil {
			return fmt.Errorf("%s: %w", node.Content[i].Value, err)
		}
	}
	return nil
}

func stringList(node *yaml.Node) ([]string, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			return nil, nil
		}
		return []string{node.Value}, nil
	case yaml.SequenceNode:
		var out []string
		if err := node.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected a string or list, got %s", kindName(node.Kind))
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "empty node"
}
