// Package capability reads the tool capability document that describes, in prose
// and keywords, what each tool can do for the planner.
package capability

import (
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"gopkg.in/yaml.v3"
)

// DisabledPrefix marks entries hidden from planning.
const DisabledPrefix = "_"

// Entry describes one capability. Tool defaults to the entry name.
type Entry struct {
	Name             string    `yaml:"-"`
	Tool             string    `yaml:"tool"`
	Method           string    `yaml:"method"`
	Description      string    `yaml:"description"`
	Actions          []string  `yaml:"actions"`
	Keywords         []string  `yaml:"keywords"`
	SelectorHints    []string  `yaml:"selector_hints"`
	RequiresSelector bool      `yaml:"requires_selector"`
	Parameters       param.Map `yaml:"parameters"`
}

// Catalog holds the enabled entries of a capability document in document order.
type Catalog struct {
	entries  map[string]Entry
	order    []string
	disabled []string
}

// Load reads a capability document from path.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("read capability document %s", path), err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("parse capability document %s", path), err)
	}
	return c, nil
}

// Parse decodes a capability document.
func Parse(data []byte) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]Entry)}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if root.Kind == 0 {
		return c, nil
	}
	top := &root
	if top.Kind == yaml.DocumentNode && len(top.Content) > 0 {
		top = top.Content[0]
	}
	if top.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("capability document must be a mapping")
	}
	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		if strings.HasPrefix(name, DisabledPrefix) {
			c.disabled = append(c.disabled, name)
			continue
		}
		var e Entry
		if err := top.Content[i+1].Decode(&e); err != nil {
			return nil, fmt.Errorf("capability %q: %w", name, err)
		}
		e.Name = name
		if e.Tool == "" {
			e.Tool = name
		}
		if _, dup := c.entries[name]; !dup {
			c.order = append(c.order, name)
		}
		c.entries[name] = e
	}
	return c, nil
}

// Enabled returns all visible entries in document order.
func (c *Catalog) Enabled() []Entry {
	if c == nil {
		return nil
	}
	out := make([]Entry, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.entries[name])
	}
	return out
}

// Disabled lists the names of hidden entries.
func (c *Catalog) Disabled() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.disabled...)
}

// Lookup finds an enabled entry by name.
func (c *Catalog) Lookup(name string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	e, ok := c.entries[name]
	return e, ok
}

// ForTool returns the entries backed by tool.
func (c *Catalog) ForTool(tool string) []Entry {
	var out []Entry
	for _, e := range c.Enabled() {
		if e.Tool == tool {
			out = append(out, e)
		}
	}
	return out
}

// Match returns entries with a keyword or action that occurs as a word in text.
func (c *Catalog) Match(text string) []Entry {
	words := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_' || r == '-')
	}) {
		words[w] = struct{}{}
	}
	var out []Entry
	for _, e := range c.Enabled() {
		for _, kw := range append(append([]string(nil), e.Keywords...), e.Actions...) {
			if _, hit := words[strings.ToLower(strings.TrimSpace(kw))]; hit {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// Describe renders the enabled entries as a bullet list for prompts.
func (c *Catalog) Describe() string {
	var b strings.Builder
	for _, e := range c.Enabled() {
		target := e.Tool
		if e.Method != "" {
			target += "." + e.Method
		}
		fmt.Fprintf(&b, "- %s (%s): %s", e.Name, target, strings.TrimSpace(e.Description))
		if len(e.Keywords) > 0 {
			fmt.Fprintf(&b, " [keywords: %s]", strings.Join(e.Keywords, ", "))
		}
		if e.RequiresSelector {
			b.WriteString(" [needs selector]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
