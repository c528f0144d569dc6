// Package toolbox bundles the tool schema store, the capability catalog, the
// metadata registry and the router into one explicitly constructed value that
// the planner consults for both schema lookups and scored tool selection.
package toolbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/capability"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/registry"
	"github.com/ZanzyTHEbar/stepwise/internal/router"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
)

// Toolbox implements stepwise.Toolset.
type Toolbox struct {
	schemas    *schema.Store
	catalog    *capability.Catalog
	registry   *registry.Registry
	router     *router.Router
	routerOpts []router.Option
	strategy   router.Strategy
	logger     logging.Logger
	onRoute    RouteFunc
}

// RouteFunc observes every successful selection.
type RouteFunc func(sel stepwise.Selection, d router.Decision)

var _ stepwise.Toolset = (*Toolbox)(nil)

// Option configures a Toolbox.
type Option func(*Toolbox)

func WithLogger(l logging.Logger) Option {
	return func(t *Toolbox) { t.logger = l }
}

// WithStrategy sets the strategy Select uses when the selection names none.
func WithStrategy(s router.Strategy) Option {
	return func(t *Toolbox) { t.strategy = s }
}

// WithRouteHook calls fn after every successful Select.
func WithRouteHook(fn RouteFunc) Option {
	return func(t *Toolbox) { t.onRoute = fn }
}

// WithRouterOptions passes options through to the router.
func WithRouterOptions(opts ...router.Option) Option {
	return func(t *Toolbox) { t.routerOpts = append(t.routerOpts, opts...) }
}

// New assembles a toolbox. Schema tools missing from reg get a synthesised
// registry entry so every tool the planner can name can also be routed to.
func New(schemas *schema.Store, catalog *capability.Catalog, reg *registry.Registry, opts ...Option) *Toolbox {
	t := &Toolbox{
		schemas:  schemas,
		catalog:  catalog,
		registry: reg,
		strategy: router.StrategyBalanced,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.OrNop(t.logger)
	if t.schemas == nil {
		t.schemas = schema.NewStore(nil, t.logger)
	}
	if t.catalog == nil {
		t.catalog = &capability.Catalog{}
	}
	if t.registry == nil {
		t.registry = registry.New(registry.WithLogger(t.logger))
	}
	t.router = router.New(t.registry, append([]router.Option{router.WithLogger(t.logger)}, t.routerOpts...)...)
	t.syncRegistry()
	return t
}

// syncRegistry registers a synthesised entry for every schema tool the
// registry does not know yet.
func (t *Toolbox) syncRegistry() {
	for _, name := range t.schemas.ListTools() {
		if _, ok := t.registry.Get(name); ok {
			continue
		}
		tool, _ := t.schemas.Tool(name)
		meta := t.synthesise(tool)
		if err := t.registry.Register(meta); err != nil {
			t.logger.Warn("could not register schema tool", logging.Fields{"tool": name, "error": err.Error()})
			continue
		}
		t.logger.Debug("synthesised registry entry", logging.Fields{"tool": name, "capabilities": meta.Capabilities})
	}
}

func (t *Toolbox) synthesise(tool *schema.Tool) registry.ToolMetadata {
	seen := make(map[string]bool)
	var caps []string
	add := func(c string) {
		c = strings.ToLower(strings.TrimSpace(c))
		if c != "" && !seen[c] {
			seen[c] = true
			caps = append(caps, c)
		}
	}
	add(tool.Name)
	add(tool.Metadata.Category)
	description := tool.Description
	for _, e := range t.catalog.ForTool(tool.Name) {
		add(e.Name)
		for _, a := range e.Actions {
			add(a)
		}
		if description == "" {
			description = e.Description
		}
	}
	return registry.ToolMetadata{
		Name:         tool.Name,
		Description:  description,
		Capabilities: caps,
		Category:     tool.Metadata.Category,
		Tags:         []string{"synthesised"},
		Cost:         registry.CostLow,
		AvgLatency:   registry.DefaultLatency,
		Reliability:  registry.DefaultReliability,

		MaxConcurrency: registry.DefaultMaxConcurrency,
	}
}

// Schemas returns the schema store.
func (t *Toolbox) Schemas() *schema.Store { return t.schemas }

// Catalog returns the capability catalog.
func (t *Toolbox) Catalog() *capability.Catalog { return t.catalog }

// Registry returns the metadata registry.
func (t *Toolbox) Registry() *registry.Registry { return t.registry }

// Router returns the router.
func (t *Toolbox) Router() *router.Router { return t.router }

// Schema returns the I/O schema of tool.
func (t *Toolbox) Schema(tool string) (*schema.Tool, bool) {
	return t.schemas.Tool(tool)
}

// ToolNames lists schema tools in document order, then enabled registry-only
// tools by name.
func (t *Toolbox) ToolNames() []string {
	names := t.schemas.ListTools()
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	var extra []string
	for _, m := range t.registry.List() {
		if !seen[m.Name] && m.Enabled() {
			extra = append(extra, m.Name)
		}
	}
	sort.Strings(extra)
	return append(names, extra...)
}

// DescribeCapabilities renders the capability catalog for prompts. Without a
// catalog the schema tools are listed with their descriptions.
func (t *Toolbox) DescribeCapabilities() string {
	if d := t.catalog.Describe(); d != "" {
		return d
	}
	var b strings.Builder
	for _, name := range t.schemas.ListTools() {
		tool, _ := t.schemas.Tool(name)
		fmt.Fprintf(&b, "- %s: %s\n", name, strings.TrimSpace(tool.Description))
	}
	return b.String()
}

// HasCapability reports whether an enabled tool offers capability.
func (t *Toolbox) HasCapability(capability string) bool {
	return len(t.registry.FindByCapability(capability)) > 0
}

// Select routes sel through the router and returns the chosen tool's name.
func (t *Toolbox) Select(ctx context.Context, sel stepwise.Selection) (string, error) {
	strategy := t.strategy
	if sel.Strategy != "" {
		s, err := router.ParseStrategy(sel.Strategy)
		if err != nil {
			return "", stepwise.NewValidationError("select", err.Error(), err)
		}
		strategy = s
	}
	d, err := t.router.Route(ctx, router.Request{
		Capability: sel.Capability,
		TaskType:   string(sel.TaskType),
	}, strategy, router.Constraints{ExcludeTools: sel.Exclude})
	if err != nil {
		if ctx.Err() != nil {
			return "", stepwise.NewCancelledError("select", ctx.Err())
		}
		return "", stepwise.NewNoCandidateError(sel.Capability, err)
	}
	if t.onRoute != nil {
		t.onRoute(sel, d)
	}
	return d.Tool.Name, nil
}

// RecordOutcome folds one execution outcome into the tool's statistics.
func (t *Toolbox) RecordOutcome(tool string, success bool, latency time.Duration) error {
	if _, ok := t.registry.Get(tool); !ok {
		return stepwise.NewUnknownToolError("stats", tool)
	}
	return t.registry.UpdateStats(tool, success, latency)
}

// Watch reloads the schema document at path whenever it changes, until ctx
// is done. New schema tools are added to the registry after each reload.
func (t *Toolbox) Watch(ctx context.Context, path string, onReload func(*schema.Document, error)) error {
	return t.schemas.Watch(ctx, path, func(doc *schema.Document, err error) {
		if err == nil {
			t.syncRegistry()
		}
		if onReload != nil {
			onReload(doc, err)
		}
	})
}
