// Package registry keeps tool metadata and usage statistics and answers
// capability, category and free-text queries over them.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
)

// OptimizeFor selects the criterion GetBestTool ranks by.
type OptimizeFor string

const (
	OptimizeReliability OptimizeFor = "reliability"
	OptimizeLatency     OptimizeFor = "latency"
	OptimizeCost        OptimizeFor = "cost"
	OptimizeBalanced    OptimizeFor = "balanced"
)

// entry guards one tool's metadata so stat updates on different tools never
// contend.
type entry struct {
	mu   sync.Mutex
	meta ToolMetadata
}

func (e *entry) snapshot() ToolMetadata {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.clone()
}

// Registry is safe for concurrent use. The map and indices sit behind an
// RWMutex; statistics are updated under each entry's own lock.
type Registry struct {
	mu           sync.RWMutex
	entries      map[string]*entry
	byCapability map[string]map[string]struct{}
	byCategory   map[string]map[string]struct{}
	logger       logging.Logger
	now          func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

func WithLogger(l logging.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithClock overrides the time source used for LastUsed.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:      make(map[string]*entry),
		byCapability: make(map[string]map[string]struct{}),
		byCategory:   make(map[string]map[string]struct{}),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrNop(r.logger)
	return r
}

// Register adds meta, replacing any tool registered under the same name.
func (r *Registry) Register(meta ToolMetadata) error {
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		return errbuilder.GenericErr("register tool: empty name", nil)
	}
	meta = meta.clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[meta.Name]; ok {
		r.unindex(old.meta)
	}
	r.entries[meta.Name] = &entry{meta: meta}
	r.index(meta)
	r.logger.Debug("tool registered", logging.Fields{
		"tool":         meta.Name,
		"capabilities": meta.Capabilities,
		"category":     meta.Category,
	})
	return nil
}

// Unregister removes name and its index entries.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return notFound(name)
	}
	r.unindex(e.meta)
	delete(r.entries, name)
	return nil
}

func (r *Registry) index(meta ToolMetadata) {
	for _, c := range meta.Capabilities {
		addTo(r.byCapability, normalize(c), meta.Name)
	}
	if meta.Category != "" {
		addTo(r.byCategory, normalize(meta.Category), meta.Name)
	}
}

func (r *Registry) unindex(meta ToolMetadata) {
	for _, c := range meta.Capabilities {
		removeFrom(r.byCapability, normalize(c), meta.Name)
	}
	if meta.Category != "" {
		removeFrom(r.byCategory, normalize(meta.Category), meta.Name)
	}
}

func addTo(idx map[string]map[string]struct{}, key, name string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[name] = struct{}{}
}

func removeFrom(idx map[string]map[string]struct{}, key, name string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, name)
	if len(set) == 0 {
		delete(idx, key)
	}
}

func notFound(name string) error {
	return errbuilder.NotFoundErr(errbuilder.GenericErr(fmt.Sprintf("tool %q is not registered", name), nil))
}

func (r *Registry) lookup(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// UpdateStats folds one invocation into name's counters and recomputes its
// rolling average latency and reliability.
func (r *Registry) UpdateStats(name string, success bool, latency time.Duration) error {
	e, ok := r.lookup(name)
	if !ok {
		return notFound(name)
	}
	if latency < 0 {
		latency = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	u := &e.meta.Usage
	u.Invocations++
	if success {
		u.Successes++
	} else {
		u.Failures++
	}
	u.LastUsed = r.now()
	n := u.Invocations
	if n == 1 {
		e.meta.AvgLatency = latency
	} else {
		e.meta.AvgLatency += (latency - e.meta.AvgLatency) / time.Duration(n)
	}
	e.meta.Reliability = 100 * float64(u.Successes) / float64(n)
	return nil
}

// SetEnabled enables or disables name.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	e, ok := r.lookup(name)
	if !ok {
		return notFound(name)
	}
	e.mu.Lock()
	e.meta.Disabled = !enabled
	e.mu.Unlock()
	return nil
}

// Get returns a copy of name's metadata.
func (r *Registry) Get(name string) (ToolMetadata, bool) {
	e, ok := r.lookup(name)
	if !ok {
		return ToolMetadata{}, false
	}
	return e.snapshot(), true
}

// List returns every tool, disabled ones included, sorted by name.
func (r *Registry) List() []ToolMetadata {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	return snapshots(entries, false)
}

func snapshots(entries []*entry, enabledOnly bool) []ToolMetadata {
	out := make([]ToolMetadata, 0, len(entries))
	for _, e := range entries {
		m := e.snapshot()
		if enabledOnly && m.Disabled {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) fromIndex(idx map[string]map[string]struct{}, key string) []ToolMetadata {
	r.mu.RLock()
	set := idx[normalize(key)]
	entries := make([]*entry, 0, len(set))
	for name := range set {
		entries = append(entries, r.entries[name])
	}
	r.mu.RUnlock()
	return snapshots(entries, true)
}

// FindByCapability returns the enabled tools offering capability, by name.
func (r *Registry) FindByCapability(capability string) []ToolMetadata {
	return r.fromIndex(r.byCapability, capability)
}

// FindByCategory returns the enabled tools in category, by name.
func (r *Registry) FindByCategory(category string) []ToolMetadata {
	return r.fromIndex(r.byCategory, category)
}

// FindByTag returns the enabled tools carrying tag, by name.
func (r *Registry) FindByTag(tag string) []ToolMetadata {
	var out []ToolMetadata
	for _, m := range r.List() {
		if !m.Disabled && m.HasTag(tag) {
			out = append(out, m)
		}
	}
	return out
}

// Capabilities lists every indexed capability in sorted order.
func (r *Registry) Capabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byCapability))
	for c := range r.byCapability {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// GetBestTool picks the enabled tool for capability that ranks highest on
// optimizeFor. Ties go to the first tool by name.
func (r *Registry) GetBestTool(capability string, optimizeFor OptimizeFor) (ToolMetadata, error) {
	candidates := r.FindByCapability(capability)
	if len(candidates) == 0 {
		return ToolMetadata{}, errbuilder.NotFoundErr(errbuilder.GenericErr(
			fmt.Sprintf("no enabled tool offers %q", capability), nil))
	}
	score, err := scorer(optimizeFor)
	if err != nil {
		return ToolMetadata{}, err
	}
	best := candidates[0]
	bestScore := score(best)
	for _, c := range candidates[1:] {
		if s := score(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, nil
}

// scorer returns a higher-is-better score for optimizeFor.
func scorer(optimizeFor OptimizeFor) (func(ToolMetadata) float64, error) {
	switch OptimizeFor(normalize(string(optimizeFor))) {
	case OptimizeReliability:
		return func(m ToolMetadata) float64 { return m.Reliability }, nil
	case OptimizeLatency:
		return func(m ToolMetadata) float64 { return -float64(m.AvgLatency) }, nil
	case OptimizeCost:
		return func(m ToolMetadata) float64 { return -float64(m.Cost) }, nil
	case OptimizeBalanced, "":
		return BalancedScore, nil
	}
	return nil, errbuilder.GenericErr(fmt.Sprintf("unknown optimization %q", optimizeFor), nil)
}

// Filter narrows Search results. Zero values filter nothing.
type Filter struct {
	Category       string
	MaxCost        *CostTier
	MinReliability float64
}

func (f Filter) allows(m ToolMetadata) bool {
	if f.Category != "" && normalize(f.Category) != normalize(m.Category) {
		return false
	}
	if f.MaxCost != nil && m.Cost > *f.MaxCost {
		return false
	}
	return m.Reliability >= f.MinReliability
}

// Search matches query against name, description, capabilities and tags of
// enabled tools. A tool matches when it contains the whole query or any of
// its words; results with more matching words come first. An empty query
// matches every tool the filter allows.
func (r *Registry) Search(query string, filter Filter) []ToolMetadata {
	query = normalize(query)
	terms := strings.Fields(query)

	type hit struct {
		meta  ToolMetadata
		score int
	}
	var hits []hit
	for _, m := range r.List() {
		if m.Disabled || !filter.allows(m) {
			continue
		}
		if query == "" {
			hits = append(hits, hit{meta: m})
			continue
		}
		text := searchText(m)
		score := 0
		if strings.Contains(text, query) {
			score += len(terms) + 1
		}
		for _, t := range terms {
			if strings.Contains(text, t) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{meta: m, score: score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	out := make([]ToolMetadata, len(hits))
	for i, h := range hits {
		out[i] = h.meta
	}
	return out
}

func searchText(m ToolMetadata) string {
	parts := []string{m.Name, m.Description, m.Category}
	parts = append(parts, m.Capabilities...)
	parts = append(parts, m.Tags...)
	return strings.ToLower(strings.Join(parts, "\n"))
}

// Summary aggregates the registry's contents.
type Summary struct {
	Tools          int
	Enabled        int
	Capabilities   int
	Categories     int
	Invocations    int64
	AvgReliability float64
}

// Stats summarises the registry.
func (r *Registry) Stats() Summary {
	all := r.List()
	r.mu.RLock()
	s := Summary{Tools: len(all), Capabilities: len(r.byCapability), Categories: len(r.byCategory)}
	r.mu.RUnlock()
	var total float64
	for _, m := range all {
		if !m.Disabled {
			s.Enabled++
		}
		s.Invocations += m.Usage.Invocations
		total += m.Reliability
	}
	if len(all) > 0 {
		s.AvgReliability = total / float64(len(all))
	}
	return s
}
