package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/fsnotify/fsnotify"
)

// Store serves lookups against the current schema document. The document can be
// swapped atomically by Replace or Watch.
type Store struct {
	mu     sync.RWMutex
	doc    *Document
	logger logging.Logger
}

// NewStore wraps doc. A nil doc behaves as an empty document.
func NewStore(doc *Document, logger logging.Logger) *Store {
	if doc == nil {
		doc = &Document{tools: make(map[string]*Tool)}
	}
	return &Store{doc: doc, logger: logging.OrNop(logger)}
}

// LoadStore reads the document at path into a new Store.
func LoadStore(path string, logger logging.Logger) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return NewStore(doc, logger), nil
}

// Replace swaps in a new document.
func (s *Store) Replace(doc *Document) {
	if doc == nil {
		return
	}
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
}

func (s *Store) current() *Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc
}

// Tool returns the schema for name.
func (s *Store) Tool(name string) (*Tool, bool) {
	return s.current().Tool(name)
}

// ListTools returns every tool name in document order.
func (s *Store) ListTools() []string {
	return s.current().Names()
}

// Inputs returns the declared inputs of name, or nil for an unknown tool.
func (s *Store) Inputs(name string) []Input {
	if t, ok := s.Tool(name); ok {
		return t.Inputs
	}
	return nil
}

// Outputs returns the declared outputs of name, or nil for an unknown tool.
func (s *Store) Outputs(name string) []Output {
	if t, ok := s.Tool(name); ok {
		return t.Outputs
	}
	return nil
}

// Metadata returns the tool metadata for name.
func (s *Store) Metadata(name string) (Metadata, bool) {
	t, ok := s.Tool(name)
	if !ok {
		return Metadata{}, false
	}
	return t.Metadata, true
}

// Validation is the outcome of checking a parameter set against a tool schema.
type Validation struct {
	Valid bool
	// Missing required inputs, in declaration order.
	Missing []string
	// Unknown parameters the schema does not declare, sorted.
	Unknown []string
	// Mismatched maps an input name to the coercion error for its value.
	Mismatched map[string]string
}

// ValidateInputs checks params against the schema of tool. An unknown tool
// is reported as invalid with no further detail.
func (s *Store) ValidateInputs(tool string, params param.Map) Validation {
	t, ok := s.Tool(tool)
	if !ok {
		return Validation{Valid: false}
	}
	v := Validation{Mismatched: map[string]string{}}
	for _, in := range t.Inputs {
		val, present := params[in.Name]
		if !present || val.IsNull() {
			if in.Required && !in.HasDefault {
				v.Missing = append(v.Missing, in.Name)
			}
			continue
		}
		if _, err := param.Coerce(val, in.Type); err != nil {
			v.Mismatched[in.Name] = err.Error()
		}
	}
	for _, key := range params.Keys() {
		if _, declared := t.Input(key); !declared {
			v.Unknown = append(v.Unknown, key)
		}
	}
	v.Valid = len(v.Missing) == 0 && len(v.Mismatched) == 0
	return v
}

// Stats summarises the loaded document.
type Stats struct {
	Version      string
	Tools        int
	Inputs       int
	Outputs      int
	Required     int
	DynamicTools int
	Categories   map[string]int
}

// Stats computes summary counts over the current document.
func (s *Store) Stats() Stats {
	doc := s.current()
	st := Stats{Version: doc.Version, Tools: len(doc.order), Categories: map[string]int{}}
	for _, name := range doc.order {
		t := doc.tools[name]
		st.Inputs += len(t.Inputs)
		st.Outputs += len(t.Outputs)
		st.Required += len(t.RequiredInputs())
		if t.Metadata.SupportsDynamicOutputs {
			st.DynamicTools++
		}
		if t.Metadata.Category != "" {
			st.Categories[t.Metadata.Category]++
		}
	}
	return st
}

// CategoryNames lists the distinct categories in sorted order.
func (st Stats) CategoryNames() []string {
	names := make([]string, 0, len(st.Categories))
	for c := range st.Categories {
		names = append(names, c)
	}
	sort.Strings(names)
	return names
}

// Watch reloads the document at path whenever it changes, until ctx is done.
// A document that fails to parse is logged and the previous one stays active.
// onReload, when non-nil, observes every reload attempt.
func (s *Store) Watch(ctx context.Context, path string, onReload func(*Document, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errbuilder.GenericErr("create schema watcher", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	// watch the directory so editors that replace the file are still seen
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return errbuilder.GenericErr(fmt.Sprintf("watch %s", filepath.Dir(target)), err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			doc, err := Load(target)
			if err != nil {
				s.logger.Warn("schema reload failed", logging.Fields{"path": target, "error": err.Error()})
			} else {
				s.Replace(doc)
				s.logger.Info("schema reloaded", logging.Fields{"path": target, "tools": len(doc.order)})
			}
			if onReload != nil {
				onReload(doc, err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("schema watcher error", logging.Fields{"error": err.Error()})
		}
	}
}
