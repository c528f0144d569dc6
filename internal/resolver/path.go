package resolver

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
)

// segment is one dotted path element with an optional list index.
type segment struct {
	name  string
	index int // -1 when absent
}

func (s segment) String() string {
	if s.index < 0 {
		return s.name
	}
	return fmt.Sprintf("%s[%d]", s.name, s.index)
}

var segmentPattern = regexp.MustCompile(`^([^\[\]]+)(?:\[(\d+)\])?$`)

// parsePath splits "step.field[0].sub" into segments. Each segment may carry
// at most one index.
func parsePath(path string) ([]segment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	parts := strings.Split(path, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		m := segmentPattern.FindStringSubmatch(strings.TrimSpace(part))
		if m == nil {
			return nil, fmt.Errorf("invalid path segment %q", part)
		}
		seg := segment{name: m[1], index: -1}
		if m[2] != "" {
			idx, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, fmt.Errorf("invalid index in %q", part)
			}
			seg.index = idx
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// findStep locates the step a path starts from: an exact step ID, then the
// latest step run with that exact tool, then the first step (in execution
// order) whose ID contains the name, case-insensitively.
func findStep(name string, results []stepwise.StepResult) (stepwise.StepResult, bool) {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].StepID == name {
			return results[i], true
		}
	}
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Tool == name {
			return results[i], true
		}
	}
	lower := strings.ToLower(name)
	for _, r := range results {
		if strings.Contains(strings.ToLower(r.StepID), lower) {
			return r, true
		}
	}
	return stepwise.StepResult{}, false
}

// producers returns the steps whose ID or tool contains producer, newest first.
func producers(producer string, results []stepwise.StepResult) []stepwise.StepResult {
	lower := strings.ToLower(producer)
	var out []stepwise.StepResult
	for i := len(results) - 1; i >= 0; i-- {
		r := results[i]
		if strings.Contains(strings.ToLower(r.StepID), lower) || strings.Contains(strings.ToLower(r.Tool), lower) {
			out = append(out, r)
		}
	}
	return out
}

// walk follows segs through nested maps and lists starting at root.
func walk(root interface{}, segs []segment) (interface{}, error) {
	cur := root
	for _, seg := range segs {
		m, ok := asMap(cur)
		if !ok {
			return nil, fmt.Errorf("%s: %T is not a map", seg.name, cur)
		}
		next, found := m[seg.name]
		if !found {
			return nil, fmt.Errorf("%s: no such field", seg.name)
		}
		if seg.index >= 0 {
			var err error
			if next, err = index(next, seg.index); err != nil {
				return nil, fmt.Errorf("%s: %w", seg, err)
			}
		}
		cur = next
	}
	return cur, nil
}

func index(v interface{}, i int) (interface{}, error) {
	items, ok := asList(v)
	if !ok {
		return nil, fmt.Errorf("%T is not a list", v)
	}
	if i >= len(items) {
		return nil, fmt.Errorf("index %d out of range (len %d)", i, len(items))
	}
	return items[i], nil
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, true
	case param.Map:
		return t.ToAny(), true
	case param.Value:
		if f, ok := t.Fields(); ok {
			return f.ToAny(), true
		}
		return nil, false
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func asList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case param.Value:
		items, ok := t.Items()
		if !ok {
			return nil, false
		}
		out := make([]interface{}, len(items))
		for i, it := range items {
			out[i] = it.Any()
		}
		return out, true
	case nil, string, []byte:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
