package resolver

import (
	"fmt"
	"strings"

	"github.com/ZanzyTHEbar/stepwise/internal/extract"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
)

// Keys added to every extraction result.
const (
	RawKey             = "_raw"
	AvailableFieldsKey = "available_fields"
	RecordsKey         = "records"
)

// ExtractOutputs applies the tool's declared extractors to raw. A failing
// extractor sets only its own field to nil. Tools with dynamic outputs (and
// tools without a schema) also pass raw fields through. The unmodified raw
// result is always kept under RawKey.
func (r *Resolver) ExtractOutputs(tool string, raw interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	dynamic := true

	if t, ok := r.schemas.Tool(tool); ok {
		dynamic = t.Metadata.SupportsDynamicOutputs
		for _, o := range t.Outputs {
			fn, known := extract.Lookup(o.Extractor)
			if !known {
				r.logger.Warn("unknown extractor, using identity", logging.Fields{
					"tool":      tool,
					"output":    o.Name,
					"extractor": o.Extractor,
				})
				fn, _ = extract.Lookup(extract.Identity)
			}
			if isIdentity(o.Extractor, known) {
				// identity on a record picks the same-named field when present
				if m, ok := asMap(raw); ok {
					if v, found := m[o.Name]; found {
						out[o.Name] = v
						continue
					}
				}
			}
			val, err := safeExtract(fn, raw)
			if err != nil {
				r.logger.Warn("extractor failed", logging.Fields{
					"tool":      tool,
					"output":    o.Name,
					"extractor": o.Extractor,
					"error":     err.Error(),
				})
				if r.onFailure != nil {
					r.onFailure(tool, o.Name, err)
				}
				val = nil
			}
			out[o.Name] = val
		}
	}

	if dynamic {
		passThrough(out, raw)
	}
	out[RawKey] = raw
	return out
}

func isIdentity(name string, known bool) bool {
	return !known || strings.TrimSpace(name) == extract.Identity
}

func safeExtract(fn extract.Func, raw interface{}) (val interface{}, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			val, err = nil, fmt.Errorf("extractor panic: %v", rec)
		}
	}()
	return fn(raw)
}

func passThrough(out map[string]interface{}, raw interface{}) {
	if m, ok := asMap(raw); ok {
		for k, v := range m {
			if _, set := out[k]; !set {
				out[k] = v
			}
		}
		return
	}
	items, ok := asList(raw)
	if !ok || len(items) == 0 {
		return
	}
	var fields []interface{}
	seen := make(map[string]bool)
	for _, item := range items {
		rec, ok := asMap(item)
		if !ok {
			// not a record list
			return
		}
		for _, k := range sortedKeys(rec) {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	if _, set := out[AvailableFieldsKey]; !set {
		out[AvailableFieldsKey] = fields
	}
	if _, set := out[RecordsKey]; !set {
		out[RecordsKey] = items
	}
}
