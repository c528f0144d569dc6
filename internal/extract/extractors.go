// Package extract holds the fixed catalogue of named extractors that turn a raw tool
// result into one structured output field.
package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Func maps a raw tool result to a single output value.
type Func func(raw interface{}) (interface{}, error)

// Extractor names accepted in tool schema documents.
const (
	Identity    = "identity"
	URLs        = "extract_urls"
	Snippets    = "extract_snippets"
	Count       = "count_items"
	FieldNames  = "extract_field_names"
	CurrentURL  = "extract_current_url"
	Field       = "get_field"
	HTMLToText  = "html_to_text"
	Links       = "extract_links"
	StatusCode  = "status_code"
	Headers     = "extract_headers"
	DetectPath  = "detect_path"
	fieldPrefix = Field + ":"
)

const (
	snippetMinLen = 50
	snippetMax    = 10
)

var builtin = map[string]Func{
	Identity:   identity,
	URLs:       extractURLs,
	Snippets:   extractSnippets,
	Count:      countItems,
	FieldNames: extractFieldNames,
	CurrentURL: extractCurrentURL,
	HTMLToText: htmlToText,
	Links:      extractLinks,
	StatusCode: statusCode,
	Headers:    extractHeaders,
	DetectPath: detectPath,
}

// Lookup returns the extractor registered under name. Field lookups are written
// as "get_field:<name>".
func Lookup(name string) (Func, bool) {
	name = strings.TrimSpace(name)
	if strings.HasPrefix(name, fieldPrefix) {
		field := strings.TrimSpace(strings.TrimPrefix(name, fieldPrefix))
		if field == "" {
			return nil, false
		}
		return FieldLookup(field), true
	}
	fn, ok := builtin[name]
	return fn, ok
}

// Names lists the catalogue in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtin)+1)
	for name := range builtin {
		names = append(names, name)
	}
	names = append(names, fieldPrefix+"<name>")
	sort.Strings(names)
	return names
}

var (
	urlPattern  = regexp.MustCompile(`https?://[^\s"'<>\\)\]\}]+`)
	drivePath   = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
	urlTrailing = ".,;:!?'\""
)

var currentURLKeys = []string{"current_url", "currentUrl", "page_url", "final_url", "url", "href", "location"}

var recordListKeys = []string{"results", "items", "data", "records", "rows"}

func identity(raw interface{}) (interface{}, error) {
	return raw, nil
}

// FindURLs returns the distinct http(s) URLs in text, in order of appearance.
func FindURLs(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, m := range urlPattern.FindAllString(text, -1) {
		m = strings.TrimRight(m, urlTrailing)
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out
}

func extractURLs(raw interface{}) (interface{}, error) {
	return toList(FindURLs(textOf(raw))), nil
}

func extractSnippets(raw interface{}) (interface{}, error) {
	var out []interface{}
	for _, line := range strings.Split(textOf(raw), "\n") {
		line = strings.TrimSpace(line)
		if len(line) <= snippetMinLen {
			continue
		}
		out = append(out, line)
		if len(out) == snippetMax {
			break
		}
	}
	if out == nil {
		out = []interface{}{}
	}
	return out, nil
}

func countItems(raw interface{}) (interface{}, error) {
	if items, ok := asList(raw); ok {
		return len(items), nil
	}
	if m, ok := raw.(map[string]interface{}); ok {
		if items, ok := recordList(m); ok {
			return len(items), nil
		}
		return len(m), nil
	}
	return nil, fmt.Errorf("cannot count items in %T", raw)
}

func extractFieldNames(raw interface{}) (interface{}, error) {
	var first interface{}
	if items, ok := asList(raw); ok {
		if len(items) == 0 {
			return []interface{}{}, nil
		}
		first = items[0]
	} else if m, ok := raw.(map[string]interface{}); ok {
		if items, ok := recordList(m); ok && len(items) > 0 {
			first = items[0]
		} else {
			first = m
		}
	}
	record, ok := first.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("no record to inspect in %T", raw)
	}
	return toList(sortedKeys(record)), nil
}

func extractCurrentURL(raw interface{}) (interface{}, error) {
	if m, ok := raw.(map[string]interface{}); ok {
		for _, key := range currentURLKeys {
			if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), nil
			}
		}
	}
	if found := FindURLs(textOf(raw)); len(found) > 0 {
		return found[0], nil
	}
	return nil, nil
}

// FieldLookup returns an extractor that reads one key of a map result.
func FieldLookup(field string) Func {
	return func(raw interface{}) (interface{}, error) {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("field %q: result is %T, not a map", field, raw)
		}
		return m[field], nil
	}
}

func statusCode(raw interface{}) (interface{}, error) {
	switch t := raw.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case json.Number:
		i, err := t.Int64()
		return int(i), err
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	case map[string]interface{}:
		for _, key := range []string{"status_code", "statusCode", "status", "code"} {
			if v, ok := t[key]; ok {
				return statusCode(v)
			}
		}
	}
	return nil, fmt.Errorf("no status code in %T", raw)
}

func extractHeaders(raw interface{}) (interface{}, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("headers: result is %T, not a map", raw)
	}
	for _, key := range []string{"headers", "response_headers"} {
		h, ok := m[key]
		if !ok {
			continue
		}
		hm, ok := h.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("headers: %q is %T, not a map", key, h)
		}
		out := make(map[string]interface{}, len(hm))
		for k, v := range hm {
			// multi-valued headers are joined the way net/http prints them
			if list, ok := asList(v); ok {
				parts := make([]string, 0, len(list))
				for _, p := range list {
					parts = append(parts, fmt.Sprint(p))
				}
				out[k] = strings.Join(parts, ", ")
				continue
			}
			out[k] = fmt.Sprint(v)
		}
		return out, nil
	}
	return map[string]interface{}{}, nil
}

func detectPath(raw interface{}) (interface{}, error) {
	if m, ok := raw.(map[string]interface{}); ok {
		for _, key := range []string{"path", "file_path", "filepath", "file", "output_path", "saved_to"} {
			if s, ok := m[key].(string); ok && looksLikePath(strings.TrimSpace(s)) {
				return strings.TrimSpace(s), nil
			}
		}
	}
	text := textOf(raw)
	if s := strings.TrimSpace(text); looksLikePath(s) {
		return s, nil
	}
	for _, tok := range strings.Fields(text) {
		tok = strings.Trim(tok, `"'(),;`)
		if looksLikePath(tok) {
			return tok, nil
		}
	}
	return nil, nil
}

func looksLikePath(s string) bool {
	if s == "" || strings.ContainsAny(s, " \n\t") || strings.Contains(s, "://") {
		return false
	}
	for _, prefix := range []string{"/", "./", "../", "~/"} {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return true
		}
	}
	return drivePath.MatchString(s)
}

// textOf renders a raw result as searchable text.
func textOf(raw interface{}) string {
	switch t := raw.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case map[string]interface{}:
		for _, key := range []string{"text", "content", "html", "body", "output", "result"} {
			if s, ok := t[key].(string); ok {
				return s
			}
		}
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(b)
}

func recordList(m map[string]interface{}) ([]interface{}, bool) {
	for _, key := range recordListKeys {
		if items, ok := asList(m[key]); ok {
			return items, true
		}
	}
	return nil, false
}

// asList accepts any slice type, since results may come from typed Go values.
func asList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]interface{}); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toList(items []string) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
