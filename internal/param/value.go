// Package param implements the tagged parameter value carried by planned steps.
package param

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindList:
		return "array"
	case KindMap:
		return "object"
	default:
		return "null"
	}
}

// Value is a string, number, bool, list, map or null.
// The zero Value is null.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
	list []Value
	m    map[string]Value
}

// Map is a named set of parameter values.
type Map map[string]Value

func Null() Value               { return Value{} }
func String(s string) Value     { return Value{kind: KindString, str: s} }
func Number(f float64) Value    { return Value{kind: KindNumber, num: f} }
func Int(i int) Value           { return Value{kind: KindNumber, num: float64(i)} }
func Bool(b bool) Value         { return Value{kind: KindBool, b: b} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Object wraps a Map as a Value.
func Object(m Map) Value {
	if m == nil {
		m = Map{}
	}
	return Value{kind: KindMap, m: m}
}

// Strings builds a list value from plain strings.
func Strings(items []string) Value {
	out := make([]Value, 0, len(items))
	for _, s := range items {
		out = append(out, String(s))
	}
	return List(out...)
}

// FromAny converts decoded JSON/YAML data (and common Go scalars) into a Value.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case *Value:
		if t == nil {
			return Null()
		}
		return *t
	case Map:
		return Object(t)
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int8:
		return Number(float64(t))
	case int16:
		return Number(float64(t))
	case int32:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case []string:
		return Strings(t)
	case []Value:
		return List(t...)
	case []interface{}:
		out := make([]Value, 0, len(t))
		for _, item := range t {
			out = append(out, FromAny(item))
		}
		return List(out...)
	case map[string]interface{}:
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = FromAny(item)
		}
		return Object(out)
	case map[string]string:
		out := make(Map, len(t))
		for k, item := range t {
			out[k] = String(item)
		}
		return Object(out)
	case map[interface{}]interface{}:
		out := make(Map, len(t))
		for k, item := range t {
			out[fmt.Sprint(k)] = FromAny(item)
		}
		return Object(out)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]Value, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out = append(out, FromAny(rv.Index(i).Interface()))
		}
		return List(out...)
	case reflect.Map:
		out := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprint(iter.Key().Interface())] = FromAny(iter.Value().Interface())
		}
		return Object(out)
	}
	return String(fmt.Sprint(v))
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v holds nothing.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Str returns the string variant.
func (v Value) Str() (string, bool) { return v.str, v.kind == KindString }

// Num returns the number variant.
func (v Value) Num() (float64, bool) { return v.num, v.kind == KindNumber }

// Boolean returns the bool variant.
func (v Value) Boolean() (bool, bool) { return v.b, v.kind == KindBool }

// Items returns the list variant.
func (v Value) Items() ([]Value, bool) { return v.list, v.kind == KindList }

// Fields returns the map variant.
func (v Value) Fields() (Map, bool) { return v.m, v.kind == KindMap }

// AsInt returns the number variant as an int when it is integral.
func (v Value) AsInt() (int, bool) {
	if v.kind != KindNumber || v.num != math.Trunc(v.num) {
		return 0, false
	}
	return int(v.num), true
}

// Any converts v back into plain Go data. Numbers come back as float64.
func (v Value) Any() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindList:
		out := make([]interface{}, 0, len(v.list))
		for _, item := range v.list {
			out = append(out, item.Any())
		}
		return out
	case KindMap:
		return Map(v.m).ToAny()
	default:
		return nil
	}
}

// String renders v as text: strings verbatim, scalars formatted, containers as JSON.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNull:
		return ""
	default:
		b, err := json.Marshal(v.Any())
		if err != nil {
			return fmt.Sprint(v.Any())
		}
		return string(b)
	}
}

// Equal reports deep equality of two values.
func Equal(a, b Value) bool {
	return reflect.DeepEqual(a.Any(), b.Any())
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Any())
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

func (v Value) MarshalYAML() (interface{}, error) {
	return v.Any(), nil
}

func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	var raw interface{}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// MapFromAny converts a plain map into a Map.
func MapFromAny(in map[string]interface{}) Map {
	out := make(Map, len(in))
	for k, v := range in {
		out[k] = FromAny(v)
	}
	return out
}

// Clone returns a shallow copy of m.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Has reports whether key is present and non-null.
func (m Map) Has(key string) bool {
	v, ok := m[key]
	return ok && !v.IsNull()
}

// ToAny converts m into plain Go data.
func (m Map) ToAny() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v.Any()
	}
	return out
}

// Keys returns the keys of m in sorted order.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
