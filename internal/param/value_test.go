package param

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestFromAny_ConvertsNestedData(t *testing.T) {
	v := FromAny(map[string]interface{}{
		"url":   "https://a.com",
		"limit": 5,
		"tags":  []interface{}{"x", true},
		"nil":   nil,
	})

	fields, ok := v.Fields()
	require.True(t, ok)
	assert.Equal(t, KindString, fields["url"].Kind())
	n, ok := fields["limit"].AsInt()
	require.True(t, ok)
	assert.Equal(t, 5, n)
	items, ok := fields["tags"].Items()
	require.True(t, ok)
	assert.Len(t, items, 2)
	assert.True(t, fields["nil"].IsNull())
}

func TestAny_NestedMapRoundTrips(t *testing.T) {
	in := map[string]interface{}{
		"args":  map[string]interface{}{"selector": "#q", "depth": float64(2)},
		"items": []interface{}{map[string]interface{}{"title": "a"}},
	}
	assert.Equal(t, in, FromAny(in).Any())
}

func TestValue_JSONAndYAMLDecode(t *testing.T) {
	var m Map
	require.NoError(t, json.Unmarshal([]byte(`{"query":"cats","limit":10,"args":{}}`), &m))
	assert.Equal(t, "cats", m["query"].String())
	assert.Equal(t, KindMap, m["args"].Kind())

	var y Map
	require.NoError(t, yaml.Unmarshal([]byte("method: navigate\nargs:\n  selector: '#q'\n"), &y))
	args, ok := y["args"].Fields()
	require.True(t, ok)
	assert.Equal(t, "#q", args["selector"].String())

	out, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"cats","limit":10,"args":{}}`, string(out))
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name    string
		in      Value
		typ     string
		want    interface{}
		wantErr bool
	}{
		{name: "string passthrough", in: String("a"), typ: "string", want: "a"},
		{name: "number to string", in: Number(3), typ: "string", want: "3"},
		{name: "numeric string to integer", in: String("10"), typ: "integer", want: float64(10)},
		{name: "fractional integer rejected", in: Number(1.5), typ: "integer", wantErr: true},
		{name: "bool from yes", in: String("yes"), typ: "boolean", want: true},
		{name: "json array text", in: String(`["a","b"]`), typ: "array", want: []interface{}{"a", "b"}},
		{name: "object from map", in: Object(Map{"a": Int(1)}), typ: "object", want: map[string]interface{}{"a": float64(1)}},
		{name: "list as string rejected", in: List(String("a")), typ: "string", wantErr: true},
		{name: "unknown type untouched", in: Bool(true), typ: "custom", want: true},
		{name: "empty type untouched", in: Number(2), typ: "", want: float64(2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.typ)
			if tt.wantErr {
				var mismatch *MismatchError
				require.Error(t, err)
				assert.True(t, errors.As(err, &mismatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Any())
		})
	}
}

func TestMap_CloneIsIndependent(t *testing.T) {
	m := Map{"a": String("x")}
	c := m.Clone()
	c["b"] = String("y")
	assert.False(t, m.Has("b"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}
