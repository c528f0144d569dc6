package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, name string, raw interface{}) interface{} {
	t.Helper()
	fn, ok := Lookup(name)
	require.True(t, ok, "extractor %s", name)
	out, err := fn(raw)
	require.NoError(t, err)
	return out
}

func TestExtractURLs_DedupesInOrder(t *testing.T) {
	raw := "see https://a.com, then https://b.com/x?y=1. again https://a.com"
	assert.Equal(t, []interface{}{"https://a.com", "https://b.com/x?y=1"}, apply(t, URLs, raw))
}

func TestExtractURLs_FromMapContent(t *testing.T) {
	raw := map[string]interface{}{"content": "go to http://example.org now"}
	assert.Equal(t, []interface{}{"http://example.org"}, apply(t, URLs, raw))
}

func TestExtractSnippets_KeepsLongLines(t *testing.T) {
	long := "This line is clearly longer than fifty characters in total length."
	raw := "short\n" + long + "\n  \n" + long
	got := apply(t, Snippets, raw)
	assert.Equal(t, []interface{}{long, long}, got)
}

func TestCountItems(t *testing.T) {
	assert.Equal(t, 3, apply(t, Count, []interface{}{1, 2, 3}))
	assert.Equal(t, 2, apply(t, Count, map[string]interface{}{"results": []interface{}{"a", "b"}}))
	assert.Equal(t, 1, apply(t, Count, []string{"x"}))

	fn, _ := Lookup(Count)
	_, err := fn("text")
	assert.Error(t, err)
}

func TestExtractFieldNames_FirstRecord(t *testing.T) {
	raw := []interface{}{
		map[string]interface{}{"title": "a", "url": "u"},
		map[string]interface{}{"other": 1},
	}
	assert.Equal(t, []interface{}{"title", "url"}, apply(t, FieldNames, raw))
}

func TestExtractCurrentURL(t *testing.T) {
	assert.Equal(t, "https://x.io/p", apply(t, CurrentURL, map[string]interface{}{"current_url": "https://x.io/p"}))
	assert.Equal(t, "https://y.io", apply(t, CurrentURL, "now at https://y.io"))
	assert.Nil(t, apply(t, CurrentURL, "nothing here"))
}

func TestGetField(t *testing.T) {
	assert.Equal(t, "v", apply(t, "get_field:k", map[string]interface{}{"k": "v"}))
	assert.Nil(t, apply(t, "get_field:missing", map[string]interface{}{"k": "v"}))

	_, ok := Lookup("get_field:")
	assert.False(t, ok)
}

func TestHTMLToText_SkipsScripts(t *testing.T) {
	raw := `<html><head><script>var x=1;</script></head><body><h1>Hello</h1>
<p>  big   world </p><style>p{}</style></body></html>`
	assert.Equal(t, "Hello big world", apply(t, HTMLToText, raw))
}

func TestExtractLinks_AbsoluteOnly(t *testing.T) {
	raw := `<a href="https://a.com">a</a><a href="/rel">r</a><a href="https://a.com">dup</a><a href="http://b.org/x">b</a>`
	assert.Equal(t, []interface{}{"https://a.com", "http://b.org/x"}, apply(t, Links, raw))
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, 404, apply(t, StatusCode, map[string]interface{}{"status": float64(404)}))
	assert.Equal(t, 200, apply(t, StatusCode, "200"))

	fn, _ := Lookup(StatusCode)
	_, err := fn(map[string]interface{}{"body": "x"})
	assert.Error(t, err)
}

func TestExtractHeaders(t *testing.T) {
	raw := map[string]interface{}{"headers": map[string]interface{}{
		"Content-Type": "text/html",
		"Set-Cookie":   []interface{}{"a=1", "b=2"},
	}}
	assert.Equal(t, map[string]interface{}{
		"Content-Type": "text/html",
		"Set-Cookie":   "a=1, b=2",
	}, apply(t, Headers, raw))
}

func TestDetectPath(t *testing.T) {
	assert.Equal(t, "/tmp/out.png", apply(t, DetectPath, map[string]interface{}{"path": "/tmp/out.png"}))
	assert.Equal(t, "./shot.png", apply(t, DetectPath, "saved screenshot to './shot.png'"))
	assert.Nil(t, apply(t, DetectPath, "see https://a.com/file"))
}

func TestLookup_Unknown(t *testing.T) {
	_, ok := Lookup("summarize")
	assert.False(t, ok)
	assert.Contains(t, Names(), "get_field:<name>")
}
