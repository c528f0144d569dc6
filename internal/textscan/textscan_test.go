package textscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFirstURL(t *testing.T) {
	u, ok := FirstURL("see https://example.com/a?b=1, then http://other.org")
	assert.True(t, ok)
	assert.Equal(t, "https://example.com/a?b=1", u)

	_, ok = FirstURL("no links here")
	assert.False(t, ok)

	assert.Equal(t, []string{"https://a.com", "http://b.org/x"}, URLs("https://a.com and (http://b.org/x)."))
}

func TestBareDomain(t *testing.T) {
	cases := []struct {
		text string
		want string
		ok   bool
	}{
		{"go to example.com and search for cats", "example.com", true},
		{"open docs.go.dev/doc/effective_go please", "docs.go.dev/doc/effective_go", true},
		{"read notes.txt, e.g. tomorrow", "", false},
		{"fetch https://example.com only", "", false},
		{"Visit News.YCombinator.com.", "News.YCombinator.com", true},
	}
	for _, tc := range cases {
		got, ok := BareDomain(tc.text)
		assert.Equal(t, tc.ok, ok, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestEnsureScheme(t *testing.T) {
	assert.Equal(t, "https://example.com", EnsureScheme("example.com"))
	assert.Equal(t, "http://example.com", EnsureScheme(" http://example.com "))
	assert.Equal(t, "HTTPS://X.io", EnsureScheme("HTTPS://X.io"))
}

func TestHasAnyWord(t *testing.T) {
	assert.True(t, HasAnyWord("Please Search the web", "find", "search"))
	assert.False(t, HasAnyWord("researching", "search"))
}

func TestFirstObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `params: {"q": "cats", "n": 3} done`, `{"q": "cats", "n": 3}`, true},
		{"braces inside strings", `x {"q": "a } b", "m": {"k": "{"}} y`, `{"q": "a } b", "m": {"k": "{"}}`, true},
		{"fenced", "```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"skips malformed", `{nope} then {"ok": true}`, `{"ok": true}`, true},
		{"unbalanced", `{"a": 1`, "", false},
		{"none", "plain text", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := FirstObject(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFirstArray(t *testing.T) {
	got, ok := FirstArray("Here is the plan:\n```\n[{\"tool\": \"search\", \"parameters\": {\"query\": \"[x]\"}}]\n```\n")
	assert.True(t, ok)
	assert.Equal(t, `[{"tool": "search", "parameters": {"query": "[x]"}}]`, got)

	got, ok = FirstArray(`steps [1, 2] and [3]`)
	assert.True(t, ok)
	assert.Equal(t, `[1, 2]`, got)
}
