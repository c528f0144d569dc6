package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCaps = `
web_search:
  tool: search
  description: Search the web for pages
  keywords: [search, find, lookup]
navigate:
  tool: browser
  method: navigate
  description: Open a page in the browser
  actions: [visit, open]
  selector_hints: ["input[name=q]"]
fill_form:
  tool: browser
  method: fill
  description: Type into an input
  requires_selector: true
  parameters:
    value: ""
_experimental:
  tool: scraper
  description: hidden
`

func TestParse_HidesDisabledEntries(t *testing.T) {
	c, err := Parse([]byte(sampleCaps))
	require.NoError(t, err)

	names := []string{}
	for _, e := range c.Enabled() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"web_search", "navigate", "fill_form"}, names)
	assert.Equal(t, []string{"_experimental"}, c.Disabled())

	_, ok := c.Lookup("_experimental")
	assert.False(t, ok)
}

func TestCatalog_ForToolAndLookup(t *testing.T) {
	c, err := Parse([]byte(sampleCaps))
	require.NoError(t, err)

	assert.Len(t, c.ForTool("browser"), 2)
	fill, ok := c.Lookup("fill_form")
	require.True(t, ok)
	assert.True(t, fill.RequiresSelector)
	assert.True(t, fill.Parameters.Has("value"))
}

func TestCatalog_Match(t *testing.T) {
	c, err := Parse([]byte(sampleCaps))
	require.NoError(t, err)

	got := c.Match("Please FIND the docs and visit the page")
	require.Len(t, got, 2)
	assert.Equal(t, "web_search", got[0].Name)
	assert.Equal(t, "navigate", got[1].Name)
	assert.Empty(t, c.Match("summarise this"))
}

func TestCatalog_Describe(t *testing.T) {
	c, err := Parse([]byte(sampleCaps))
	require.NoError(t, err)

	out := c.Describe()
	assert.Contains(t, out, "- navigate (browser.navigate): Open a page in the browser")
	assert.Contains(t, out, "[needs selector]")
	assert.NotContains(t, out, "hidden")
}

func TestCatalog_NilSafe(t *testing.T) {
	var c *Catalog
	assert.Empty(t, c.Enabled())
	_, ok := c.Lookup("x")
	assert.False(t, ok)
	assert.Equal(t, "", c.Describe())
}
