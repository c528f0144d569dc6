package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleDoc = `
$schema: https://example.com/tool-io.schema.json
$id: tools
title: Tool I/O
description: test document
version: "2.1"
search:
  description: web search
  inputs:
    query: {type: string, required: true}
    limit: {type: integer, default: 5}
  outputs:
    urls: {extractor: extract_urls}
    snippets: extract_snippets
  metadata:
    category: search
browser:
  inputs:
    method: {type: string, required: true}
    url:
      type: string
      required: true
      accepts_from: ["search.urls[0]", navigate.current_url]
    args: {type: object}
  outputs:
    current_url: {extractor: extract_current_url}
    text: {}
  metadata:
    category: browser
    supports_dynamic_outputs: false
`

func TestParse_ReservedKeysAndOrder(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	assert.Equal(t, "2.1", doc.Version)
	assert.Equal(t, "Tool I/O", doc.Title)
	assert.Equal(t, "tools", doc.ID)
	assert.Equal(t, []string{"search", "browser"}, doc.Names())

	browser, ok := doc.Tool("browser")
	require.True(t, ok)
	names := []string{}
	for _, in := range browser.Inputs {
		names = append(names, in.Name)
	}
	assert.Equal(t, []string{"method", "url", "args"}, names)
	url, _ := browser.Input("url")
	assert.Equal(t, []string{"search.urls[0]", "navigate.current_url"}, url.AcceptsFrom)
	assert.True(t, browser.RequiresMethod())
	assert.False(t, browser.Metadata.SupportsDynamicOutputs)
	assert.Equal(t, DefaultExtractor, browser.Outputs[1].Extractor)
}

func TestParse_DefaultsAndShorthand(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)

	search, _ := doc.Tool("search")
	assert.True(t, search.Metadata.SupportsDynamicOutputs)
	limit, ok := search.Input("limit")
	require.True(t, ok)
	require.True(t, limit.HasDefault)
	n, _ := limit.Default.AsInt()
	assert.Equal(t, 5, n)
	assert.Equal(t, "extract_snippets", search.Outputs[1].Extractor)
	assert.Equal(t, []string{"query"}, search.RequiredInputs())
}

func TestParse_JSONDocument(t *testing.T) {
	doc, err := Parse([]byte(`{"version":"1","calc":{"inputs":{"expr":{"type":"string","required":true}}}}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"calc"}, doc.Names())
}

func TestParse_RejectsNonMappingTool(t *testing.T) {
	_, err := Parse([]byte("search: [1, 2]\n"))
	assert.Error(t, err)
}

func TestStore_ValidateInputs(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	s := NewStore(doc, nil)

	v := s.ValidateInputs("browser", param.Map{
		"method": param.String("navigate"),
		"args":   param.String("not json"),
		"extra":  param.Bool(true),
	})
	assert.False(t, v.Valid)
	assert.Equal(t, []string{"url"}, v.Missing)
	assert.Equal(t, []string{"extra"}, v.Unknown)
	assert.Contains(t, v.Mismatched, "args")

	ok := s.ValidateInputs("search", param.Map{"query": param.String("cats")})
	assert.True(t, ok.Valid)

	assert.False(t, s.ValidateInputs("missing", nil).Valid)
}

func TestStore_Stats(t *testing.T) {
	doc, err := Parse([]byte(sampleDoc))
	require.NoError(t, err)
	st := NewStore(doc, nil).Stats()

	assert.Equal(t, 2, st.Tools)
	assert.Equal(t, 5, st.Inputs)
	assert.Equal(t, 4, st.Outputs)
	assert.Equal(t, 3, st.Required)
	assert.Equal(t, 1, st.DynamicTools)
	assert.Equal(t, []string{"browser", "search"}, st.CategoryNames())
}

func TestStore_UnknownToolLookups(t *testing.T) {
	s := NewStore(nil, nil)
	assert.Nil(t, s.Inputs("x"))
	assert.Nil(t, s.Outputs("x"))
	_, ok := s.Metadata("x")
	assert.False(t, ok)
	assert.Empty(t, s.ListTools())
}

func TestStore_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: {}\n"), 0o644))

	s, err := LoadStore(path, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan *Document, 4)
	go func() {
		_ = s.Watch(ctx, path, func(d *Document, err error) {
			if err != nil {
				return
			}
			select {
			case reloaded <- d:
			default:
			}
		})
	}()

	// give the watcher time to register before writing
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case d := <-reloaded:
			if _, ok := d.Tool("b"); ok {
				_, ok := s.Tool("b")
				assert.True(t, ok)
				return
			}
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("a: {}\nb: {}\n"), 0o644))
		case <-deadline:
			t.Fatal("schema was not reloaded")
		}
	}
}
