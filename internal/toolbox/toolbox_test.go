package toolbox

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/capability"
	"github.com/ZanzyTHEbar/stepwise/internal/registry"
	"github.com/ZanzyTHEbar/stepwise/internal/router"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_LoadsBuiltInDocuments(t *testing.T) {
	tb, err := Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"search", "browser", "api", "calculate", "file"}, tb.ToolNames())

	browser, ok := tb.Schema("browser")
	require.True(t, ok)
	url, ok := browser.Input("url")
	require.True(t, ok)
	assert.Equal(t, []string{"search.urls[0]", "browser.current_url"}, url.AcceptsFrom)

	_, ok = tb.Catalog().Lookup("_legacy_scraper")
	assert.False(t, ok)
	assert.Contains(t, tb.DescribeCapabilities(), "browser_fill (browser.fill)")

	assert.True(t, tb.HasCapability("search"))
	assert.True(t, tb.HasCapability("web_scraping"))
	assert.False(t, tb.HasCapability("teleport"))
}

func TestSelect(t *testing.T) {
	tb, err := Default()
	require.NoError(t, err)
	ctx := context.Background()

	name, err := tb.Select(ctx, stepwise.Selection{Capability: "navigate"})
	require.NoError(t, err)
	assert.Equal(t, "browser", name)

	name, err = tb.Select(ctx, stepwise.Selection{Capability: "fetch", Strategy: "lowest_cost"})
	require.NoError(t, err)
	assert.Equal(t, "api", name)

	_, err = tb.Select(ctx, stepwise.Selection{Capability: "navigate", Exclude: []string{"browser"}})
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeNoCandidate), "got %v", err)

	_, err = tb.Select(ctx, stepwise.Selection{Capability: "search", Strategy: "coin_flip"})
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeValidation), "got %v", err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = tb.Select(cancelled, stepwise.Selection{Capability: "search"})
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeCancelled), "got %v", err)
}

func TestSelect_RouteHook(t *testing.T) {
	var routed []string
	tb, err := Default(WithRouteHook(func(sel stepwise.Selection, d router.Decision) {
		routed = append(routed, sel.Capability+"="+d.Tool.Name)
	}))
	require.NoError(t, err)

	_, err = tb.Select(context.Background(), stepwise.Selection{Capability: "navigate"})
	require.NoError(t, err)
	_, err = tb.Select(context.Background(), stepwise.Selection{Capability: "teleport"})
	require.Error(t, err)

	assert.Equal(t, []string{"navigate=browser"}, routed)
}

func TestRecordOutcome(t *testing.T) {
	tb, err := Default()
	require.NoError(t, err)

	require.NoError(t, tb.RecordOutcome("search", false, 100*time.Millisecond))
	m, ok := tb.Registry().Get("search")
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Usage.Failures)
	assert.Equal(t, 0.0, m.Reliability)

	err = tb.RecordOutcome("nope", true, 0)
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeUnknownTool))
}

func TestNew_SynthesisesRegistryEntries(t *testing.T) {
	doc, err := schema.Parse([]byte(`
weather:
  description: Current weather for a city
  inputs:
    city: {type: string, required: true}
  metadata:
    category: data
`))
	require.NoError(t, err)
	cat, err := capability.Parse([]byte(`
forecast:
  tool: weather
  actions: [forecast, predict]
`))
	require.NoError(t, err)

	tb := New(schema.NewStore(doc, nil), cat, nil)

	m, ok := tb.Registry().Get("weather")
	require.True(t, ok)
	assert.Equal(t, []string{"weather", "data", "forecast", "predict"}, m.Capabilities)
	assert.Equal(t, "Current weather for a city", m.Description)
	assert.Equal(t, registry.DefaultMaxConcurrency, m.MaxConcurrency)
	assert.False(t, m.RequiresAuth)
	assert.Zero(t, m.RateLimit)
	assert.True(t, tb.HasCapability("predict"))

	name, err := tb.Select(context.Background(), stepwise.Selection{Capability: "forecast"})
	require.NoError(t, err)
	assert.Equal(t, "weather", name)
}

func TestNew_KeepsDeclaredRegistryEntries(t *testing.T) {
	doc, err := schema.Parse([]byte("search:\n  inputs:\n    query: {type: string}\n"))
	require.NoError(t, err)
	reg := registry.New()
	require.NoError(t, reg.Register(registry.ToolMetadata{Name: "search", Capabilities: []string{"lookup"}, Reliability: 42}))
	require.NoError(t, reg.Register(registry.ToolMetadata{Name: "extra", Capabilities: []string{"misc"}}))

	tb := New(schema.NewStore(doc, nil), nil, reg)

	m, _ := tb.Registry().Get("search")
	assert.Equal(t, 42.0, m.Reliability)
	assert.Equal(t, []string{"search", "extra"}, tb.ToolNames())
	assert.Equal(t, "- search: \n", tb.DescribeCapabilities())
}

func TestLoad_FromFiles(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "tools.yaml")
	registryPath := filepath.Join(dir, "registry.yaml")
	require.NoError(t, os.WriteFile(schemaPath, []byte("echo:\n  inputs:\n    text: {type: string, required: true}\n"), 0o644))
	require.NoError(t, os.WriteFile(registryPath, []byte("tools:\n  - name: echo\n    capabilities: [repeat]\n    cost: free\n"), 0o644))

	tb, err := Load(context.Background(), Paths{Schema: schemaPath, Registry: registryPath})
	require.NoError(t, err)
	assert.Equal(t, []string{"echo"}, tb.ToolNames())
	assert.True(t, tb.HasCapability("repeat"))
	// the built-in capability catalog is still used
	assert.NotEmpty(t, tb.Catalog().Enabled())

	_, err = Load(context.Background(), Paths{Schema: filepath.Join(dir, "missing.yaml")})
	assert.True(t, stepwise.HasCode(err, stepwise.ErrCodeDocument), "got %v", err)
}

func TestDefaultDocument(t *testing.T) {
	data, err := DefaultDocument("registry")
	require.NoError(t, err)
	assert.Contains(t, string(data), "tools:")

	_, err = DefaultDocument("nope")
	assert.Error(t, err)
}

func TestWatch_RegistersNewTools(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a:\n  inputs: {}\n"), 0o644))

	doc, err := schema.Load(path)
	require.NoError(t, err)
	tb := New(schema.NewStore(doc, nil), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan struct{}, 4)
	go func() {
		_ = tb.Watch(ctx, path, func(d *schema.Document, err error) {
			if err == nil {
				select {
				case reloaded <- struct{}{}:
				default:
				}
			}
		})
	}()

	// give the watcher time to register
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a:\n  inputs: {}\nb:\n  inputs: {}\n"), 0o644))

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
	require.Eventually(t, func() bool {
		_, ok := tb.Registry().Get("b")
		return ok
	}, 2*time.Second, 20*time.Millisecond)
}
