package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI in an empty working directory so no config file is picked up.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	cmd := rootCMD()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPlanCommand_JSON(t *testing.T) {
	out, err := run(t, "", "plan", "-o", "json", "go to example.com and search for cats")
	require.NoError(t, err)

	var plan stepwise.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, stepwise.SourceFallback, plan.Source)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, "step_0_browser", plan.Steps[0].ID)
	assert.Equal(t, "fill", plan.Steps[1].Method())
}

func TestPlanCommand_ManyTasksKeepOrder(t *testing.T) {
	stdin := "# research\nfind golang tutorials\n\nhello there\nvisit https://go.dev\n"
	out, err := run(t, stdin, "plan", "-o", "json", "--tasks", "-", "--concurrency", "3")
	require.NoError(t, err)

	var plans []stepwise.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plans))
	require.Len(t, plans, 3)
	assert.Equal(t, "find golang tutorials", plans[0].Description)
	assert.Equal(t, stepwise.SourceEmpty, plans[1].Source)
	assert.Equal(t, "step_0_browser", plans[2].Steps[0].ID)
}

func TestPlanCommand_TaskFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
steps:
  - tool: search
    description: golang release notes
  - tool: browser
    method: extract_content
    parameters:
      url: "{{search.urls[0]}}"
`), 0o644))

	out, err := run(t, "", "plan", "--task-file", path, "read the latest go release notes")
	require.NoError(t, err)
	assert.Contains(t, out, "source pre_analyzed, 2 steps")
	assert.Contains(t, out, "step_1_browser")
	assert.Contains(t, out, "extract_content")
}

func TestPlanCommand_NoTask(t *testing.T) {
	_, err := run(t, "", "plan")
	assert.Error(t, err)
}

func TestRouteCommand(t *testing.T) {
	out, err := run(t, "", "route", "navigate", "--fallbacks", "0")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "browser"), lines[1])

	_, err = run(t, "", "route", "navigate", "--strategy", "coin_flip")
	assert.Error(t, err)
}

func TestToolsCommand(t *testing.T) {
	out, err := run(t, "", "tools")
	require.NoError(t, err)
	assert.Contains(t, out, "query*,limit")
	assert.Contains(t, out, "api_request")

	out, err = run(t, "", "tools", "--print-default", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "accepts_from")
}

func TestResolveCommand(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "plan.json")
	resultsPath := filepath.Join(dir, "results.json")
	require.NoError(t, os.WriteFile(planPath, []byte(`{
  "task_id": "t1",
  "description": "find go docs and open the first one",
  "source": "pre_analyzed",
  "steps": [
    {"id": "step_0_search", "tool": "search", "parameters": {"query": "go docs"}},
    {"id": "step_1_browser", "tool": "browser", "parameters": {"method": "navigate"}, "depends_on": "step_0_search"}
  ]
}`), 0o644))
	require.NoError(t, os.WriteFile(resultsPath, []byte(`[
  {"step_id": "step_0_search", "result": "1. Documentation https://go.dev/doc\n2. Tour https://go.dev/tour", "success": true, "duration_ns": 1500000}
]`), 0o644))

	out, err := run(t, "", "resolve", "--plan", planPath, "--results", resultsPath)
	require.NoError(t, err)

	var got resolveOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "step_1_browser", got.Step.ID)
	url, ok := got.Step.Parameters["url"].Str()
	require.True(t, ok)
	assert.Equal(t, "https://go.dev/doc", url)
	assert.Empty(t, got.Report.Unresolved)

	_, err = run(t, "", "resolve", "--plan", planPath, "--results", resultsPath, "--step", "step_9_file")
	assert.Error(t, err)
}

func TestStructuredAnalyzer(t *testing.T) {
	ts := &stepwise.TaskStructure{Steps: []stepwise.StructuredStep{{Tool: "search"}, {Tool: "browser"}}}
	an := structuredAnalyzer{inner: nilAnalyzer{}, structure: ts}
	got, err := an.Analyze(context.Background(), "x")
	require.NoError(t, err)
	assert.Same(t, ts, got.TaskStructure)
	assert.Equal(t, 2, got.EstimatedSteps)
}

type nilAnalyzer struct{}

func (nilAnalyzer) Analyze(context.Context, string) (*stepwise.TaskAnalysis, error) { return nil, nil }
