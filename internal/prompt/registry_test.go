package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/stepwise/internal/schema"
)

func TestNewRegistry_BuiltIns(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	want := []string{Analyze, Decompose, QueryParams, RequiredFields, TaskType}
	got := r.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Names() = %v, want %v", got, want)
	}
}

func TestRender_Decompose(t *testing.T) {
	doc, err := schema.Parse([]byte(`
browser:
  description: Drives a browser
  inputs:
    method: {type: string, required: true, default: navigate}
    url: {type: string, required: true}
    args: {type: object}
  outputs:
    current_url: extract_current_url
`))
	if err != nil {
		t.Fatal(err)
	}
	tool, _ := doc.Tool("browser")

	out, err := MustRegistry().Render(Decompose, map[string]interface{}{
		"Description":    "open example.com",
		"Tools":          []ToolView{DescribeTool(tool)},
		"RequiredFields": []string{"title"},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, fragment := range []string{
		"Task: open example.com",
		"## browser: Drives a browser",
		"- method (string, required) default navigate",
		"- args (object)",
		`Example: {"tool": "browser", "parameters": {"method": "navigate", "url": "<url>"}, "description": "..."}`,
		"must include these fields: title",
		"{{search.urls[0]}}",
	} {
		if !strings.Contains(out, fragment) {
			t.Errorf("rendered prompt missing %q:\n%s", fragment, out)
		}
	}
	if strings.Contains(out, "Query parameters") {
		t.Error("empty query parameters should be omitted")
	}
}

func TestRender_UnknownPrompt(t *testing.T) {
	if _, err := MustRegistry().Render("nope", nil); err == nil {
		t.Fatal("expected an error for an unknown prompt")
	}
}

func TestRender_KeepsBuiltInMetadata(t *testing.T) {
	r := MustRegistry()
	meta, ok := r.Metadata(Decompose)
	if !ok {
		t.Fatal("decompose prompt has no metadata")
	}
	if meta.Output.Format != "json" {
		t.Errorf("output format = %q, want json", meta.Output.Format)
	}
	if _, ok := r.Metadata("nope"); ok {
		t.Error("unknown prompt reported metadata")
	}
}

func TestRender_TaskTypeJoinsLabels(t *testing.T) {
	out, err := MustRegistry().Render(TaskType, map[string]any{
		"Description":  "find cats",
		"Capabilities": "search: web search",
		"TaskTypes":    []string{"search", "general"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Task types: search, general") {
		t.Errorf("labels not joined:\n%s", out)
	}
	if strings.HasPrefix(out, "---") || strings.Contains(out, "format:") {
		t.Errorf("frontmatter leaked into the prompt:\n%s", out)
	}
}

func TestDefineAndHelpers(t *testing.T) {
	r, err := NewRegistry(
		WithHelper("shout", func(s string) string { return s + "!" }),
		WithPartial("sig", "-- {{Name}}"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Define("greet", "{{shout Name}} {{upper Name}} {{> sig}}"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		out, err := r.Render("greet", map[string]any{"Name": "go"})
		if err != nil {
			t.Fatal(err)
		}
		if out != "go! GO -- go" {
			t.Errorf("render %d: got %q", i, out)
		}
	}
	if err := r.Define("broken", "{{Name"); err == nil {
		t.Error("expected a parse error")
	}
}

func TestLoadDir_Overrides(t *testing.T) {
	dir := t.TempDir()
	override := "---\nname: task_type\n---\nlabel {{Description}}\n"
	if err := os.WriteFile(filepath.Join(dir, "task_type.prompt"), []byte(override), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := MustRegistry()
	if err := r.LoadDir(dir); err != nil {
		t.Fatal(err)
	}
	out, err := r.Render(TaskType, map[string]any{"Description": "x"})
	if err != nil {
		t.Fatal(err)
	}
	if out != "label x" {
		t.Errorf("got %q", out)
	}
	if len(r.Names()) != 5 {
		t.Errorf("unexpected prompt set %v", r.Names())
	}
}
