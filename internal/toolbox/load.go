package toolbox

import (
	"context"
	"embed"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/capability"
	"github.com/ZanzyTHEbar/stepwise/internal/logging"
	"github.com/ZanzyTHEbar/stepwise/internal/registry"
	"github.com/ZanzyTHEbar/stepwise/internal/schema"
	"golang.org/x/sync/errgroup"
)

//go:embed defaults/*.yaml
var defaults embed.FS

const (
	defaultSchemaFile       = "defaults/tool_io.yaml"
	defaultCapabilitiesFile = "defaults/capabilities.yaml"
	defaultRegistryFile     = "defaults/registry.yaml"
)

// Paths names the documents a toolbox is built from. An empty path selects the
// built-in document.
type Paths struct {
	Schema       string
	Capabilities string
	Registry     string
}

// Load reads the three documents concurrently and assembles a toolbox.
func Load(ctx context.Context, paths Paths, opts ...Option) (*Toolbox, error) {
	var (
		doc   *schema.Document
		cat   *capability.Catalog
		tools []registry.ToolMetadata
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if paths.Schema == "" {
			doc, err = defaultSchema()
		} else {
			doc, err = schema.Load(paths.Schema)
		}
		if err != nil {
			return stepwise.NewDocumentError(orDefault(paths.Schema), err)
		}
		return ctx.Err()
	})
	g.Go(func() error {
		var err error
		if paths.Capabilities == "" {
			cat, err = defaultCatalog()
		} else {
			cat, err = capability.Load(paths.Capabilities)
		}
		if err != nil {
			return stepwise.NewDocumentError(orDefault(paths.Capabilities), err)
		}
		return ctx.Err()
	})
	g.Go(func() error {
		var err error
		if paths.Registry == "" {
			tools, err = defaultRegistry()
		} else {
			tools, err = registry.LoadDocument(paths.Registry)
		}
		if err != nil {
			return stepwise.NewDocumentError(orDefault(paths.Registry), err)
		}
		return ctx.Err()
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	probe := &Toolbox{}
	for _, opt := range opts {
		opt(probe)
	}
	reg := registry.New(registry.WithLogger(probe.logger))
	if err := reg.RegisterAll(tools); err != nil {
		return nil, stepwise.NewDocumentError(orDefault(paths.Registry), err)
	}
	t := New(schema.NewStore(doc, probe.logger), cat, reg, opts...)
	logging.OrNop(probe.logger).Info("toolbox loaded", logging.Fields{
		"schema_tools":   len(doc.Names()),
		"capabilities":   len(cat.Enabled()),
		"registry_tools": len(reg.List()),
	})
	return t, nil
}

// Default builds a toolbox from the built-in documents.
func Default(opts ...Option) (*Toolbox, error) {
	return Load(context.Background(), Paths{}, opts...)
}

func orDefault(path string) string {
	if path == "" {
		return "built-in"
	}
	return path
}

func defaultSchema() (*schema.Document, error) {
	data, err := defaults.ReadFile(defaultSchemaFile)
	if err != nil {
		return nil, err
	}
	return schema.Parse(data)
}

func defaultCatalog() (*capability.Catalog, error) {
	data, err := defaults.ReadFile(defaultCapabilitiesFile)
	if err != nil {
		return nil, err
	}
	return capability.Parse(data)
}

func defaultRegistry() ([]registry.ToolMetadata, error) {
	data, err := defaults.ReadFile(defaultRegistryFile)
	if err != nil {
		return nil, err
	}
	return registry.ParseDocument(data)
}

// DefaultDocument returns the raw bytes of a built-in document: "schema",
// "capabilities" or "registry".
func DefaultDocument(kind string) ([]byte, error) {
	file := map[string]string{
		"schema":       defaultSchemaFile,
		"capabilities": defaultCapabilitiesFile,
		"registry":     defaultRegistryFile,
	}[kind]
	if file == "" {
		return nil, stepwise.NewValidationError("toolbox", "unknown built-in document "+kind, nil)
	}
	return defaults.ReadFile(file)
}
