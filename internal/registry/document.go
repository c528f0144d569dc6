package registry

import (
	"fmt"
	"os"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"
)

// toolDoc is one entry of a registry document.
type toolDoc struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
	Category     string   `yaml:"category"`
	Tags         []string `yaml:"tags"`
	Cost         CostTier `yaml:"cost"`
	Version      string   `yaml:"version"`
	Disabled     bool     `yaml:"disabled"`
	LatencyMS    *float64 `yaml:"avg_latency_ms"`
	Reliability  *float64 `yaml:"reliability"`

	MaxConcurrency *int `yaml:"max_concurrency"`
	RequiresAuth   bool `yaml:"requires_auth"`
	RateLimit      int  `yaml:"rate_limit"`
}

type registryDoc struct {
	Tools []toolDoc `yaml:"tools"`
}

// ParseDocument decodes a registry document: a `tools` list of metadata
// entries. Missing latency, reliability and concurrency take the package
// defaults.
func ParseDocument(data []byte) ([]ToolMetadata, error) {
	var doc registryDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	out := make([]ToolMetadata, 0, len(doc.Tools))
	seen := make(map[string]bool, len(doc.Tools))
	for i, t := range doc.Tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tools[%d]: missing name", i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("tools[%d]: duplicate tool %q", i, t.Name)
		}
		if t.RateLimit < 0 || (t.MaxConcurrency != nil && *t.MaxConcurrency < 0) {
			return nil, fmt.Errorf("tools[%d]: negative rate_limit or max_concurrency", i)
		}
		seen[t.Name] = true
		out = append(out, t.metadata())
	}
	return out, nil
}

func (t toolDoc) metadata() ToolMetadata {
	m := ToolMetadata{
		Name:         t.Name,
		Description:  t.Description,
		Capabilities: t.Capabilities,
		Category:     t.Category,
		Tags:         t.Tags,
		Cost:         t.Cost,
		Version:      t.Version,
		Disabled:     t.Disabled,
		AvgLatency:   DefaultLatency,
		Reliability:  DefaultReliability,

		MaxConcurrency: DefaultMaxConcurrency,
		RequiresAuth:   t.RequiresAuth,
		RateLimit:      t.RateLimit,
	}
	if t.MaxConcurrency != nil {
		m.MaxConcurrency = *t.MaxConcurrency
	}
	if t.LatencyMS != nil {
		m.AvgLatency = time.Duration(*t.LatencyMS * float64(time.Millisecond))
	}
	if t.Reliability != nil {
		m.Reliability = *t.Reliability
	}
	return m
}

// LoadDocument reads a registry document from path.
func LoadDocument(path string) ([]ToolMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("read registry document %s", path), err)
	}
	tools, err := ParseDocument(data)
	if err != nil {
		return nil, errbuilder.GenericErr(fmt.Sprintf("parse registry document %s", path), err)
	}
	return tools, nil
}

// RegisterAll registers every entry of tools, stopping at the first error.
func (r *Registry) RegisterAll(tools []ToolMetadata) error {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}
