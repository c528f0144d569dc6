package decomposer

import (
	"fmt"
	"os"
	"strings"

	"github.com/ZanzyTHEbar/stepwise"
	"github.com/ZanzyTHEbar/stepwise/internal/param"
	"gopkg.in/yaml.v3"
)

// TaskFile is a pre-analyzed task written by hand: an ordered list of steps
// that bypasses analysis and generative planning.
type TaskFile struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []TaskFileStep `yaml:"steps"`
}

// TaskFileStep is one step of a TaskFile. ID and DependsOn are optional; when
// given, DependsOn must name the step immediately before.
type TaskFileStep struct {
	ID          string    `yaml:"id"`
	Tool        string    `yaml:"tool"`
	Method      string    `yaml:"method"`
	Description string    `yaml:"description"`
	Parameters  param.Map `yaml:"parameters"`
	DependsOn   string    `yaml:"depends_on"`
}

// LoadTaskFile reads and validates a task file.
func LoadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, stepwise.NewDocumentError(path, err)
	}
	tf, err := ParseTaskFile(data)
	if err != nil {
		return nil, stepwise.NewDocumentError(path, err)
	}
	return tf, nil
}

// ParseTaskFile decodes and validates a task file.
func ParseTaskFile(data []byte) (*TaskFile, error) {
	var tf TaskFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("failed to parse task YAML: %w", err)
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return &tf, nil
}

// Validate checks that every step names a tool, IDs are unique, and the
// dependencies form a single chain.
func (tf *TaskFile) Validate() error {
	if len(tf.Steps) == 0 {
		return fmt.Errorf("task file has no steps")
	}
	ids := make(map[string]struct{}, len(tf.Steps))
	for i, s := range tf.Steps {
		if strings.TrimSpace(s.Tool) == "" {
			return fmt.Errorf("step %d has no tool", i)
		}
		if s.ID != "" {
			if _, dup := ids[s.ID]; dup {
				return fmt.Errorf("duplicate step ID found: %s", s.ID)
			}
			ids[s.ID] = struct{}{}
		}
		if s.DependsOn == "" {
			continue
		}
		if i == 0 {
			return fmt.Errorf("first step '%s' cannot depend on '%s'", s.ID, s.DependsOn)
		}
		if prev := tf.Steps[i-1].ID; s.DependsOn != prev {
			return fmt.Errorf("step %d depends on '%s', but steps may only depend on the step before ('%s')", i, s.DependsOn, prev)
		}
	}
	return nil
}

// Structure converts the file into the structure the fast path consumes.
func (tf *TaskFile) Structure() *stepwise.TaskStructure {
	ts := &stepwise.TaskStructure{Steps: make([]stepwise.StructuredStep, 0, len(tf.Steps))}
	for _, s := range tf.Steps {
		ts.Steps = append(ts.Steps, stepwise.StructuredStep{
			Tool:        s.Tool,
			Method:      s.Method,
			Description: s.Description,
			Parameters:  s.Parameters.Clone(),
		})
	}
	return ts
}

// LoadTaskStructure reads a task file and returns its structure.
func LoadTaskStructure(path string) (*stepwise.TaskStructure, error) {
	tf, err := LoadTaskFile(path)
	if err != nil {
		return nil, err
	}
	return tf.Structure(), nil
}
