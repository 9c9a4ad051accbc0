package executor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// PlanFile is a hand-written plan. Steps may carry an id so later steps can
// refer to them as "$<id>.output" or "$<id>.output.field"; "$stepN" and
// "PREVIOUS_RESULT" work as in model-generated plans.
type PlanFile struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Query       string         `yaml:"query" json:"query"`
	Steps       []PlanFileStep `yaml:"steps" json:"steps"`
}

// PlanFileStep is one step of a PlanFile.
type PlanFileStep struct {
	ID        string                 `yaml:"id" json:"id"`
	Tool      string                 `yaml:"tool" json:"tool"`
	Args      map[string]interface{} `yaml:"args" json:"args"`
	Rationale string                 `yaml:"rationale" json:"rationale"`
}

// PlanFileLoader loads a PlanFile from a path.
type PlanFileLoader interface {
	Load(path string) (*PlanFile, error)
	Format() string
}

var (
	loaderMu       sync.RWMutex
	loaderRegistry = make(map[string]PlanFileLoader)
)

// RegisterPlanFileLoader registers a loader for its format name.
func RegisterPlanFileLoader(loader PlanFileLoader) {
	loaderMu.Lock()
	defer loaderMu.Unlock()
	loaderRegistry[loader.Format()] = loader
}

// GetPlanFileLoader retrieves a loader by format name (e.g., "yaml").
func GetPlanFileLoader(format string) (PlanFileLoader, bool) {
	loaderMu.RLock()
	defer loaderMu.RUnlock()
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements PlanFileLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()
	var pf PlanFile
	if err := yaml.NewDecoder(f).Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan YAML: %w", err)
	}
	return &pf, nil
}

func (YAMLLoader) Format() string { return "yaml" }

// JSONLoader implements PlanFileLoader for JSON files.
type JSONLoader struct{}

func (JSONLoader) Load(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open plan file: %w", err)
	}
	var pf PlanFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan JSON: %w", err)
	}
	return &pf, nil
}

func (JSONLoader) Format() string { return "json" }

func init() {
	RegisterPlanFileLoader(YAMLLoader{})
	RegisterPlanFileLoader(JSONLoader{})
}

var outputRefPattern = regexp.MustCompile(`^\$([a-zA-Z_][a-zA-Z0-9_-]*)\.output((?:\.[a-zA-Z0-9_]+)*)$`)

// Validate checks for missing tools, duplicate ids and references that do not
// point to an earlier step. Tool names are checked later by the validator.
func (pf *PlanFile) Validate() error {
	if len(pf.Steps) == 0 {
		return fmt.Errorf("plan file has no steps")
	}
	seen := make(map[string]int, len(pf.Steps))
	for i, s := range pf.Steps {
		if strings.TrimSpace(s.Tool) == "" {
			return fmt.Errorf("step %d has no tool", i)
		}
		if s.ID == "" {
			continue
		}
		if _, exists := seen[s.ID]; exists {
			return fmt.Errorf("duplicate step ID found: %s", s.ID)
		}
		seen[s.ID] = i
	}
	_, err := pf.ToPlan()
	return err
}

// ToPlan converts the file into a plan. Id references become step references.
func (pf *PlanFile) ToPlan() (*mcpdesk.Plan, error) {
	ids := make(map[string]int, len(pf.Steps))
	for i, s := range pf.Steps {
		if s.ID != "" {
			ids[s.ID] = i
		}
	}

	plan := &mcpdesk.Plan{Query: pf.Query}
	if plan.Query == "" {
		plan.Query = pf.Name
	}
	for i, s := range pf.Steps {
		args := make(map[string]mcpdesk.ArgumentSource, len(s.Args))
		for name, raw := range s.Args {
			if str, ok := raw.(string); ok {
				if m := outputRefPattern.FindStringSubmatch(strings.TrimSpace(str)); m != nil {
					ref, ok := ids[m[1]]
					if !ok {
						return nil, fmt.Errorf("step %d argument '%s' refers to missing step '%s'", i, name, m[1])
					}
					if ref >= i {
						return nil, fmt.Errorf("step %d argument '%s' refers to later step '%s'", i, name, m[1])
					}
					args[name] = mcpdesk.StepRef(ref, strings.TrimPrefix(m[2], "."))
					continue
				}
			}
			src, err := mcpdesk.ParseBinding(raw, i)
			if err != nil {
				return nil, fmt.Errorf("step %d argument '%s': %w", i, name, err)
			}
			for _, ref := range src.References() {
				if ref < 0 || ref >= i {
					return nil, fmt.Errorf("step %d argument '%s' refers to step %d, which does not precede it", i, name, ref)
				}
			}
			args[name] = src
		}
		plan.Steps = append(plan.Steps, mcpdesk.PlanStep{
			Index:     i,
			Tool:      strings.TrimSpace(s.Tool),
			Args:      args,
			Rationale: s.Rationale,
		})
	}
	return plan, nil
}

// LoadPlanFile loads and validates a plan file, choosing the loader by file
// extension (".json" or YAML otherwise).
func LoadPlanFile(path string) (*mcpdesk.Plan, error) {
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	loader, ok := GetPlanFileLoader(format)
	if !ok {
		return nil, fmt.Errorf("no %s plan loader registered", format)
	}
	pf, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	if err := pf.Validate(); err != nil {
		return nil, err
	}
	return pf.ToPlan()
}
