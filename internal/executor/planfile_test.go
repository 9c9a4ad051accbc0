package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/mcpdesk"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write plan file: %v", err)
	}
	return path
}

func TestPlanFile_Validate_TableDriven(t *testing.T) {
	tests := []struct {
		name    string
		pf      PlanFile
		wantErr bool
	}{
		{"valid", PlanFile{Steps: []PlanFileStep{
			{ID: "a", Tool: "value"},
			{ID: "b", Tool: "echo", Args: map[string]interface{}{"in": "$a.output.price"}},
		}}, false},
		{"empty", PlanFile{}, true},
		{"missing tool", PlanFile{Steps: []PlanFileStep{{ID: "a"}}}, true},
		{"duplicate id", PlanFile{Steps: []PlanFileStep{{ID: "a", Tool: "x"}, {ID: "a", Tool: "x"}}}, true},
		{"missing reference", PlanFile{Steps: []PlanFileStep{
			{ID: "a", Tool: "echo", Args: map[string]interface{}{"in": "$b.output"}},
		}}, true},
		{"forward reference", PlanFile{Steps: []PlanFileStep{
			{ID: "a", Tool: "echo", Args: map[string]interface{}{"in": "$b.output"}},
			{ID: "b", Tool: "value"},
		}}, true},
		{"forward step variable", PlanFile{Steps: []PlanFileStep{
			{Tool: "echo", Args: map[string]interface{}{"in": "$step1"}},
			{Tool: "value"},
		}}, true},
		{"previous result on first step", PlanFile{Steps: []PlanFileStep{
			{Tool: "echo", Args: map[string]interface{}{"in": "PREVIOUS_RESULT"}},
		}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.pf.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEndToEnd_YAMLPlanFile(t *testing.T) {
	path := writeFile(t, "plan.yaml", `
name: acme check
steps:
  - id: quote
    tool: value
  - tool: echo
    args:
      in: $quote.output.price
  - tool: echo
    args:
      in: PREVIOUS_RESULT
  - tool: echo
    args:
      in:
        $expr: "$step0.price * 2"
`)
	plan, err := LoadPlanFile(path)
	if err != nil {
		t.Fatalf("LoadPlanFile failed: %v", err)
	}
	if plan.Query != "acme check" || len(plan.Steps) != 4 {
		t.Fatalf("unexpected plan %+v", plan)
	}
	if got := plan.Steps[1].Args["in"]; got != mcpdesk.StepRef(0, "price") {
		t.Errorf("unexpected binding %+v", got)
	}

	catalog := catalogOf(t, value(map[string]interface{}{"price": 21.0}), echo())
	result := NewExecutor().Execute(context.Background(), plan, catalog)
	if result.Status != mcpdesk.StatusCompleted {
		t.Fatalf("expected Completed, got %s (%+v)", result.Status, result.Outcomes)
	}
	if result.Outcomes[2].Value != 21.0 || result.Outcomes[3].Value != 42.0 {
		t.Errorf("unexpected outcomes %+v", result.Outcomes)
	}
}

func TestEndToEnd_JSONPlanFile(t *testing.T) {
	path := writeFile(t, "plan.json", `{"query": "q", "steps": [{"tool": "value"}, {"tool": "echo", "args": {"in": "$step0"}}]}`)
	plan, err := LoadPlanFile(path)
	if err != nil {
		t.Fatalf("LoadPlanFile failed: %v", err)
	}
	if len(plan.Steps) != 2 || plan.Query != "q" {
		t.Errorf("unexpected plan %+v", plan)
	}

	if _, err := LoadPlanFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
