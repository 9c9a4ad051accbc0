package adapters

import (
	"context"
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/mcpdesk"
)

type dummyTool struct {
	fail bool
}

func (d *dummyTool) run(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	if d.fail {
		return nil, errors.New("fail")
	}
	return map[string]interface{}{"ok": true}, nil
}

func TestGoToolAdapter_Invoke_SuccessAndFailure(t *testing.T) {
	adapter := NewGoToolAdapter("dummy", (&dummyTool{}).run)
	res, err := adapter.Invoke(context.Background(), map[string]interface{}{})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if res.(map[string]interface{})["ok"] != true {
		t.Errorf("expected ok=true, got %v", res)
	}

	adapterFail := NewGoToolAdapter("dummy", (&dummyTool{fail: true}).run)
	_, err = adapterFail.Invoke(context.Background(), map[string]interface{}{})
	if err == nil {
		t.Error("expected error for failing tool, got nil")
	}
}

func TestGoToolAdapter_Validate(t *testing.T) {
	adapter := NewGoToolAdapter("dummy", (&dummyTool{}).run, WithValidator(func(input map[string]interface{}) error {
		if input["bad"] == true {
			return errors.New("bad input")
		}
		return nil
	}))
	if err := adapter.Validate(map[string]interface{}{"bad": true}); err == nil {
		t.Error("expected error for bad input, got nil")
	}
	if _, err := adapter.Invoke(context.Background(), map[string]interface{}{"bad": true}); err == nil {
		t.Error("expected Invoke to run the validator")
	}
	if err := adapter.Validate(map[string]interface{}{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestGoToolAdapter_Descriptor(t *testing.T) {
	adapter := NewGoToolAdapter("delete_file", (&dummyTool{}).run,
		WithDescription("Deletes a file."),
		WithCategory(mcpdesk.CategorySystem),
		WithRisk(mcpdesk.RiskDestructive),
		WithParameters(Required("path", mcpdesk.ParamString, "file path")),
	)
	desc := adapter.Descriptor()
	if desc.Name != "delete_file" || desc.Risk != mcpdesk.RiskDestructive || desc.Category != mcpdesk.CategorySystem {
		t.Errorf("unexpected descriptor: %+v", desc)
	}
	if p, ok := desc.Param("path"); !ok || !p.Required || p.Type != mcpdesk.ParamString {
		t.Errorf("expected required string param 'path', got %+v", p)
	}
	if desc.Tool != adapter {
		t.Error("descriptor should be bound to the adapter instance")
	}

	provider := NewProvider("system", adapter)
	if provider.Name() != "system" || len(provider.Tools()) != 1 {
		t.Errorf("unexpected provider contents: %s %v", provider.Name(), provider.Tools())
	}
}

func TestGoToolAdapter_DefaultRiskIsSafe(t *testing.T) {
	adapter := NewGoToolAdapter("noop", (&dummyTool{}).run)
	if adapter.Descriptor().Risk != mcpdesk.RiskSafe {
		t.Errorf("expected safe default risk, got %s", adapter.Descriptor().Risk)
	}
}
