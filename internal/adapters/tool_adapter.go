package adapters

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// ToolFunc is the signature of a Go function exposed as a tool.
type ToolFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// GoToolAdapter adapts a standard Go function to the mcpdesk.Tool interface
// and carries the metadata needed to register it.
type GoToolAdapter struct {
	toolFunc    ToolFunc
	name        string
	validator   func(map[string]interface{}) error
	description string
	category    mcpdesk.Category
	risk        mcpdesk.RiskTag
	params      []mcpdesk.ParamSpec
}

// ToolOption represents an option for configuring a GoToolAdapter.
type ToolOption func(*GoToolAdapter)

// WithValidator sets a custom validator run before every invocation.
func WithValidator(validator func(map[string]interface{}) error) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.validator = validator
	}
}

// WithCategory sets the tool's category.
func WithCategory(category mcpdesk.Category) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.category = category
	}
}

// WithDescription sets a detailed description for the tool.
func WithDescription(description string) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.description = description
	}
}

// WithRisk sets the tool's risk tag. Tools are safe unless told otherwise.
func WithRisk(risk mcpdesk.RiskTag) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.risk = risk
	}
}

// WithParameters sets the ordered parameter schema.
func WithParameters(params ...mcpdesk.ParamSpec) ToolOption {
	return func(adapter *GoToolAdapter) {
		adapter.params = append(adapter.params, params...)
	}
}

// Required declares a required parameter.
func Required(name string, typ mcpdesk.ParamType, description string) mcpdesk.ParamSpec {
	return mcpdesk.ParamSpec{Name: name, Type: typ, Required: true, Description: description}
}

// Optional declares an optional parameter.
func Optional(name string, typ mcpdesk.ParamType, description string) mcpdesk.ParamSpec {
	return mcpdesk.ParamSpec{Name: name, Type: typ, Description: description}
}

// NewGoToolAdapter creates a new adapter for a Go function.
func NewGoToolAdapter(name string, toolFunc ToolFunc, options ...ToolOption) *GoToolAdapter {
	adapter := &GoToolAdapter{
		toolFunc: toolFunc,
		name:     name,
		risk:     mcpdesk.RiskSafe,
		validator: func(input map[string]interface{}) error {
			// Default validator just ensures input is not nil
			if input == nil {
				return fmt.Errorf("input cannot be nil")
			}
			return nil
		},
	}

	// Apply all options
	for _, option := range options {
		option(adapter)
	}

	return adapter
}

// Invoke implements the mcpdesk.Tool interface.
func (a *GoToolAdapter) Invoke(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	if a.toolFunc == nil {
		return nil, fmt.Errorf("tool function is nil")
	}

	// Validate input before execution
	if err := a.Validate(input); err != nil {
		return nil, fmt.Errorf("input validation failed for %s: %w", a.name, err)
	}

	return a.toolFunc(ctx, input)
}

// Validate runs the configured validator.
func (a *GoToolAdapter) Validate(input map[string]interface{}) error {
	if a.validator != nil {
		return a.validator(input)
	}
	return nil
}

// Name implements the mcpdesk.Tool interface.
func (a *GoToolAdapter) Name() string {
	return a.name
}

// Descriptor returns the registry entry for this tool.
func (a *GoToolAdapter) Descriptor() mcpdesk.ToolDescriptor {
	return mcpdesk.ToolDescriptor{
		Name:        a.name,
		Description: a.description,
		Category:    a.category,
		Params:      append([]mcpdesk.ParamSpec(nil), a.params...),
		Risk:        a.risk,
		Tool:        a,
	}
}

// Provider is a ToolProvider over a fixed list of adapters.
type Provider struct {
	name  string
	tools []*GoToolAdapter
}

// NewProvider groups adapters under a provider name.
func NewProvider(name string, tools ...*GoToolAdapter) *Provider {
	return &Provider{name: name, tools: tools}
}

// Name implements mcpdesk.ToolProvider.
func (p *Provider) Name() string { return p.name }

// Tools implements mcpdesk.ToolProvider.
func (p *Provider) Tools() []mcpdesk.ToolDescriptor {
	out := make([]mcpdesk.ToolDescriptor, 0, len(p.tools))
	for _, t := range p.tools {
		out = append(out, t.Descriptor())
	}
	return out
}
