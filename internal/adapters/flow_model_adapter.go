package adapters

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/core"
	"github.com/firebase/genkit/go/genkit"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// GenkitModelAdapter runs every call to a language model as a Genkit flow,
// so model traffic shows up in Genkit traces and the developer UI.
type GenkitModelAdapter struct {
	flow *core.Flow[mcpdesk.Prompt, string, struct{}]
}

// NewGenkitModelAdapter defines a flow named name around model.
func NewGenkitModelAdapter(g *genkit.Genkit, name string, model mcpdesk.LanguageModel) (*GenkitModelAdapter, error) {
	if g == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if model == nil {
		return nil, fmt.Errorf("language model is required")
	}
	flow := genkit.DefineFlow(g, name, func(ctx context.Context, p mcpdesk.Prompt) (string, error) {
		return model.Generate(ctx, p)
	})
	return &GenkitModelAdapter{flow: flow}, nil
}

// Generate implements mcpdesk.LanguageModel.
func (a *GenkitModelAdapter) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	out, err := a.flow.Run(ctx, p)
	if err != nil {
		return "", fmt.Errorf("model flow execution failed: %w", err)
	}
	return out, nil
}
