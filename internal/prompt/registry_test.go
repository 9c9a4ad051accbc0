package prompt

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
	"github.com/ZanzyTHEbar/mcpdesk/internal/registry"
)

func catalog(t *testing.T) mcpdesk.Catalog {
	t.Helper()
	noop := func(ctx context.Context, args map[string]interface{}) (interface{}, error) { return nil, nil }
	r, err := registry.Build(adapters.NewProvider("p",
		adapters.NewGoToolAdapter("delete_file", noop,
			adapters.WithDescription("Deletes a file."),
			adapters.WithCategory(mcpdesk.CategorySystem),
			adapters.WithRisk(mcpdesk.RiskDestructive),
			adapters.WithParameters(adapters.Required("path", mcpdesk.ParamString, "relative path"))),
		adapters.NewGoToolAdapter("get_stock_info", noop,
			adapters.WithParameters(adapters.Required("ticker", mcpdesk.ParamString, ""))),
	))
	require.NoError(t, err)
	return r
}

func TestRenderPrompt_Planner(t *testing.T) {
	r := NewRegistry()
	in := NewPlannerInput(mcpdesk.PlanRequest{
		Query:   "Delete old.txt",
		History: []mcpdesk.Turn{{Query: "hello", Answer: "hi there"}},
	}, catalog(t), 7)

	p, err := r.RenderPrompt(Planner, in)
	require.NoError(t, err)

	assert.Contains(t, p.System, "- delete_file [system, destructive]: Deletes a file.")
	assert.Contains(t, p.System, "path (string, required): relative path")
	assert.Contains(t, p.System, "- get_stock_info [general, safe]: no description")
	assert.Contains(t, p.System, "at most 7 steps")
	assert.Contains(t, p.User, "User: hello")
	assert.Contains(t, p.User, "Assistant: hi there")
	assert.Contains(t, p.User, "Request: Delete old.txt")
}

func TestRenderPrompt_CorrectiveEchoesProblem(t *testing.T) {
	r := NewRegistry()
	in := NewPlannerInput(mcpdesk.PlanRequest{Query: "q"}, catalog(t), 5)
	in.Previous = `{"steps": [{"tool": "nope"}]}`
	in.Problem = "tool 'nope' is not registered"

	p, err := r.RenderPrompt(Corrective, in)
	require.NoError(t, err)
	assert.Contains(t, p.User, in.Previous)
	assert.Contains(t, p.User, "Problem: tool 'nope' is not registered")
	assert.NotContains(t, p.User, "Conversation so far")
}

func TestRenderPrompt_Summary(t *testing.T) {
	p, err := NewRegistry().RenderPrompt(Summary, SummaryInput{Query: "q", Findings: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Contains(t, p.User, "- a\n- b")
}

func TestRegistry_DefineAndMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.RenderPrompt("missing", nil)
	assert.Error(t, err)

	require.NoError(t, r.DefinePrompt("greet", "{{role \"system\"}}\nBe brief.\n{{role \"user\"}}\nHello {{name}}"))
	p, err := r.RenderPrompt("greet", map[string]any{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", p.System)
	assert.Equal(t, "Hello world", p.User)
	assert.Contains(t, r.Names(), "greet")

	assert.Error(t, r.DefinePrompt("broken", "{{"))
}

func TestRegistry_BuiltinsLoadedFromFiles(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{Direct, Planner, Corrective, Summary}, r.Names())

	p, err := r.RenderPrompt(Direct, PlannerInput{Query: "What is 2+2?"})
	require.NoError(t, err)
	assert.Contains(t, p.System, "No tools are available")
	assert.Equal(t, "Request: What is 2+2?", p.User)
}

func TestRegistry_PartialsAndHelpers(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.DefinePartial("sig", "-- {{team}}"))
	require.NoError(t, r.DefineHelper("upper", func(s string) string { return strings.ToUpper(s) }))
	assert.Error(t, r.DefineHelper("upper", strings.ToLower))

	require.NoError(t, r.DefinePrompt("note", "{{upper text}}\n{{>sig}}"))
	p, err := r.RenderPrompt("note", map[string]any{"text": "ship it", "team": "ops"})
	require.NoError(t, err)
	assert.Empty(t, p.System)
	assert.Equal(t, "SHIP IT\n-- ops", p.User)
}

func TestRegistry_LoadFS(t *testing.T) {
	fsys := fstest.MapFS{
		"extra/_footer.prompt": {Data: []byte("Thanks.")},
		"extra/ask.prompt":     {Data: []byte("---\nname: ask\n---\n{{question}}\n{{>footer}}")},
		"extra/notes.txt":      {Data: []byte("ignored")},
	}
	r := NewRegistry()
	require.NoError(t, r.LoadFS(fsys, "extra"))
	assert.Contains(t, r.Names(), "ask")
	assert.NotContains(t, r.Names(), "notes")

	p, err := r.RenderPrompt("ask", map[string]any{"question": "Why?"})
	require.NoError(t, err)
	assert.Equal(t, "Why?\nThanks.", p.User)
}

func TestRenderPrompt_RejectsNonObjectInput(t *testing.T) {
	_, err := NewRegistry().RenderPrompt(Summary, []string{"a"})
	assert.Error(t, err)
}
