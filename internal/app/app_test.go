package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/config"
	"github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"
	"github.com/ZanzyTHEbar/mcpdesk/internal/llm"
)

type planModel string

func (m planModel) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	return string(m), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Tools.BaseDir = filepath.Join(dir, "workspace")
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Executor.StepTimeout = time.Second
	cfg.Pipeline.RequestTimeout = 5 * time.Second
	return cfg
}

func TestBuild_HandleRecordsHistory(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg,
		WithModel(planModel(`{"steps": [{"tool": "describe_dataset", "args": {"file": "sales.csv"}}]}`)))
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, os.WriteFile(filepath.Join(a.Toolbox.Root(), "sales.csv"), []byte("amount\n10\n20\n30\n"), 0o644))

	resp := a.Handle(context.Background(), mcpdesk.Request{SessionID: "s1", Query: "describe sales.csv"})
	require.Equal(t, mcpdesk.ResponseOK, resp.Status, resp.Text)
	assert.Contains(t, resp.Text, "amount mean 20")
	require.Len(t, resp.Artifacts, 1)

	require.Eventually(t, func() bool {
		turns, err := a.History.Recent(context.Background(), "s1", 5)
		return err == nil && len(turns) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestBuild_HistoryWithoutEventBus(t *testing.T) {
	cfg := testConfig(t)
	off := false
	cfg.EventBus.Enabled = &off

	a, err := Build(context.Background(), cfg, WithModel(planModel(`{"steps": [], "answer": "hello"}`)))
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Orchestrator.EventBus())

	a.Handle(context.Background(), mcpdesk.Request{SessionID: "s2", Query: "say hello"})
	entries, err := a.History.List(context.Background(), "s2", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRunPlan_RespectsElevation(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg, Offline())
	require.NoError(t, err)
	defer a.Close()

	target := filepath.Join(a.Toolbox.Root(), "old.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))

	plan := &mcpdesk.Plan{Steps: []mcpdesk.PlanStep{{
		Tool: "delete_file",
		Args: map[string]mcpdesk.ArgumentSource{"path": mcpdesk.Literal("old.txt")},
	}}}

	resp := a.RunPlan(context.Background(), plan, mcpdesk.Request{Query: "cleanup"})
	assert.Equal(t, mcpdesk.ResponseRejected, resp.Status)
	assert.FileExists(t, target)

	resp = a.RunPlan(context.Background(), plan, mcpdesk.Request{Query: "cleanup", Elevated: true})
	assert.Equal(t, mcpdesk.ResponseOK, resp.Status)
	assert.NoFileExists(t, target)
}

func TestBuild_OfflinePlanningFails(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), Offline())
	require.NoError(t, err)
	defer a.Close()

	resp := a.Handle(context.Background(), mcpdesk.Request{Query: "anything"})
	assert.Equal(t, mcpdesk.ResponseError, resp.Status)
}

func TestNewModel(t *testing.T) {
	keyring.MockInit()
	t.Setenv("OPENAI_API_KEY", "")

	m, err := NewModel(context.Background(), config.LLMConfig{ModelConfig: config.ModelConfig{Provider: "local", BaseURL: "http://127.0.0.1:1/v1"}})
	require.NoError(t, err)
	assert.IsType(t, &llm.OpenAIModel{}, m)

	m, err = NewModel(context.Background(), config.LLMConfig{
		ModelConfig: config.ModelConfig{Provider: "local"},
		Fallback:    []config.ModelConfig{{Provider: "anthropic", APIKey: "k"}},
	})
	require.NoError(t, err)
	assert.IsType(t, &llm.Fallback{}, m)

	_, err = NewModel(context.Background(), config.LLMConfig{ModelConfig: config.ModelConfig{Provider: "openai"}})
	assert.True(t, mcpdesk.HasCode(err, mcpdesk.ErrCodeConfiguration))

	_, err = NewModel(context.Background(), config.LLMConfig{
		ModelConfig: config.ModelConfig{Provider: "local"},
		Fallback:    []config.ModelConfig{{Provider: "nope"}},
	})
	assert.Error(t, err)
}

func TestJanitorStopsWithContext(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), Offline())
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, a.Janitor(ctx))
}

func TestReloadTools_SwapsCatalogAndAnnounces(t *testing.T) {
	a, err := Build(context.Background(), testConfig(t), Offline())
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Catalogs.Snapshot().Lookup("scrape_url")
	require.True(t, ok)
	before := a.Catalogs.Snapshot()

	announced := make(chan []string, 1)
	_, err = a.Orchestrator.EventBus().Subscribe([]eventbus.EventType{eventbus.EventRegistryReloaded},
		func(ctx context.Context, evt eventbus.Event) error {
			names, _ := evt.Metadata()["tools"].([]string)
			announced <- names
			return nil
		})
	require.NoError(t, err)

	reg, err := a.ReloadTools(context.Background(), []string{"scrape_url", " delete_file "})
	require.NoError(t, err)
	_, ok = a.Catalogs.Snapshot().Lookup("scrape_url")
	assert.False(t, ok)
	_, ok = a.Catalogs.Snapshot().Lookup("delete_file")
	assert.False(t, ok)
	_, ok = before.Lookup("scrape_url")
	assert.True(t, ok, "earlier snapshots keep their catalog")

	select {
	case names := <-announced:
		assert.Equal(t, reg.Names(), names)
		assert.NotContains(t, names, "scrape_url")
	case <-time.After(2 * time.Second):
		t.Fatal("registry reload was not announced")
	}

	_, err = a.ReloadTools(context.Background(), nil)
	require.NoError(t, err)
	_, ok = a.Catalogs.Snapshot().Lookup("scrape_url")
	assert.True(t, ok)
}
