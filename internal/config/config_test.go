package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/ZanzyTHEbar/mcpdesk"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "mcpdesk.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.RequestTimeout)
	assert.Equal(t, 30*time.Second, cfg.Executor.StepTimeout)
	assert.Equal(t, 1, cfg.Executor.Concurrency)
	assert.Equal(t, 10, cfg.Policy.MaxSteps)
	assert.Equal(t, []mcpdesk.RiskTag{mcpdesk.RiskDestructive}, cfg.Policy.ElevationRequired)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.True(t, cfg.EventsEnabled())
	assert.True(t, cfg.BrowserHeadless())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":9000"
pipeline:
  request_timeout: 45s
executor:
  step_timeout: 5s
  abort_threshold: 0.5
  concurrency: 4
policy:
  max_steps: 6
  elevation_required: [destructive, privileged]
  risk_overrides:
    scrape_url: privileged
llm:
  provider: anthropic
  model: claude-sonnet-4-5
  summarize: true
  fallback:
    - provider: openai
      model: gpt-4o-mini
cache:
  backend: file
  path: cache/plans.json
eventbus:
  enabled: false
tools:
  base_dir: /srv/files
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Executor.StepTimeout)
	assert.Equal(t, 0.5, cfg.Executor.AbortThreshold)
	assert.Equal(t, 4, cfg.Executor.Concurrency)
	assert.Equal(t, 6, cfg.Policy.MaxSteps)
	assert.Equal(t, mcpdesk.RiskPrivileged, cfg.Policy.RiskOverrides["scrape_url"])
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "claude-sonnet-4-5", cfg.LLM.Model)
	assert.True(t, cfg.LLM.Summarize)
	require.Len(t, cfg.LLM.Fallback, 1)
	assert.Equal(t, "openai", cfg.LLM.Fallback[0].Provider)
	assert.Equal(t, filepath.Join(dir, "cache", "plans.json"), cfg.Cache.Path)
	assert.Equal(t, filepath.Join(dir, "data", "history.db"), cfg.History.Path)
	assert.False(t, cfg.EventsEnabled())
	assert.Equal(t, "/srv/files", cfg.Tools.BaseDir)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"threshold":     "executor:\n  abort_threshold: 1.5\n",
		"risk tag":      "policy:\n  elevation_required: [dangerous]\n",
		"override":      "policy:\n  risk_overrides:\n    x: risky\n",
		"backend":       "cache:\n  backend: memcached\n",
		"redis address": "cache:\n  backend: redis\n",
		"yaml":          "server: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.True(t, mcpdesk.HasCode(err, mcpdesk.ErrCodeConfiguration), "got %v", err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MCPDESK_ELEVATION_TOKEN", "s3cret")
	t.Setenv("MCPDESK_LLM_PROVIDER", "openrouter")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Server.ElevationToken)
	assert.Equal(t, "openrouter", cfg.LLM.Provider)
}

func TestResolveAPIKey(t *testing.T) {
	keyring.MockInit()

	assert.Equal(t, "explicit", ResolveAPIKey(ModelConfig{Provider: "openai", APIKey: "explicit"}))

	t.Setenv("OPENAI_API_KEY", "from-env")
	assert.Equal(t, "from-env", ResolveAPIKey(ModelConfig{Provider: "openai"}))

	t.Setenv("CUSTOM_KEY", "custom")
	assert.Equal(t, "custom", ResolveAPIKey(ModelConfig{Provider: "openai", APIKeyEnv: "CUSTOM_KEY"}))

	t.Setenv("ANTHROPIC_API_KEY", "")
	require.NoError(t, StoreAPIKey("anthropic", "from-keyring"))
	assert.Equal(t, "from-keyring", ResolveAPIKey(ModelConfig{Provider: "anthropic"}))

	t.Setenv("LOCAL_API_KEY", "")
	assert.Empty(t, ResolveAPIKey(ModelConfig{Provider: "local"}))
}
