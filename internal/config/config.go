// Package config loads the mcpdesk YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// KeyringService is the OS keyring service API keys are looked up under.
const KeyringService = "mcpdesk"

// Config is the full mcpdesk configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Executor ExecutorConfig `yaml:"executor"`
	Policy   PolicyConfig   `yaml:"policy"`
	LLM      LLMConfig      `yaml:"llm"`
	Cache    CacheConfig    `yaml:"cache"`
	History  HistoryConfig  `yaml:"history"`
	EventBus EventBusConfig `yaml:"eventbus"`
	Tools    ToolsConfig    `yaml:"tools"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ElevationToken  string        `yaml:"elevation_token"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// PipelineConfig controls the orchestrator.
type PipelineConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// AsyncRetention is how long finished async requests stay queryable.
	AsyncRetention time.Duration `yaml:"async_retention"`
}

// ExecutorConfig controls plan execution.
type ExecutorConfig struct {
	StepTimeout    time.Duration `yaml:"step_timeout"`
	AbortThreshold float64       `yaml:"abort_threshold"`
	Concurrency    int           `yaml:"concurrency"`
}

// PolicyConfig is the validator policy.
type PolicyConfig struct {
	MaxSteps          int                        `yaml:"max_steps"`
	ElevationRequired []mcpdesk.RiskTag          `yaml:"elevation_required"`
	RiskOverrides     map[string]mcpdesk.RiskTag `yaml:"risk_overrides"`
}

// ModelConfig describes one language model endpoint.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
	MaxRetries  *int    `yaml:"max_retries"`
}

// LLMConfig selects the models and how the pipeline uses them.
type LLMConfig struct {
	ModelConfig `yaml:",inline"`
	Fallback    []ModelConfig `yaml:"fallback"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	// Summarize lets the model write the final prose instead of plain narration.
	Summarize bool `yaml:"summarize"`
	// Trace runs model calls as Genkit flows.
	Trace bool `yaml:"trace"`
}

// CacheConfig selects the plan cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Path    string        `yaml:"path"`
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig describes a Redis connection.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// HistoryConfig controls the request history store.
type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Turns is how many earlier turns of a session are sent to the planner.
	Turns int `yaml:"turns"`
}

// EventBusConfig controls the stage event bus.
type EventBusConfig struct {
	Enabled    *bool `yaml:"enabled"`
	BufferSize int   `yaml:"buffer_size"`
	Workers    int   `yaml:"workers"`
}

// ToolsConfig configures the shipped tool providers.
type ToolsConfig struct {
	BaseDir       string        `yaml:"base_dir"`
	QuoteEndpoint string        `yaml:"quote_endpoint"`
	Browser       BrowserConfig `yaml:"browser"`
	Disabled      []string      `yaml:"disabled"`
}

// BrowserConfig configures the headless browser behind scrape_url.
type BrowserConfig struct {
	Headless     *bool         `yaml:"headless"`
	Timeout      time.Duration `yaml:"timeout"`
	AllowPrivate bool          `yaml:"allow_private"`
	MaxChars     int           `yaml:"max_chars"`
}

// Load reads the configuration at path. An empty path yields the defaults.
// Relative paths inside the file are resolved against its directory.
func Load(path string) (*Config, error) {
	var cfg Config
	baseDir := "."
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, mcpdesk.NewConfigurationError("failed to read configuration file", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, mcpdesk.NewConfigurationError("failed to parse configuration", err)
		}
		baseDir = filepath.Dir(path)
	}

	cfg.applyDefaults(baseDir)
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	return &cfg
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 5 * time.Minute
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Pipeline.RequestTimeout == 0 {
		c.Pipeline.RequestTimeout = 2 * time.Minute
	}
	if c.Pipeline.AsyncRetention == 0 {
		c.Pipeline.AsyncRetention = time.Hour
	}

	if c.Executor.StepTimeout == 0 {
		c.Executor.StepTimeout = 30 * time.Second
	}
	if c.Executor.Concurrency == 0 {
		c.Executor.Concurrency = 1
	}

	if c.Policy.MaxSteps == 0 {
		c.Policy.MaxSteps = 10
	}
	if c.Policy.ElevationRequired == nil {
		c.Policy.ElevationRequired = []mcpdesk.RiskTag{mcpdesk.RiskDestructive}
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.CallTimeout == 0 {
		c.LLM.CallTimeout = 60 * time.Second
	}

	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = 30 * time.Minute
	}
	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(baseDir, "data", "plans.json")
	} else {
		c.Cache.Path = resolve(baseDir, c.Cache.Path)
	}

	if c.History.Path == "" {
		c.History.Path = filepath.Join(baseDir, "data", "history.db")
	} else {
		c.History.Path = resolve(baseDir, c.History.Path)
	}
	if c.History.Turns == 0 {
		c.History.Turns = 5
	}

	if c.EventBus.Enabled == nil {
		enabled := true
		c.EventBus.Enabled = &enabled
	}
	if c.EventBus.BufferSize == 0 {
		c.EventBus.BufferSize = 100
	}
	if c.EventBus.Workers == 0 {
		c.EventBus.Workers = 5
	}

	if c.Tools.BaseDir == "" {
		c.Tools.BaseDir = filepath.Join(baseDir, "workspace")
	} else {
		c.Tools.BaseDir = resolve(baseDir, c.Tools.BaseDir)
	}
	if c.Tools.Browser.Headless == nil {
		headless := true
		c.Tools.Browser.Headless = &headless
	}
	if c.Tools.Browser.Timeout == 0 {
		c.Tools.Browser.Timeout = 20 * time.Second
	}
	if c.Tools.Browser.MaxChars == 0 {
		c.Tools.Browser.MaxChars = 20000
	}
}

func resolve(baseDir, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("MCPDESK_ELEVATION_TOKEN"); v != "" {
		c.Server.ElevationToken = v
	}
	if v := os.Getenv("MCPDESK_REDIS_PASSWORD"); v != "" {
		c.Cache.Redis.Password = v
	}
	if v := os.Getenv("MCPDESK_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("MCPDESK_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	if c.Executor.AbortThreshold < 0 || c.Executor.AbortThreshold > 1 {
		return mcpdesk.NewConfigurationError(fmt.Sprintf("executor.abort_threshold must be within [0, 1], got %v", c.Executor.AbortThreshold), nil)
	}
	if c.Executor.Concurrency < 1 {
		return mcpdesk.NewConfigurationError("executor.concurrency must be at least 1", nil)
	}
	for _, r := range c.Policy.ElevationRequired {
		if !r.Valid() {
			return mcpdesk.NewConfigurationError(fmt.Sprintf("policy.elevation_required has unknown risk tag %q", r), nil)
		}
	}
	for tool, r := range c.Policy.RiskOverrides {
		if !r.Valid() {
			return mcpdesk.NewConfigurationError(fmt.Sprintf("policy.risk_overrides[%s] has unknown risk tag %q", tool, r), nil)
		}
	}
	switch c.Cache.Backend {
	case "none", "memory", "file", "redis":
	default:
		return mcpdesk.NewConfigurationError(fmt.Sprintf("cache.backend %q is not one of none, memory, file, redis", c.Cache.Backend), nil)
	}
	if c.Cache.Backend == "redis" && c.Cache.Redis.Address == "" {
		return mcpdesk.NewConfigurationError("cache.redis.address is required for the redis backend", nil)
	}
	return nil
}

// ResolveAPIKey finds the API key for a model: the configured value first,
// then the environment, then the OS keyring.
func ResolveAPIKey(m ModelConfig) string {
	if m.APIKey != "" {
		return m.APIKey
	}
	env := m.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv(m.Provider)
	}
	if env != "" {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	if m.Provider != "" {
		if v, err := keyring.Get(KeyringService, m.Provider); err == nil {
			return v
		}
	}
	return ""
}

// StoreAPIKey saves a provider key in the OS keyring.
func StoreAPIKey(provider, key string) error {
	if err := keyring.Set(KeyringService, provider, key); err != nil {
		return mcpdesk.NewConfigurationError("failed to store API key in keyring", err)
	}
	return nil
}

func defaultKeyEnv(provider string) string {
	if provider == "" {
		return ""
	}
	return strings.ToUpper(provider) + "_API_KEY"
}

// EventsEnabled reports whether the event bus is on.
func (c *Config) EventsEnabled() bool {
	return c.EventBus.Enabled == nil || *c.EventBus.Enabled
}

// BrowserHeadless reports whether the browser runs without a window.
func (c *Config) BrowserHeadless() bool {
	return c.Tools.Browser.Headless == nil || *c.Tools.Browser.Headless
}
