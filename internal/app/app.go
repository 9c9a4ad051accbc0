// Package app assembles the orchestrator and its collaborators from a
// configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/firebase/genkit/go/genkit"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
	"github.com/ZanzyTHEbar/mcpdesk/internal/cache"
	"github.com/ZanzyTHEbar/mcpdesk/internal/config"
	"github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"
	"github.com/ZanzyTHEbar/mcpdesk/internal/executor"
	"github.com/ZanzyTHEbar/mcpdesk/internal/history"
	"github.com/ZanzyTHEbar/mcpdesk/internal/llm"
	"github.com/ZanzyTHEbar/mcpdesk/internal/planner"
	"github.com/ZanzyTHEbar/mcpdesk/internal/prompt"
	"github.com/ZanzyTHEbar/mcpdesk/internal/registry"
	"github.com/ZanzyTHEbar/mcpdesk/internal/summarizer"
	"github.com/ZanzyTHEbar/mcpdesk/internal/tools"
	"github.com/ZanzyTHEbar/mcpdesk/internal/validator"
)

// App is a fully wired mcpdesk instance.
type App struct {
	Config       *config.Config
	Orchestrator *mcpdesk.Orchestrator
	Catalogs     *registry.Holder
	Toolbox      *tools.Toolbox
	Validator    *validator.PolicyValidator
	Executor     *executor.PlanExecutor
	Summarizer   *summarizer.Summarizer
	// History is nil when the history store is disabled.
	History *history.Store

	closers []io.Closer
}

type buildOptions struct {
	model   mcpdesk.LanguageModel
	offline bool
	quotes  tools.QuoteSource
}

// Option adjusts how Build wires the app.
type Option func(*buildOptions)

// WithModel uses model instead of the configured providers.
func WithModel(model mcpdesk.LanguageModel) Option {
	return func(o *buildOptions) {
		o.model = model
	}
}

// Offline builds without a language model. Planning then fails with a
// planning error; plan files and the tool listing still work.
func Offline() Option {
	return func(o *buildOptions) {
		o.offline = true
	}
}

// WithQuoteSource replaces the configured quote endpoint.
func WithQuoteSource(src tools.QuoteSource) Option {
	return func(o *buildOptions) {
		o.quotes = src
	}
}

// Build wires every component described by cfg. Close releases what it opened.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	quotes := bo.quotes
	if quotes == nil && cfg.Tools.QuoteEndpoint != "" {
		quotes = tools.NewHTTPQuoteSource(cfg.Tools.QuoteEndpoint, nil)
	}
	a.Toolbox, err = tools.New(tools.Options{
		BaseDir: cfg.Tools.BaseDir,
		Quotes:  quotes,
		Browser: tools.BrowserOptions{
			Headless:     cfg.BrowserHeadless(),
			Timeout:      cfg.Tools.Browser.Timeout,
			AllowPrivate: cfg.Tools.Browser.AllowPrivate,
			MaxChars:     cfg.Tools.Browser.MaxChars,
		},
		Disabled: cfg.Tools.Disabled,
	})
	if err != nil {
		return nil, mcpdesk.NewConfigurationError("failed to set up tools", err)
	}
	a.closers = append(a.closers, a.Toolbox)

	reg, err := registry.Build(a.Toolbox.Providers()...)
	if err != nil {
		return nil, err
	}
	a.Catalogs = registry.NewHolder(reg)

	model := bo.model
	if model == nil && !bo.offline {
		model, err = NewModel(ctx, cfg.LLM)
		if err != nil {
			return nil, err
		}
	}

	logger := &cache.StdLogger{}
	planCache, cacheCloser, err := cache.New(ctx, cache.Options{
		Backend: cfg.Cache.Backend,
		TTL:     cfg.Cache.TTL,
		Path:    cfg.Cache.Path,
		Redis: cache.RedisConfig{
			Address:  cfg.Cache.Redis.Address,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			Prefix:   cfg.Cache.Redis.Prefix,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, cacheCloser)

	prompts := prompt.NewRegistry()
	plannerOpts := []planner.Option{
		planner.WithCallTimeout(cfg.LLM.CallTimeout),
		planner.WithMaxSteps(cfg.Policy.MaxSteps),
		planner.WithPrompts(prompts),
	}
	if planCache != nil {
		plannerOpts = append(plannerOpts, planner.WithCache(planCache))
	}

	a.Validator = validator.New(validator.Policy{
		MaxSteps:          cfg.Policy.MaxSteps,
		ElevationRequired: cfg.Policy.ElevationRequired,
		RiskOverrides:     cfg.Policy.RiskOverrides,
	})
	a.Executor = executor.NewExecutor(
		executor.WithStepTimeout(cfg.Executor.StepTimeout),
		executor.WithAbortThreshold(cfg.Executor.AbortThreshold),
		executor.WithConcurrency(cfg.Executor.Concurrency),
	)

	summarizerOpts := []summarizer.Option{
		summarizer.WithPrompts(prompts),
		summarizer.WithCallTimeout(cfg.LLM.CallTimeout),
	}
	if cfg.LLM.Summarize && model != nil {
		summarizerOpts = append(summarizerOpts, summarizer.WithModel(model))
	}
	a.Summarizer = summarizer.New(summarizerOpts...)

	// Opened before the orchestrator so Close drains the bus into it first.
	if cfg.History.Enabled {
		a.History, err = history.Open(cfg.History.Path, logger)
		if err != nil {
			return nil, mcpdesk.NewConfigurationError("failed to open history store", err)
		}
		a.closers = append(a.closers, a.History)
	}

	a.Orchestrator, err = mcpdesk.New(
		mcpdesk.WithConfig(mcpdesk.Config{
			RequestTimeout:      cfg.Pipeline.RequestTimeout,
			EnableEventBus:      cfg.EventsEnabled(),
			EventBusBufferSize:  cfg.EventBus.BufferSize,
			EventBusWorkerCount: cfg.EventBus.Workers,
		}),
		mcpdesk.WithCatalogSource(a.Catalogs),
		mcpdesk.WithPlanner(planner.New(model, plannerOpts...)),
		mcpdesk.WithValidator(a.Validator),
		mcpdesk.WithExecutor(a.Executor),
		mcpdesk.WithSummarizer(a.Summarizer),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Orchestrator)

	if a.History != nil {
		if bus := a.Orchestrator.EventBus(); bus != nil {
			if _, err := a.History.Subscribe(bus); err != nil {
				return nil, mcpdesk.NewInternalError("app", "failed to subscribe history store", err)
			}
		}
	}

	log.Printf("mcpdesk ready (tools: %d, cache: %s, history: %t, events: %t)",
		reg.Len(), cfg.Cache.Backend, a.History != nil, cfg.EventsEnabled())
	return a, nil
}

// NewModel builds the configured model, its fallbacks and, when tracing is
// on, the Genkit flow around them.
func NewModel(ctx context.Context, cfg config.LLMConfig) (mcpdesk.LanguageModel, error) {
	primary, err := llm.NewModel(modelConfig(cfg.ModelConfig))
	if err != nil {
		return nil, err
	}
	models := []mcpdesk.LanguageModel{primary}
	for i, fb := range cfg.Fallback {
		m, err := llm.NewModel(modelConfig(fb))
		if err != nil {
			return nil, mcpdesk.NewConfigurationError(fmt.Sprintf("llm.fallback[%d] is invalid", i), err)
		}
		models = append(models, m)
	}

	var model mcpdesk.LanguageModel = primary
	if len(models) > 1 {
		model = llm.NewFallback(models...)
	}
	if !cfg.Trace {
		return model, nil
	}

	g, err := genkit.Init(ctx)
	if err != nil {
		return nil, mcpdesk.NewConfigurationError("genkit initialization failed", err)
	}
	traced, err := adapters.NewGenkitModelAdapter(g, "mcpdeskGenerate", model)
	if err != nil {
		return nil, mcpdesk.NewConfigurationError("failed to define model flow", err)
	}
	return traced, nil
}

func modelConfig(m config.ModelConfig) llm.Config {
	retries := -1
	if m.MaxRetries != nil {
		retries = *m.MaxRetries
	}
	return llm.Config{
		Provider:    m.Provider,
		Model:       m.Model,
		APIKey:      config.ResolveAPIKey(m),
		BaseURL:     m.BaseURL,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
		MaxRetries:  retries,
	}
}

// Handle runs a request with the session history filled in. Responses are
// recorded by the bus subscription, or directly when events are off.
func (a *App) Handle(ctx context.Context, req mcpdesk.Request) mcpdesk.Response {
	req = a.withHistory(ctx, req)
	resp := a.Orchestrator.Handle(ctx, req)
	if a.History != nil && a.Orchestrator.EventBus() == nil {
		if err := a.History.Record(context.Background(), resp); err != nil {
			log.Printf("Failed to record request (id: %s, error: %v)", resp.RequestID, err)
		}
	}
	return resp
}

// HandleAsync starts a request in the background with its session history.
func (a *App) HandleAsync(ctx context.Context, req mcpdesk.Request) (string, error) {
	return a.Orchestrator.HandleAsync(ctx, a.withHistory(ctx, req))
}

func (a *App) withHistory(ctx context.Context, req mcpdesk.Request) mcpdesk.Request {
	if a.History == nil {
		return req
	}
	return a.History.WithHistory(ctx, req, a.Config.History.Turns)
}

// RunPlan validates and executes a prepared plan, skipping the planner.
func (a *App) RunPlan(ctx context.Context, plan *mcpdesk.Plan, req mcpdesk.Request) mcpdesk.Response {
	start := time.Now()
	catalog := a.Catalogs.Snapshot()
	in := mcpdesk.SummaryInput{Request: req, Plan: plan}

	verdict := a.Validator.Validate(plan, catalog, mcpdesk.ValidationContext{Elevated: req.Elevated})
	in.Verdict = &verdict
	if verdict.Kind != mcpdesk.VerdictRejected {
		if verdict.Plan != nil {
			in.Plan = verdict.Plan
		}
		in.Result = a.Executor.Execute(ctx, in.Plan, catalog)
	}

	resp := a.Summarizer.Summarize(ctx, in)
	resp.RequestID = req.ID
	resp.SessionID = req.SessionID
	resp.Query = req.Query
	resp.Duration = time.Since(start)
	return resp
}

// ReloadTools rebuilds the tool registry with the given tools disabled and
// announces the new catalog on the event bus. Requests already running keep
// the catalog they started with.
func (a *App) ReloadTools(ctx context.Context, disabled []string) (*registry.Registry, error) {
	reg, err := a.Catalogs.Reload(a.Toolbox.SetDisabled(disabled)...)
	if err != nil {
		return nil, mcpdesk.NewConfigurationError("failed to rebuild tool registry", err)
	}
	if bus := a.Orchestrator.EventBus(); bus != nil {
		evt := eventbus.NewEmptyEvent(eventbus.EventRegistryReloaded).WithMetadata("tools", reg.Names())
		if err := bus.Publish(ctx, evt); err != nil {
			log.Printf("Failed to publish event (event_type: %s, error: %v)", eventbus.EventRegistryReloaded, err)
		}
	}
	log.Printf("Tool registry reloaded (tools: %d, disabled: %d)", reg.Len(), len(disabled))
	return reg, nil
}

// Janitor drops finished async requests older than the configured retention
// until ctx ends.
func (a *App) Janitor(ctx context.Context) error {
	retention := a.Config.Pipeline.AsyncRetention
	interval := retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := a.Orchestrator.CleanupCompleted(retention); n > 0 {
				log.Printf("Removed finished async requests (count: %d)", n)
			}
		}
	}
}

// Close releases everything Build opened, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
