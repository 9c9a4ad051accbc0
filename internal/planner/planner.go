// Package planner turns a query into a plan with a language model.
package planner

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"log"
	"time"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/prompt"
	"github.com/ZanzyTHEbar/mcpdesk/internal/validator"
)

// LLMPlanner implements mcpdesk.Planner. Unusable model output gets exactly one
// corrective retry.
type LLMPlanner struct {
	model       mcpdesk.LanguageModel
	prompts     *prompt.Registry
	cache       mcpdesk.Cache
	maxSteps    int
	callTimeout time.Duration
}

// Option configures an LLMPlanner.
type Option func(*LLMPlanner)

// WithCache stores generated plans. Requests carrying history bypass it.
func WithCache(cache mcpdesk.Cache) Option {
	return func(p *LLMPlanner) {
		p.cache = cache
	}
}

// WithCallTimeout bounds each model call. The request context still applies.
func WithCallTimeout(d time.Duration) Option {
	return func(p *LLMPlanner) {
		p.callTimeout = d
	}
}

// WithMaxSteps sets the step limit advertised to the model.
func WithMaxSteps(n int) Option {
	return func(p *LLMPlanner) {
		if n > 0 {
			p.maxSteps = n
		}
	}
}

// WithPrompts replaces the prompt registry.
func WithPrompts(r *prompt.Registry) Option {
	return func(p *LLMPlanner) {
		if r != nil {
			p.prompts = r
		}
	}
}

// New creates a planner backed by model.
func New(model mcpdesk.LanguageModel, opts ...Option) *LLMPlanner {
	p := &LLMPlanner{
		model:    model,
		prompts:  prompt.NewRegistry(),
		maxSteps: validator.DefaultMaxSteps,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan implements mcpdesk.Planner.
func (p *LLMPlanner) Plan(ctx context.Context, req mcpdesk.PlanRequest, catalog mcpdesk.Catalog) (*mcpdesk.Plan, error) {
	if p.model == nil {
		return nil, mcpdesk.NewPlanningError("no language model configured", nil)
	}

	useCache := p.cache != nil && len(req.History) == 0
	key := cacheKey(req.Query, catalog)
	if useCache {
		if plan, ok := p.cached(ctx, key, req.Query, catalog); ok {
			log.Printf("Plan served from cache (key: %s, steps: %d)", key, len(plan.Steps))
			return plan, nil
		}
	}

	input := prompt.NewPlannerInput(req, catalog, p.maxSteps)
	output, err := p.generate(ctx, prompt.Planner, input)
	if err != nil {
		return nil, err
	}

	plan, problem := p.interpret(output, req.Query, catalog)
	if problem != nil {
		log.Printf("Plan unusable, retrying with correction (error: %v)", problem)
		input.Previous = output
		input.Problem = problem.Error()
		output, err = p.generate(ctx, prompt.Corrective, input)
		if err != nil {
			return nil, err
		}
		plan, problem = p.interpret(output, req.Query, catalog)
		if problem != nil {
			return nil, mcpdesk.NewPlanningError("model produced an unusable plan after a corrective retry", problem)
		}
	}

	log.Printf("Plan generated (steps: %d, direct: %t)", len(plan.Steps), plan.IsEmpty())
	if useCache {
		p.store(ctx, key, plan)
	}
	return plan, nil
}

func (p *LLMPlanner) interpret(output, query string, catalog mcpdesk.Catalog) (*mcpdesk.Plan, error) {
	plan, err := parsePlan(output, query)
	if err != nil {
		return nil, err
	}
	if err := checkStructure(plan, catalog); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *LLMPlanner) generate(ctx context.Context, name string, input prompt.PlannerInput) (string, error) {
	pr, err := p.prompts.RenderPrompt(name, input)
	if err != nil {
		return "", mcpdesk.NewPlanningError("failed to build planner prompt", err)
	}
	callCtx := ctx
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}
	out, err := p.model.Generate(callCtx, pr)
	if err != nil {
		return "", mcpdesk.NewPlanningError("language model call failed", err)
	}
	return out, nil
}

func (p *LLMPlanner) cached(ctx context.Context, key, query string, catalog mcpdesk.Catalog) (*mcpdesk.Plan, bool) {
	v, err := p.cache.Get(ctx, key)
	if err != nil || v == nil {
		return nil, false
	}
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = t
	case *mcpdesk.Plan:
		plan := t.Clone()
		plan.Query = query
		return plan, checkStructure(plan, catalog) == nil
	default:
		return nil, false
	}
	var plan mcpdesk.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		log.Printf("Discarding unreadable cached plan (key: %s, error: %v)", key, err)
		return nil, false
	}
	plan.Query = query
	// The catalog may have been reloaded since the plan was stored.
	if err := checkStructure(&plan, catalog); err != nil {
		return nil, false
	}
	return &plan, true
}

func (p *LLMPlanner) store(ctx context.Context, key string, plan *mcpdesk.Plan) {
	data, err := json.Marshal(plan)
	if err != nil {
		log.Printf("Failed to encode plan for cache (error: %v)", err)
		return
	}
	if err := p.cache.Set(ctx, key, string(data)); err != nil {
		log.Printf("Failed to cache plan (key: %s, error: %v)", key, err)
	}
}

// cacheKey hashes the query and the catalog's tool names and risk tags.
func cacheKey(query string, catalog mcpdesk.Catalog) string {
	input := struct {
		Query string            `json:"query"`
		Tools map[string]string `json:"tools"`
	}{Query: query, Tools: map[string]string{}}
	if catalog != nil {
		for _, d := range catalog.Descriptors() {
			input.Tools[d.Name] = string(d.Risk)
		}
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "planner:" + query
	}
	sum := sha1.Sum(b)
	return "planner:" + hex.EncodeToString(sum[:])
}
