package mcpdesk

import "context"

// Tool is a named operation callable by the executor.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// ToolProvider declares a set of tools to register at startup.
type ToolProvider interface {
	Name() string
	Tools() []ToolDescriptor
}

// Catalog is a read-only view of the registered tools.
type Catalog interface {
	Lookup(name string) (ToolDescriptor, bool)
	Descriptors() []ToolDescriptor
}

// CatalogSource hands out the catalog a request should use for its whole lifetime.
type CatalogSource interface {
	Snapshot() Catalog
}

// Prompt is the structured text sent to a language model.
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// LanguageModel turns a prompt into generated text.
type LanguageModel interface {
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// PlanRequest is the planner input.
type PlanRequest struct {
	Query   string
	History []Turn
}

// Planner produces a plan for a query.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest, catalog Catalog) (*Plan, error)
}

// ValidationContext carries the per-request facts the validator policy depends on.
type ValidationContext struct {
	Elevated bool
}

// Validator decides whether a plan may run. Implementations must be pure.
type Validator interface {
	Validate(plan *Plan, catalog Catalog, vctx ValidationContext) Verdict
}

// Executor runs a validated plan. It never returns an error; failures are
// recorded per step.
type Executor interface {
	Execute(ctx context.Context, plan *Plan, catalog Catalog) *ExecutionResult
}

// SummaryInput is everything the summarizer may need for one request. Exactly
// one of Err, a rejected Verdict, an empty Plan or Result drives the response.
type SummaryInput struct {
	Request Request
	Plan    *Plan
	Verdict *Verdict
	Result  *ExecutionResult
	Err     error
}

// Summarizer produces the final response.
type Summarizer interface {
	Summarize(ctx context.Context, in SummaryInput) Response
}

// Cache stores intermediate results such as generated plans.
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, error)
	Set(ctx context.Context, key string, value interface{}) error
}
