// Package mcpdesk orchestrates tool-using requests: a language model plans
// the steps, a deterministic validator decides whether they may run, the
// executor runs them and a summarizer writes the response.
package mcpdesk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"
)

// Orchestrator drives the Planner, Validator, Executor and Summarizer for
// each request. It holds no per-request state outside the async table, so
// unrelated requests may be handled concurrently.
type Orchestrator struct {
	catalogs   CatalogSource
	planner    Planner
	validator  Validator
	executor   Executor
	summarizer Summarizer
	eventBus   eventbus.EventBus

	config Config

	machine *StateMachine

	asyncExecutions      map[string]*asyncExecution
	asyncExecutionsMutex sync.RWMutex
}

// Components holds the collaborators handed to the state transitions.
type Components struct {
	Catalogs   CatalogSource
	Planner    Planner
	Validator  Validator
	Executor   Executor
	Summarizer Summarizer
}

// Config holds the orchestrator options.
type Config struct {
	// RequestTimeout spans all four stages; zero disables it.
	RequestTimeout time.Duration

	EnableEventBus      bool
	EventBusBufferSize  int
	EventBusWorkerCount int
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:      2 * time.Minute,
		EnableEventBus:      true,
		EventBusBufferSize:  100,
		EventBusWorkerCount: 5,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the configuration.
func WithConfig(config Config) Option {
	return func(o *Orchestrator) {
		o.config = config
	}
}

// WithCatalogSource sets where each request takes its tool catalog from.
func WithCatalogSource(src CatalogSource) Option {
	return func(o *Orchestrator) {
		o.catalogs = src
	}
}

// WithPlanner sets the planner component.
func WithPlanner(planner Planner) Option {
	return func(o *Orchestrator) {
		o.planner = planner
	}
}

// WithValidator sets the validator component.
func WithValidator(validator Validator) Option {
	return func(o *Orchestrator) {
		o.validator = validator
	}
}

// WithExecutor sets the executor component.
func WithExecutor(executor Executor) Option {
	return func(o *Orchestrator) {
		o.executor = executor
	}
}

// WithSummarizer sets the summarizer component.
func WithSummarizer(summarizer Summarizer) Option {
	return func(o *Orchestrator) {
		o.summarizer = summarizer
	}
}

// New creates an Orchestrator. Every component is required.
func New(options ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		config:          DefaultConfig(),
		asyncExecutions: make(map[string]*asyncExecution),
	}
	for _, option := range options {
		option(o)
	}

	switch {
	case o.catalogs == nil:
		return nil, NewConfigurationError("a tool catalog source is required", nil)
	case o.planner == nil:
		return nil, NewConfigurationError("planner is required", nil)
	case o.validator == nil:
		return nil, NewConfigurationError("validator is required", nil)
	case o.executor == nil:
		return nil, NewConfigurationError("executor is required", nil)
	case o.summarizer == nil:
		return nil, NewConfigurationError("summarizer is required", nil)
	}

	if o.config.EnableEventBus && o.eventBus == nil {
		o.eventBus = eventbus.NewChannelEventBus(
			eventbus.WithBufferSize(o.config.EventBusBufferSize),
			eventbus.WithWorkerCount(o.config.EventBusWorkerCount),
		)
		log.Printf("Initialized default channel-based event bus")
	}
	if !o.config.EnableEventBus {
		o.eventBus = nil
	}

	o.machine = CreateProcessStateMachine(o.components(), o.eventBus)
	return o, nil
}

func (o *Orchestrator) components() Components {
	return Components{
		Catalogs:   o.catalogs,
		Planner:    o.planner,
		Validator:  o.validator,
		Executor:   o.executor,
		Summarizer: o.summarizer,
	}
}

// EventBus returns the bus stage events are published on, or nil when
// events are disabled.
func (o *Orchestrator) EventBus() eventbus.EventBus {
	return o.eventBus
}

// Tools returns the descriptors of the currently registered tools.
func (o *Orchestrator) Tools() []ToolDescriptor {
	return o.catalogs.Snapshot().Descriptors()
}

// Close releases the event bus.
func (o *Orchestrator) Close() error {
	if o.eventBus != nil {
		return o.eventBus.Close()
	}
	return nil
}

// Handle runs one request end to end. It always returns a well-formed
// response; failures are reported through its status and text.
func (o *Orchestrator) Handle(ctx context.Context, req Request) Response {
	req = normalizeRequest(req)
	return o.handle(ctx, NewProcessContext(req))
}

func (o *Orchestrator) handle(ctx context.Context, pCtx *ProcessContext) Response {
	req := pCtx.Request
	resp := o.run(ctx, pCtx)
	resp.RequestID = req.ID
	resp.SessionID = req.SessionID
	resp.Query = req.Query
	resp.Duration = pCtx.GetTotalDuration()

	log.Printf("Request finished (id: %s, status: %s, duration: %v)", req.ID, resp.Status, resp.Duration)

	// The caller's context may already be done.
	o.publish(context.Background(), eventbus.EventResponseReady, resp, "Orchestrator.Handle", map[string]interface{}{
		"request_id": req.ID,
		"session_id": req.SessionID,
		"status":     string(resp.Status),
	})
	return resp
}

// run executes the state machine under the request timeout. When the
// deadline passes, the timeout response is returned at once even if a stage
// is still blocked.
func (o *Orchestrator) run(ctx context.Context, pCtx *ProcessContext) Response {
	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	done := make(chan *Response, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				err := NewInternalError("orchestration", fmt.Sprintf("pipeline panicked: %v", r), nil)
				pCtx.SetCancelled(err, string(pCtx.State()))
				done <- nil
			}
		}()
		resp, _ := o.machine.Execute(ctx, pCtx)
		done <- resp
	}()

	select {
	case resp := <-done:
		if resp != nil {
			return *resp
		}
		err, _ := pCtx.Err()
		if ctx.Err() != nil {
			err = contextError(ctx)
		}
		if err == nil {
			err = NewInternalError("orchestration", "pipeline stopped without a response", nil)
		}
		return o.fail(pCtx.Request, err)
	case <-ctx.Done():
		err := contextError(ctx)
		if HasCode(err, ErrCodeTimeout) {
			o.publish(context.Background(), eventbus.EventQueryProcessingTimeout, pCtx.Request.Query, "Orchestrator.Handle", map[string]interface{}{
				"request_id": pCtx.Request.ID,
				"stage":      string(pCtx.State()),
			})
		}
		return o.fail(pCtx.Request, err)
	}
}

// fail renders a request-fatal error without touching any collaborator that
// might block.
func (o *Orchestrator) fail(req Request, err error) Response {
	return o.summarizer.Summarize(context.Background(), SummaryInput{Request: req, Err: err})
}

func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError("orchestration", err)
	}
	return NewCancelledError("orchestration", err)
}

// DryRun plans and validates a request without executing it.
func (o *Orchestrator) DryRun(ctx context.Context, req Request) (*Plan, Verdict, error) {
	req = normalizeRequest(req)
	if req.Query == "" {
		return nil, Verdict{}, NewInvalidRequestError("query is empty")
	}
	if o.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.RequestTimeout)
		defer cancel()
	}

	catalog := o.catalogs.Snapshot()
	plan, err := o.planner.Plan(ctx, PlanRequest{Query: req.Query, History: req.History}, catalog)
	if err != nil {
		return nil, Verdict{}, err
	}
	verdict := o.validator.Validate(plan, catalog, ValidationContext{Elevated: req.Elevated})
	return plan, verdict, nil
}

func (o *Orchestrator) publish(ctx context.Context, t eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if o.eventBus == nil {
		return
	}
	if err := o.eventBus.Publish(ctx, eventbus.NewEvent(t, payload, source, metadata)); err != nil {
		log.Printf("Failed to publish event (event_type: %s, error: %v)", t, err)
	}
}

func normalizeRequest(req Request) Request {
	req.Query = strings.TrimSpace(req.Query)
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	return req
}
