// Package executor runs validated plans against the tool catalog.
package executor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/ZanzyTHEbar/mcpdesk"
)

// PlanExecutor implements mcpdesk.Executor. It keeps no state between runs, so
// one instance can serve concurrent requests.
type PlanExecutor struct {
	stepTimeout    time.Duration
	abortThreshold float64
	concurrent     bool
	maxWorkers     int
	functions      *FunctionRegistry
}

// ExecutorOption represents an option for configuring the PlanExecutor.
type ExecutorOption func(*PlanExecutor)

// WithStepTimeout sets the per-step invocation timeout. Zero disables it.
func WithStepTimeout(timeout time.Duration) ExecutorOption {
	return func(e *PlanExecutor) {
		e.stepTimeout = timeout
	}
}

// WithAbortThreshold aborts the run once the fraction of failed steps reaches
// threshold. Zero disables early abort.
func WithAbortThreshold(threshold float64) ExecutorOption {
	return func(e *PlanExecutor) {
		if threshold < 0 {
			threshold = 0
		}
		e.abortThreshold = threshold
	}
}

// WithConcurrency runs steps with no data dependency between them concurrently,
// at most maxWorkers at a time.
func WithConcurrency(maxWorkers int) ExecutorOption {
	return func(e *PlanExecutor) {
		if maxWorkers < 1 {
			maxWorkers = 1
		}
		e.concurrent = maxWorkers > 1
		e.maxWorkers = maxWorkers
	}
}

// WithFunctions sets the functions available to expression bindings.
func WithFunctions(r *FunctionRegistry) ExecutorOption {
	return func(e *PlanExecutor) {
		if r != nil {
			e.functions = r
		}
	}
}

// NewExecutor creates a sequential executor with a 30 second step timeout.
func NewExecutor(options ...ExecutorOption) *PlanExecutor {
	e := &PlanExecutor{
		stepTimeout: 30 * time.Second,
		maxWorkers:  1,
		functions:   DefaultFunctions(),
	}
	for _, option := range options {
		option(e)
	}
	return e
}

// run holds the state of one Execute call.
type run struct {
	plan     *mcpdesk.Plan
	catalog  mcpdesk.Catalog
	outcomes []mcpdesk.StepOutcome
	failed   int
	aborted  bool
}

// Execute implements mcpdesk.Executor. It never returns an error; every
// failure is recorded on the step it belongs to.
func (e *PlanExecutor) Execute(ctx context.Context, plan *mcpdesk.Plan, catalog mcpdesk.Catalog) *mcpdesk.ExecutionResult {
	startTime := time.Now()
	if plan.IsEmpty() {
		return &mcpdesk.ExecutionResult{Status: mcpdesk.StatusCompleted, Outcomes: []mcpdesk.StepOutcome{}}
	}

	r := &run{
		plan:     plan,
		catalog:  catalog,
		outcomes: make([]mcpdesk.StepOutcome, len(plan.Steps)),
	}
	log.Printf("Starting plan execution (total_steps: %d, concurrent: %t)", len(plan.Steps), e.concurrent)

	if e.concurrent {
		e.executeLevels(ctx, r)
	} else {
		e.executeSequential(ctx, r)
	}

	result := &mcpdesk.ExecutionResult{
		Status:   e.status(r),
		Outcomes: r.outcomes,
		Duration: time.Since(startTime),
	}
	m := Collect(result)
	log.Printf("Plan execution metrics (status: %s, total_steps: %d, successful_steps: %d, failed_steps: %d, total_duration: %v)",
		result.Status, m.Steps, m.Successful, m.Failed, result.Duration)
	return result
}

func (e *PlanExecutor) executeSequential(ctx context.Context, r *run) {
	for i, step := range r.plan.Steps {
		if ctx.Err() != nil {
			r.abortFrom(i, "request cancelled")
			return
		}
		r.outcomes[i] = e.runStep(ctx, i, step, r)
		if !r.outcomes[i].OK() {
			r.failed++
		}
		if e.thresholdReached(r) {
			r.abortFrom(i+1, e.abortMessage(r))
			return
		}
	}
}

// executeLevels runs each dependency level on a bounded pool. A step's level is
// one more than the deepest step it reads, so every reference is resolved
// before the step starts.
func (e *PlanExecutor) executeLevels(ctx context.Context, r *run) {
	levels := Levels(r.plan)
	for li, level := range levels {
		if ctx.Err() != nil {
			r.abortLevels(levels[li:], "request cancelled")
			return
		}
		p := pool.New().WithMaxGoroutines(e.maxWorkers)
		for _, i := range level {
			i := i
			step := r.plan.Steps[i]
			p.Go(func() {
				r.outcomes[i] = e.runStep(ctx, i, step, r)
			})
		}
		p.Wait()

		for _, i := range level {
			if !r.outcomes[i].OK() {
				r.failed++
			}
		}
		if e.thresholdReached(r) {
			r.abortLevels(levels[li+1:], e.abortMessage(r))
			return
		}
	}
}

func (e *PlanExecutor) thresholdReached(r *run) bool {
	if e.abortThreshold <= 0 || r.failed == 0 {
		return false
	}
	return float64(r.failed)/float64(len(r.plan.Steps)) >= e.abortThreshold
}

func (e *PlanExecutor) abortMessage(r *run) string {
	return fmt.Sprintf("aborted after %d of %d steps failed", r.failed, len(r.plan.Steps))
}

func (e *PlanExecutor) status(r *run) mcpdesk.ExecutionStatus {
	switch {
	case r.failed == 0 && !r.aborted:
		return mcpdesk.StatusCompleted
	case r.aborted || r.failed == len(r.plan.Steps):
		return mcpdesk.StatusAborted
	default:
		return mcpdesk.StatusPartiallyCompleted
	}
}

// abortFrom marks steps from index start onward as aborted without running them.
func (r *run) abortFrom(start int, reason string) {
	if start >= len(r.plan.Steps) {
		if r.failed > 0 {
			r.aborted = true
		}
		return
	}
	r.aborted = true
	for i := start; i < len(r.plan.Steps); i++ {
		r.outcomes[i] = mcpdesk.Failed(i, r.plan.Steps[i].Tool, mcpdesk.FailureAborted, reason, 0)
		r.failed++
	}
	log.Printf("Plan execution aborted (reason: %s, skipped_steps: %d)", reason, len(r.plan.Steps)-start)
}

func (r *run) abortLevels(levels [][]int, reason string) {
	r.aborted = true
	for _, level := range levels {
		for _, i := range level {
			r.outcomes[i] = mcpdesk.Failed(i, r.plan.Steps[i].Tool, mcpdesk.FailureAborted, reason, 0)
			r.failed++
		}
	}
	log.Printf("Plan execution aborted (reason: %s)", reason)
}

// runStep produces exactly one outcome for step i.
func (e *PlanExecutor) runStep(ctx context.Context, i int, step mcpdesk.PlanStep, r *run) mcpdesk.StepOutcome {
	startTime := time.Now()
	fail := func(kind mcpdesk.FailureKind, format string, args ...interface{}) mcpdesk.StepOutcome {
		msg := fmt.Sprintf(format, args...)
		log.Printf("Step failed (step: %d, tool: %s, kind: %s, error: %s)", i, step.Tool, kind, msg)
		return mcpdesk.Failed(i, step.Tool, kind, msg, time.Since(startTime))
	}

	desc, ok := r.catalog.Lookup(step.Tool)
	if !ok || desc.Tool == nil {
		return fail(mcpdesk.FailureToolError, "tool '%s' is not registered", step.Tool)
	}

	for _, ref := range step.References() {
		if ref < 0 || ref >= i {
			return fail(mcpdesk.FailureToolError, "invalid reference to step %d", ref)
		}
		if dep := r.outcomes[ref]; !dep.OK() {
			return fail(mcpdesk.FailureDependencyFailed, "depends on step %d (%s), which did not complete: %s",
				ref, dep.Tool, dep.Failure.Message)
		}
	}

	args, err := resolveArguments(step, r.outcomes, e.functions)
	if err != nil {
		return fail(mcpdesk.FailureToolError, "%v", err)
	}
	for name, v := range args {
		if mcpdesk.IsUnavailable(v) {
			return fail(mcpdesk.FailureDependencyFailed, "argument '%s' depends on a step that did not complete", name)
		}
	}
	if err := checkResolvedTypes(args, desc); err != nil {
		return fail(mcpdesk.FailureToolError, "%v", err)
	}

	log.Printf("Starting step execution (step: %d, tool: %s)", i, step.Tool)
	value, kind, msg := e.invoke(ctx, desc.Tool, args)
	if kind != "" {
		return fail(kind, "%s", msg)
	}
	d := time.Since(startTime)
	log.Printf("Step execution completed successfully (step: %d, tool: %s, duration: %v)", i, step.Tool, d)
	return mcpdesk.Succeeded(i, step.Tool, value, d)
}

type reply struct {
	value interface{}
	err   error
}

// invoke calls the tool under the step timeout. A tool that ignores its
// context is abandoned when the timeout fires; its eventual reply is dropped.
func (e *PlanExecutor) invoke(ctx context.Context, tool mcpdesk.Tool, args map[string]interface{}) (interface{}, mcpdesk.FailureKind, string) {
	var stepCtx context.Context
	var cancel context.CancelFunc
	if e.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
	} else {
		stepCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	replies := make(chan reply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				replies <- reply{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		v, err := tool.Invoke(stepCtx, args)
		replies <- reply{value: v, err: err}
	}()

	select {
	case rep := <-replies:
		if rep.err == nil {
			return rep.value, "", ""
		}
		if ctx.Err() != nil {
			return nil, mcpdesk.FailureAborted, "request cancelled"
		}
		if stepCtx.Err() == context.DeadlineExceeded {
			return nil, mcpdesk.FailureTimeout, fmt.Sprintf("step exceeded its %v timeout", e.stepTimeout)
		}
		return nil, mcpdesk.FailureToolError, rep.err.Error()
	case <-stepCtx.Done():
		if ctx.Err() != nil {
			return nil, mcpdesk.FailureAborted, "request cancelled"
		}
		return nil, mcpdesk.FailureTimeout, fmt.Sprintf("step exceeded its %v timeout", e.stepTimeout)
	}
}

// Levels groups step indexes by dependency depth. Steps within one level do not
// read each other. Indexes within a level are ascending.
func Levels(plan *mcpdesk.Plan) [][]int {
	depth := make([]int, len(plan.Steps))
	var levels [][]int
	for i, step := range plan.Steps {
		d := 0
		for _, ref := range step.References() {
			if ref >= 0 && ref < i && depth[ref]+1 > d {
				d = depth[ref] + 1
			}
		}
		depth[i] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], i)
	}
	return levels
}
