package mcpdesk

import (
	"context"
	"errors"
	"testing"
	"time"
)

type dummyCatalog struct{}

func (dummyCatalog) Lookup(name string) (ToolDescriptor, bool) {
	return ToolDescriptor{Name: name, Risk: RiskSafe}, name == "noop"
}
func (dummyCatalog) Descriptors() []ToolDescriptor { return []ToolDescriptor{{Name: "noop", Risk: RiskSafe}} }
func (c dummyCatalog) Snapshot() Catalog          { return c }

type dummyPlanner struct {
	err   error
	empty bool
}

func (d *dummyPlanner) Plan(ctx context.Context, req PlanRequest, catalog Catalog) (*Plan, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.empty {
		return &Plan{Query: req.Query, DirectAnswer: "hi"}, nil
	}
	return &Plan{Query: req.Query, Steps: []PlanStep{{Index: 0, Tool: "noop"}}}, nil
}

type dummyValidator struct{ reject bool }

func (d *dummyValidator) Validate(plan *Plan, catalog Catalog, vctx ValidationContext) Verdict {
	if d.reject && !vctx.Elevated {
		return Rejected(RuleViolation{Rule: RuleUnsafeOperation, StepIndex: 0, Tool: "noop"})
	}
	return Approved(plan)
}

type dummyExecutor struct{ calls int }

func (d *dummyExecutor) Execute(ctx context.Context, plan *Plan, catalog Catalog) *ExecutionResult {
	d.calls++
	return &ExecutionResult{Status: StatusCompleted, Outcomes: []StepOutcome{Succeeded(0, "noop", "ok", 0)}}
}

type dummySummarizer struct{}

func (dummySummarizer) Summarize(ctx context.Context, in SummaryInput) Response {
	switch {
	case in.Err != nil:
		return Response{Status: ResponseError, Text: in.Err.Error()}
	case in.Verdict != nil && in.Verdict.Kind == VerdictRejected:
		return Response{Status: ResponseRejected, Text: "rejected"}
	case in.Result == nil:
		return Response{Status: ResponseOK, Text: in.Plan.DirectAnswer}
	}
	return Response{Status: ResponseOK, Text: "answer"}
}

func testComponents(p *dummyPlanner, v *dummyValidator, e *dummyExecutor) Components {
	return Components{
		Catalogs:   dummyCatalog{},
		Planner:    p,
		Validator:  v,
		Executor:   e,
		Summarizer: dummySummarizer{},
	}
}

func TestStateMachine_Execute_Success(t *testing.T) {
	exec := &dummyExecutor{}
	sm := CreateProcessStateMachine(testComponents(&dummyPlanner{}, &dummyValidator{}, exec), nil)
	pCtx := NewProcessContext(Request{ID: "r1", Query: "test query"})

	resp, err := sm.Execute(context.Background(), pCtx)
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resp == nil || resp.Text != "answer" {
		t.Fatalf("expected final answer, got %+v", resp)
	}
	if exec.calls != 1 {
		t.Errorf("expected one execution, got %d", exec.calls)
	}
	want := []ProcessState{StateInit, StatePlanning, StateValidation, StateExecution, StateSynthesis}
	got := pCtx.History()
	if len(got) != len(want) {
		t.Fatalf("expected path %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path[%d] = %s, want %s", i, got[i], want[i])
		}
	}
	if pCtx.State() != StateComplete {
		t.Errorf("expected complete, got %s", pCtx.State())
	}
}

func TestStateMachine_Execute_RejectionSkipsExecution(t *testing.T) {
	exec := &dummyExecutor{}
	sm := CreateProcessStateMachine(testComponents(&dummyPlanner{}, &dummyValidator{reject: true}, exec), nil)
	resp, err := sm.Execute(context.Background(), NewProcessContext(Request{Query: "q"}))
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if resp.Status != ResponseRejected {
		t.Errorf("expected rejected, got %s", resp.Status)
	}
	if exec.calls != 0 {
		t.Errorf("executor must not run on a rejected plan, ran %d times", exec.calls)
	}
}

func TestStateMachine_Execute_DirectAnswerSkipsValidation(t *testing.T) {
	exec := &dummyExecutor{}
	sm := CreateProcessStateMachine(testComponents(&dummyPlanner{empty: true}, &dummyValidator{}, exec), nil)
	pCtx := NewProcessContext(Request{Query: "hello"})
	resp, _ := sm.Execute(context.Background(), pCtx)
	if resp.Text != "hi" || exec.calls != 0 {
		t.Errorf("unexpected response %+v (executions %d)", resp, exec.calls)
	}
	for _, s := range pCtx.History() {
		if s == StateValidation {
			t.Error("an empty plan must not be validated")
		}
	}
}

func TestStateMachine_Execute_ErrorTransition(t *testing.T) {
	sm := CreateProcessStateMachine(testComponents(&dummyPlanner{err: errors.New("model down")}, &dummyValidator{}, &dummyExecutor{}), nil)
	pCtx := NewProcessContext(Request{Query: "test query"})
	resp, err := sm.Execute(context.Background(), pCtx)
	if err == nil {
		t.Error("expected error, got nil")
	}
	if resp == nil || resp.Status != ResponseError {
		t.Fatalf("expected an error response, got %+v", resp)
	}
	if _, stage := pCtx.Err(); stage != string(StatePlanning) {
		t.Errorf("expected error stage planning, got %q", stage)
	}
}

func TestStateMachine_Execute_EmptyQuery(t *testing.T) {
	sm := CreateProcessStateMachine(testComponents(&dummyPlanner{}, &dummyValidator{}, &dummyExecutor{}), nil)
	resp, err := sm.Execute(context.Background(), NewProcessContext(Request{}))
	if !HasCode(err, ErrCodeInvalidRequest) {
		t.Errorf("expected invalid request error, got %v", err)
	}
	if resp.Status != ResponseError {
		t.Errorf("expected error status, got %s", resp.Status)
	}
}

func TestStateMachine_Execute_Cancellation(t *testing.T) {
	sm := CreateProcessStateMachine(testComponents(&dummyPlanner{}, &dummyValidator{}, &dummyExecutor{}), nil)
	pCtx := NewProcessContext(Request{Query: "test query"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	resp, err := sm.Execute(ctx, pCtx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation, got %v", err)
	}
	if resp != nil {
		t.Errorf("expected no response, got %+v", resp)
	}
	if pCtx.State() != StateCancelled {
		t.Errorf("expected cancelled state, got %s", pCtx.State())
	}
}

func TestProcessContext_StateDurations(t *testing.T) {
	pCtx := NewProcessContext(Request{Query: "q"})
	time.Sleep(5 * time.Millisecond)
	pCtx.PushState(StatePlanning)
	if d := pCtx.GetStateDuration(StateInit); d < 5*time.Millisecond {
		t.Errorf("expected init to last at least 5ms, got %v", d)
	}
	if d := pCtx.GetStateDuration(StateExecution); d != 0 {
		t.Errorf("expected zero for an unvisited state, got %v", d)
	}
	if !pCtx.PopState() || pCtx.State() != StateInit {
		t.Error("expected pop back to init")
	}
	if pCtx.PopState() {
		t.Error("expected pop on empty stack to fail")
	}
	pCtx.Complete()
	if !pCtx.IsTerminal() || pCtx.GetTotalDuration() <= 0 {
		t.Error("expected a terminal state with a duration")
	}
}
