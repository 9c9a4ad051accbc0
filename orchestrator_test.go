package mcpdesk_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/mcpdesk"
	"github.com/ZanzyTHEbar/mcpdesk/internal/adapters"
	"github.com/ZanzyTHEbar/mcpdesk/internal/executor"
	"github.com/ZanzyTHEbar/mcpdesk/internal/planner"
	"github.com/ZanzyTHEbar/mcpdesk/internal/registry"
	"github.com/ZanzyTHEbar/mcpdesk/internal/summarizer"
	"github.com/ZanzyTHEbar/mcpdesk/internal/validator"
)

// fixedModel answers every prompt with the same plan.
type fixedModel string

func (m fixedModel) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	return string(m), nil
}

// stuckModel ignores cancellation.
type stuckModel struct{ d time.Duration }

func (m stuckModel) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	time.Sleep(m.d)
	return `{"steps": []}`, nil
}

// waitingModel blocks until its context ends.
type waitingModel struct{}

func (waitingModel) Generate(ctx context.Context, p mcpdesk.Prompt) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

type fixture struct {
	deletes atomic.Int32
}

func (f *fixture) provider() mcpdesk.ToolProvider {
	describe := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{
			"summary": "sales.csv has 3 rows; amount mean 20, min 10, max 30",
			"table":   []interface{}{map[string]interface{}{"column": "amount", "mean": 20.0}},
		}, nil
	}
	quote := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		if args["ticker"] == "AAPL" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return map[string]interface{}{"summary": "MSFT trades at 410.5", "price": 410.5}, nil
	}
	del := func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
		f.deletes.Add(1)
		return "deleted", nil
	}
	return adapters.NewProvider("test",
		adapters.NewGoToolAdapter("describe_dataset", describe,
			adapters.WithCategory(mcpdesk.CategoryAnalysis),
			adapters.WithParameters(adapters.Required("file", mcpdesk.ParamString, "CSV file"))),
		adapters.NewGoToolAdapter("get_stock_info", quote,
			adapters.WithCategory(mcpdesk.CategoryFinancial),
			adapters.WithParameters(adapters.Required("ticker", mcpdesk.ParamString, "ticker symbol"))),
		adapters.NewGoToolAdapter("delete_file", del,
			adapters.WithCategory(mcpdesk.CategorySystem),
			adapters.WithRisk(mcpdesk.RiskDestructive),
			adapters.WithParameters(adapters.Required("path", mcpdesk.ParamString, "file to delete"))),
	)
}

func (f *fixture) orchestrator(t *testing.T, model mcpdesk.LanguageModel, timeout time.Duration) *mcpdesk.Orchestrator {
	t.Helper()
	reg, err := registry.Build(f.provider())
	require.NoError(t, err)

	o, err := mcpdesk.New(
		mcpdesk.WithConfig(mcpdesk.Config{RequestTimeout: timeout}),
		mcpdesk.WithCatalogSource(registry.NewHolder(reg)),
		mcpdesk.WithPlanner(planner.New(model)),
		mcpdesk.WithValidator(validator.New(validator.DefaultPolicy())),
		mcpdesk.WithExecutor(executor.NewExecutor(executor.WithStepTimeout(50*time.Millisecond))),
		mcpdesk.WithSummarizer(summarizer.New()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	return o
}

func TestHandle_DescribesDataset(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, fixedModel(`{"steps": [{"tool": "describe_dataset", "args": {"file": "sales.csv"}}]}`), time.Second)

	resp := o.Handle(context.Background(), mcpdesk.Request{SessionID: "s1", Query: "describe sales.csv"})

	assert.Equal(t, mcpdesk.ResponseOK, resp.Status)
	assert.Contains(t, resp.Text, "amount mean 20")
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, "s1", resp.SessionID)
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, mcpdesk.ArtifactTable, resp.Artifacts[0].Kind)
}

func TestHandle_RejectsDestructiveStepWithoutElevation(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, fixedModel(`{"steps": [{"tool": "delete_file", "args": {"path": "sales.csv"}}]}`), time.Second)

	resp := o.Handle(context.Background(), mcpdesk.Request{Query: "delete sales.csv"})

	assert.Equal(t, mcpdesk.ResponseRejected, resp.Status)
	assert.Contains(t, resp.Text, string(mcpdesk.RuleUnsafeOperation))
	require.NotNil(t, resp.Verdict)
	assert.Equal(t, mcpdesk.RuleUnsafeOperation, resp.Verdict.Violation.Rule)
	assert.Zero(t, f.deletes.Load())

	err := resp.Rejection()
	assert.True(t, mcpdesk.HasCode(err, mcpdesk.ErrCodeValidationReject))
	var violation *mcpdesk.RuleViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "delete_file", violation.Tool)

	resp = o.Handle(context.Background(), mcpdesk.Request{Query: "delete sales.csv", Elevated: true})
	assert.Equal(t, mcpdesk.ResponseOK, resp.Status)
	assert.NoError(t, resp.Rejection())
	assert.Equal(t, int32(1), f.deletes.Load())
}

func TestHandle_PartialWhenOneQuoteTimesOut(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, fixedModel(`{"steps": [
		{"tool": "get_stock_info", "args": {"ticker": "AAPL"}},
		{"tool": "get_stock_info", "args": {"ticker": "MSFT"}}
	]}`), time.Second)

	resp := o.Handle(context.Background(), mcpdesk.Request{Query: "compare AAPL with MSFT"})

	assert.Equal(t, mcpdesk.ResponsePartial, resp.Status)
	assert.Contains(t, resp.Text, "MSFT trades at 410.5")
	require.Len(t, resp.Caveats, 1)
	assert.Contains(t, resp.Caveats[0], "timed out")
	require.Len(t, resp.Outcomes, 2)
	assert.Equal(t, mcpdesk.FailureTimeout, resp.Outcomes[0].Failure.Kind)
	assert.True(t, resp.Outcomes[1].OK())
}

func TestHandle_RequestTimeoutWinsOverStuckStage(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, stuckModel{d: time.Second}, 50*time.Millisecond)

	start := time.Now()
	resp := o.Handle(context.Background(), mcpdesk.Request{Query: "anything"})

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, mcpdesk.ResponseError, resp.Status)
	assert.Contains(t, resp.Text, "timed out")
}

func TestHandle_EmptyQuery(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, fixedModel(`{"steps": []}`), time.Second)

	resp := o.Handle(context.Background(), mcpdesk.Request{Query: "   "})
	assert.Equal(t, mcpdesk.ResponseError, resp.Status)
	assert.Contains(t, resp.Text, "Invalid request")
}

func TestDryRun(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, fixedModel(`{"steps": [{"tool": "delete_file", "args": {"path": "a"}}]}`), time.Second)

	plan, verdict, err := o.DryRun(context.Background(), mcpdesk.Request{Query: "delete a"})
	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, mcpdesk.VerdictRejected, verdict.Kind)
	assert.Zero(t, f.deletes.Load())

	_, _, err = o.DryRun(context.Background(), mcpdesk.Request{})
	assert.True(t, mcpdesk.HasCode(err, mcpdesk.ErrCodeInvalidRequest))
}

func TestHandleAsync_ResultAndCleanup(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, fixedModel(`{"steps": [{"tool": "describe_dataset", "args": {"file": "sales.csv"}}]}`), time.Second)

	id, err := o.HandleAsync(context.Background(), mcpdesk.Request{Query: "describe sales.csv"})
	require.NoError(t, err)

	var resp mcpdesk.Response
	require.Eventually(t, func() bool {
		resp, err = o.AsyncResult(id)
		return err == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, mcpdesk.ResponseOK, resp.Status)
	assert.Equal(t, id, resp.RequestID)

	status, err := o.AsyncStatus(id)
	require.NoError(t, err)
	assert.True(t, status.IsComplete)
	assert.Equal(t, mcpdesk.StateComplete, status.CurrentState)

	cancelled, err := o.CancelAsync(id)
	require.NoError(t, err)
	assert.False(t, cancelled)

	assert.Contains(t, o.ListAsync(), id)
	assert.Equal(t, 1, o.CleanupCompleted(0))
	_, err = o.AsyncStatus(id)
	assert.Error(t, err)
}

func TestHandleAsync_Cancel(t *testing.T) {
	f := &fixture{}
	o := f.orchestrator(t, waitingModel{}, 5*time.Second)

	id, err := o.HandleAsync(context.Background(), mcpdesk.Request{Query: "wait"})
	require.NoError(t, err)

	_, err = o.AsyncResult(id)
	assert.Error(t, err, "still in progress")

	cancelled, err := o.CancelAsync(id)
	require.NoError(t, err)
	assert.True(t, cancelled)

	require.Eventually(t, func() bool {
		resp, err := o.AsyncResult(id)
		return err == nil && resp.Status == mcpdesk.ResponseError
	}, time.Second, 10*time.Millisecond)

	_, err = o.HandleAsync(context.Background(), mcpdesk.Request{})
	assert.Error(t, err)
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := mcpdesk.New()
	assert.True(t, mcpdesk.HasCode(err, mcpdesk.ErrCodeConfiguration))
}
