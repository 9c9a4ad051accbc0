package mcpdesk

import (
	"context"
	"log"
	"time"

	"github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"
)

// CreateProcessStateMachine builds the state machine for the request pipeline:
// init, planning, validation, execution, synthesis, complete. A rejected or
// empty plan skips execution; a request-fatal error is routed to StateError,
// which renders it as a response.
func CreateProcessStateMachine(components Components, eventBus eventbus.EventBus) *StateMachine {
	sm := NewStateMachine(eventBus)

	sm.RegisterTransition(StateInit, createInitTransition(components))
	sm.RegisterTransition(StatePlanning, createPlanningTransition(components))
	sm.RegisterTransition(StateValidation, createValidationTransition(components))
	sm.RegisterTransition(StateExecution, createExecutionTransition(components))
	sm.RegisterTransition(StateSynthesis, createSynthesisTransition(components))
	sm.RegisterTransition(StateError, createErrorTransition(components))

	return sm
}

func emit(ctx context.Context, eb eventbus.EventBus, t eventbus.EventType, payload interface{}, source string, metadata map[string]interface{}) {
	if eb == nil {
		return
	}
	if err := eb.Publish(ctx, eventbus.NewEvent(t, payload, source, metadata)); err != nil {
		log.Printf("Failed to publish event (event_type: %s, error: %v)", t, err)
	}
}

func createInitTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		emit(ctx, eb, eventbus.EventQueryProcessingStarted, pCtx.Request.Query, "StateMachine.Init", map[string]interface{}{
			"request_id": pCtx.Request.ID,
			"timestamp":  time.Now().Format(time.RFC3339),
		})

		if pCtx.Request.Query == "" {
			return StateError, NewInvalidRequestError("query is empty")
		}

		// One snapshot serves every stage of the request.
		pCtx.Catalog = components.Catalogs.Snapshot()
		return StatePlanning, nil
	}
}

func createPlanningTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		req := PlanRequest{Query: pCtx.Request.Query, History: pCtx.Request.History}
		emit(ctx, eb, eventbus.EventPlanGenerationStarted, req, "StateMachine.Planning", nil)

		plan, err := components.Planner.Plan(ctx, req, pCtx.Catalog)
		if err != nil {
			log.Printf("Plan generation failed (request: %s, error: %v)", pCtx.Request.ID, err)
			emit(ctx, eb, eventbus.EventPlanGenerationFailure, err.Error(), "StateMachine.Planning", map[string]interface{}{
				"error": err.Error(),
			})
			return StateError, err
		}

		pCtx.Plan = plan
		emit(ctx, eb, eventbus.EventPlanGenerationSuccess, plan, "StateMachine.Planning", map[string]interface{}{
			"step_count": len(plan.Steps),
		})

		if plan.IsEmpty() {
			return StateSynthesis, nil
		}
		return StateValidation, nil
	}
}

func createValidationTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		verdict := components.Validator.Validate(pCtx.Plan, pCtx.Catalog, ValidationContext{Elevated: pCtx.Request.Elevated})
		pCtx.Verdict = &verdict

		switch verdict.Kind {
		case VerdictRejected:
			log.Printf("Plan rejected (request: %s, violation: %v)", pCtx.Request.ID, verdict.Violation)
			emit(ctx, eb, eventbus.EventPlanValidationRejected, verdict, "StateMachine.Validation", map[string]interface{}{
				"rule": string(verdict.Violation.Rule),
			})
			return StateSynthesis, nil
		case VerdictApprovedWithModification:
			emit(ctx, eb, eventbus.EventPlanValidationModified, verdict, "StateMachine.Validation", map[string]interface{}{
				"changes": len(verdict.Changes),
			})
		default:
			emit(ctx, eb, eventbus.EventPlanValidationApproved, verdict, "StateMachine.Validation", nil)
		}

		if verdict.Plan != nil {
			pCtx.Plan = verdict.Plan
		}
		return StateExecution, nil
	}
}

func createExecutionTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		emit(ctx, eb, eventbus.EventPlanExecutionStarted, pCtx.Plan, "StateMachine.Execution", map[string]interface{}{
			"step_count": len(pCtx.Plan.Steps),
		})

		result := components.Executor.Execute(ctx, pCtx.Plan, pCtx.Catalog)
		pCtx.Result = result

		for _, o := range result.Outcomes {
			t := eventbus.EventStepExecutionSuccess
			if !o.OK() {
				t = eventbus.EventStepExecutionFailure
			}
			emit(ctx, eb, t, o, "StateMachine.Execution", map[string]interface{}{
				"step": o.Index,
				"tool": o.Tool,
			})
		}

		t := eventbus.EventPlanExecutionCompleted
		switch result.Status {
		case StatusPartiallyCompleted:
			t = eventbus.EventPlanExecutionPartial
		case StatusAborted:
			t = eventbus.EventPlanExecutionAborted
		}
		emit(ctx, eb, t, result, "StateMachine.Execution", map[string]interface{}{
			"status":    string(result.Status),
			"succeeded": len(result.Successes()),
			"failed":    len(result.Failures()),
		})
		return StateSynthesis, nil
	}
}

func createSynthesisTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		emit(ctx, eb, eventbus.EventSynthesisStarted, pCtx.Request.Query, "StateMachine.Synthesis", map[string]interface{}{
			"has_result": pCtx.Result != nil,
		})

		resp := components.Summarizer.Summarize(ctx, SummaryInput{
			Request: pCtx.Request,
			Plan:    pCtx.Plan,
			Verdict: pCtx.Verdict,
			Result:  pCtx.Result,
		})
		pCtx.setResponse(resp)

		emit(ctx, eb, eventbus.EventSynthesisSuccess, resp.Text, "StateMachine.Synthesis", map[string]interface{}{
			"status": string(resp.Status),
		})
		emit(ctx, eb, eventbus.EventQueryProcessingSuccess, pCtx.Request.Query, "StateMachine.Synthesis", map[string]interface{}{
			"request_id": pCtx.Request.ID,
		})
		return StateComplete, nil
	}
}

// createErrorTransition renders the recorded error as the response.
func createErrorTransition(components Components) StateTransition {
	return func(ctx context.Context, eb eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error) {
		err, stage := pCtx.Err()
		emit(ctx, eb, eventbus.EventQueryProcessingFailure, pCtx.Request.Query, "StateMachine.Error", map[string]interface{}{
			"error": errString(err),
			"stage": stage,
		})

		resp := components.Summarizer.Summarize(ctx, SummaryInput{Request: pCtx.Request, Err: err})
		pCtx.setResponse(resp)
		return StateComplete, nil
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
