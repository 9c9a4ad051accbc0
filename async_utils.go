package mcpdesk

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"
)

type asyncExecution struct {
	pCtx     *ProcessContext
	cancel   context.CancelFunc
	response *Response
	finished time.Time
}

// AsyncExecutionStatus represents the status information for an async execution.
type AsyncExecutionStatus struct {
	ExecutionID  string         `json:"execution_id"`
	Query        string         `json:"query"`
	CurrentState ProcessState   `json:"current_state"`
	Path         []ProcessState `json:"path,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	Duration     time.Duration  `json:"duration"`
	IsComplete   bool           `json:"is_complete"`
	HasError     bool           `json:"has_error"`
	ErrorMessage string         `json:"error_message,omitempty"`
	ErrorStage   string         `json:"error_stage,omitempty"`
}

// HandleAsync starts a request in the background and returns its execution
// ID, which is also the request ID. The request is detached from ctx; use
// CancelAsync to stop it.
func (o *Orchestrator) HandleAsync(ctx context.Context, req Request) (string, error) {
	req = normalizeRequest(req)
	if req.Query == "" {
		return "", NewInvalidRequestError("query is empty")
	}

	executionID := req.ID
	pCtx := NewProcessContext(req)
	asyncCtx, cancel := context.WithCancel(context.Background())

	o.asyncExecutionsMutex.Lock()
	if _, exists := o.asyncExecutions[executionID]; exists {
		o.asyncExecutionsMutex.Unlock()
		cancel()
		return "", NewInvalidRequestError(fmt.Sprintf("execution '%s' already exists", executionID))
	}
	o.asyncExecutions[executionID] = &asyncExecution{pCtx: pCtx, cancel: cancel}
	o.asyncExecutionsMutex.Unlock()

	o.publish(ctx, eventbus.EventQueryAsyncProcessingStarted, req.Query, "Orchestrator.HandleAsync", map[string]interface{}{
		"timestamp":    time.Now().Format(time.RFC3339),
		"execution_id": executionID,
	})

	go func() {
		defer cancel()
		resp := o.handle(asyncCtx, pCtx)

		o.asyncExecutionsMutex.Lock()
		if exec, exists := o.asyncExecutions[executionID]; exists {
			exec.response = &resp
			exec.finished = time.Now()
		}
		o.asyncExecutionsMutex.Unlock()

		eventType := eventbus.EventQueryAsyncProcessingSuccess
		metadata := map[string]interface{}{
			"execution_id": executionID,
			"duration_ms":  resp.Duration.Milliseconds(),
			"status":       string(resp.Status),
		}
		if resp.Status == ResponseError {
			eventType = eventbus.EventQueryAsyncProcessingFailure
		}
		o.publish(context.Background(), eventType, req.Query, "Orchestrator.HandleAsync", metadata)
	}()

	return executionID, nil
}

// AsyncStatus retrieves the current status of an async execution.
func (o *Orchestrator) AsyncStatus(executionID string) (*AsyncExecutionStatus, error) {
	o.asyncExecutionsMutex.RLock()
	exec, exists := o.asyncExecutions[executionID]
	var done bool
	if exists {
		done = exec.response != nil
	}
	o.asyncExecutionsMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("execution with ID '%s' not found", executionID)
	}

	pCtx := exec.pCtx
	state := pCtx.State()
	status := &AsyncExecutionStatus{
		ExecutionID:  executionID,
		Query:        pCtx.Request.Query,
		CurrentState: state,
		Path:         pCtx.History(),
		StartTime:    pCtx.StartTime,
		Duration:     pCtx.GetTotalDuration(),
		IsComplete:   done,
	}
	if err, stage := pCtx.Err(); err != nil {
		status.HasError = true
		status.ErrorMessage = err.Error()
		status.ErrorStage = stage
	}
	return status, nil
}

// AsyncResult returns the response of a finished async execution.
func (o *Orchestrator) AsyncResult(executionID string) (Response, error) {
	o.asyncExecutionsMutex.RLock()
	defer o.asyncExecutionsMutex.RUnlock()

	exec, exists := o.asyncExecutions[executionID]
	if !exists {
		return Response{}, fmt.Errorf("execution with ID '%s' not found", executionID)
	}
	if exec.response == nil {
		return Response{}, fmt.Errorf("execution is still in progress (current state: %s)", exec.pCtx.State())
	}
	return *exec.response, nil
}

// CancelAsync cancels a running async execution. It returns false when the
// execution already finished.
func (o *Orchestrator) CancelAsync(executionID string) (bool, error) {
	o.asyncExecutionsMutex.RLock()
	exec, exists := o.asyncExecutions[executionID]
	finished := exists && exec.response != nil
	o.asyncExecutionsMutex.RUnlock()

	if !exists {
		return false, fmt.Errorf("execution with ID '%s' not found", executionID)
	}
	if finished {
		return false, nil
	}

	exec.cancel()
	log.Printf("Async execution cancelled (execution_id: %s, state: %s)", executionID, exec.pCtx.State())
	o.publish(context.Background(), eventbus.EventQueryAsyncProcessingCancelled, exec.pCtx.Request.Query, "Orchestrator.CancelAsync", map[string]interface{}{
		"execution_id": executionID,
		"duration_ms":  exec.pCtx.GetTotalDuration().Milliseconds(),
	})
	return true, nil
}

// ListAsync returns every async execution ID with its current state.
func (o *Orchestrator) ListAsync() map[string]string {
	o.asyncExecutionsMutex.RLock()
	defer o.asyncExecutionsMutex.RUnlock()

	result := make(map[string]string, len(o.asyncExecutions))
	for id, exec := range o.asyncExecutions {
		result[id] = string(exec.pCtx.State())
	}
	return result
}

// CleanupCompleted removes finished executions older than the given age and
// returns how many were removed.
func (o *Orchestrator) CleanupCompleted(olderThan time.Duration) int {
	o.asyncExecutionsMutex.Lock()
	defer o.asyncExecutionsMutex.Unlock()

	now := time.Now()
	count := 0
	for id, exec := range o.asyncExecutions {
		if exec.response != nil && now.Sub(exec.finished) > olderThan {
			delete(o.asyncExecutions, id)
			count++
		}
	}
	return count
}
