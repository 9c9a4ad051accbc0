package mcpdesk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/mcpdesk/internal/eventbus"
)

// The request pipeline runs as a pushdown automaton: the stack records the
// stages a request passed through, which keeps the path visible for async
// status queries and for logs.

// ProcessState represents the current state of a request.
type ProcessState string

const (
	// StateInit is the initial state of the request
	StateInit ProcessState = "init"
	// StatePlanning represents the planning phase
	StatePlanning ProcessState = "planning"
	// StateValidation represents the plan validation phase
	StateValidation ProcessState = "validation"
	// StateExecution represents the execution phase
	StateExecution ProcessState = "execution"
	// StateSynthesis represents the response synthesis phase
	StateSynthesis ProcessState = "synthesis"
	// StateError represents a request-fatal error awaiting its error response
	StateError ProcessState = "error"
	// StateComplete represents the completed state
	StateComplete ProcessState = "complete"
	// StateCancelled represents the cancelled state
	StateCancelled ProcessState = "cancelled"
	// StateUnknown is used when the status of an async execution cannot be determined.
	StateUnknown ProcessState = "unknown"
)

// ProcessContext carries one request through the state machine.
// It acts as the "tape" in the pushdown automaton.
type ProcessContext struct {
	mu sync.RWMutex

	Request Request

	// Catalog is the registry snapshot used for the whole request.
	Catalog  Catalog
	Plan     *Plan
	Verdict  *Verdict
	Result   *ExecutionResult
	Response *Response

	LastError  error
	ErrorStage string

	CurrentState ProcessState
	StateStack   []ProcessState
	StateData    map[string]interface{}

	StartTime       time.Time
	EndTime         time.Time
	StateStartTimes map[ProcessState]time.Time
}

// NewProcessContext creates a process context for the given request.
func NewProcessContext(req Request) *ProcessContext {
	now := time.Now()
	return &ProcessContext{
		Request:         req,
		CurrentState:    StateInit,
		StateStack:      []ProcessState{},
		StateData:       make(map[string]interface{}),
		StartTime:       now,
		StateStartTimes: map[ProcessState]time.Time{StateInit: now},
	}
}

// State returns the current state.
func (pc *ProcessContext) State() ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.CurrentState
}

// History returns the states the request passed through, oldest first.
func (pc *ProcessContext) History() []ProcessState {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make([]ProcessState, len(pc.StateStack))
	copy(out, pc.StateStack)
	return out
}

// PushState pushes the current state onto the stack and sets a new current state.
func (pc *ProcessContext) PushState(state ProcessState) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.push(state)
}

func (pc *ProcessContext) push(state ProcessState) {
	pc.StateStack = append(pc.StateStack, pc.CurrentState)
	pc.CurrentState = state
	pc.StateStartTimes[state] = time.Now()
}

// PopState pops the top state from the stack and sets it as the current state.
// Returns false if the stack is empty.
func (pc *ProcessContext) PopState() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if len(pc.StateStack) == 0 {
		return false
	}
	lastIdx := len(pc.StateStack) - 1
	pc.CurrentState = pc.StateStack[lastIdx]
	pc.StateStack = pc.StateStack[:lastIdx]
	pc.StateStartTimes[pc.CurrentState] = time.Now()
	return true
}

// IsTerminal reports whether the machine has stopped. StateError is not
// terminal: its transition still produces the error response.
func (pc *ProcessContext) IsTerminal() bool {
	s := pc.State()
	return s == StateComplete || s == StateCancelled
}

// SetError records a request-fatal error and moves to StateError.
func (pc *ProcessContext) SetError(err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.LastError = err
	pc.ErrorStage = stage
	pc.push(StateError)
}

// SetCancelled records the cancellation and stops the machine.
func (pc *ProcessContext) SetCancelled(err error, stage string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.LastError = err
	pc.ErrorStage = stage
	pc.push(StateCancelled)
	pc.EndTime = time.Now()
}

// Complete marks the request as complete and sets the end time.
func (pc *ProcessContext) Complete() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.push(StateComplete)
	pc.EndTime = pc.StateStartTimes[StateComplete]
}

// Err returns the recorded error and the stage it happened in.
func (pc *ProcessContext) Err() (error, string) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	return pc.LastError, pc.ErrorStage
}

// GetStateDuration returns the time spent in the given state so far, or zero
// when the state was never entered.
func (pc *ProcessContext) GetStateDuration(state ProcessState) time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	startTime, ok := pc.StateStartTimes[state]
	if !ok {
		return 0
	}
	if state == pc.CurrentState {
		return time.Since(startTime)
	}

	// The state ended when the next state on the path started.
	path := append(append([]ProcessState{}, pc.StateStack...), pc.CurrentState)
	for i := 0; i < len(path)-1; i++ {
		if path[i] == state {
			return pc.StateStartTimes[path[i+1]].Sub(startTime)
		}
	}
	return 0
}

// GetTotalDuration returns the total duration of the request so far.
func (pc *ProcessContext) GetTotalDuration() time.Duration {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	if !pc.EndTime.IsZero() {
		return pc.EndTime.Sub(pc.StartTime)
	}
	return time.Since(pc.StartTime)
}

// StateTransition defines a transition function for the state machine.
type StateTransition func(ctx context.Context, eventBus eventbus.EventBus, pCtx *ProcessContext) (ProcessState, error)

// StateMachine drives a ProcessContext through registered transitions.
type StateMachine struct {
	transitions map[ProcessState]StateTransition
	eventBus    eventbus.EventBus
}

// NewStateMachine creates a new state machine.
func NewStateMachine(eventBus eventbus.EventBus) *StateMachine {
	return &StateMachine{
		transitions: make(map[ProcessState]StateTransition),
		eventBus:    eventBus,
	}
}

// RegisterTransition registers a state transition function.
func (sm *StateMachine) RegisterTransition(state ProcessState, transition StateTransition) {
	sm.transitions[state] = transition
}

// Execute runs the state machine until it completes or is cancelled. The
// returned response is nil only when the request was cancelled before the
// machine produced one.
func (sm *StateMachine) Execute(ctx context.Context, pCtx *ProcessContext) (*Response, error) {
	for !pCtx.IsTerminal() {
		current := pCtx.State()
		if err := ctx.Err(); err != nil && current != StateError {
			pCtx.SetCancelled(err, string(current))
			break
		}

		transition, exists := sm.transitions[current]
		if !exists {
			err := NewInternalError(string(current), fmt.Sprintf("no transition defined for state: %s", current), nil)
			if current == StateError {
				// Nothing can render the error; stop here.
				pCtx.SetCancelled(err, string(current))
				break
			}
			pCtx.SetError(err, string(current))
			continue
		}

		nextState, err := transition(ctx, sm.eventBus, pCtx)
		if err != nil {
			// A stage deadline of its own is an ordinary failure; only the
			// request's context ending counts as cancellation.
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				pCtx.SetCancelled(err, string(current))
				continue
			}
			pCtx.SetError(err, string(current))
			continue
		}

		if nextState == StateComplete {
			pCtx.Complete()
			continue
		}
		pCtx.PushState(nextState)
	}

	err, _ := pCtx.Err()
	pCtx.mu.RLock()
	resp := pCtx.Response
	pCtx.mu.RUnlock()
	return resp, err
}

// setResponse stores the final response of the request.
func (pc *ProcessContext) setResponse(resp Response) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.Response = &resp
}
