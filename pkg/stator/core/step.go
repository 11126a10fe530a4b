package core

import (
	"fmt"
	"sync"

	"github.com/statorhq/stator/pkg/stator/models"
)

// ResponseData is the payload delivered for one correlation ID through the
// notification channel.
type ResponseData struct {
	Status       models.ExecutionStatus
	ErrorMessage string
	Data         map[string]string
}

// ExecutionResponse is returned by a step's Execute or HandleAsyncResponse.
// A synchronous response carries a terminal Status; an asynchronous response
// sets Async and lists the correlation IDs the engine must wait on.
type ExecutionResponse struct {
	Status         models.ExecutionStatus
	Async          bool
	CorrelationIDs []string
	StateData      map[string]string
	NotifyElements []models.ContextElement
	ErrorMessage   string
}

// Step is the unit of work the engine drives. Concrete implementations are
// registered by state type; the engine supplies its own fork and repeat
// aggregator variants.
type Step interface {
	// Execute runs the step. It either returns a terminal status or an
	// asynchronous response carrying correlation IDs, in which case
	// HandleAsyncResponse is invoked once all of them have been notified.
	Execute(ctx *ExecutionContext) (*ExecutionResponse, error)

	// HandleAsyncResponse aggregates the per-correlation-ID responses into
	// one execution response. It may itself return another asynchronous
	// response, which suspends the walk again.
	HandleAsyncResponse(ctx *ExecutionContext, responses map[string]ResponseData) (*ExecutionResponse, error)

	// HandleAbortEvent lets the step release external resources when an
	// abort interrupt reaches a running instance. Best-effort: errors and
	// panics are logged and swallowed by the engine.
	HandleAbortEvent(ctx *ExecutionContext) error
}

// TerminalCallback is invoked exactly once per top-level execution when the
// whole graph completes.
type TerminalCallback func(executionUUID string, status models.ExecutionStatus, execErr error)

// Advisor may override the status transition the engine is about to apply.
// A nil return keeps the natural transition.
type Advisor interface {
	OnExecutionEvent(event models.ExecutionEvent) *models.ExecutionAdvice
}

// AsyncNotifier delivers an external asynchronous response for a correlation
// ID. Steps reach it through their ExecutionContext.
type AsyncNotifier interface {
	Notify(correlationID string, data ResponseData)
}

// ElementResolver evaluates a repeat element expression into the concrete
// elements a repeat state iterates over.
type ElementResolver interface {
	Resolve(ctx *ExecutionContext, elementType models.ContextElementType, expression string) ([]models.ContextElement, error)
}

// StepRegistry maps state types to step factories. Populated at startup,
// read-only while the engine runs.
type StepRegistry struct {
	mu        sync.RWMutex
	factories map[string]func() Step
}

func NewStepRegistry() *StepRegistry {
	return &StepRegistry{factories: make(map[string]func() Step)}
}

// Register binds a state type to a step factory. Re-registering a type
// replaces the previous factory.
func (r *StepRegistry) Register(stateType string, factory func() Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[stateType] = factory
}

// New creates a step for the given state type.
func (r *StepRegistry) New(stateType string) (Step, error) {
	r.mu.RLock()
	factory, ok := r.factories[stateType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no step registered for state type %q", stateType)
	}
	return factory(), nil
}
