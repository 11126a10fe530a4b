package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/statorhq/stator/internal/machine"
	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
	"github.com/statorhq/stator/pkg/stator/models"
)

// newChildWalk creates the head instance of a child walk. The child notifies
// its own UUID when its walk completes, which is exactly the correlation ID
// the spawning aggregator waits on.
func (x *StateMachineExecutor) newChildWalk(es *executionState, state *machine.State, parent *domain.StateExecutionInstance, element *models.ContextElement) (*domain.StateExecutionInstance, error) {
	parentID := sql.NullString{String: parent.UUID, Valid: true}
	inst, err := x.newInstance(es, state, parentID, "", element)
	if err != nil {
		return nil, err
	}
	inst.NotifyID = sql.NullString{String: inst.UUID, Valid: true}
	if err := x.instances.Update(inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// aggregate folds child walk results into one status. Abort dominates
// failure, failure dominates success.
func aggregate(responses map[string]core.ResponseData) (models.ExecutionStatus, string) {
	status := models.StatusSuccess
	var msgs []string
	for _, r := range responses {
		if r.ErrorMessage != "" {
			msgs = append(msgs, r.ErrorMessage)
		}
		switch r.Status {
		case models.StatusAborted:
			status = models.StatusAborted
		case models.StatusFailed:
			if status != models.StatusAborted {
				status = models.StatusFailed
			}
		}
	}
	return status, strings.Join(msgs, "; ")
}

// forkStep is the engine-internal aggregator behind FORK states. It spawns
// one child walk per FORK edge and suspends until every branch has
// completed.
type forkStep struct {
	x     *StateMachineExecutor
	es    *executionState
	state *machine.State
}

func (f *forkStep) Execute(ctx *core.ExecutionContext) (*core.ExecutionResponse, error) {
	branches := f.es.graph.NextStates(f.state.Name, models.TransitionFork)
	if len(branches) == 0 {
		return &core.ExecutionResponse{Status: models.StatusSuccess}, nil
	}

	ids := make([]string, 0, len(branches))
	children := make([]*domain.StateExecutionInstance, 0, len(branches))
	for _, branch := range branches {
		child, err := f.x.newChildWalk(f.es, branch, ctx.Instance, nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, child.UUID)
		children = append(children, child)
		ctx.SetStateData("branch:"+branch.Name, child.UUID)
	}
	for _, child := range children {
		f.x.walkActive(f.es)
		go f.x.walkLoop(f.es, child)
	}
	return &core.ExecutionResponse{Async: true, CorrelationIDs: ids}, nil
}

func (f *forkStep) HandleAsyncResponse(ctx *core.ExecutionContext, responses map[string]core.ResponseData) (*core.ExecutionResponse, error) {
	for id, r := range responses {
		ctx.SetStateData("result:"+id, string(r.Status))
	}
	status, msg := aggregate(responses)
	return &core.ExecutionResponse{Status: status, ErrorMessage: msg}, nil
}

func (f *forkStep) HandleAbortEvent(ctx *core.ExecutionContext) error { return nil }

// repeatStep is the engine-internal aggregator behind REPEAT states. It
// resolves the element expression and runs one child walk of the target
// state per element: all at once for PARALLEL, one at a time stopping on the
// first non-success for SERIAL.
type repeatStep struct {
	x     *StateMachineExecutor
	es    *executionState
	state *machine.State

	target   *machine.State
	elements []models.ContextElement
	next     int
	current  *models.ContextElement
}

func (r *repeatStep) Execute(ctx *core.ExecutionContext) (*core.ExecutionResponse, error) {
	r.target = r.es.graph.State(r.state.RepeatTransitionStateName)
	if r.target == nil {
		r.target = r.es.graph.NextState(r.state.Name, models.TransitionRepeat)
	}
	if r.target == nil {
		return nil, fmt.Errorf("repeat state %q has no target state", r.state.Name)
	}
	if r.x.resolver == nil {
		return nil, errors.New("no element resolver configured")
	}

	elements, err := r.x.resolver.Resolve(ctx, r.state.RepeatElementType, r.state.RepeatElementExpression)
	if err != nil {
		return nil, fmt.Errorf("resolve elements for %q: %w", r.state.Name, err)
	}
	r.elements = elements
	ctx.SetStateData("elementCount", fmt.Sprintf("%d", len(elements)))
	if len(elements) == 0 {
		return &core.ExecutionResponse{Status: models.StatusSuccess}, nil
	}

	if r.state.RepeatStrategy == models.RepeatSerial {
		return r.spawnNext(ctx)
	}

	ids := make([]string, 0, len(elements))
	children := make([]*domain.StateExecutionInstance, 0, len(elements))
	for i := range elements {
		child, err := r.x.newChildWalk(r.es, r.target, ctx.Instance, &elements[i])
		if err != nil {
			return nil, err
		}
		ids = append(ids, child.UUID)
		children = append(children, child)
	}
	for _, child := range children {
		r.x.walkActive(r.es)
		go r.x.walkLoop(r.es, child)
	}
	return &core.ExecutionResponse{Async: true, CorrelationIDs: ids}, nil
}

// spawnNext starts the serial child for the next element and suspends on it.
func (r *repeatStep) spawnNext(ctx *core.ExecutionContext) (*core.ExecutionResponse, error) {
	elem := &r.elements[r.next]
	r.current = elem
	r.next++
	child, err := r.x.newChildWalk(r.es, r.target, ctx.Instance, elem)
	if err != nil {
		return nil, err
	}
	r.x.walkActive(r.es)
	go r.x.walkLoop(r.es, child)
	return &core.ExecutionResponse{Async: true, CorrelationIDs: []string{child.UUID}}, nil
}

func (r *repeatStep) HandleAsyncResponse(ctx *core.ExecutionContext, responses map[string]core.ResponseData) (*core.ExecutionResponse, error) {
	if r.state.RepeatStrategy != models.RepeatSerial {
		status, msg := aggregate(responses)
		return &core.ExecutionResponse{Status: status, ErrorMessage: msg}, nil
	}

	// serial: exactly one outstanding child
	var result core.ResponseData
	for _, v := range responses {
		result = v
	}
	if r.current != nil {
		ctx.SetStateData("element:"+r.current.Name, string(result.Status))
	}
	if result.Status != models.StatusSuccess {
		// remaining elements never get an instance, they stay unrecorded
		return &core.ExecutionResponse{Status: result.Status, ErrorMessage: result.ErrorMessage}, nil
	}
	if r.next < len(r.elements) {
		return r.spawnNext(ctx)
	}
	return &core.ExecutionResponse{Status: models.StatusSuccess}, nil
}

func (r *repeatStep) HandleAbortEvent(ctx *core.ExecutionContext) error { return nil }
