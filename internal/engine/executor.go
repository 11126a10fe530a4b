package engine

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/statorhq/stator/internal/machine"
	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
	"github.com/statorhq/stator/pkg/stator/models"
)

// pausedStatusKey stashes the status a paused instance had already computed,
// so a resume can continue the transition instead of re-running the step.
const pausedStatusKey = "pausedStatus"

// ManualInterventionNotifier is told when an execution comes to rest in a
// state an operator has to act on (a failed walk with no failure edge, or a
// pause quiesce).
type ManualInterventionNotifier interface {
	OnManualIntervention(executionUUID string, instanceUUID string, reason string)
}

// StateMachineExecutor drives persisted executions through their state
// machine graphs. One executor instance serves the whole process; per
// execution bookkeeping lives in an executionState and is dropped when the
// execution reaches a terminal status.
type StateMachineExecutor struct {
	executions ExecutionRepo
	instances  InstanceRepo
	machines   MachineRepo
	registry   *core.StepRegistry
	resolver   core.ElementResolver
	advisor    core.Advisor
	notifier   *Notifier
	clock      core.Clock
	manual     ManualInterventionNotifier

	mu     sync.Mutex
	states map[string]*executionState
	graphs map[string]*machine.StateMachine
}

type executionState struct {
	exec   *domain.Execution
	graph  *machine.StateMachine
	params map[string]string

	callback core.TerminalCallback
	advisor  core.Advisor
	once     sync.Once

	mu        sync.Mutex
	active    int
	pauseReq  bool
	abortReq  bool
	finished  bool
	instAbort map[string]bool
	instPause map[string]bool
	suspended map[string]*suspension

	// release hands the blocked worker back to the pool. releaseDone is
	// reset when a resume or retry puts walks back in flight, so the next
	// rest point releases again.
	release     func()
	releaseDone bool
}

type suspension struct {
	inst *domain.StateExecutionInstance
	step core.Step
	ctx  *core.ExecutionContext
}

func NewStateMachineExecutor(
	executions ExecutionRepo,
	instances InstanceRepo,
	machines MachineRepo,
	registry *core.StepRegistry,
	resolver core.ElementResolver,
	advisor core.Advisor,
	clock core.Clock,
) *StateMachineExecutor {
	return &StateMachineExecutor{
		executions: executions,
		instances:  instances,
		machines:   machines,
		registry:   registry,
		resolver:   resolver,
		advisor:    advisor,
		notifier:   NewNotifier(),
		clock:      clock,
		states:     make(map[string]*executionState),
		graphs:     make(map[string]*machine.StateMachine),
	}
}

// SetManualInterventionNotifier wires the operator attention hook. Optional.
func (x *StateMachineExecutor) SetManualInterventionNotifier(n ManualInterventionNotifier) {
	x.manual = n
}

// Notifier exposes the wait/notify registry so controllers and steps can
// deliver external asynchronous responses.
func (x *StateMachineExecutor) Notifier() *Notifier {
	return x.notifier
}

// Run drives one execution until it comes to rest: terminal status, or every
// walk paused. It blocks the calling worker goroutine for exactly that long;
// asynchronous continuations after an external notify run on the notifying
// goroutine instead. The callback fires exactly once, at the terminal status,
// which may be long after Run has returned. The advisor is consulted for
// every finished instance of this execution; nil falls back to the
// executor's default advisor.
func (x *StateMachineExecutor) Run(exec *domain.Execution, callback core.TerminalCallback, advisor core.Advisor) error {
	es, err := x.stateFor(exec, callback, advisor)
	if err != nil {
		return err
	}

	released := make(chan struct{})
	es.mu.Lock()
	es.release = func() { close(released) }
	es.releaseDone = false
	es.mu.Unlock()

	if err := x.executions.UpdateStatus(exec.UUID, string(models.StatusRunning)); err != nil {
		return fmt.Errorf("mark execution running: %w", err)
	}
	if err := x.executions.UpdateStartingTime(exec.UUID); err != nil {
		slog.Warn("Could not record execution starting time", "execution_uuid", exec.UUID, "error", err)
	}

	open, err := x.instances.FindNonTerminalByExecution(exec.UUID)
	if err != nil {
		return fmt.Errorf("load open instances: %w", err)
	}
	if len(*open) > 0 {
		// a requeued execution from a crashed executor: pick up its walks
		// where the instance records left them
		x.recoverExecution(es, *open)
		<-released
		return nil
	}

	initial := es.graph.InitialState()
	if initial == nil {
		x.finishExecution(es, models.StatusFailed, errors.New("graph has no initial state"))
		return nil
	}
	inst, err := x.newInstance(es, initial, sql.NullString{}, "", nil)
	if err != nil {
		x.finishExecution(es, models.StatusFailed, err)
		return nil
	}

	slog.Info("Starting execution",
		"execution_uuid", exec.UUID,
		"machine_id", exec.MachineID,
		"initial_state", initial.Name)

	x.walkActive(es)
	x.walkLoop(es, inst)

	<-released
	return nil
}

// recoverExecution re-drives the open walks of an execution whose executor
// died. In-memory wait state is gone, so open aggregators re-execute and
// spawn fresh child walks; their orphaned open children are aborted first.
// Paused instances stay paused and keep waiting for a resume interrupt.
func (x *StateMachineExecutor) recoverExecution(es *executionState, open []domain.StateExecutionInstance) {
	openByUUID := make(map[string]*domain.StateExecutionInstance, len(open))
	aggregators := make(map[string]bool)
	for i := range open {
		inst := &open[i]
		openByUUID[inst.UUID] = inst
		if inst.StateType == machine.StateTypeFork || inst.StateType == machine.StateTypeRepeat {
			aggregators[inst.UUID] = true
		}
	}

	hasOpenAggregatorAncestor := func(inst *domain.StateExecutionInstance) bool {
		cur := inst
		for cur.ParentInstanceID.Valid {
			if aggregators[cur.ParentInstanceID.String] {
				return true
			}
			parent := openByUUID[cur.ParentInstanceID.String]
			if parent == nil {
				return false
			}
			cur = parent
		}
		return false
	}

	restarted := 0
	for i := range open {
		inst := &open[i]
		if hasOpenAggregatorAncestor(inst) {
			x.markInstance(inst, models.StatusAborted)
			continue
		}
		if inst.Status == string(models.StatusPaused) {
			continue
		}
		slog.Info("Recovering walk",
			"execution_uuid", es.exec.UUID,
			"instance_uuid", inst.UUID,
			"state", inst.StateName,
			"previous_status", inst.Status)
		restarted++
		x.walkActive(es)
		go x.walkLoop(es, inst)
	}

	if restarted == 0 {
		// everything left is paused, nothing to drive until a resume arrives
		if err := x.executions.UpdateStatus(es.exec.UUID, string(models.StatusPaused)); err != nil {
			slog.Error("Could not persist paused execution status",
				"execution_uuid", es.exec.UUID, "error", err)
		}
		x.releaseWorker(es)
	}
}

// walkLoop advances one walk instance by instance on the current goroutine
// until the walk suspends, pauses or terminates.
func (x *StateMachineExecutor) walkLoop(es *executionState, inst *domain.StateExecutionInstance) {
	for inst != nil {
		inst = x.dispatch(es, inst)
	}
	x.walkRested(es)
}

// dispatch runs one instance and returns its successor within the same walk,
// or nil when the walk has suspended, paused or completed.
func (x *StateMachineExecutor) dispatch(es *executionState, inst *domain.StateExecutionInstance) *domain.StateExecutionInstance {
	es.mu.Lock()
	abortReq := es.abortReq || es.instAbort[inst.UUID]
	pauseReq := es.pauseReq || es.instPause[inst.UUID]
	if pauseReq {
		delete(es.instPause, inst.UUID)
	}
	es.mu.Unlock()

	if abortReq {
		x.markInstance(inst, models.StatusAborted)
		return x.completeWalk(es, inst, models.StatusAborted, nil)
	}
	if pauseReq {
		// paused before the step ran: no stashed status, a resume
		// re-dispatches the instance from scratch
		x.markInstance(inst, models.StatusPaused)
		return nil
	}

	state := es.graph.State(inst.StateName)
	if state == nil {
		x.markInstance(inst, models.StatusFailed)
		return x.completeWalk(es, inst, models.StatusFailed,
			fmt.Errorf("state %q not present in machine %q", inst.StateName, inst.MachineID))
	}

	step, err := x.stepFor(es, state)
	if err != nil {
		x.markInstance(inst, models.StatusFailed)
		return x.completeWalk(es, inst, models.StatusFailed, err)
	}

	ctx, err := x.buildContext(es, inst)
	if err != nil {
		x.markInstance(inst, models.StatusFailed)
		return x.completeWalk(es, inst, models.StatusFailed, err)
	}

	now := x.clock.Now()
	inst.Status = string(models.StatusRunning)
	inst.Started = sql.NullTime{Time: now, Valid: true}
	inst.Modified = now
	if err := x.instances.Update(inst); err != nil {
		slog.Error("Could not mark instance running", "instance_uuid", inst.UUID, "error", err)
	}

	resp, stepErr := x.safeExecute(step, ctx, inst)
	if stepErr == nil && resp != nil && resp.Async {
		x.suspend(es, inst, step, ctx, resp)
		return nil
	}
	return x.finishInstance(es, inst, step, ctx, resp, stepErr)
}

// suspend persists the instance's accumulated data and arms the notifier so
// the walk continues once every correlation ID has been delivered.
func (x *StateMachineExecutor) suspend(es *executionState, inst *domain.StateExecutionInstance, step core.Step, ctx *core.ExecutionContext, resp *core.ExecutionResponse) {
	es.mu.Lock()
	es.suspended[inst.UUID] = &suspension{inst: inst, step: step, ctx: ctx}
	es.mu.Unlock()

	// persist what the step accumulated so a crashed executor can recover
	// the suspended walk from the instance record
	x.persistStepData(inst, ctx, resp)
	inst.Modified = x.clock.Now()
	if err := x.instances.Update(inst); err != nil {
		slog.Error("Could not persist suspended instance",
			"instance_uuid", inst.UUID, "error", err)
	}

	slog.Debug("Walk suspended on async response",
		"instance_uuid", inst.UUID,
		"state", inst.StateName,
		"correlation_ids", len(resp.CorrelationIDs))

	x.notifier.Register(inst.UUID, resp.CorrelationIDs, func(responses map[string]core.ResponseData) {
		x.resumeSuspended(es, inst, step, ctx, responses)
	})
}

// resumeSuspended continues a walk after all its correlation IDs have been
// notified. Runs on the goroutine that delivered the final notification.
func (x *StateMachineExecutor) resumeSuspended(es *executionState, inst *domain.StateExecutionInstance, step core.Step, ctx *core.ExecutionContext, responses map[string]core.ResponseData) {
	es.mu.Lock()
	delete(es.suspended, inst.UUID)
	es.mu.Unlock()

	x.walkActive(es)

	resp, stepErr := x.safeHandleAsync(step, ctx, inst, responses)
	if stepErr == nil && resp != nil && resp.Async {
		x.suspend(es, inst, step, ctx, resp)
		x.walkRested(es)
		return
	}
	next := x.finishInstance(es, inst, step, ctx, resp, stepErr)
	x.walkLoop(es, next)
}

// finishInstance applies advisor overrides and abort/pause requests to the
// step's natural result, persists the instance and either continues the
// transition or brings the walk to rest. An abort request that lands while
// the step is mid-run gets the same best-effort abort hook a suspended step
// would.
func (x *StateMachineExecutor) finishInstance(es *executionState, inst *domain.StateExecutionInstance, step core.Step, ctx *core.ExecutionContext, resp *core.ExecutionResponse, stepErr error) *domain.StateExecutionInstance {
	status := models.StatusFailed
	if stepErr == nil && resp != nil {
		status = resp.Status
	}
	var walkErr error
	if stepErr != nil {
		walkErr = stepErr
	} else if resp != nil && resp.ErrorMessage != "" {
		walkErr = errors.New(resp.ErrorMessage)
	}

	advisor := es.advisor
	if advisor == nil {
		advisor = x.advisor
	}
	if advisor != nil {
		event := models.ExecutionEvent{
			ExecutionUUID: inst.ExecutionUUID,
			InstanceUUID:  inst.UUID,
			StateName:     inst.StateName,
			DisplayName:   inst.DisplayName,
			Status:        status,
		}
		if advice := advisor.OnExecutionEvent(event); advice != nil {
			slog.Info("Advisor override",
				"instance_uuid", inst.UUID,
				"natural_status", status,
				"advice", advice.Type)
			switch advice.Type {
			case models.AdviceMarkSuccess:
				status = models.StatusSuccess
				walkErr = nil
			case models.AdviceMarkFailed:
				status = models.StatusFailed
				if advice.Message != "" {
					walkErr = errors.New(advice.Message)
				}
			case models.AdviceAbort:
				status = models.StatusAborted
			}
		}
	}

	es.mu.Lock()
	forcedAbort := es.abortReq || es.instAbort[inst.UUID]
	if forcedAbort {
		delete(es.instAbort, inst.UUID)
		status = models.StatusAborted
	}
	pauseReq := es.pauseReq || es.instPause[inst.UUID]
	if pauseReq {
		delete(es.instPause, inst.UUID)
	}
	es.mu.Unlock()

	if forcedAbort && step != nil {
		x.safeAbort(step, ctx, inst)
	}

	x.persistStepData(inst, ctx, resp)

	if pauseReq && !es.isFinished() && status != models.StatusAborted {
		data := decodeStringMap(inst.StateExecutionData)
		data[pausedStatusKey] = string(status)
		inst.StateExecutionData = encodeStringMap(data)
		x.markInstance(inst, models.StatusPaused)
		return nil
	}

	x.markInstance(inst, models.ExecutionStatus(status))
	return x.continueTransition(es, inst, status, walkErr)
}

// continueTransition follows the edge matching the finished instance's
// status. No matching edge means the walk is complete.
func (x *StateMachineExecutor) continueTransition(es *executionState, inst *domain.StateExecutionInstance, status models.ExecutionStatus, walkErr error) *domain.StateExecutionInstance {
	var edge models.TransitionType
	switch status {
	case models.StatusSuccess:
		edge = models.TransitionSuccess
	case models.StatusFailed:
		edge = models.TransitionFailure
	case models.StatusAborted:
		edge = models.TransitionAbort
	default:
		return x.completeWalk(es, inst, status, walkErr)
	}

	next := es.graph.NextState(inst.StateName, edge)
	if next == nil {
		return x.completeWalk(es, inst, status, walkErr)
	}

	notifyID := ""
	if inst.NotifyID.Valid {
		notifyID = inst.NotifyID.String
	}
	succ, err := x.newInstance(es, next, inst.ParentInstanceID, notifyID, decodeElement(inst.ContextElement))
	if err != nil {
		return x.completeWalk(es, inst, models.StatusFailed, err)
	}
	return succ
}

// completeWalk ends one walk. A child walk notifies the aggregator waiting
// on it; the top-level walk finishes the whole execution.
func (x *StateMachineExecutor) completeWalk(es *executionState, inst *domain.StateExecutionInstance, status models.ExecutionStatus, walkErr error) *domain.StateExecutionInstance {
	if inst.NotifyID.Valid && inst.NotifyID.String != "" {
		data := core.ResponseData{Status: status}
		if walkErr != nil {
			data.ErrorMessage = walkErr.Error()
		}
		x.notifier.Notify(inst.NotifyID.String, data)
		return nil
	}
	x.finishExecution(es, status, walkErr)
	if status == models.StatusFailed && x.manual != nil {
		reason := "execution failed"
		if walkErr != nil {
			reason = walkErr.Error()
		}
		x.manual.OnManualIntervention(inst.ExecutionUUID, inst.UUID, reason)
	}
	return nil
}

// finishExecution records the terminal status and fires the terminal
// callback, exactly once however many walks race here.
func (x *StateMachineExecutor) finishExecution(es *executionState, status models.ExecutionStatus, walkErr error) {
	es.once.Do(func() {
		es.mu.Lock()
		es.finished = true
		es.mu.Unlock()

		if err := x.executions.UpdateStatus(es.exec.UUID, string(status)); err != nil {
			slog.Error("Could not persist terminal execution status",
				"execution_uuid", es.exec.UUID, "status", status, "error", err)
		}
		slog.Info("Execution finished",
			"execution_uuid", es.exec.UUID, "status", status, "error", walkErr)

		x.mu.Lock()
		delete(x.states, es.exec.UUID)
		x.mu.Unlock()

		if es.callback != nil {
			es.callback(es.exec.UUID, status, walkErr)
		}
		x.releaseWorker(es)
	})
}

func (x *StateMachineExecutor) walkActive(es *executionState) {
	es.mu.Lock()
	es.active++
	es.mu.Unlock()
}

func (x *StateMachineExecutor) walkRested(es *executionState) {
	es.mu.Lock()
	es.active--
	quiesced := es.active == 0 && es.pauseReq && !es.finished
	es.mu.Unlock()

	if quiesced {
		if err := x.executions.UpdateStatus(es.exec.UUID, string(models.StatusPaused)); err != nil {
			slog.Error("Could not persist paused execution status",
				"execution_uuid", es.exec.UUID, "error", err)
		}
		slog.Info("Execution paused", "execution_uuid", es.exec.UUID)
		x.releaseWorker(es)
	}
}

// releaseWorker hands the blocked worker back at most once per rest. The
// check-and-set runs under es.mu so a concurrent resume resetting the
// accounting never races it; the release itself runs outside the lock.
func (x *StateMachineExecutor) releaseWorker(es *executionState) {
	es.mu.Lock()
	if es.releaseDone {
		es.mu.Unlock()
		return
	}
	es.releaseDone = true
	release := es.release
	es.release = nil
	es.mu.Unlock()

	if release != nil {
		release()
	}
}

func (es *executionState) isFinished() bool {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.finished
}

// stepFor resolves the runnable for a state: engine-internal aggregators for
// fork and repeat states, the registry for everything else.
func (x *StateMachineExecutor) stepFor(es *executionState, state *machine.State) (core.Step, error) {
	switch {
	case state.IsFork():
		return &forkStep{x: x, es: es, state: state}, nil
	case state.IsRepeat():
		return &repeatStep{x: x, es: es, state: state}, nil
	default:
		return x.registry.New(state.Type)
	}
}

func (x *StateMachineExecutor) buildContext(es *executionState, inst *domain.StateExecutionInstance) (*core.ExecutionContext, error) {
	chain, err := x.elementChain(inst)
	if err != nil {
		return nil, err
	}
	ctx := &core.ExecutionContext{
		AppID:         es.exec.AppID,
		EnvID:         es.exec.EnvID,
		MachineID:     es.exec.MachineID,
		ExecutionUUID: es.exec.UUID,
		Instance:      inst,
		Params:        es.params,
		Elements:      chain,
		Notifier:      x.notifier,
	}
	for k, v := range decodeStringMap(inst.StateExecutionData) {
		ctx.SetStateData(k, v)
	}
	return ctx, nil
}

// elementChain collects the context elements bound on the path from the
// top-level walk down to this instance, outermost first.
func (x *StateMachineExecutor) elementChain(inst *domain.StateExecutionInstance) ([]models.ContextElement, error) {
	var reversed []models.ContextElement
	cur := inst
	for {
		if e := decodeElement(cur.ContextElement); e != nil {
			reversed = append(reversed, *e)
		}
		if !cur.ParentInstanceID.Valid || cur.ParentInstanceID.String == "" {
			break
		}
		parent, err := x.instances.FindByUUID(cur.ParentInstanceID.String)
		if err != nil {
			return nil, fmt.Errorf("load parent instance %s: %w", cur.ParentInstanceID.String, err)
		}
		if parent == nil {
			break
		}
		cur = parent
	}
	chain := make([]models.ContextElement, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		chain = append(chain, reversed[i])
	}
	return chain, nil
}

// newInstance creates and persists a QUEUED instance for the given state.
// The display name carries the element chain so parallel sub-walks of the
// same state stay distinguishable, e.g. "Deploy:svc-a:inst-1".
func (x *StateMachineExecutor) newInstance(es *executionState, state *machine.State, parentID sql.NullString, notifyID string, element *models.ContextElement) (*domain.StateExecutionInstance, error) {
	now := x.clock.Now()
	inst := &domain.StateExecutionInstance{
		UUID:             uuid.NewString(),
		ExecutionUUID:    es.exec.UUID,
		MachineID:        es.exec.MachineID,
		StateName:        state.Name,
		StateType:        state.Type,
		ParentInstanceID: parentID,
		ContextElement:   encodeElement(element),
		Status:           string(models.StatusQueued),
		Created:          now,
		Modified:         now,
	}
	if notifyID != "" {
		inst.NotifyID = sql.NullString{String: notifyID, Valid: true}
	}

	chain, err := x.elementChain(inst)
	if err != nil {
		return nil, err
	}
	inst.DisplayName = displayName(state.Name, chain)

	if _, err := x.instances.Save(inst); err != nil {
		return nil, fmt.Errorf("save instance for state %q: %w", state.Name, err)
	}
	return inst, nil
}

func displayName(stateName string, chain []models.ContextElement) string {
	if len(chain) == 0 {
		return stateName
	}
	parts := make([]string, 0, len(chain)+1)
	parts = append(parts, stateName)
	for _, e := range chain {
		parts = append(parts, e.Name)
	}
	return strings.Join(parts, ":")
}

// persistStepData merges the step's accumulated data and notify elements
// into the instance record.
func (x *StateMachineExecutor) persistStepData(inst *domain.StateExecutionInstance, ctx *core.ExecutionContext, resp *core.ExecutionResponse) {
	data := decodeStringMap(inst.StateExecutionData)
	if ctx != nil {
		for k, v := range ctx.StateData() {
			data[k] = v
		}
	}
	if resp != nil {
		for k, v := range resp.StateData {
			data[k] = v
		}
		if len(resp.NotifyElements) > 0 {
			merged := append(decodeElements(inst.NotifyElements), resp.NotifyElements...)
			inst.NotifyElements = encodeElements(merged)
		}
	}
	inst.StateExecutionData = encodeStringMap(data)
}

// markInstance persists a status change, stamping Ended for final statuses.
func (x *StateMachineExecutor) markInstance(inst *domain.StateExecutionInstance, status models.ExecutionStatus) {
	now := x.clock.Now()
	inst.Status = string(status)
	inst.Modified = now
	if status.IsFinal() {
		inst.Ended = sql.NullTime{Time: now, Valid: true}
	}
	if err := x.instances.Update(inst); err != nil {
		slog.Error("Could not persist instance status",
			"instance_uuid", inst.UUID, "status", status, "error", err)
	}
}

func (x *StateMachineExecutor) safeExecute(step core.Step, ctx *core.ExecutionContext, inst *domain.StateExecutionInstance) (resp *core.ExecutionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Step panicked in Execute",
				"instance_uuid", inst.UUID,
				"state", inst.StateName,
				"panic", r,
				"stack", string(debug.Stack()))
			resp = nil
			err = fmt.Errorf("step panic in state %q: %v", inst.StateName, r)
		}
	}()
	return step.Execute(ctx)
}

func (x *StateMachineExecutor) safeHandleAsync(step core.Step, ctx *core.ExecutionContext, inst *domain.StateExecutionInstance, responses map[string]core.ResponseData) (resp *core.ExecutionResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Step panicked in HandleAsyncResponse",
				"instance_uuid", inst.UUID,
				"state", inst.StateName,
				"panic", r,
				"stack", string(debug.Stack()))
			resp = nil
			err = fmt.Errorf("step panic in state %q: %v", inst.StateName, r)
		}
	}()
	return step.HandleAsyncResponse(ctx, responses)
}

func (x *StateMachineExecutor) safeAbort(step core.Step, ctx *core.ExecutionContext, inst *domain.StateExecutionInstance) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Step panicked in HandleAbortEvent",
				"instance_uuid", inst.UUID, "panic", r)
		}
	}()
	if err := step.HandleAbortEvent(ctx); err != nil {
		slog.Warn("Abort hook returned error",
			"instance_uuid", inst.UUID, "error", err)
	}
}

// stateFor returns the in-memory bookkeeping for an execution, creating it
// from the persisted record on first use.
func (x *StateMachineExecutor) stateFor(exec *domain.Execution, callback core.TerminalCallback, advisor core.Advisor) (*executionState, error) {
	x.mu.Lock()
	if es, ok := x.states[exec.UUID]; ok {
		if callback != nil {
			es.callback = callback
		}
		if advisor != nil {
			es.advisor = advisor
		}
		x.mu.Unlock()
		return es, nil
	}
	x.mu.Unlock()

	graph, err := x.graphFor(exec.MachineID)
	if err != nil {
		return nil, err
	}
	es := &executionState{
		exec:      exec,
		graph:     graph,
		params:    decodeStringMap(exec.Params),
		callback:  callback,
		advisor:   advisor,
		instAbort: make(map[string]bool),
		instPause: make(map[string]bool),
		suspended: make(map[string]*suspension),
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if existing, ok := x.states[exec.UUID]; ok {
		return existing, nil
	}
	x.states[exec.UUID] = es
	return es, nil
}

// graphFor loads and caches the parsed graph for a machine ID. Graphs are
// persisted after validation and repeat expansion, so no rewrite happens
// here.
func (x *StateMachineExecutor) graphFor(machineID string) (*machine.StateMachine, error) {
	x.mu.Lock()
	if g, ok := x.graphs[machineID]; ok {
		x.mu.Unlock()
		return g, nil
	}
	x.mu.Unlock()

	rec, err := x.machines.FindByMachineID(machineID)
	if err != nil {
		return nil, fmt.Errorf("load machine %q: %w", machineID, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("machine %q not found", machineID)
	}
	g, err := machine.Parse([]byte(rec.Graph))
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	x.graphs[machineID] = g
	x.mu.Unlock()
	return g, nil
}

// InvalidateGraph drops the cached graph so the next execution re-reads the
// persisted record. Called after an operator replaces a machine definition.
func (x *StateMachineExecutor) InvalidateGraph(machineID string) {
	x.mu.Lock()
	delete(x.graphs, machineID)
	x.mu.Unlock()
}

// stateForExecutionUUID reconstructs bookkeeping for an execution that is
// resting in the database, typically to honor a resume or retry interrupt.
func (x *StateMachineExecutor) stateForExecutionUUID(executionUUID string) (*executionState, error) {
	exec, err := x.executions.FindByUUID(executionUUID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, fmt.Errorf("execution %q not found", executionUUID)
	}
	return x.stateFor(exec, nil, nil)
}

// PauseExecution requests a pause of every walk of the execution. Walks come
// to rest at the next dispatch or transition boundary; suspended walks pause
// once their asynchronous response arrives.
func (x *StateMachineExecutor) PauseExecution(executionUUID string) error {
	es, err := x.stateForExecutionUUID(executionUUID)
	if err != nil {
		return err
	}
	es.mu.Lock()
	es.pauseReq = true
	es.mu.Unlock()
	slog.Info("Pause requested", "execution_uuid", executionUUID)
	return nil
}

// ResumeExecution clears a pause request and re-drives every paused
// instance.
func (x *StateMachineExecutor) ResumeExecution(executionUUID string) error {
	es, err := x.stateForExecutionUUID(executionUUID)
	if err != nil {
		return err
	}
	es.mu.Lock()
	es.pauseReq = false
	es.releaseDone = false
	es.mu.Unlock()

	paused, err := x.instances.FindPausedByExecution(executionUUID)
	if err != nil {
		return err
	}
	if err := x.executions.UpdateStatus(executionUUID, string(models.StatusRunning)); err != nil {
		return err
	}
	for i := range *paused {
		inst := &(*paused)[i]
		x.resumePaused(es, inst)
	}
	slog.Info("Execution resumed", "execution_uuid", executionUUID, "instances", len(*paused))
	return nil
}

// PauseInstance requests a pause of the walk currently running the given
// instance. Honored at the instance's next dispatch or transition boundary;
// a suspended instance pauses once its asynchronous response arrives.
func (x *StateMachineExecutor) PauseInstance(instanceUUID string) error {
	inst, err := x.instances.FindByUUID(instanceUUID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("instance %q not found", instanceUUID)
	}
	es, err := x.stateForExecutionUUID(inst.ExecutionUUID)
	if err != nil {
		return err
	}
	es.mu.Lock()
	es.instPause[instanceUUID] = true
	es.mu.Unlock()
	return nil
}

// ResumeInstance re-drives one paused instance. An execution-wide pause
// request stays in force; only this instance's walk proceeds.
func (x *StateMachineExecutor) ResumeInstance(instanceUUID string) error {
	inst, err := x.instances.FindByUUID(instanceUUID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("instance %q not found", instanceUUID)
	}
	if inst.Status != string(models.StatusPaused) {
		return fmt.Errorf("instance %q is %s, not PAUSED", instanceUUID, inst.Status)
	}
	es, err := x.stateForExecutionUUID(inst.ExecutionUUID)
	if err != nil {
		return err
	}
	es.mu.Lock()
	delete(es.instPause, instanceUUID)
	es.releaseDone = false
	es.mu.Unlock()
	if err := x.executions.UpdateStatus(inst.ExecutionUUID, string(models.StatusRunning)); err != nil {
		return err
	}
	x.resumePaused(es, inst)
	return nil
}

// resumePaused continues a paused instance on a fresh goroutine: from its
// stashed transition status when the step had already finished, otherwise by
// re-dispatching the step.
func (x *StateMachineExecutor) resumePaused(es *executionState, inst *domain.StateExecutionInstance) {
	data := decodeStringMap(inst.StateExecutionData)
	stashed := data[pausedStatusKey]

	x.walkActive(es)
	go func() {
		var next *domain.StateExecutionInstance
		if stashed != "" {
			delete(data, pausedStatusKey)
			inst.StateExecutionData = encodeStringMap(data)
			status := models.ExecutionStatus(stashed)
			x.markInstance(inst, status)
			next = x.continueTransition(es, inst, status, nil)
		} else {
			next = inst
		}
		x.walkLoop(es, next)
	}()
}

// AbortExecution cancels every outstanding wait, fires abort hooks on
// suspended steps, marks every non-terminal instance ABORTED and finishes
// the execution.
func (x *StateMachineExecutor) AbortExecution(executionUUID string) error {
	es, err := x.stateForExecutionUUID(executionUUID)
	if err != nil {
		return err
	}

	es.mu.Lock()
	es.abortReq = true
	waiting := make([]*suspension, 0, len(es.suspended))
	for _, s := range es.suspended {
		waiting = append(waiting, s)
	}
	es.suspended = make(map[string]*suspension)
	es.mu.Unlock()

	for _, s := range waiting {
		x.notifier.Cancel(s.inst.UUID)
		x.safeAbort(s.step, s.ctx, s.inst)
	}

	open, err := x.instances.FindNonTerminalByExecution(executionUUID)
	if err != nil {
		return err
	}
	for i := range *open {
		x.markInstance(&(*open)[i], models.StatusAborted)
	}

	x.finishExecution(es, models.StatusAborted, nil)
	return nil
}

// AbortInstance aborts one instance. A suspended instance is cancelled and
// its walk continues along an ABORT edge, or completes ABORTED so a waiting
// aggregator sees the aborted branch. A running instance is flagged and
// aborts at its next boundary.
func (x *StateMachineExecutor) AbortInstance(instanceUUID string) error {
	inst, err := x.instances.FindByUUID(instanceUUID)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("instance %q not found", instanceUUID)
	}
	if models.ExecutionStatus(inst.Status).IsFinal() {
		return fmt.Errorf("instance %q is already %s", instanceUUID, inst.Status)
	}
	es, err := x.stateForExecutionUUID(inst.ExecutionUUID)
	if err != nil {
		return err
	}

	es.mu.Lock()
	susp := es.suspended[instanceUUID]
	delete(es.suspended, instanceUUID)
	if susp == nil {
		es.instAbort[instanceUUID] = true
	}
	es.mu.Unlock()

	if susp == nil {
		// paused instances never get an async response, abort them here
		if inst.Status == string(models.StatusPaused) {
			x.walkActive(es)
			go func() {
				x.markInstance(inst, models.StatusAborted)
				next := x.continueTransition(es, inst, models.StatusAborted, nil)
				x.walkLoop(es, next)
			}()
		}
		return nil
	}

	x.notifier.Cancel(instanceUUID)
	x.safeAbort(susp.step, susp.ctx, susp.inst)
	x.walkActive(es)
	go func() {
		x.markInstance(susp.inst, models.StatusAborted)
		next := x.continueTransition(es, susp.inst, models.StatusAborted, nil)
		x.walkLoop(es, next)
	}()
	return nil
}

// RetryInstance creates a fresh instance for a failed one and re-drives it.
// The old instance stays in place marked RETRYING; the new one starts with
// empty state execution data and the notify elements accumulated across the
// whole retry chain.
func (x *StateMachineExecutor) RetryInstance(instanceUUID string) error {
	old, err := x.instances.FindByUUID(instanceUUID)
	if err != nil {
		return err
	}
	if old == nil {
		return fmt.Errorf("instance %q not found", instanceUUID)
	}
	if old.Status != string(models.StatusFailed) {
		return fmt.Errorf("instance %q is %s, only FAILED instances can be retried", instanceUUID, old.Status)
	}
	es, err := x.stateForExecutionUUID(old.ExecutionUUID)
	if err != nil {
		return err
	}
	state := es.graph.State(old.StateName)
	if state == nil {
		return fmt.Errorf("state %q not present in machine %q", old.StateName, old.MachineID)
	}

	notifyID := ""
	if old.NotifyID.Valid {
		notifyID = old.NotifyID.String
	}
	fresh, err := x.newInstance(es, state, old.ParentInstanceID, notifyID, decodeElement(old.ContextElement))
	if err != nil {
		return err
	}
	fresh.PrevInstanceID = sql.NullString{String: old.UUID, Valid: true}
	fresh.NotifyElements = encodeElements(x.mergeNotifyElements(old))
	if err := x.instances.Update(fresh); err != nil {
		return err
	}
	x.markInstance(old, models.StatusRetrying)

	if err := x.executions.UpdateStatus(old.ExecutionUUID, string(models.StatusRunning)); err != nil {
		return err
	}
	es.mu.Lock()
	es.releaseDone = false
	es.mu.Unlock()

	slog.Info("Retrying instance",
		"execution_uuid", old.ExecutionUUID,
		"old_instance_uuid", old.UUID,
		"new_instance_uuid", fresh.UUID,
		"state", old.StateName)

	x.walkActive(es)
	go x.walkLoop(es, fresh)
	return nil
}

// mergeNotifyElements folds the notify elements recorded across an
// instance's whole retry chain, oldest first.
func (x *StateMachineExecutor) mergeNotifyElements(inst *domain.StateExecutionInstance) []models.ContextElement {
	var chains [][]models.ContextElement
	cur := inst
	for cur != nil {
		chains = append(chains, decodeElements(cur.NotifyElements))
		if !cur.PrevInstanceID.Valid || cur.PrevInstanceID.String == "" {
			break
		}
		prev, err := x.instances.FindByUUID(cur.PrevInstanceID.String)
		if err != nil || prev == nil {
			break
		}
		cur = prev
	}
	var merged []models.ContextElement
	for i := len(chains) - 1; i >= 0; i-- {
		merged = append(merged, chains[i]...)
	}
	return merged
}
