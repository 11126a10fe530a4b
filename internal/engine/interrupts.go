package engine

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
	"github.com/statorhq/stator/pkg/stator/models"
)

// InterruptErrorCode is a stable machine-readable interrupt rejection code.
type InterruptErrorCode string

const (
	InterruptInvalidArgument  InterruptErrorCode = "INVALID_ARGUMENT"
	InterruptStateNotForType  InterruptErrorCode = "STATE_NOT_FOR_TYPE"
	InterruptPauseAllAlready  InterruptErrorCode = "PAUSE_ALL_ALREADY"
	InterruptResumeAllAlready InterruptErrorCode = "RESUME_ALL_ALREADY"
	InterruptAbortAllAlready  InterruptErrorCode = "ABORT_ALL_ALREADY"
)

// InterruptError is a rejected interrupt registration. Validation runs in a
// fixed order: argument problems first, then target state mismatches, then
// duplicate ALL-scoped interrupts.
type InterruptError struct {
	Code    InterruptErrorCode
	Message string
}

func (e *InterruptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func interruptErrorf(code InterruptErrorCode, format string, args ...any) *InterruptError {
	return &InterruptError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// ExecutionInterruptManager validates operator interrupts, persists them to
// the append-only interrupt log and signals the executor. An ALL-scoped
// interrupt seizes the opposing open interrupts it supersedes; a
// single-instance interrupt is marked seized as soon as the executor has
// accepted it.
type ExecutionInterruptManager struct {
	interrupts InterruptRepo
	executions ExecutionRepo
	instances  InstanceRepo
	executor   *StateMachineExecutor
	clock      core.Clock
}

func NewExecutionInterruptManager(
	interrupts InterruptRepo,
	executions ExecutionRepo,
	instances InstanceRepo,
	executor *StateMachineExecutor,
	clock core.Clock,
) *ExecutionInterruptManager {
	return &ExecutionInterruptManager{
		interrupts: interrupts,
		executions: executions,
		instances:  instances,
		executor:   executor,
		clock:      clock,
	}
}

// RegisterExecutionInterrupt validates, persists and applies one interrupt.
// Rejections carry an *InterruptError; any other error is an internal
// failure.
func (m *ExecutionInterruptManager) RegisterExecutionInterrupt(req models.RegisterInterruptRequest) (*domain.ExecutionInterrupt, error) {
	itype := models.InterruptType(req.InterruptType)
	if !itype.Valid() {
		return nil, interruptErrorf(InterruptInvalidArgument, "unknown interrupt type %q", req.InterruptType)
	}
	if req.ExecutionUUID == "" {
		return nil, interruptErrorf(InterruptInvalidArgument, "executionUuid is required")
	}
	if itype.SingleInstance() && req.StateExecutionInstanceID == "" {
		return nil, interruptErrorf(InterruptInvalidArgument, "%s requires stateExecutionInstanceId", itype)
	}
	if itype.AllScoped() && req.StateExecutionInstanceID != "" {
		return nil, interruptErrorf(InterruptInvalidArgument, "%s must not name a stateExecutionInstanceId", itype)
	}

	exec, err := m.executions.FindByUUID(req.ExecutionUUID)
	if err != nil {
		return nil, err
	}
	if exec == nil {
		return nil, interruptErrorf(InterruptInvalidArgument, "execution %q not found", req.ExecutionUUID)
	}

	var inst *domain.StateExecutionInstance
	if itype.SingleInstance() {
		inst, err = m.instances.FindByUUID(req.StateExecutionInstanceID)
		if err != nil {
			return nil, err
		}
		if inst == nil || inst.ExecutionUUID != req.ExecutionUUID {
			return nil, interruptErrorf(InterruptInvalidArgument,
				"instance %q not found in execution %q", req.StateExecutionInstanceID, req.ExecutionUUID)
		}
		if err := checkInstanceState(itype, inst); err != nil {
			return nil, err
		}
		open, err := m.interrupts.FindOpenByInstance(inst.UUID, string(itype))
		if err != nil {
			return nil, err
		}
		if open != nil {
			return nil, interruptErrorf(InterruptStateNotForType,
				"instance %q already has an open %s interrupt", inst.UUID, itype)
		}
	} else {
		if models.ExecutionStatus(exec.Status).IsFinal() {
			return nil, interruptErrorf(InterruptStateNotForType,
				"execution %q is already %s", exec.UUID, exec.Status)
		}
		if err := m.checkNoDuplicateAllScoped(itype, exec.UUID); err != nil {
			return nil, err
		}
	}

	record := &domain.ExecutionInterrupt{
		UUID:          uuid.NewString(),
		ExecutionUUID: req.ExecutionUUID,
		InterruptType: string(itype),
		CreatedBy:     req.CreatedBy,
		Created:       m.clock.Now(),
	}
	if itype.SingleInstance() {
		record.StateExecutionInstanceID = sql.NullString{String: req.StateExecutionInstanceID, Valid: true}
	}

	// Save before seizing: if the save fails no opposing interrupt has been
	// seized yet, so the log never loses a superseded record without its
	// superseding one.
	id, err := m.interrupts.Save(record)
	if err != nil {
		return nil, err
	}
	record.ID = id

	for _, seized := range itype.Seizes() {
		if err := m.interrupts.SeizeAllScoped(exec.UUID, string(seized)); err != nil {
			return nil, err
		}
	}

	if err := m.apply(itype, exec.UUID, req.StateExecutionInstanceID); err != nil {
		return nil, err
	}
	if itype.SingleInstance() {
		if err := m.interrupts.MarkSeized(record.ID); err != nil {
			slog.Error("Could not mark interrupt seized", "interrupt_uuid", record.UUID, "error", err)
		} else {
			record.Seized = true
		}
	}

	slog.Info("Interrupt registered",
		"execution_uuid", exec.UUID,
		"interrupt_type", itype,
		"instance_uuid", req.StateExecutionInstanceID,
		"created_by", req.CreatedBy)
	return record, nil
}

// checkInstanceState rejects single-instance interrupts whose target is not
// in a state the interrupt can act on.
func checkInstanceState(itype models.InterruptType, inst *domain.StateExecutionInstance) error {
	status := models.ExecutionStatus(inst.Status)
	switch itype {
	case models.InterruptPause:
		if status.IsFinal() || status == models.StatusPaused {
			return interruptErrorf(InterruptStateNotForType,
				"instance %q is %s, cannot pause", inst.UUID, status)
		}
	case models.InterruptResume:
		if status != models.StatusPaused {
			return interruptErrorf(InterruptStateNotForType,
				"instance %q is %s, only PAUSED instances can be resumed", inst.UUID, status)
		}
	case models.InterruptRetry:
		if status != models.StatusFailed {
			return interruptErrorf(InterruptStateNotForType,
				"instance %q is %s, only FAILED instances can be retried", inst.UUID, status)
		}
	case models.InterruptAbort:
		if status.IsFinal() {
			return interruptErrorf(InterruptStateNotForType,
				"instance %q is already %s", inst.UUID, status)
		}
	}
	return nil
}

func (m *ExecutionInterruptManager) checkNoDuplicateAllScoped(itype models.InterruptType, executionUUID string) error {
	open, err := m.interrupts.FindOpenAllScoped(executionUUID, string(itype))
	if err != nil {
		return err
	}
	if open == nil {
		return nil
	}
	switch itype {
	case models.InterruptPauseAll:
		return interruptErrorf(InterruptPauseAllAlready, "execution %q already has an open PAUSE_ALL", executionUUID)
	case models.InterruptResumeAll:
		return interruptErrorf(InterruptResumeAllAlready, "execution %q already has an open RESUME_ALL", executionUUID)
	case models.InterruptAbortAll:
		return interruptErrorf(InterruptAbortAllAlready, "execution %q already has an open ABORT_ALL", executionUUID)
	}
	return nil
}

func (m *ExecutionInterruptManager) apply(itype models.InterruptType, executionUUID, instanceUUID string) error {
	switch itype {
	case models.InterruptPause:
		return m.executor.PauseInstance(instanceUUID)
	case models.InterruptResume:
		return m.executor.ResumeInstance(instanceUUID)
	case models.InterruptRetry:
		return m.executor.RetryInstance(instanceUUID)
	case models.InterruptAbort:
		return m.executor.AbortInstance(instanceUUID)
	case models.InterruptPauseAll:
		return m.executor.PauseExecution(executionUUID)
	case models.InterruptResumeAll:
		return m.executor.ResumeExecution(executionUUID)
	case models.InterruptAbortAll:
		return m.executor.AbortExecution(executionUUID)
	}
	return nil
}

// Interrupts returns the audit trail for one execution, oldest first.
func (m *ExecutionInterruptManager) Interrupts(executionUUID string) ([]models.InterruptApiResponse, error) {
	records, err := m.interrupts.FindByExecution(executionUUID)
	if err != nil {
		return nil, err
	}
	out := make([]models.InterruptApiResponse, 0, len(*records))
	for _, r := range *records {
		resp := models.InterruptApiResponse{
			UUID:          r.UUID,
			ExecutionUUID: r.ExecutionUUID,
			InterruptType: r.InterruptType,
			Seized:        r.Seized,
			CreatedBy:     r.CreatedBy,
			Created:       r.Created,
		}
		if r.StateExecutionInstanceID.Valid {
			resp.StateExecutionInstanceID = r.StateExecutionInstanceID.String
		}
		out = append(out, resp)
	}
	return out, nil
}
