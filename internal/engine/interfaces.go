package engine

import (
	"time"

	"github.com/statorhq/stator/pkg/stator/domain"
)

// ExecutionRepo defines the persistence surface for top-level executions,
// matching repository.ExecutionRepository.
type ExecutionRepo interface {
	Save(e *domain.Execution) (int64, error)
	FindByUUID(uuid string) (*domain.Execution, error)
	UpdateStatus(uuid string, status string) error
	UpdateStartingTime(uuid string) error
	FindQueued(limit int, executorGroup string) (*[]domain.Execution, error)
	MarkScheduledForExecution(uuid string, executorID int64, modified time.Time) bool
	FindStuck(repairAfterMinutes string, executorGroup string, limit int) (*[]domain.Execution, error)
	ClearExecutorID(uuid string) error
}

// InstanceRepo defines the persistence surface for state execution instances.
type InstanceRepo interface {
	Save(si *domain.StateExecutionInstance) (int64, error)
	Update(si *domain.StateExecutionInstance) error
	FindByUUID(uuid string) (*domain.StateExecutionInstance, error)
	FindByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error)
	FindNonTerminalByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error)
	FindPausedByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error)
}

// InterruptRepo defines the persistence surface for execution interrupts.
// The log is append-only; superseded records are marked seized, not deleted.
type InterruptRepo interface {
	Save(in *domain.ExecutionInterrupt) (int64, error)
	FindByExecution(executionUUID string) (*[]domain.ExecutionInterrupt, error)
	FindOpenAllScoped(executionUUID string, interruptType string) (*domain.ExecutionInterrupt, error)
	FindOpenByInstance(instanceUUID string, interruptType string) (*domain.ExecutionInterrupt, error)
	MarkSeized(id int64) error
	SeizeAllScoped(executionUUID string, interruptType string) error
}

// MachineRepo defines the persistence surface for state machine graphs.
type MachineRepo interface {
	Save(rec *domain.StateMachineRecord) (int64, error)
	UpdateGraph(machineID string, graph string) error
	FindByMachineID(machineID string) (*domain.StateMachineRecord, error)
}

// ExecutorRepo defines the persistence surface for engine process records.
type ExecutorRepo interface {
	Save(e *domain.Executor) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	GetExecutorsByLastActive(limit int) ([]*domain.Executor, error)
}

// UserRepo defines the persistence surface for operator accounts.
type UserRepo interface {
	FindByUsername(username string) (*domain.User, error)
	FindBySessionID(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKey(apiKey string) (*domain.User, error)
	Save(user *domain.User) (int64, error)
	UpdateSession(userID int64, sessionID string, expiry time.Time) error
	ClearSessionBySessionID(sessionID string) error
}
