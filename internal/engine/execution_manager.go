package engine

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/statorhq/stator/internal/config"
	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
)

var executionQueue chan *domain.Execution // Initialized in StartEngine using system setting

// ExecutionManager polls the database for queued executions, locks them for
// this executor and feeds them to the worker pool.
type ExecutionManager struct {
	executions   ExecutionRepo
	executorRepo ExecutorRepo
	executor     *StateMachineExecutor
	executorID   int64
	wakeup       chan struct{}
	clock        core.Clock
}

func NewExecutionManager(executions ExecutionRepo, executorRepo ExecutorRepo, executor *StateMachineExecutor, clock core.Clock) *ExecutionManager {
	return &ExecutionManager{
		executions:   executions,
		executorRepo: executorRepo,
		executor:     executor,
		wakeup:       make(chan struct{}, 1),
		clock:        clock,
	}
}

// ListExecutors returns recent executors ordered by last_active desc.
func (em *ExecutionManager) ListExecutors(limit int) ([]*domain.Executor, error) {
	return em.executorRepo.GetExecutorsByLastActive(limit)
}

// StartEngine starts polling for queued executions at the given interval.
func (em *ExecutionManager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	registerExecutorInstance(ctx, em)

	go startExecutionRepairService(ctx, em)

	queueSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if queueSize <= 0 {
		queueSize = 10 // fallback default
	}
	executionQueue = make(chan *domain.Execution, queueSize)

	workers := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	slog.Info("Starting execution engine", "workers", workers, "queue_size", queueSize)
	for i := 0; i < workers; i++ {
		go Worker(ctx, i, em.executor, executionQueue)
	}

	slog.Info("Execution engine started", "poll_interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Execution engine stopping due to context cancel")
			return
		case <-ticker.C:
			em.pollAndRunExecutions(ctx)
		case <-em.wakeup:
			em.pollAndRunExecutions(ctx)
		}
	}
}

// startExecutionRepairService finds executions scheduled on an executor that
// stopped heartbeating and puts them back on the queue.
func startExecutionRepairService(ctx context.Context, em *ExecutionManager) {
	dur, _ := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_STUCK_EXECUTIONS_INTERVAL))
	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Execution repair service stopping due to context cancel")
			return
		case <-ticker.C:
			stuck, err := em.executions.FindStuck(
				config.GetSystemSettingString(config.ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES),
				config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
				100)
			if err != nil {
				slog.Error("Error finding stuck executions", "error", err)
				continue
			}
			for _, exec := range *stuck {
				slog.Warn("Repairing stuck execution",
					"execution_uuid", exec.UUID,
					"business_key", exec.BusinessKey,
					"status", exec.Status,
					"previous_executor", exec.ExecutorID.String)
				if err := em.executions.ClearExecutorID(exec.UUID); err != nil {
					slog.ErrorContext(ctx, "Failed to clear executor id", "execution_uuid", exec.UUID, "error", err)
					continue
				}
				if err := em.executions.UpdateStatus(exec.UUID, "QUEUED"); err != nil {
					slog.ErrorContext(ctx, "Failed to requeue stuck execution", "execution_uuid", exec.UUID, "error", err)
				}
			}
		}
	}
}

func registerExecutorInstance(ctx context.Context, em *ExecutionManager) {
	name := config.GetSystemSettingString(config.EXECUTOR_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "stator-engine"
		} else {
			name = hostname
		}
	}
	exec := &domain.Executor{Name: name, Started: time.Now(), LastActive: time.Now()}
	id, err := em.executorRepo.Save(exec)
	if err != nil {
		slog.Error("Failed to register executor", "error", err)
		return
	}
	em.executorID = id
	slog.Info("Registered executor", "executor_id", id, "name", name)
	// heartbeat keeps last_active fresh so other nodes leave our executions alone
	hb := time.NewTicker(30 * time.Second)
	go func(executorID int64) {
		for range hb.C {
			if err := em.executorRepo.UpdateLastActive(executorID, time.Now()); err != nil {
				slog.Error("Failed to update executor last_active", "executor_id", executorID, "error", err)
			} else {
				slog.Debug("Updated executor last_active", "executor_id", executorID)
			}
		}
	}(id)
}

// pollAndRunExecutions queries for queued executions, locks them and hands
// them to the worker pool.
func (em *ExecutionManager) pollAndRunExecutions(ctx context.Context) {
	slog.Debug("Polling for queued executions")

	if len(executionQueue) >= config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE) {
		slog.Warn("execution queue full, skipping poll, possibly stuck or long running executions")
		return
	}

	queued, err := em.executions.FindQueued(
		config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE),
		config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
	)
	if err != nil {
		slog.Error("Error fetching executions", "error", err)
		return
	}

	for i := range *queued {
		exec := (*queued)[i]
		slog.InfoContext(ctx, "Marking execution as scheduled",
			"execution_uuid", exec.UUID, "business_key", exec.BusinessKey)
		locked := em.executions.MarkScheduledForExecution(exec.UUID, em.executorID, exec.Modified)
		if !locked {
			slog.InfoContext(ctx, "Unable to gain lock on execution, possibly picked up by another executor",
				"execution_uuid", exec.UUID, "business_key", exec.BusinessKey)
			continue
		}
		slog.InfoContext(ctx, "Adding execution to channel",
			"execution_uuid", exec.UUID, "business_key", exec.BusinessKey)
		executionQueue <- &exec
	}
}

// Wakeup nudges the poll loop so a freshly created execution starts without
// waiting for the next tick.
func (em *ExecutionManager) Wakeup() {
	slog.Debug("Wakeup Manager called")
	select {
	case em.wakeup <- struct{}{}:
	default:
	}
}
