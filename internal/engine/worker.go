package engine

import (
	"context"
	"log/slog"

	"github.com/statorhq/stator/pkg/stator/domain"
)

// Worker processes executions from the queue. Run blocks until the execution
// comes to rest, so the pool size bounds how many executions run at once.
func Worker(ctx context.Context, id int, executor *StateMachineExecutor, queue <-chan *domain.Execution) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("Worker stopping due to context cancel", "worker_id", id)
			return
		case exec := <-queue:
			slog.Info("Worker starting execution", "worker_id", id, "execution_uuid", exec.UUID)
			if err := executor.Run(exec, nil, nil); err != nil {
				slog.Error("Worker execution failed", "worker_id", id, "execution_uuid", exec.UUID, "error", err)
			}
			slog.Info("Worker finished execution", "worker_id", id, "execution_uuid", exec.UUID)
		}
	}
}
