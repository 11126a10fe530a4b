package repository

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
)

// ExecutionRepository provides persistence for the executions table.
type ExecutionRepository struct {
	db    *sql.DB
	clock core.Clock
}

const EXECUTION_COLUMNS = ` id, uuid, app_id, env_id, machine_id, status,
		       executor_group, external_id, business_key, params,
		       created, modified, started, executor_id `

func NewExecutionRepository(db *sql.DB, clock core.Clock) *ExecutionRepository {
	return &ExecutionRepository{db: db, clock: clock}
}

func scanExecution(scan func(dest ...any) error) (*domain.Execution, error) {
	var e domain.Execution
	err := scan(
		&e.ID,
		&e.UUID,
		&e.AppID,
		&e.EnvID,
		&e.MachineID,
		&e.Status,
		&e.ExecutorGroup,
		&e.ExternalID,
		&e.BusinessKey,
		&e.Params,
		&e.Created,
		&e.Modified,
		&e.Started,
		&e.ExecutorID,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *ExecutionRepository) Save(e *domain.Execution) (int64, error) {
	if e.Created.IsZero() {
		e.Created = r.clock.Now()
	}
	if e.Modified.IsZero() {
		e.Modified = e.Created
	}
	vals := []interface{}{e.UUID, e.AppID, e.EnvID, e.MachineID, e.Status, e.ExecutorGroup,
		e.ExternalID, e.BusinessKey, e.Params,
		formatDateInDatabase(e.Created), formatDateInDatabase(e.Modified), formatDateInDatabaseNull(e.Started), e.ExecutorID}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO executions (
		uuid, app_id, env_id, machine_id, status, executor_group,
		external_id, business_key, params, created, modified, started, executor_id
	) VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&e.ID)
	} else {
		res, e2 := r.db.Exec(base, vals...)
		if e2 != nil {
			err = e2
		} else {
			id, e3 := res.LastInsertId()
			if e3 != nil {
				err = e3
			} else {
				e.ID = id
			}
		}
	}
	return e.ID, err
}

func (r *ExecutionRepository) FindByUUID(uuid string) (*domain.Execution, error) {
	query := `
		SELECT ` + EXECUTION_COLUMNS + `
		FROM executions WHERE uuid = ` + placeholder(1) + `
	`
	e, err := scanExecution(func(dest ...any) error {
		return r.db.QueryRow(query, uuid).Scan(dest...)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (r *ExecutionRepository) UpdateStatus(uuid string, status string) error {
	query := `
		UPDATE executions
		SET status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE uuid = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, status, uuid)
	return err
}

func (r *ExecutionRepository) UpdateStartingTime(uuid string) error {
	query := `
		UPDATE executions
		SET started = ` + nowFunc(r.clock) + `
		WHERE uuid = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, uuid)
	return err
}

func (r *ExecutionRepository) FindQueued(limit int, executorGroup string) (*[]domain.Execution, error) {
	query := `
		SELECT ` + EXECUTION_COLUMNS + `
		FROM executions
		WHERE status = 'QUEUED'
		  AND executor_id IS NULL
		  AND executor_group = ` + placeholder(1) + `
		ORDER BY created ASC
		LIMIT ` + placeholder(2) + `
	`
	rows, err := r.db.Query(query, executorGroup, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executions := []domain.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &executions, nil
}

// MarkScheduledForExecution takes an optimistic lock on the execution by
// requiring the modified timestamp it was read with. Returns false when
// another executor got there first.
func (r *ExecutionRepository) MarkScheduledForExecution(uuid string, executorID int64, modified time.Time) bool {
	query := `
		UPDATE executions
		SET modified = ` + nowFunc(r.clock) + `, executor_id = ` + placeholder(1) + `
		WHERE uuid = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + ` AND status = 'QUEUED' AND executor_id IS NULL
	`
	result, err := r.db.Exec(query, executorID, uuid, formatDateInDatabase(modified))
	if err != nil {
		slog.Error("Failed to mark execution as scheduled", "error", err, "uuid", uuid, "executor_id", executorID)
		return false
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rowsAffected == 1
}

// FindStuck returns executions claimed by an executor that has stopped
// heartbeating, so the repair service can requeue them.
func (r *ExecutionRepository) FindStuck(repairAfterMinutes string, executorGroup string, limit int) (*[]domain.Execution, error) {
	mins, err := time.ParseDuration(repairAfterMinutes + "m")
	if err != nil {
		mins = 5 * time.Minute
	}
	cutoff := formatDateInDatabase(r.clock.Now().Add(-mins))
	query := `
		SELECT ` + EXECUTION_COLUMNS + `
		FROM executions
		WHERE modified < ` + placeholder(1) + `
		  AND status IN ('QUEUED', 'RUNNING')
		  AND executor_group = ` + placeholder(2) + `
		  AND executor_id IS NOT NULL
		  AND executor_id NOT IN (
		      SELECT id
		      FROM executors
		      WHERE last_active > ` + placeholder(3) + `
		  )
		ORDER BY modified ASC
		LIMIT ` + placeholder(4) + `
	`
	rows, err := r.db.Query(query, cutoff, executorGroup, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	executions := []domain.Execution{}
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &executions, nil
}

func (r *ExecutionRepository) ClearExecutorID(uuid string) error {
	query := `
		UPDATE executions
		SET executor_id = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE uuid = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, uuid)
	return err
}
