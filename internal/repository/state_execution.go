package repository

import (
	"database/sql"
	"strings"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
)

// StateExecutionRepository provides persistence for the
// state_execution_instances table. Instances are append-mostly: a retry
// creates a new row, only status and accumulated data change in place.
type StateExecutionRepository struct {
	db    *sql.DB
	clock core.Clock
}

const INSTANCE_COLUMNS = ` id, uuid, execution_uuid, machine_id, state_name, display_name,
		       state_type, parent_instance_id, prev_instance_id, notify_id, status,
		       context_element, notify_elements, state_execution_data,
		       created, modified, started, ended `

func NewStateExecutionRepository(db *sql.DB, clock core.Clock) *StateExecutionRepository {
	return &StateExecutionRepository{db: db, clock: clock}
}

func scanInstance(scan func(dest ...any) error) (*domain.StateExecutionInstance, error) {
	var si domain.StateExecutionInstance
	err := scan(
		&si.ID,
		&si.UUID,
		&si.ExecutionUUID,
		&si.MachineID,
		&si.StateName,
		&si.DisplayName,
		&si.StateType,
		&si.ParentInstanceID,
		&si.PrevInstanceID,
		&si.NotifyID,
		&si.Status,
		&si.ContextElement,
		&si.NotifyElements,
		&si.StateExecutionData,
		&si.Created,
		&si.Modified,
		&si.Started,
		&si.Ended,
	)
	if err != nil {
		return nil, err
	}
	return &si, nil
}

func (r *StateExecutionRepository) Save(si *domain.StateExecutionInstance) (int64, error) {
	if si.Created.IsZero() {
		si.Created = r.clock.Now()
	}
	if si.Modified.IsZero() {
		si.Modified = si.Created
	}
	vals := []interface{}{si.UUID, si.ExecutionUUID, si.MachineID, si.StateName, si.DisplayName,
		si.StateType, si.ParentInstanceID, si.PrevInstanceID, si.NotifyID, si.Status,
		si.ContextElement, si.NotifyElements, si.StateExecutionData,
		formatDateInDatabase(si.Created), formatDateInDatabase(si.Modified),
		formatDateInDatabaseNull(si.Started), formatDateInDatabaseNull(si.Ended)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO state_execution_instances (
		uuid, execution_uuid, machine_id, state_name, display_name,
		state_type, parent_instance_id, prev_instance_id, notify_id, status,
		context_element, notify_elements, state_execution_data,
		created, modified, started, ended
	) VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&si.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				si.ID = id
			}
		}
	}
	return si.ID, err
}

func (r *StateExecutionRepository) Update(si *domain.StateExecutionInstance) error {
	query := `
		UPDATE state_execution_instances
		SET status = ` + placeholder(1) + `,
		    prev_instance_id = ` + placeholder(2) + `,
		    notify_id = ` + placeholder(3) + `,
		    notify_elements = ` + placeholder(4) + `,
		    state_execution_data = ` + placeholder(5) + `,
		    modified = ` + nowFunc(r.clock) + `,
		    started = ` + placeholder(6) + `,
		    ended = ` + placeholder(7) + `
		WHERE uuid = ` + placeholder(8) + `
	`
	_, err := r.db.Exec(query,
		si.Status,
		si.PrevInstanceID,
		si.NotifyID,
		si.NotifyElements,
		si.StateExecutionData,
		formatDateInDatabaseNull(si.Started),
		formatDateInDatabaseNull(si.Ended),
		si.UUID,
	)
	return err
}

func (r *StateExecutionRepository) FindByUUID(uuid string) (*domain.StateExecutionInstance, error) {
	query := `
		SELECT ` + INSTANCE_COLUMNS + `
		FROM state_execution_instances WHERE uuid = ` + placeholder(1) + `
	`
	si, err := scanInstance(func(dest ...any) error {
		return r.db.QueryRow(query, uuid).Scan(dest...)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return si, err
}

func (r *StateExecutionRepository) findByExecutionWhere(executionUUID string, extra string) (*[]domain.StateExecutionInstance, error) {
	query := `
		SELECT ` + INSTANCE_COLUMNS + `
		FROM state_execution_instances
		WHERE execution_uuid = ` + placeholder(1) + extra + `
		ORDER BY created ASC, id ASC
	`
	rows, err := r.db.Query(query, executionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	instances := []domain.StateExecutionInstance{}
	for rows.Next() {
		si, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *si)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &instances, nil
}

func (r *StateExecutionRepository) FindByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error) {
	return r.findByExecutionWhere(executionUUID, "")
}

func (r *StateExecutionRepository) FindNonTerminalByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error) {
	return r.findByExecutionWhere(executionUUID,
		` AND status NOT IN ('SUCCESS', 'FAILED', 'ABORTED', 'RETRYING')`)
}

func (r *StateExecutionRepository) FindPausedByExecution(executionUUID string) (*[]domain.StateExecutionInstance, error) {
	return r.findByExecutionWhere(executionUUID, ` AND status = 'PAUSED'`)
}
