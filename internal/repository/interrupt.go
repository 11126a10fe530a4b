package repository

import (
	"database/sql"
	"strings"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
)

// InterruptRepository provides persistence for the execution_interrupts
// table. Rows are never deleted; superseded interrupts are marked seized.
type InterruptRepository struct {
	db    *sql.DB
	clock core.Clock
}

const INTERRUPT_COLUMNS = ` id, uuid, execution_uuid, state_execution_instance_id,
		       interrupt_type, seized, created_by, created `

func NewInterruptRepository(db *sql.DB, clock core.Clock) *InterruptRepository {
	return &InterruptRepository{db: db, clock: clock}
}

func scanInterrupt(scan func(dest ...any) error) (*domain.ExecutionInterrupt, error) {
	var in domain.ExecutionInterrupt
	err := scan(
		&in.ID,
		&in.UUID,
		&in.ExecutionUUID,
		&in.StateExecutionInstanceID,
		&in.InterruptType,
		&in.Seized,
		&in.CreatedBy,
		&in.Created,
	)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (r *InterruptRepository) Save(in *domain.ExecutionInterrupt) (int64, error) {
	if in.Created.IsZero() {
		in.Created = r.clock.Now()
	}
	vals := []interface{}{in.UUID, in.ExecutionUUID, in.StateExecutionInstanceID,
		in.InterruptType, in.Seized, in.CreatedBy, formatDateInDatabase(in.Created)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO execution_interrupts (
		uuid, execution_uuid, state_execution_instance_id,
		interrupt_type, seized, created_by, created
	) VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&in.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				in.ID = id
			}
		}
	}
	return in.ID, err
}

func (r *InterruptRepository) FindByExecution(executionUUID string) (*[]domain.ExecutionInterrupt, error) {
	query := `
		SELECT ` + INTERRUPT_COLUMNS + `
		FROM execution_interrupts
		WHERE execution_uuid = ` + placeholder(1) + `
		ORDER BY created ASC, id ASC
	`
	rows, err := r.db.Query(query, executionUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	interrupts := []domain.ExecutionInterrupt{}
	for rows.Next() {
		in, err := scanInterrupt(rows.Scan)
		if err != nil {
			return nil, err
		}
		interrupts = append(interrupts, *in)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &interrupts, nil
}

// FindOpenAllScoped returns the unseized interrupt of the given ALL-scoped
// type for the execution, or nil.
func (r *InterruptRepository) FindOpenAllScoped(executionUUID string, interruptType string) (*domain.ExecutionInterrupt, error) {
	query := `
		SELECT ` + INTERRUPT_COLUMNS + `
		FROM execution_interrupts
		WHERE execution_uuid = ` + placeholder(1) + `
		  AND interrupt_type = ` + placeholder(2) + `
		  AND seized = ` + boolLiteral(false) + `
		  AND state_execution_instance_id IS NULL
		ORDER BY created DESC
		LIMIT 1
	`
	in, err := scanInterrupt(func(dest ...any) error {
		return r.db.QueryRow(query, executionUUID, interruptType).Scan(dest...)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return in, err
}

// FindOpenByInstance returns the unseized interrupt of the given type
// targeting one instance, or nil.
func (r *InterruptRepository) FindOpenByInstance(instanceUUID string, interruptType string) (*domain.ExecutionInterrupt, error) {
	query := `
		SELECT ` + INTERRUPT_COLUMNS + `
		FROM execution_interrupts
		WHERE state_execution_instance_id = ` + placeholder(1) + `
		  AND interrupt_type = ` + placeholder(2) + `
		  AND seized = ` + boolLiteral(false) + `
		ORDER BY created DESC
		LIMIT 1
	`
	in, err := scanInterrupt(func(dest ...any) error {
		return r.db.QueryRow(query, instanceUUID, interruptType).Scan(dest...)
	})
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return in, err
}

func (r *InterruptRepository) MarkSeized(id int64) error {
	query := `
		UPDATE execution_interrupts
		SET seized = ` + boolLiteral(true) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

// SeizeAllScoped marks every open ALL-scoped interrupt of the given type as
// seized, preserving the rows for the audit trail.
func (r *InterruptRepository) SeizeAllScoped(executionUUID string, interruptType string) error {
	query := `
		UPDATE execution_interrupts
		SET seized = ` + boolLiteral(true) + `
		WHERE execution_uuid = ` + placeholder(1) + `
		  AND interrupt_type = ` + placeholder(2) + `
		  AND seized = ` + boolLiteral(false) + `
		  AND state_execution_instance_id IS NULL
	`
	_, err := r.db.Exec(query, executionUUID, interruptType)
	return err
}
