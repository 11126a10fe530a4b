package repository

import (
	"database/sql"
	"strings"

	"github.com/statorhq/stator/pkg/stator/core"
	"github.com/statorhq/stator/pkg/stator/domain"
)

// StateMachineRepository provides persistence for the state_machines table.
// The graph column holds the validated, repeat-expanded JSON form.
type StateMachineRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewStateMachineRepository(db *sql.DB, clock core.Clock) *StateMachineRepository {
	return &StateMachineRepository{db: db, clock: clock}
}

func (r *StateMachineRepository) Save(rec *domain.StateMachineRecord) (int64, error) {
	if rec.Created.IsZero() {
		rec.Created = r.clock.Now()
	}
	if rec.Updated.IsZero() {
		rec.Updated = rec.Created
	}
	vals := []interface{}{rec.MachineID, rec.Name, rec.Graph,
		formatDateInDatabase(rec.Created), formatDateInDatabase(rec.Updated)}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `INSERT INTO state_machines (machine_id, name, graph, created, updated)
		VALUES (` + strings.Join(pps, ", ") + `)`
	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&rec.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				rec.ID = id
			}
		}
	}
	return rec.ID, err
}

func (r *StateMachineRepository) UpdateGraph(machineID string, graph string) error {
	query := `
		UPDATE state_machines
		SET graph = ` + placeholder(1) + `, updated = ` + nowFunc(r.clock) + `
		WHERE machine_id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, graph, machineID)
	return err
}

func (r *StateMachineRepository) FindByMachineID(machineID string) (*domain.StateMachineRecord, error) {
	query := `
		SELECT id, machine_id, name, graph, created, updated
		FROM state_machines WHERE machine_id = ` + placeholder(1) + `
	`
	var rec domain.StateMachineRecord
	err := r.db.QueryRow(query, machineID).Scan(
		&rec.ID,
		&rec.MachineID,
		&rec.Name,
		&rec.Graph,
		&rec.Created,
		&rec.Updated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
