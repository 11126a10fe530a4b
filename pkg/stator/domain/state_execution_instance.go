package domain

import (
	"database/sql"
	"time"
)

// StateExecutionInstance is one persisted record of a single state's
// execution within one workflow execution. Instances are never deleted, a
// retry creates a new instance referencing the old one via PrevInstanceID.
type StateExecutionInstance struct {
	ID               int64
	UUID             string
	ExecutionUUID    string
	MachineID        string
	StateName        string
	DisplayName      string
	StateType        string
	ParentInstanceID sql.NullString
	PrevInstanceID   sql.NullString
	// NotifyID is the correlation ID fired when the walk this instance
	// belongs to reaches a terminal state with no further transitions.
	// Empty for the top-level walk, which ends in the terminal callback.
	NotifyID           sql.NullString
	Status             string
	ContextElement     sql.NullString // JSON models.ContextElement
	NotifyElements     sql.NullString // JSON []models.ContextElement
	StateExecutionData sql.NullString // JSON map[string]string
	Created            time.Time
	Modified           time.Time
	Started            sql.NullTime
	Ended              sql.NullTime
}
