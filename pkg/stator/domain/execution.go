package domain

import (
	"database/sql"
	"time"
)

// Execution is one persisted top-level run of a state machine.
type Execution struct {
	ID            int64
	UUID          string
	AppID         string
	EnvID         string
	MachineID     string
	Status        string
	ExecutorGroup string
	ExternalID    string
	BusinessKey   string
	Params        sql.NullString // JSON map[string]string
	Created       time.Time
	Modified      time.Time
	Started       sql.NullTime
	ExecutorID    sql.NullString
}
