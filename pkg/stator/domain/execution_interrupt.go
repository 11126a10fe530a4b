package domain

import (
	"database/sql"
	"time"
)

// ExecutionInterrupt is one persisted operator command against an execution.
// Records are append-only: a superseded ALL-scoped interrupt is marked seized
// rather than deleted, preserving the audit trail.
type ExecutionInterrupt struct {
	ID                       int64
	UUID                     string
	ExecutionUUID            string
	StateExecutionInstanceID sql.NullString
	InterruptType            string
	Seized                   bool
	CreatedBy                string
	Created                  time.Time
}
