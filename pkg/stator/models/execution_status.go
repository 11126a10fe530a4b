package models

// ExecutionStatus is the lifecycle status of an execution or of one
// state execution instance within it.
type ExecutionStatus string

const (
	StatusNew      ExecutionStatus = "NEW"
	StatusQueued   ExecutionStatus = "QUEUED"
	StatusRunning  ExecutionStatus = "RUNNING"
	StatusSuccess  ExecutionStatus = "SUCCESS"
	StatusFailed   ExecutionStatus = "FAILED"
	StatusPaused   ExecutionStatus = "PAUSED"
	StatusAborted  ExecutionStatus = "ABORTED"
	StatusRetrying ExecutionStatus = "RETRYING"
)

// IsFinal reports whether the status is terminal. A paused instance is not
// terminal, it is waiting for a resume interrupt.
func (s ExecutionStatus) IsFinal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusAborted
}
