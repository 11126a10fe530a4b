package models

// ExecutionEvent is handed to the advisor hook before the engine applies a
// status transition for an instance.
type ExecutionEvent struct {
	ExecutionUUID string
	InstanceUUID  string
	StateName     string
	DisplayName   string
	Status        ExecutionStatus
}

// AdviceType is an advisor override applied instead of the natural transition.
type AdviceType string

const (
	AdviceMarkSuccess AdviceType = "MARK_SUCCESS"
	AdviceMarkFailed  AdviceType = "MARK_FAILED"
	AdviceAbort       AdviceType = "ABORT"
)

// ExecutionAdvice is returned by an advisor; a nil advice keeps the natural
// transition.
type ExecutionAdvice struct {
	Type    AdviceType
	Message string
}
