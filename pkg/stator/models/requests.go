package models

import "time"

// CreateExecutionRequest is the payload for starting a workflow execution.
type CreateExecutionRequest struct {
	AppID         string            `json:"appId"`
	EnvID         string            `json:"envId"`
	MachineID     string            `json:"machineId"`
	ExecutorGroup string            `json:"executorGroup"`
	ExternalID    string            `json:"externalId"`
	BusinessKey   string            `json:"businessKey"`
	Params        map[string]string `json:"params"`
}

// CreateExecutionResponse is returned on successful creation.
type CreateExecutionResponse struct {
	UUID string `json:"uuid"`
}

// RegisterInterruptRequest is the payload for registering an execution
// interrupt (pause/resume/retry/abort and the ALL-scoped variants).
type RegisterInterruptRequest struct {
	ExecutionUUID            string `json:"executionUuid"`
	StateExecutionInstanceID string `json:"stateExecutionInstanceId,omitempty"`
	InterruptType            string `json:"interruptType"`
	CreatedBy                string `json:"createdBy,omitempty"`
}

// InterruptApiResponse represents an interrupt record in API responses.
type InterruptApiResponse struct {
	UUID                     string    `json:"uuid"`
	ExecutionUUID            string    `json:"executionUuid"`
	StateExecutionInstanceID string    `json:"stateExecutionInstanceId,omitempty"`
	InterruptType            string    `json:"interruptType"`
	Seized                   bool      `json:"seized"`
	CreatedBy                string    `json:"createdBy,omitempty"`
	Created                  time.Time `json:"created"`
}

// NotifyRequest delivers an external asynchronous response for one
// correlation ID.
type NotifyRequest struct {
	Status       ExecutionStatus   `json:"status"`
	ErrorMessage string            `json:"errorMessage,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// StatusBreakdownResponse is the progress estimate for one execution.
type StatusBreakdownResponse struct {
	Success    int `json:"success"`
	Failed     int `json:"failed"`
	InProgress int `json:"inprogress"`
	Queued     int `json:"queued"`
	Skipped    int `json:"skipped"`
}

// ErrorResponse carries a stable machine-readable code plus a human-readable
// message for API failures.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// LoginRequest is the payload for the session login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned with the issued session ID.
type LoginResponse struct {
	SessionID string    `json:"sessionId"`
	Expiry    time.Time `json:"expiry"`
}
