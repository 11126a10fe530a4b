package models

import "time"

// ExecutionApiResponse represents one execution in API responses.
type ExecutionApiResponse struct {
	UUID          string            `json:"uuid"`
	AppID         string            `json:"appId"`
	EnvID         string            `json:"envId"`
	MachineID     string            `json:"machineId"`
	Status        string            `json:"status"`
	ExecutorGroup string            `json:"executorGroup"`
	ExternalID    string            `json:"externalId,omitempty"`
	BusinessKey   string            `json:"businessKey,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	Created       time.Time         `json:"created"`
	Modified      time.Time         `json:"modified"`
	Started       *time.Time        `json:"started,omitempty"`
}

// InstanceApiResponse represents one state execution instance in API
// responses.
type InstanceApiResponse struct {
	UUID               string            `json:"uuid"`
	ExecutionUUID      string            `json:"executionUuid"`
	StateName          string            `json:"stateName"`
	DisplayName        string            `json:"displayName"`
	StateType          string            `json:"stateType"`
	ParentInstanceID   string            `json:"parentInstanceId,omitempty"`
	PrevInstanceID     string            `json:"prevInstanceId,omitempty"`
	Status             string            `json:"status"`
	ContextElement     *ContextElement   `json:"contextElement,omitempty"`
	NotifyElements     []ContextElement  `json:"notifyElements,omitempty"`
	StateExecutionData map[string]string `json:"stateExecutionData,omitempty"`
	Created            time.Time         `json:"created"`
	Modified           time.Time         `json:"modified"`
	Started            *time.Time        `json:"started,omitempty"`
	Ended              *time.Time        `json:"ended,omitempty"`
}
