package core

import (
	"github.com/statorhq/stator/pkg/stator/domain"
	"github.com/statorhq/stator/pkg/stator/models"
)

// ExecutionContext is handed to a step for one state execution instance. The
// instance record is owned by exactly one walk at a time; steps must not
// share a context across goroutines.
type ExecutionContext struct {
	AppID         string
	EnvID         string
	MachineID     string
	ExecutionUUID string
	Instance      *domain.StateExecutionInstance
	Params        map[string]string
	// Elements is the chain of context elements bound by ancestor repeat
	// states, outermost first, including this instance's own element.
	Elements []models.ContextElement
	Notifier AsyncNotifier

	stateData map[string]string
}

// Param returns the execution parameter for key, or "".
func (c *ExecutionContext) Param(key string) string {
	return c.Params[key]
}

// ContextElement returns the innermost bound element of the given type, or
// nil if none is bound.
func (c *ExecutionContext) ContextElement(t models.ContextElementType) *models.ContextElement {
	for i := len(c.Elements) - 1; i >= 0; i-- {
		if c.Elements[i].Type == t {
			return &c.Elements[i]
		}
	}
	return nil
}

// SetStateData records a key/value pair onto the instance's accumulated
// state execution data when the step completes.
func (c *ExecutionContext) SetStateData(key, value string) {
	if c.stateData == nil {
		c.stateData = make(map[string]string)
	}
	c.stateData[key] = value
}

// StateData returns the data accumulated through SetStateData.
func (c *ExecutionContext) StateData() map[string]string {
	return c.stateData
}
