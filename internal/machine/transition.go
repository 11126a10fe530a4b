package machine

import "github.com/statorhq/stator/pkg/stator/models"

// Transition is a typed directed edge between two named states.
type Transition struct {
	From string                `json:"from"`
	To   string                `json:"to"`
	Type models.TransitionType `json:"type"`
}
