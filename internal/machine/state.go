package machine

import "github.com/statorhq/stator/pkg/stator/models"

// Built-in aggregator state types. All other state types resolve to user
// steps through the step registry.
const (
	StateTypeFork   = "FORK"
	StateTypeRepeat = "REPEAT"
)

// State is one named step in the workflow graph. Immutable once the graph
// has been validated, except for the expander's rewrite phase.
type State struct {
	Name string `json:"name"`
	Type string `json:"type"`

	// RequiredElementType declares that this state needs an element of the
	// given type bound in its execution context before it can run. The
	// expander wraps unsatisfied states in a synthetic repeat state.
	RequiredElementType models.ContextElementType `json:"requiredElementType,omitempty"`

	// Repeat aggregator attributes.
	RepeatElementType         models.ContextElementType `json:"repeatElementType,omitempty"`
	RepeatElementExpression   string                    `json:"repeatElementExpression,omitempty"`
	RepeatStrategy            models.RepeatStrategy     `json:"repeatStrategy,omitempty"`
	RepeatTransitionStateName string                    `json:"repeatTransitionStateName,omitempty"`
}

func (s *State) IsFork() bool   { return s.Type == StateTypeFork }
func (s *State) IsRepeat() bool { return s.Type == StateTypeRepeat }
