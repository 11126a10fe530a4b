package machine

import (
	"fmt"
	"sort"
	"strings"
)

// ErrorCode is a stable machine-readable graph validation error code.
type ErrorCode string

const (
	ErrDuplicateStateNames        ErrorCode = "DUPLICATE_STATE_NAMES"
	ErrTransitionTypeNull         ErrorCode = "TRANSITION_TYPE_NULL"
	ErrTransitionNotLinked        ErrorCode = "TRANSITION_NOT_LINKED"
	ErrTransitionToIncorrectState ErrorCode = "TRANSITION_TO_INCORRECT_STATE"
	ErrStatesWithDupTransitions   ErrorCode = "STATES_WITH_DUP_TRANSITIONS"
	ErrNonForkStates              ErrorCode = "NON_FORK_STATES"
	ErrNonRepeatStates            ErrorCode = "NON_REPEAT_STATES"
)

// GraphError reports one violated validation rule together with every
// offending state or edge name, not just the first.
type GraphError struct {
	Code  ErrorCode
	Names []string
}

func (e *GraphError) Error() string {
	if len(e.Names) == 0 {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, strings.Join(e.Names, ", "))
}

func newGraphError(code ErrorCode, names map[string]bool) *GraphError {
	list := make([]string, 0, len(names))
	for n := range names {
		list = append(list, n)
	}
	sort.Strings(list)
	return &GraphError{Code: code, Names: list}
}
