package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statorhq/stator/pkg/stator/models"
)

func linearMachine() *StateMachine {
	m := New("deploy", "Start")
	m.AddState(&State{Name: "Start", Type: "NOOP"})
	m.AddState(&State{Name: "Deploy", Type: "DEPLOY"})
	m.AddState(&State{Name: "Done", Type: "NOOP"})
	m.AddTransition("Start", "Deploy", models.TransitionSuccess)
	m.AddTransition("Deploy", "Done", models.TransitionSuccess)
	return m
}

func requireGraphError(t *testing.T, err error, code ErrorCode) *GraphError {
	t.Helper()
	require.Error(t, err)
	ge, ok := err.(*GraphError)
	require.True(t, ok, "expected *GraphError, got %T", err)
	require.Equal(t, code, ge.Code)
	return ge
}

func TestValidateAcceptsLinearGraph(t *testing.T) {
	require.NoError(t, linearMachine().Validate())
}

func TestValidateDuplicateStateNames(t *testing.T) {
	m := linearMachine()
	m.AddState(&State{Name: "Deploy", Type: "DEPLOY"})
	m.AddState(&State{Name: "Done", Type: "NOOP"})

	ge := requireGraphError(t, m.Validate(), ErrDuplicateStateNames)
	assert.Equal(t, []string{"Deploy", "Done"}, ge.Names)
}

func TestValidateTransitionTypeNull(t *testing.T) {
	m := linearMachine()
	m.AddTransition("Done", "Start", "")

	ge := requireGraphError(t, m.Validate(), ErrTransitionTypeNull)
	assert.Equal(t, []string{"Done -> Start"}, ge.Names)
}

func TestValidateTransitionNotLinked(t *testing.T) {
	m := linearMachine()
	m.AddTransition("Deploy", "Ghost", models.TransitionFailure)

	ge := requireGraphError(t, m.Validate(), ErrTransitionNotLinked)
	assert.Equal(t, []string{"Ghost"}, ge.Names)
}

func TestValidateUnreachableState(t *testing.T) {
	m := linearMachine()
	m.AddState(&State{Name: "Orphan", Type: "NOOP"})

	ge := requireGraphError(t, m.Validate(), ErrTransitionToIncorrectState)
	assert.Equal(t, []string{"Orphan"}, ge.Names)
}

func TestValidateDuplicateTransitions(t *testing.T) {
	m := linearMachine()
	m.AddTransition("Start", "Deploy", models.TransitionSuccess)

	ge := requireGraphError(t, m.Validate(), ErrStatesWithDupTransitions)
	assert.Equal(t, []string{"Deploy", "Start"}, ge.Names)
}

func TestValidateForkEdgeOnlyFromForkState(t *testing.T) {
	m := linearMachine()
	m.AddState(&State{Name: "Branch", Type: "NOOP"})
	m.AddTransition("Deploy", "Branch", models.TransitionFork)

	ge := requireGraphError(t, m.Validate(), ErrNonForkStates)
	assert.Equal(t, []string{"Deploy"}, ge.Names)
}

func TestValidateRepeatEdgeOnlyFromRepeatState(t *testing.T) {
	m := linearMachine()
	m.AddState(&State{Name: "Each", Type: "NOOP"})
	m.AddTransition("Deploy", "Each", models.TransitionRepeat)

	ge := requireGraphError(t, m.Validate(), ErrNonRepeatStates)
	assert.Equal(t, []string{"Deploy"}, ge.Names)
}

func TestValidateIsDeterministicAndRepeatable(t *testing.T) {
	// violates both rule 1 and rule 3; rule 1 must win every time
	m := linearMachine()
	m.AddState(&State{Name: "Deploy", Type: "DEPLOY"})
	m.AddTransition("Deploy", "Ghost", models.TransitionFailure)

	first := requireGraphError(t, m.Validate(), ErrDuplicateStateNames)
	second := requireGraphError(t, m.Validate(), ErrDuplicateStateNames)
	assert.Equal(t, first.Names, second.Names)
}

func TestValidateDoesNotMutateGraph(t *testing.T) {
	m := linearMachine()
	states, transitions := len(m.States), len(m.Transitions)
	require.NoError(t, m.Validate())
	require.NoError(t, m.Validate())
	assert.Equal(t, states, len(m.States))
	assert.Equal(t, transitions, len(m.Transitions))
}
