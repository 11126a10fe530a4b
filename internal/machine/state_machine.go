package machine

import (
	"encoding/json"
	"fmt"

	"github.com/statorhq/stator/pkg/stator/models"
)

// StateMachine is the workflow graph: named states, typed edges and an
// initial state. After Validate (and ExpandRepeats, when used) the graph and
// its derived next-state index are treated as immutable and may be shared
// across concurrent walks.
type StateMachine struct {
	MachineID        string        `json:"machineId,omitempty"`
	Name             string        `json:"name"`
	InitialStateName string        `json:"initialStateName"`
	States           []*State      `json:"states"`
	Transitions      []*Transition `json:"transitions"`

	// Derived indexes, rebuilt by ClearCache/buildCache. Not serialized.
	statesByName map[string]*State
	flow         map[string]map[models.TransitionType][]*State
}

func New(name, initialStateName string) *StateMachine {
	return &StateMachine{Name: name, InitialStateName: initialStateName}
}

// Parse decodes a persisted graph and rebuilds its indexes.
func Parse(data []byte) (*StateMachine, error) {
	var m StateMachine
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse state machine: %w", err)
	}
	m.buildCache()
	return &m, nil
}

// Marshal encodes the graph for persistence.
func (m *StateMachine) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// AddState appends a state and returns it for chaining.
func (m *StateMachine) AddState(s *State) *State {
	m.States = append(m.States, s)
	m.ClearCache()
	return s
}

// AddTransition appends a typed edge.
func (m *StateMachine) AddTransition(from, to string, t models.TransitionType) {
	m.Transitions = append(m.Transitions, &Transition{From: from, To: to, Type: t})
	m.ClearCache()
}

// State returns the state with the given name, or nil.
func (m *StateMachine) State(name string) *State {
	if m.statesByName == nil {
		m.buildCache()
	}
	return m.statesByName[name]
}

// InitialState returns the graph's entry state.
func (m *StateMachine) InitialState() *State {
	return m.State(m.InitialStateName)
}

// NextStates returns the targets of every edge of the given type leaving
// from, in insertion order.
func (m *StateMachine) NextStates(from string, t models.TransitionType) []*State {
	if m.flow == nil {
		m.buildCache()
	}
	byType := m.flow[from]
	if byType == nil {
		return nil
	}
	return byType[t]
}

// NextState returns the first edge target of the given type, or nil.
func (m *StateMachine) NextState(from string, t models.TransitionType) *State {
	next := m.NextStates(from, t)
	if len(next) == 0 {
		return nil
	}
	return next[0]
}

// ClearCache drops the derived indexes. Must be called after any graph
// rewrite; the next lookup rebuilds them.
func (m *StateMachine) ClearCache() {
	m.statesByName = nil
	m.flow = nil
}

func (m *StateMachine) buildCache() {
	m.statesByName = make(map[string]*State, len(m.States))
	for _, s := range m.States {
		// first writer wins so duplicate names are still detectable by the
		// validator while lookups stay deterministic
		if _, ok := m.statesByName[s.Name]; !ok {
			m.statesByName[s.Name] = s
		}
	}
	m.flow = make(map[string]map[models.TransitionType][]*State)
	for _, t := range m.Transitions {
		to, ok := m.statesByName[t.To]
		if !ok {
			continue
		}
		byType := m.flow[t.From]
		if byType == nil {
			byType = make(map[models.TransitionType][]*State)
			m.flow[t.From] = byType
		}
		byType[t.Type] = append(byType[t.Type], to)
	}
}
