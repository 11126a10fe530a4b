package machine

import "github.com/statorhq/stator/pkg/stator/models"

// Validate runs the structural rules in a fixed order so error reporting is
// deterministic. Each rule scans the whole graph before failing, so the
// returned GraphError lists every offending name. Validate is a pure check:
// it is idempotent and never mutates the graph beyond rebuilding the caches.
func (m *StateMachine) Validate() error {
	m.ClearCache()
	m.buildCache()

	// rule 1: no two states share a name
	seen := make(map[string]bool, len(m.States))
	dup := make(map[string]bool)
	for _, s := range m.States {
		if seen[s.Name] {
			dup[s.Name] = true
		}
		seen[s.Name] = true
	}
	if len(dup) > 0 {
		return newGraphError(ErrDuplicateStateNames, dup)
	}

	// rule 2: every transition type is set
	untyped := make(map[string]bool)
	for _, t := range m.Transitions {
		if t.Type == "" {
			untyped[t.From+" -> "+t.To] = true
		}
	}
	if len(untyped) > 0 {
		return newGraphError(ErrTransitionTypeNull, untyped)
	}

	// rule 3: no dangling edges
	dangling := make(map[string]bool)
	for _, t := range m.Transitions {
		if m.statesByName[t.From] == nil {
			dangling[t.From] = true
		}
		if m.statesByName[t.To] == nil {
			dangling[t.To] = true
		}
	}
	if len(dangling) > 0 {
		return newGraphError(ErrTransitionNotLinked, dangling)
	}

	// rule 4: every non-initial state is reachable by at least one edge
	targeted := make(map[string]bool, len(m.Transitions))
	for _, t := range m.Transitions {
		targeted[t.To] = true
	}
	unreached := make(map[string]bool)
	for _, s := range m.States {
		if s.Name != m.InitialStateName && !targeted[s.Name] {
			unreached[s.Name] = true
		}
	}
	if len(unreached) > 0 {
		return newGraphError(ErrTransitionToIncorrectState, unreached)
	}

	// rule 5: no duplicate edges between the same ordered pair of states
	edges := make(map[string]bool, len(m.Transitions))
	dupStates := make(map[string]bool)
	for _, t := range m.Transitions {
		key := t.From + "\x00" + t.To + "\x00" + string(t.Type)
		if edges[key] {
			dupStates[t.From] = true
			dupStates[t.To] = true
		}
		edges[key] = true
	}
	if len(dupStates) > 0 {
		return newGraphError(ErrStatesWithDupTransitions, dupStates)
	}

	// rule 6: FORK edges may only leave fork aggregators, REPEAT edges may
	// only leave repeat aggregators
	nonFork := make(map[string]bool)
	nonRepeat := make(map[string]bool)
	for _, t := range m.Transitions {
		from := m.statesByName[t.From]
		if t.Type == models.TransitionFork && !from.IsFork() {
			nonFork[from.Name] = true
		}
		if t.Type == models.TransitionRepeat && !from.IsRepeat() {
			nonRepeat[from.Name] = true
		}
	}
	if len(nonFork) > 0 {
		return newGraphError(ErrNonForkStates, nonFork)
	}
	if len(nonRepeat) > 0 {
		return newGraphError(ErrNonRepeatStates, nonRepeat)
	}

	return nil
}
