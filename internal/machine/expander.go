package machine

import (
	"fmt"

	"github.com/statorhq/stator/pkg/stator/models"
)

// DefaultRepeatExpressions maps an element type to the expression a
// synthetic repeat state evaluates for it.
var DefaultRepeatExpressions = map[models.ContextElementType]string{
	models.ElementTypeService:   "${services}",
	models.ElementTypeInstance:  "${instances}",
	models.ElementTypeHost:      "${hosts}",
	models.ElementTypePartition: "${partitions}",
}

// ExpandRepeats rewrites the graph so that every state whose
// RequiredElementType is not bound by an ancestor repeat on every path
// leading to it gets wrapped in a synthetic PARALLEL repeat state named
// "Repeat <state>". All incoming edges are redirected to the repeat state
// and a single REPEAT edge links it to the wrapped state, so converging
// paths share one synthetic node. States whose requirement is already
// satisfied upstream are left untouched, which makes the expansion
// idempotent.
//
// The edge set changes, so the derived caches are invalidated and the
// validator re-run before returning.
func ExpandRepeats(m *StateMachine) error {
	bound := m.boundElementTypes()

	// snapshot: the loop appends synthetic states to m.States
	pending := make([]*State, 0)
	for _, s := range m.States {
		if s.RequiredElementType == "" || s.IsRepeat() || s.IsFork() {
			continue
		}
		if bound[s.Name][s.RequiredElementType] {
			continue
		}
		pending = append(pending, s)
	}

	for _, s := range pending {
		if err := m.wrapWithRepeat(s); err != nil {
			return err
		}
	}

	m.ClearCache()
	return m.Validate()
}

// boundElementTypes computes, per state, the element types bound on every
// path from the initial state to it. A repeat state binds its element type
// only along its REPEAT edge; its SUCCESS edge continues after the loop has
// joined, outside the element scope. Cycles are handled by iterating to a
// fixpoint; the sets only ever shrink through intersection, so the loop
// terminates.
func (m *StateMachine) boundElementTypes() map[string]map[models.ContextElementType]bool {
	if m.statesByName == nil {
		m.buildCache()
	}

	sets := map[string]map[models.ContextElementType]bool{
		m.InitialStateName: {},
	}

	for changed := true; changed; {
		changed = false
		for _, t := range m.Transitions {
			fromSet, ok := sets[t.From]
			if !ok {
				continue
			}
			contrib := make(map[models.ContextElementType]bool, len(fromSet)+1)
			for e := range fromSet {
				contrib[e] = true
			}
			if from := m.statesByName[t.From]; from != nil {
				if t.Type == models.TransitionRepeat && from.RepeatElementType != "" {
					contrib[from.RepeatElementType] = true
				}
				// a state that requires an element has it bound by the time
				// it runs (ancestor or its own synthetic wrapper), and its
				// successors inherit the binding
				if from.RequiredElementType != "" {
					contrib[from.RequiredElementType] = true
				}
			}
			current, ok := sets[t.To]
			if !ok {
				sets[t.To] = contrib
				changed = true
				continue
			}
			for e := range current {
				if !contrib[e] {
					delete(current, e)
					changed = true
				}
			}
		}
	}
	return sets
}

func (m *StateMachine) wrapWithRepeat(s *State) error {
	name := "Repeat " + s.Name
	if existing := m.State(name); existing != nil {
		return fmt.Errorf("cannot expand %q: state %q already exists", s.Name, name)
	}

	rs := &State{
		Name:                      name,
		Type:                      StateTypeRepeat,
		RepeatElementType:         s.RequiredElementType,
		RepeatElementExpression:   DefaultRepeatExpressions[s.RequiredElementType],
		RepeatStrategy:            models.RepeatParallel,
		RepeatTransitionStateName: s.Name,
	}

	// redirect every incoming edge to the repeat state; existing REPEAT
	// edges are left alone, an upstream repeat already covers those paths
	for _, t := range m.Transitions {
		if t.To == s.Name && t.Type != models.TransitionRepeat {
			t.To = name
		}
	}
	if m.InitialStateName == s.Name {
		m.InitialStateName = name
	}

	m.AddState(rs)
	m.AddTransition(name, s.Name, models.TransitionRepeat)
	return nil
}
