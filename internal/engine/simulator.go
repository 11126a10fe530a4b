package engine

import (
	"strings"

	"github.com/statorhq/stator/internal/machine"
	"github.com/statorhq/stator/pkg/stator/domain"
	"github.com/statorhq/stator/pkg/stator/models"
)

// CountsByStatuses is the predicted status breakdown of one execution.
type CountsByStatuses struct {
	Success    int
	Failed     int
	InProgress int
	Queued     int
	Skipped    int
}

// ElementSampler answers how many and which elements a repeat state would
// iterate over at a given element path, so the simulator can traverse
// sub-walks that have not been spawned yet.
type ElementSampler func(stateName string, elementPath []string) []string

// ProgressSimulator predicts how an execution will unfold by pure traversal
// of the expanded graph. Recorded instance statuses always count under their
// recorded status; elements without a recorded instance count as queued, or
// as skipped when they sit behind a failure that stops their walk (a failed
// predecessor state, or an earlier failed element of a SERIAL repeat).
// Fork and repeat aggregators coordinate, they are not themselves counted.
type ProgressSimulator struct {
	graph    *machine.StateMachine
	recorded map[string]models.ExecutionStatus
	sampler  ElementSampler
}

func NewProgressSimulator(graph *machine.StateMachine, recorded map[string]models.ExecutionStatus, sampler ElementSampler) *ProgressSimulator {
	return &ProgressSimulator{graph: graph, recorded: recorded, sampler: sampler}
}

// GetStatusBreakdown traverses the graph from the initial state and counts
// every non-aggregator state the execution would touch.
func (s *ProgressSimulator) GetStatusBreakdown() CountsByStatuses {
	var c CountsByStatuses
	if initial := s.graph.InitialState(); initial != nil {
		s.walk(initial, nil, false, &c)
	}
	return c
}

// walk simulates one walk segment starting at st. It reports whether the
// segment hit a failure that prevents downstream states from running.
func (s *ProgressSimulator) walk(st *machine.State, path []string, skipped bool, c *CountsByStatuses) bool {
	failed := false
	switch {
	case st.IsRepeat():
		failed = s.walkRepeat(st, path, skipped, c)
	case st.IsFork():
		for _, branch := range s.graph.NextStates(st.Name, models.TransitionFork) {
			if s.walk(branch, path, skipped, c) {
				failed = true
			}
		}
	default:
		status, ok := s.recorded[displayPath(st.Name, path)]
		switch {
		case !ok:
			if skipped {
				c.Skipped++
			} else {
				c.Queued++
			}
		case status == models.StatusSuccess:
			c.Success++
		case status == models.StatusFailed || status == models.StatusAborted:
			c.Failed++
			failed = true
		case status == models.StatusQueued || status == models.StatusNew:
			c.Queued++
		default:
			// RUNNING, PAUSED, RETRYING
			c.InProgress++
		}
	}

	if next := s.graph.NextState(st.Name, models.TransitionSuccess); next != nil {
		if s.walk(next, path, skipped || failed, c) {
			failed = true
		}
	}
	return failed
}

func (s *ProgressSimulator) walkRepeat(st *machine.State, path []string, skipped bool, c *CountsByStatuses) bool {
	target := s.graph.State(st.RepeatTransitionStateName)
	if target == nil {
		target = s.graph.NextState(st.Name, models.TransitionRepeat)
	}
	if target == nil || s.sampler == nil {
		return false
	}

	failed := false
	elemSkipped := skipped
	for _, elem := range s.sampler(st.Name, path) {
		elemPath := append(path[:len(path):len(path)], elem)
		if s.walk(target, elemPath, elemSkipped, c) {
			failed = true
			if st.RepeatStrategy == models.RepeatSerial {
				elemSkipped = true
			}
		}
	}
	return failed
}

func displayPath(stateName string, path []string) string {
	if len(path) == 0 {
		return stateName
	}
	return stateName + ":" + strings.Join(path, ":")
}

// RecordedStatuses folds persisted instances into the display-name keyed
// status map the simulator consumes. Within a retry chain the fresh instance
// wins over the RETRYING record it replaced.
func RecordedStatuses(instances []domain.StateExecutionInstance) map[string]models.ExecutionStatus {
	out := make(map[string]models.ExecutionStatus, len(instances))
	for _, inst := range instances {
		status := models.ExecutionStatus(inst.Status)
		if status == models.StatusRetrying {
			if _, ok := out[inst.DisplayName]; !ok {
				out[inst.DisplayName] = status
			}
			continue
		}
		out[inst.DisplayName] = status
	}
	return out
}

// SamplerFromInstances derives an element sampler from the child instances a
// repeat state has already spawned. For executions in flight the recorded
// children are exactly the elements that were resolved.
func SamplerFromInstances(instances []domain.StateExecutionInstance) ElementSampler {
	byUUID := make(map[string]*domain.StateExecutionInstance, len(instances))
	for i := range instances {
		byUUID[instances[i].UUID] = &instances[i]
	}
	elems := make(map[string][]string)
	seen := make(map[string]map[string]bool)
	for i := range instances {
		inst := &instances[i]
		if !inst.ParentInstanceID.Valid {
			continue
		}
		elem := decodeElement(inst.ContextElement)
		if elem == nil {
			continue
		}
		parent := byUUID[inst.ParentInstanceID.String]
		if parent == nil || parent.StateType != machine.StateTypeRepeat {
			continue
		}
		key := parent.DisplayName
		if seen[key] == nil {
			seen[key] = make(map[string]bool)
		}
		if seen[key][elem.Name] {
			continue
		}
		seen[key][elem.Name] = true
		elems[key] = append(elems[key], elem.Name)
	}
	return func(stateName string, elementPath []string) []string {
		return elems[displayPath(stateName, elementPath)]
	}
}
