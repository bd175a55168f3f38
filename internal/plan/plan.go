// Package plan holds the project task graph produced by the planner and the
// pure functions the scheduler uses to walk it.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrCycle is returned when node dependencies form a cycle.
	ErrCycle = errors.New("plan: dependency cycle")
	// ErrUnknownNode is returned when an id is not a node of the plan.
	ErrUnknownNode = errors.New("plan: unknown node")
)

// Phase is a coarse progress label derived from the completion ratio.
type Phase string

const (
	PhasePlanning     Phase = "planning"
	PhaseDevelopment  Phase = "development"
	PhaseIntegration  Phase = "integration"
	PhaseFinalization Phase = "finalization"
	PhaseCompleted    Phase = "completed"
)

// Rank orders phases; later phases rank higher.
func (p Phase) Rank() int {
	switch p {
	case PhasePlanning:
		return 0
	case PhaseDevelopment:
		return 1
	case PhaseIntegration:
		return 2
	case PhaseFinalization:
		return 3
	case PhaseCompleted:
		return 4
	default:
		return -1
	}
}

// PhaseFor maps a completion ratio to a phase.
func PhaseFor(ratio float64) Phase {
	switch {
	case ratio >= 1.0:
		return PhaseCompleted
	case ratio >= 0.8:
		return PhaseFinalization
	case ratio >= 0.5:
		return PhaseIntegration
	default:
		return PhaseDevelopment
	}
}

// Node is one unit of work in the graph.
type Node struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Deliverable     string   `json:"deliverable"`
	Domain          string   `json:"domain"`
	Priority        int      `json:"priority"`
	Dependencies    []string `json:"dependencies"`
	EstimatedEffort string   `json:"estimated_effort"`
}

// ExecutionMetadata is the scheduler-owned part of the plan.
type ExecutionMetadata struct {
	CompletedNodeIDs []string `json:"completed_node_ids"`
	CurrentPhase     Phase    `json:"current_phase"`
}

// Plan is the graph produced for one objective.
type Plan struct {
	Objective       string            `json:"objective"`
	ComplexityScore int               `json:"complexity_score"`
	ComplexityLevel string            `json:"complexity_level,omitempty"`
	DomainSummary   string            `json:"domain_summary,omitempty"`
	Nodes           []Node            `json:"task_nodes"`
	Execution       ExecutionMetadata `json:"execution_metadata"`
	Fallback        bool              `json:"fallback,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// Node returns the node with the given id.
func (p *Plan) Node(id string) (Node, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func (p *Plan) completedSet() map[string]bool {
	done := make(map[string]bool, len(p.Execution.CompletedNodeIDs))
	for _, id := range p.Execution.CompletedNodeIDs {
		done[id] = true
	}
	return done
}

// IsCompleted reports whether a node id is in the completed set.
func (p *Plan) IsCompleted(id string) bool {
	for _, c := range p.Execution.CompletedNodeIDs {
		if c == id {
			return true
		}
	}
	return false
}

// Ratio returns |completed| / |nodes|, or 0 for an empty plan.
func (p *Plan) Ratio() float64 {
	if len(p.Nodes) == 0 {
		return 0
	}
	return float64(len(p.Execution.CompletedNodeIDs)) / float64(len(p.Nodes))
}

// MarkCompleted adds id to the completed set and recomputes the phase.
// Marking an already completed node is a no-op.
func (p *Plan) MarkCompleted(id string) error {
	if _, ok := p.Node(id); !ok {
		return fmt.Errorf("mark %q: %w", id, ErrUnknownNode)
	}
	if !p.IsCompleted(id) {
		p.Execution.CompletedNodeIDs = append(p.Execution.CompletedNodeIDs, id)
	}
	if next := PhaseFor(p.Ratio()); next.Rank() > p.Execution.CurrentPhase.Rank() {
		p.Execution.CurrentPhase = next
	}
	return nil
}

// IsComplete reports whether every node has completed.
func IsComplete(p *Plan) bool {
	done := p.completedSet()
	for _, n := range p.Nodes {
		if !done[n.ID] {
			return false
		}
	}
	return true
}

// ReadyNodes returns nodes that are not completed and whose dependencies
// have all completed, highest priority first. Ties keep graph order.
// max <= 0 returns all ready nodes.
func ReadyNodes(p *Plan, max int) []Node {
	done := p.completedSet()
	var ready []Node
	for _, n := range p.Nodes {
		if done[n.ID] {
			continue
		}
		depsMet := true
		for _, dep := range n.Dependencies {
			if !done[dep] {
				depsMet = false
				break
			}
		}
		if depsMet {
			ready = append(ready, n)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		return ready[i].Priority > ready[j].Priority
	})
	if max > 0 && len(ready) > max {
		ready = ready[:max]
	}
	return ready
}

// CheckAcyclic returns ErrCycle if the dependencies among nodes form a
// cycle. Dependencies on ids outside nodes are ignored.
func CheckAcyclic(nodes []Node) error {
	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		ids[n.ID] = true
	}

	inDegree := make(map[string]int, len(nodes))
	children := make(map[string][]string)
	for _, n := range nodes {
		if _, ok := inDegree[n.ID]; !ok {
			inDegree[n.ID] = 0
		}
		for _, dep := range n.Dependencies {
			if !ids[dep] {
				continue
			}
			children[dep] = append(children[dep], n.ID)
			inDegree[n.ID]++
		}
	}

	// Kahn's algorithm.
	var queue []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, child := range children[node] {
			inDegree[child]--
			if inDegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if visited < len(inDegree) {
		return fmt.Errorf("%d of %d nodes unreachable: %w", len(inDegree)-visited, len(inDegree), ErrCycle)
	}
	return nil
}
