// Package progress computes completion and phase for a project.
//
// Evaluate is a pure function of its inputs; it may be called as often as
// needed without touching the schedule.
package progress

import (
	"fmt"

	"github.com/overhuman/foreman/internal/plan"
	"github.com/overhuman/foreman/internal/storage"
)

// Status is the evaluator's verdict.
type Status string

const (
	StatusInProgress         Status = "in_progress"
	StatusReadyForValidation Status = "ready_for_validation"
	StatusNoWork             Status = "no_work"
)

// Evaluation is a snapshot of project progress.
type Evaluation struct {
	Status               Status     `json:"status"`
	CompletionPercentage float64    `json:"completion_percentage"`
	Phase                plan.Phase `json:"phase"`
	Completed            int        `json:"completed"`
	Total                int        `json:"total"`
	// PlanMode is false when the evaluation used raw task counts.
	PlanMode    bool     `json:"plan_mode"`
	NextActions []string `json:"next_actions"`
}

// Evaluate reports progress from the plan when one is attached, otherwise
// from task counts: completed / (pending + in_progress + completed + failed).
func Evaluate(p *plan.Plan, counts storage.StatusCounts) Evaluation {
	var ev Evaluation
	if p != nil && len(p.Nodes) > 0 {
		ev.PlanMode = true
		ev.Total = len(p.Nodes)
		for _, n := range p.Nodes {
			if p.IsCompleted(n.ID) {
				ev.Completed++
			}
		}
	} else {
		ev.Total = counts.Total()
		ev.Completed = counts.Completed
	}

	if ev.Total == 0 {
		ev.Status = StatusNoWork
		ev.Phase = plan.PhasePlanning
		ev.NextActions = []string{"create a plan or add tasks"}
		return ev
	}

	ratio := float64(ev.Completed) / float64(ev.Total)
	ev.CompletionPercentage = float64(ev.Completed) * 100 / float64(ev.Total)
	ev.Phase = plan.PhaseFor(ratio)
	if ratio >= 1.0 {
		ev.Status = StatusReadyForValidation
		ev.NextActions = []string{"run final validation"}
		return ev
	}

	ev.Status = StatusInProgress
	ev.NextActions = nextActions(ev, counts)
	return ev
}

func nextActions(ev Evaluation, counts storage.StatusCounts) []string {
	var actions []string
	if counts.Pending > 0 {
		actions = append(actions, fmt.Sprintf("execute %d pending task(s)", counts.Pending))
	}
	if counts.Failed > 0 {
		actions = append(actions, fmt.Sprintf("review %d failed task(s)", counts.Failed))
	}
	switch ev.Phase {
	case plan.PhaseDevelopment:
		actions = append(actions, "build core components")
	case plan.PhaseIntegration:
		actions = append(actions, "integrate completed components")
	case plan.PhaseFinalization:
		actions = append(actions, "finish remaining tasks and polish")
	}
	return actions
}
