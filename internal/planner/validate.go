package planner

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/overhuman/foreman/internal/plan"
)

// ErrEmptyPlan is returned by Validate when the breakdown has no tasks.
var ErrEmptyPlan = errors.New("planner: plan has no tasks")

const (
	defaultPriority = 5
	minPriority     = 1
	// maxPriority keeps plan priorities below remediation priorities.
	maxPriority = 10
	// maxNodes bounds the graph whatever the oracle returns.
	maxNodes = 20
)

// Breakdown is the oracle's task breakdown, decoded strictly.
type Breakdown struct {
	ProjectSummary struct {
		PrimaryDomain        string   `json:"primary_domain"`
		ProgrammingLanguages []string `json:"programming_languages"`
		ArchitectureOverview string   `json:"architecture_overview"`
	} `json:"project_summary"`
	TaskBreakdown struct {
		EstimatedTasks int       `json:"estimated_tasks"`
		Tasks          []RawNode `json:"tasks"`
	} `json:"task_breakdown"`
}

// RawNode is one task as the oracle described it.
type RawNode struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Deliverable     string   `json:"deliverable"`
	Domain          string   `json:"domain"`
	Priority        *int     `json:"priority"`
	Dependencies    []string `json:"dependencies"`
	EstimatedEffort string   `json:"estimated_effort"`
}

// Validation is the outcome of Validate.
type Validation struct {
	Nodes         []plan.Node
	DomainSummary string
	// Corrections describes each repair applied to the breakdown.
	Corrections []string
}

// Validate turns a breakdown into graph nodes. Missing or duplicate ids
// get synthetic task_N ids, priorities default to 5 and are clamped into
// 1..10, domains default to the project's primary domain, and dependencies
// on unknown ids or on the node itself are dropped. A breakdown with no
// tasks returns ErrEmptyPlan; one whose dependencies form a cycle returns
// plan.ErrCycle.
func Validate(b Breakdown) (*Validation, error) {
	raw := b.TaskBreakdown.Tasks
	if len(raw) == 0 {
		return nil, ErrEmptyPlan
	}

	v := &Validation{}
	if b.TaskBreakdown.EstimatedTasks != len(raw) {
		v.Corrections = append(v.Corrections,
			fmt.Sprintf("estimated_tasks %d recomputed to %d", b.TaskBreakdown.EstimatedTasks, len(raw)))
	}
	if len(raw) > maxNodes {
		v.Corrections = append(v.Corrections, fmt.Sprintf("truncated %d tasks to %d", len(raw), maxNodes))
		raw = raw[:maxNodes]
	}

	domain := strings.TrimSpace(b.ProjectSummary.PrimaryDomain)
	if domain == "" {
		domain = "code"
	}
	v.DomainSummary = domain
	if overview := strings.TrimSpace(b.ProjectSummary.ArchitectureOverview); overview != "" {
		v.DomainSummary = domain + ": " + overview
	}

	seen := make(map[string]bool, len(raw))
	nodes := make([]plan.Node, 0, len(raw))
	for i, r := range raw {
		n := plan.Node{
			ID:              strings.TrimSpace(r.ID),
			Title:           strings.TrimSpace(r.Title),
			Description:     strings.TrimSpace(r.Description),
			Deliverable:     strings.TrimSpace(r.Deliverable),
			Domain:          strings.TrimSpace(r.Domain),
			Priority:        defaultPriority,
			EstimatedEffort: strings.TrimSpace(r.EstimatedEffort),
		}

		if n.ID == "" || seen[n.ID] {
			orig := n.ID
			n.ID = syntheticID(i+1, seen)
			v.Corrections = append(v.Corrections, fmt.Sprintf("node %d id %q replaced with %q", i+1, orig, n.ID))
		}
		seen[n.ID] = true

		if n.Title == "" {
			n.Title = "Task " + strconv.Itoa(i+1)
			v.Corrections = append(v.Corrections, fmt.Sprintf("node %s given a title", n.ID))
		}
		if n.Description == "" {
			n.Description = n.Title
		}
		if n.Domain == "" {
			n.Domain = domain
		}
		if r.Priority != nil {
			n.Priority = clampPriority(*r.Priority)
			if n.Priority != *r.Priority {
				v.Corrections = append(v.Corrections, fmt.Sprintf("node %s priority %d clamped to %d", n.ID, *r.Priority, n.Priority))
			}
		}
		n.Dependencies = r.Dependencies
		nodes = append(nodes, n)
	}

	for i := range nodes {
		deps := make([]string, 0, len(nodes[i].Dependencies))
		kept := make(map[string]bool)
		for _, dep := range nodes[i].Dependencies {
			dep = strings.TrimSpace(dep)
			switch {
			case dep == nodes[i].ID:
				v.Corrections = append(v.Corrections, fmt.Sprintf("node %s self dependency dropped", nodes[i].ID))
			case !seen[dep]:
				v.Corrections = append(v.Corrections, fmt.Sprintf("node %s dangling dependency %q dropped", nodes[i].ID, dep))
			case kept[dep]:
			default:
				kept[dep] = true
				deps = append(deps, dep)
			}
		}
		nodes[i].Dependencies = deps
	}

	if err := plan.CheckAcyclic(nodes); err != nil {
		return nil, err
	}
	v.Nodes = nodes
	return v, nil
}

func syntheticID(n int, seen map[string]bool) string {
	for {
		id := "task_" + strconv.Itoa(n)
		if !seen[id] {
			return id
		}
		n++
	}
}

func clampPriority(p int) int {
	if p < minPriority {
		return minPriority
	}
	if p > maxPriority {
		return maxPriority
	}
	return p
}

// FallbackSize is the number of tasks in a fallback plan for a score.
func FallbackSize(score int) int {
	switch {
	case score <= 3:
		return 1
	case score <= 6:
		return 3
	default:
		return 5
	}
}

// FallbackPlan builds a strictly chained plan sized from the complexity
// score alone.
func FallbackPlan(objective string, c Complexity) *plan.Plan {
	size := FallbackSize(c.Score)
	nodes := make([]plan.Node, 0, size)
	for i := 0; i < size; i++ {
		var title, desc string
		switch i {
		case 0:
			title = "Implement Core Functionality for " + objective
			desc = "Create the main implementation for: " + objective
		case 1:
			title = "Add User Interface and Interaction"
			desc = "Create user interface and interaction for: " + objective
		case 2:
			title = "Integrate and Test Components"
			desc = "Integrate all components and ensure they work together"
		default:
			title = fmt.Sprintf("Enhance and Polish (Phase %d)", i-2)
			desc = "Add enhancements and polish to the implementation"
		}

		n := plan.Node{
			ID:              "task_" + strconv.Itoa(i+1),
			Title:           title,
			Description:     desc,
			Deliverable:     "Working implementation",
			Domain:          "code",
			Priority:        10 - i,
			Dependencies:    []string{},
			EstimatedEffort: "medium",
		}
		if i > 0 {
			n.Dependencies = []string{"task_" + strconv.Itoa(i)}
		}
		nodes = append(nodes, n)
	}

	return &plan.Plan{
		Objective:       objective,
		ComplexityScore: c.Score,
		ComplexityLevel: c.Level,
		DomainSummary:   "code",
		Nodes:           nodes,
		Execution:       plan.ExecutionMetadata{CompletedNodeIDs: []string{}, CurrentPhase: plan.PhasePlanning},
		Fallback:        true,
	}
}
