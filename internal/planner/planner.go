// Package planner turns an objective into a validated task graph.
//
// Every oracle call has a deterministic fallback at the same level:
// complexity falls back to keyword buckets, the breakdown falls back to a
// linear chain sized from the score. CreatePlan therefore always returns a
// non-empty, acyclic plan.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/plan"
)

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(p *Planner) { p.metrics = m }
}

// WithModelSelector picks the oracle used for graph generation once the
// complexity score is known. Returning nil keeps the default oracle.
func WithModelSelector(fn func(score int) brain.Oracle) Option {
	return func(p *Planner) { p.selectOracle = fn }
}

// Planner creates project plans.
type Planner struct {
	oracle       brain.Oracle
	selectOracle func(score int) brain.Oracle
	logger       *observability.Logger
	metrics      *observability.MetricsCollector
	now          func() time.Time
}

// New creates a planner.
func New(oracle brain.Oracle, opts ...Option) *Planner {
	p := &Planner{
		oracle: oracle,
		logger: observability.Discard(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CreatePlan assesses the objective, generates a graph and validates it.
// It never fails; oracle trouble degrades to FallbackPlan.
func (p *Planner) CreatePlan(ctx context.Context, objective string) *plan.Plan {
	c := p.AssessComplexity(ctx, objective)
	p.logger.Info("complexity assessed",
		"score", c.Score,
		"level", c.Level,
		"fallback", c.Fallback,
	)

	pl, err := p.generate(ctx, objective, c)
	if err != nil {
		p.fallback("plan", err)
		pl = FallbackPlan(objective, c)
	}
	pl.CreatedAt = p.now().UTC()

	p.logger.Info("plan created",
		"nodes", len(pl.Nodes),
		"fallback", pl.Fallback,
		"domain", pl.DomainSummary,
	)
	return pl
}

const breakdownPrompt = `You are a senior technical architect creating a project plan.

OBJECTIVE: %q
COMPLEXITY: %s (score: %d/10)
COMPLEXITY FACTORS: %s

Break the objective into %d to %d tasks. Each task must produce a concrete,
working deliverable. Declare dependencies between tasks by id; a task may
only depend on tasks listed in this plan, and dependencies must not form a
cycle. Priorities run from 1 (lowest) to 10 (highest).

Respond with JSON only:
{
  "project_summary": {
    "primary_domain": "code|creative|data|ui|research|game",
    "programming_languages": ["python"],
    "architecture_overview": "brief technical description"
  },
  "task_breakdown": {
    "estimated_tasks": <number of tasks>,
    "tasks": [
      {
        "id": "task_1",
        "title": "Clear, actionable task title",
        "description": "What to implement",
        "deliverable": "Specific output expected",
        "domain": "task domain",
        "priority": 1-10,
        "dependencies": ["task ids"],
        "estimated_effort": "small|medium|large"
      }
    ]
  }
}`

// generate asks the oracle for a breakdown and validates it.
func (p *Planner) generate(ctx context.Context, objective string, c Complexity) (*plan.Plan, error) {
	oracle := p.oracle
	if p.selectOracle != nil {
		if o := p.selectOracle(c.Score); o != nil {
			oracle = o
		}
	}

	lo, hi := TaskRange(c.Score)
	reasoning := c.Reasoning
	if reasoning == "" {
		reasoning = "standard complexity"
	}
	reply, err := oracle.Complete(ctx, fmt.Sprintf(breakdownPrompt, objective, c.Level, c.Score, reasoning, lo, hi))
	if err != nil {
		return nil, fmt.Errorf("breakdown: %w", err)
	}

	var b Breakdown
	if err := brain.DecodeJSON(reply, &b); err != nil {
		return nil, fmt.Errorf("breakdown: %w", err)
	}

	v, err := Validate(b)
	if err != nil {
		return nil, fmt.Errorf("validate: %w", err)
	}
	for _, fix := range v.Corrections {
		p.logger.Warn("plan corrected", "fix", fix)
	}
	if n := len(v.Nodes); n < lo || n > hi {
		p.logger.Info("plan size outside range", "nodes", n, "min", lo, "max", hi)
	}

	return &plan.Plan{
		Objective:       objective,
		ComplexityScore: c.Score,
		ComplexityLevel: c.Level,
		DomainSummary:   v.DomainSummary,
		Nodes:           v.Nodes,
		Execution:       plan.ExecutionMetadata{CompletedNodeIDs: []string{}, CurrentPhase: plan.PhasePlanning},
	}, nil
}

func (p *Planner) fallback(stage string, err error) {
	p.logger.Fallback(stage, err)
	if p.metrics != nil {
		p.metrics.Increment(observability.CounterOracleFallbacks)
	}
}
