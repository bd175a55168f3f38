// Package pipeline is the composition root: it plans an objective, drives
// the scheduler, evaluates progress and runs improvement rounds until the
// project is satisfied or an iteration cap is hit.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/completeness"
	"github.com/overhuman/foreman/internal/improvement"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/plan"
	"github.com/overhuman/foreman/internal/planner"
	"github.com/overhuman/foreman/internal/progress"
	"github.com/overhuman/foreman/internal/scheduler"
	"github.com/overhuman/foreman/internal/security"
	"github.com/overhuman/foreman/internal/storage"
	"github.com/overhuman/foreman/internal/worker"
)

// ErrNothingToDo is returned when there is neither an objective to plan
// nor any task to run.
var ErrNothingToDo = errors.New("pipeline: nothing to do")

// Config bounds a run.
type Config struct {
	MaxCycles             int
	MaxPulls              int
	BatchSize             int
	MaxNodeAttempts       int
	MaxImprovements       int
	SatisfactionThreshold int
	ArtifactsDir          string
}

// DefaultConfig returns the default run bounds.
func DefaultConfig() Config {
	return Config{
		MaxCycles:             50,
		MaxPulls:              15,
		BatchSize:             3,
		MaxNodeAttempts:       3,
		MaxImprovements:       improvement.DefaultMaxAttempts,
		SatisfactionThreshold: improvement.DefaultThreshold,
		ArtifactsDir:          "artifacts",
	}
}

// Dependencies holds the subsystems a run needs. Store and Oracle are
// required; everything else is built from them when nil.
type Dependencies struct {
	Store  storage.Store
	Oracle brain.Oracle

	Planner   *planner.Planner
	Validator *completeness.Validator
	// NewWorker builds the worker for a project's artifact directory.
	NewWorker func(projectDir string) scheduler.Worker
	// Executor runs generated programs in the default worker.
	Executor worker.Executor
	// Sanitizer screens objectives before planning.
	Sanitizer *security.Sanitizer

	Config  Config
	Logger  *observability.Logger
	Metrics *observability.MetricsCollector
}

// Runner drives projects from objective to validated result.
type Runner struct {
	deps   Dependencies
	cfg    Config
	logger *observability.Logger
}

// New creates a Runner, filling unset config fields with defaults.
func New(deps Dependencies) *Runner {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = def.MaxCycles
	}
	if cfg.MaxPulls <= 0 {
		cfg.MaxPulls = def.MaxPulls
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxNodeAttempts <= 0 {
		cfg.MaxNodeAttempts = def.MaxNodeAttempts
	}
	if cfg.MaxImprovements <= 0 {
		cfg.MaxImprovements = def.MaxImprovements
	}
	if cfg.SatisfactionThreshold <= 0 {
		cfg.SatisfactionThreshold = def.SatisfactionThreshold
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = def.ArtifactsDir
	}
	if deps.Logger == nil {
		deps.Logger = observability.Discard()
	}
	if deps.Oracle == nil {
		deps.Oracle = brain.OfflineOracle{}
	}
	if deps.Planner == nil {
		deps.Planner = planner.New(deps.Oracle,
			planner.WithLogger(deps.Logger.Component("planner")),
			planner.WithMetrics(deps.Metrics),
		)
	}
	if deps.Validator == nil {
		deps.Validator = completeness.New(deps.Oracle,
			completeness.WithLogger(deps.Logger.Component("completeness")),
			completeness.WithMetrics(deps.Metrics),
		)
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewSanitizer(security.SanitizerConfig{})
	}
	if deps.NewWorker == nil {
		deps.NewWorker = func(dir string) scheduler.Worker {
			opts := []worker.Option{
				worker.WithLogger(deps.Logger.Component("worker")),
				worker.WithContext(worker.NewStoreContext(deps.Store)),
			}
			if deps.Executor != nil {
				opts = append(opts, worker.WithExecutor(deps.Executor))
			}
			return worker.New(deps.Oracle, dir, opts...)
		}
	}
	return &Runner{deps: deps, cfg: cfg, logger: deps.Logger.Component("pipeline")}
}

// FailedTask describes a task that ended in failure.
type FailedTask struct {
	ID         string `json:"id"`
	PlanTaskID string `json:"plan_task_id,omitempty"`
	Title      string `json:"title"`
	Error      string `json:"error"`
}

// Result is the outcome of one run.
type Result struct {
	ProjectID           string               `json:"project_id"`
	ProjectDir          string               `json:"project_dir"`
	Plan                *plan.Plan           `json:"plan"`
	Evaluation          progress.Evaluation  `json:"evaluation"`
	Report              *completeness.Report `json:"report,omitempty"`
	Counts              storage.StatusCounts `json:"counts"`
	Cycles              int                  `json:"cycles"`
	ImprovementAttempts int                  `json:"improvement_attempts"`
	// Exhausted is set when the cycle cap stopped the run.
	Exhausted   bool          `json:"exhausted"`
	FailedTasks []FailedTask  `json:"failed_tasks,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Satisfied reports whether the final report met the threshold.
func (r *Result) Satisfied(threshold int) bool {
	return r.Report != nil && r.Report.SatisfactionScore >= threshold
}

// metadata is what a project's metadata column holds.
type metadata struct {
	Plan                *plan.Plan           `json:"plan"`
	Report              *completeness.Report `json:"report,omitempty"`
	ImprovementAttempts int                  `json:"improvement_attempts"`
}

const maxNameLen = 60

// projectName is the first line of the objective, shortened.
func projectName(objective string) string {
	name, _, _ := strings.Cut(objective, "\n")
	name = strings.TrimSpace(name)
	if len(name) > maxNameLen {
		name = strings.TrimSpace(name[:maxNameLen])
	}
	return name
}

// run is the mutable state of one Run call.
type run struct {
	*Runner
	objective string
	projectID string
	plan      *plan.Plan
	report    *completeness.Report
	loop      *improvement.Loop
	sched     *scheduler.Scheduler
}

// Run plans the objective and drives it to completion. Hitting the cycle
// cap is reported through Result.Exhausted, not as an error.
func (r *Runner) Run(ctx context.Context, objective string) (*Result, error) {
	start := time.Now()
	objective, err := r.intake(objective)
	if err != nil {
		return nil, err
	}

	store := r.deps.Store
	pid, err := store.CreateProject(ctx, projectName(objective), objective)
	if err != nil {
		return nil, fmt.Errorf("pipeline: create project: %w", err)
	}
	dir := worker.ProjectDir(r.cfg.ArtifactsDir, projectName(objective), pid)
	r.logger.Info("project created", "project_id", pid, "dir", dir)

	p := r.deps.Planner.CreatePlan(ctx, objective)
	if len(p.Nodes) == 0 {
		return nil, ErrNothingToDo
	}

	st := &run{
		Runner:    r,
		objective: objective,
		projectID: pid,
		plan:      p,
		loop: improvement.New(r.deps.Oracle,
			improvement.Config{MaxAttempts: r.cfg.MaxImprovements, Threshold: r.cfg.SatisfactionThreshold},
			improvement.WithLogger(r.deps.Logger.Component("improvement")),
			improvement.WithMetrics(r.deps.Metrics),
		),
		sched: scheduler.New(store, r.deps.NewWorker(dir), pid,
			scheduler.Config{BatchSize: r.cfg.BatchSize, MaxNodeAttempts: r.cfg.MaxNodeAttempts},
			scheduler.WithLogger(r.deps.Logger.Component("scheduler")),
			scheduler.WithMetrics(r.deps.Metrics),
		),
	}

	from := p.Execution.CurrentPhase
	p.Execution.CurrentPhase = plan.PhaseDevelopment
	r.logger.PhaseChange(string(from), string(p.Execution.CurrentPhase), 0, "project_id", pid)
	if err := st.persist(ctx); err != nil {
		return nil, err
	}

	res := &Result{ProjectID: pid, ProjectDir: dir, Plan: p}
	done := false
	for res.Cycles < r.cfg.MaxCycles && !done {
		res.Cycles++
		if r.deps.Metrics != nil {
			r.deps.Metrics.Increment(observability.CounterSchedulerCycles)
		}
		if done, err = st.cycle(ctx, dir); err != nil {
			return nil, err
		}
	}
	if !done {
		res.Exhausted = true
		r.logger.Warn("cycle cap reached", "project_id", pid, "cycles", res.Cycles)
	}

	if err := st.finish(ctx, res); err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	r.logger.Info("run finished",
		"project_id", pid,
		"cycles", res.Cycles,
		"completion_pct", res.Evaluation.CompletionPercentage,
		"improvement_attempts", res.ImprovementAttempts,
		"exhausted", res.Exhausted,
	)
	return res, nil
}

// intake sanitizes the objective.
func (r *Runner) intake(objective string) (string, error) {
	if strings.TrimSpace(objective) == "" {
		return "", ErrNothingToDo
	}
	res := r.deps.Sanitizer.Sanitize(objective)
	if err := res.Err(); err != nil {
		r.logger.Warn("objective blocked", "reason", res.BlockReason)
		return "", err
	}
	for _, w := range res.Warnings {
		r.logger.Warn("objective warning", "warning", w)
	}
	objective = strings.TrimSpace(res.Clean)
	if objective == "" {
		return "", ErrNothingToDo
	}
	return objective, nil
}

// cycle runs up to MaxPulls steps and, once the queue is exhausted,
// evaluates the project. It reports whether the run is over.
func (st *run) cycle(ctx context.Context, dir string) (bool, error) {
	for i := 0; i < st.cfg.MaxPulls; i++ {
		ev, ok, err := st.sched.Step(ctx, st.plan)
		if err != nil {
			return false, fmt.Errorf("pipeline: step: %w", err)
		}
		if !ok {
			break
		}
		if err := st.route(ctx, ev); err != nil {
			return false, err
		}
	}

	exhausted, err := st.sched.Exhausted(ctx, st.plan)
	if err != nil {
		return false, fmt.Errorf("pipeline: %w", err)
	}
	if !exhausted {
		return false, nil
	}

	counts, err := st.deps.Store.CountByStatus(ctx, st.projectID)
	if err != nil {
		return false, fmt.Errorf("pipeline: counts: %w", err)
	}
	ev := progress.Evaluate(st.plan, counts)
	if ev.Status != progress.StatusReadyForValidation {
		st.logger.Warn("queue exhausted before completion",
			"project_id", st.projectID,
			"completion_pct", ev.CompletionPercentage,
			"failed", counts.Failed,
		)
		return true, nil
	}

	snap, err := st.snapshot(ctx, counts, dir)
	if err != nil {
		return false, err
	}
	report := st.deps.Validator.Validate(ctx, snap, st.objective)
	st.report = &report

	tasks, again := st.loop.Iterate(ctx, st.objective, report)
	if err := st.persist(ctx); err != nil {
		return false, err
	}
	if !again {
		return true, nil
	}
	if _, err := st.sched.Enqueue(ctx, tasks); err != nil {
		return false, fmt.Errorf("pipeline: %w", err)
	}
	return false, nil
}

// route applies a completion event to the plan and records phase changes.
func (st *run) route(ctx context.Context, ev scheduler.CompletionEvent) error {
	if ev.Status != storage.StatusCompleted || ev.PlanTaskID == "" {
		return nil
	}
	from := st.plan.Execution.CurrentPhase
	if err := st.plan.MarkCompleted(ev.PlanTaskID); err != nil {
		st.logger.Warn("completion for unknown node", "task_id", ev.TaskID, "plan_task_id", ev.PlanTaskID)
		return nil
	}
	pct := st.plan.Ratio() * 100
	if st.deps.Metrics != nil {
		st.deps.Metrics.Record(observability.MetricCompletion, pct, observability.Labels{"project_id": st.projectID})
	}
	if to := st.plan.Execution.CurrentPhase; to != from {
		st.logger.PhaseChange(string(from), string(to), pct, "project_id", st.projectID)
		return st.persist(ctx)
	}
	return nil
}

func (st *run) snapshot(ctx context.Context, counts storage.StatusCounts, dir string) (completeness.Snapshot, error) {
	done, err := st.deps.Store.ListTasks(ctx, st.projectID, storage.StatusCompleted)
	if err != nil {
		return completeness.Snapshot{}, fmt.Errorf("pipeline: list tasks: %w", err)
	}
	snap := completeness.Snapshot{Counts: counts}
	for _, t := range done {
		snap.Completed = append(snap.Completed, completeness.TaskSummary{Title: t.Title, Deliverable: t.Deliverable})
	}
	arts, err := completeness.CollectArtifacts(dir)
	if err != nil {
		st.logger.Warn("collect artifacts", "dir", dir, "error", err)
	}
	snap.Artifacts = arts
	return snap, nil
}

func (st *run) persist(ctx context.Context) error {
	blob, err := json.Marshal(metadata{
		Plan:                st.plan,
		Report:              st.report,
		ImprovementAttempts: st.loop.Attempt(),
	})
	if err != nil {
		return fmt.Errorf("pipeline: encode metadata: %w", err)
	}
	if err := st.deps.Store.UpdateProjectPhase(ctx, st.projectID, string(st.plan.Execution.CurrentPhase), blob); err != nil {
		return fmt.Errorf("pipeline: persist: %w", err)
	}
	return nil
}

func (st *run) finish(ctx context.Context, res *Result) error {
	counts, err := st.deps.Store.CountByStatus(ctx, st.projectID)
	if err != nil {
		return fmt.Errorf("pipeline: counts: %w", err)
	}
	failed, err := st.deps.Store.ListTasks(ctx, st.projectID, storage.StatusFailed)
	if err != nil {
		return fmt.Errorf("pipeline: list tasks: %w", err)
	}
	for _, t := range failed {
		res.FailedTasks = append(res.FailedTasks, FailedTask{ID: t.ID, PlanTaskID: t.PlanTaskID, Title: t.Title, Error: t.Error})
	}
	res.Counts = counts
	res.Evaluation = progress.Evaluate(st.plan, counts)
	res.Report = st.report
	res.ImprovementAttempts = st.loop.Attempt()
	return st.persist(ctx)
}

// ProjectSummary is the stored view of a project.
type ProjectSummary struct {
	Project             storage.ProjectState `json:"project"`
	Plan                *plan.Plan           `json:"plan,omitempty"`
	Evaluation          progress.Evaluation  `json:"evaluation"`
	Counts              storage.StatusCounts `json:"counts"`
	Report              *completeness.Report `json:"report,omitempty"`
	ImprovementAttempts int                  `json:"improvement_attempts"`
	Tasks               []storage.Task       `json:"tasks"`
}

// Summary reads a project back from the store. Projects whose metadata
// carries no plan are evaluated from task counts alone.
func (r *Runner) Summary(ctx context.Context, projectID string) (*ProjectSummary, error) {
	proj, err := r.deps.Store.GetProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: summary: %w", err)
	}
	counts, err := r.deps.Store.CountByStatus(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: summary: %w", err)
	}
	tasks, err := r.deps.Store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: summary: %w", err)
	}

	var md metadata
	if len(proj.Metadata) > 0 {
		if err := json.Unmarshal(proj.Metadata, &md); err != nil {
			r.logger.Warn("undecodable project metadata", "project_id", projectID, "error", err)
			md = metadata{}
		}
	}
	return &ProjectSummary{
		Project:             *proj,
		Plan:                md.Plan,
		Evaluation:          progress.Evaluate(md.Plan, counts),
		Counts:              counts,
		Report:              md.Report,
		ImprovementAttempts: md.ImprovementAttempts,
		Tasks:               tasks,
	}, nil
}
