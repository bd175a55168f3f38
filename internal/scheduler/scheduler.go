// Package scheduler materializes ready plan nodes as task records and
// executes them one at a time.
//
// The scheduler is the only writer of task status. It does not touch the
// plan: each Step returns a CompletionEvent and the caller decides whether
// to mark the plan node completed.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/plan"
	"github.com/overhuman/foreman/internal/storage"
)

// Outcome is what a worker reports for one task.
type Outcome struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Worker executes a single task.
type Worker interface {
	Run(ctx context.Context, task storage.Task) Outcome
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, task storage.Task) Outcome

// Run calls f.
func (f WorkerFunc) Run(ctx context.Context, task storage.Task) Outcome { return f(ctx, task) }

// CompletionEvent reports a finished task.
type CompletionEvent struct {
	TaskID     string
	PlanTaskID string // empty for tasks not created from a plan node
	Title      string
	Status     storage.TaskStatus
	Outcome    Outcome
	Duration   time.Duration
}

// Config bounds scheduling.
type Config struct {
	// BatchSize is how many ready nodes are enqueued per replenish.
	BatchSize int
	// MaxNodeAttempts is how many failed task records a node may
	// accumulate before it is abandoned.
	MaxNodeAttempts int
}

// DefaultConfig returns the default scheduling bounds.
func DefaultConfig() Config {
	return Config{BatchSize: 3, MaxNodeAttempts: 3}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler drives one project's task queue.
type Scheduler struct {
	mu        sync.Mutex
	store     storage.Store
	worker    Worker
	projectID string
	cfg       Config
	logger    *observability.Logger
	metrics   *observability.MetricsCollector
}

// New creates a scheduler for one project.
func New(store storage.Store, worker Worker, projectID string, cfg Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxNodeAttempts <= 0 {
		cfg.MaxNodeAttempts = def.MaxNodeAttempts
	}
	s := &Scheduler{
		store:     store,
		worker:    worker,
		projectID: projectID,
		cfg:       cfg,
		logger:    observability.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// nodeState summarizes the task records created for each plan node.
type nodeState struct {
	active map[string]bool // has a pending, in-progress or completed record
	failed map[string]int
}

func (s *Scheduler) loadNodeState(ctx context.Context) (nodeState, error) {
	tasks, err := s.store.ListTasks(ctx, s.projectID)
	if err != nil {
		return nodeState{}, err
	}
	st := nodeState{active: make(map[string]bool), failed: make(map[string]int)}
	for _, t := range tasks {
		if t.PlanTaskID == "" {
			continue
		}
		if t.Status == storage.StatusFailed {
			st.failed[t.PlanTaskID]++
		} else {
			st.active[t.PlanTaskID] = true
		}
	}
	return st, nil
}

// schedulable returns ready nodes that have no live task record and have
// not exhausted their attempts, highest priority first.
func (s *Scheduler) schedulable(ctx context.Context, p *plan.Plan) ([]plan.Node, nodeState, error) {
	if p == nil || plan.IsComplete(p) {
		return nil, nodeState{}, nil
	}
	st, err := s.loadNodeState(ctx)
	if err != nil {
		return nil, nodeState{}, err
	}
	var out []plan.Node
	for _, n := range plan.ReadyNodes(p, 0) {
		if st.active[n.ID] || st.failed[n.ID] >= s.cfg.MaxNodeAttempts {
			continue
		}
		out = append(out, n)
	}
	return out, st, nil
}

// Replenish enqueues the next batch of ready nodes when at most one task is
// pending. It returns how many tasks were added.
func (s *Scheduler) Replenish(ctx context.Context, p *plan.Plan) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replenish(ctx, p)
}

func (s *Scheduler) replenish(ctx context.Context, p *plan.Plan) (int, error) {
	if p == nil || plan.IsComplete(p) {
		return 0, nil
	}
	counts, err := s.store.CountByStatus(ctx, s.projectID)
	if err != nil {
		return 0, fmt.Errorf("scheduler: replenish: %w", err)
	}
	if counts.Pending > 1 {
		return 0, nil
	}

	nodes, st, err := s.schedulable(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("scheduler: replenish: %w", err)
	}
	if len(nodes) > s.cfg.BatchSize {
		nodes = nodes[:s.cfg.BatchSize]
	}

	for _, n := range nodes {
		deps := append([]string(nil), n.Dependencies...)
		id, err := s.store.AddTask(ctx, storage.Task{
			ProjectID:       s.projectID,
			Title:           n.Title,
			Description:     n.Description,
			Priority:        n.Priority,
			Domain:          n.Domain,
			Deliverable:     n.Deliverable,
			Dependencies:    deps,
			PlanTaskID:      n.ID,
			EstimatedEffort: n.EstimatedEffort,
			Source:          storage.SourcePlan,
			Attempt:         st.failed[n.ID] + 1,
		})
		if err != nil {
			return 0, fmt.Errorf("scheduler: enqueue node %s: %w", n.ID, err)
		}
		s.logger.TaskEvent("enqueued", id,
			"plan_task_id", n.ID,
			"priority", n.Priority,
			"attempt", st.failed[n.ID]+1,
		)
		s.increment(observability.CounterTasksEnqueued)
	}
	return len(nodes), nil
}

// Enqueue adds tasks that did not come from the plan, such as remediation
// tasks. Project id is forced to the scheduler's project.
func (s *Scheduler) Enqueue(ctx context.Context, tasks []storage.Task) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		t.ProjectID = s.projectID
		if t.Source == "" {
			t.Source = storage.SourceDirect
		}
		id, err := s.store.AddTask(ctx, t)
		if err != nil {
			return ids, fmt.Errorf("scheduler: enqueue %q: %w", t.Title, err)
		}
		s.logger.TaskEvent("enqueued", id, "source", string(t.Source), "priority", t.Priority)
		s.increment(observability.CounterTasksEnqueued)
		ids = append(ids, id)
	}
	return ids, nil
}

// Step replenishes the queue, then pulls and runs the highest-priority
// pending task. ok is false when nothing was pending.
func (s *Scheduler) Step(ctx context.Context, p *plan.Plan) (ev CompletionEvent, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return CompletionEvent{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.replenish(ctx, p); err != nil {
		return CompletionEvent{}, false, err
	}

	t, err := s.store.NextPending(ctx, s.projectID)
	if err != nil {
		return CompletionEvent{}, false, fmt.Errorf("scheduler: next: %w", err)
	}
	if t == nil {
		return CompletionEvent{}, false, nil
	}

	if err := s.store.UpdateStatus(ctx, t.ID, storage.StatusInProgress, nil, ""); err != nil {
		return CompletionEvent{}, false, fmt.Errorf("scheduler: start %s: %w", t.ID, err)
	}
	s.logger.TaskEvent("started", t.ID, "title", t.Title, "plan_task_id", t.PlanTaskID)

	start := time.Now()
	out := s.worker.Run(ctx, *t)
	elapsed := time.Since(start)

	status := storage.StatusCompleted
	if !out.Success {
		status = storage.StatusFailed
		if out.Error == "" {
			out.Error = "task failed without an error message"
		}
	}
	errMsg := ""
	if status == storage.StatusFailed {
		errMsg = out.Error
	}

	// Finish with a fresh context so a cancelled run still records the outcome.
	finishCtx := context.WithoutCancel(ctx)
	if err := s.store.UpdateStatus(finishCtx, t.ID, status, out.Result, errMsg); err != nil {
		return CompletionEvent{}, false, fmt.Errorf("scheduler: finish %s: %w", t.ID, err)
	}

	if status == storage.StatusCompleted {
		s.logger.TaskEvent("completed", t.ID, "duration_ms", elapsed.Milliseconds())
		s.increment(observability.CounterTasksCompleted)
	} else {
		s.logger.TaskEvent("failed", t.ID, "duration_ms", elapsed.Milliseconds(), "error", out.Error)
		s.increment(observability.CounterTasksFailed)
	}
	if s.metrics != nil {
		s.metrics.Record(observability.MetricTaskDuration, float64(elapsed.Milliseconds()),
			observability.Labels{"status": string(status), "attempt": strconv.Itoa(t.Attempt)})
	}

	return CompletionEvent{
		TaskID:     t.ID,
		PlanTaskID: t.PlanTaskID,
		Title:      t.Title,
		Status:     status,
		Outcome:    out,
		Duration:   elapsed,
	}, true, nil
}

// Exhausted reports whether there is nothing left to run: no pending or
// in-progress task and no ready node that could still be scheduled.
func (s *Scheduler) Exhausted(ctx context.Context, p *plan.Plan) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts, err := s.store.CountByStatus(ctx, s.projectID)
	if err != nil {
		return false, fmt.Errorf("scheduler: exhausted: %w", err)
	}
	if counts.Pending > 0 || counts.InProgress > 0 {
		return false, nil
	}
	nodes, _, err := s.schedulable(ctx, p)
	if err != nil {
		return false, fmt.Errorf("scheduler: exhausted: %w", err)
	}
	return len(nodes) == 0, nil
}

func (s *Scheduler) increment(name string) {
	if s.metrics != nil {
		s.metrics.Increment(name)
	}
}
