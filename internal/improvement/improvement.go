// Package improvement decides whether a finished project gets another round
// of work and produces the remediation tasks for that round.
package improvement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/completeness"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/storage"
)

const (
	// DefaultMaxAttempts caps improvement rounds.
	DefaultMaxAttempts = 3
	// DefaultThreshold is the satisfaction score at which work stops.
	DefaultThreshold = 7
	// BasePriority sits above every plan priority so remediation preempts
	// the remaining queue.
	BasePriority = 100
	// MaxRemediationTasks bounds one round.
	MaxRemediationTasks = 3
)

var errNoTasks = errors.New("oracle returned no remediation tasks")

// ShouldContinue reports whether another round is allowed: attempts remain
// and the report is below the satisfaction threshold.
func ShouldContinue(r completeness.Report, attempt, maxAttempts, threshold int) bool {
	return attempt < maxAttempts && r.SatisfactionScore < threshold
}

// Config bounds the loop.
type Config struct {
	MaxAttempts int
	Threshold   int
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{MaxAttempts: DefaultMaxAttempts, Threshold: DefaultThreshold}
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(lp *Loop) { lp.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(lp *Loop) { lp.metrics = m }
}

// Loop tracks improvement attempts for one project.
type Loop struct {
	mu      sync.Mutex
	oracle  brain.Oracle
	cfg     Config
	attempt int
	logger  *observability.Logger
	metrics *observability.MetricsCollector
}

// New creates a loop.
func New(oracle brain.Oracle, cfg Config, opts ...Option) *Loop {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	l := &Loop{oracle: oracle, cfg: cfg, logger: observability.Discard()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attempt returns how many times Iterate has been called.
func (l *Loop) Attempt() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempt
}

// Iterate consumes one attempt. When the gate is open it returns the
// remediation tasks for the report and true; otherwise nil and false.
// The counter advances exactly once per call either way.
func (l *Loop) Iterate(ctx context.Context, objective string, r completeness.Report) ([]storage.Task, bool) {
	l.mu.Lock()
	attempt := l.attempt
	l.attempt++
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.Increment(observability.CounterImprovementAttempts)
	}

	if !ShouldContinue(r, attempt, l.cfg.MaxAttempts, l.cfg.Threshold) {
		l.logger.Info("improvement stopped",
			"attempt", attempt+1,
			"max_attempts", l.cfg.MaxAttempts,
			"satisfaction", r.SatisfactionScore,
			"threshold", l.cfg.Threshold,
		)
		return nil, false
	}

	tasks := l.GenerateRemediationTasks(ctx, objective, r)
	l.logger.Info("improvement round",
		"attempt", attempt+1,
		"satisfaction", r.SatisfactionScore,
		"tasks", len(tasks),
	)
	if l.metrics != nil {
		l.metrics.IncrementBy(observability.CounterRemediationTasks, int64(len(tasks)))
	}
	return tasks, true
}

const remediationPrompt = `A project was built for the request %q but the requester is not satisfied (score %d/10).

BIGGEST PROBLEM: %s
SUGGESTED QUICK FIX: %s
MAJOR GAPS:
%s

Create 1 to 3 targeted tasks that fix these problems, most important first.
The first task must address the biggest problem.

Respond with JSON only:
{"tasks": [{"title": "short actionable title", "description": "exactly what to change", "deliverable": "expected output", "domain": "code"}]}`

type remediationReply struct {
	Tasks []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Deliverable string `json:"deliverable"`
		Domain      string `json:"domain"`
	} `json:"tasks"`
}

// GenerateRemediationTasks asks the oracle for up to three fix tasks. Extra
// tasks are dropped; untitled ones are skipped. An oracle failure or empty
// list yields a single usability fix. Priorities descend from
// BasePriority+n so the first task runs first.
func (l *Loop) GenerateRemediationTasks(ctx context.Context, objective string, r completeness.Report) []storage.Task {
	var tasks []storage.Task
	reply, err := l.oracle.Complete(ctx, fmt.Sprintf(remediationPrompt,
		objective, r.SatisfactionScore, orNone(r.BiggestProblem), orNone(r.QuickFix), gapList(r.MajorGaps)))
	if err == nil {
		var rr remediationReply
		if err = brain.DecodeJSON(reply, &rr); err == nil {
			for _, t := range rr.Tasks {
				if strings.TrimSpace(t.Title) == "" {
					continue
				}
				tasks = append(tasks, storage.Task{
					Title:       t.Title,
					Description: t.Description,
					Deliverable: t.Deliverable,
					Domain:      t.Domain,
				})
				if len(tasks) == MaxRemediationTasks {
					break
				}
			}
			if len(tasks) == 0 {
				err = errNoTasks
			}
		}
	}

	if err != nil {
		l.logger.Fallback("remediation", err)
		if l.metrics != nil {
			l.metrics.Increment(observability.CounterOracleFallbacks)
		}
		tasks = []storage.Task{FallbackTask(objective, r)}
	}

	n := len(tasks)
	for i := range tasks {
		tasks[i].Priority = BasePriority + (n - i)
		tasks[i].Source = storage.SourceRemediation
		if tasks[i].Domain == "" {
			tasks[i].Domain = "code"
		}
		if tasks[i].Description == "" {
			tasks[i].Description = tasks[i].Title
		}
	}
	return tasks
}

// FallbackTask is the generic fix used when the oracle cannot help.
func FallbackTask(objective string, r completeness.Report) storage.Task {
	desc := fmt.Sprintf("Make %q usable end to end: provide a clear entry point and connect the existing pieces.", objective)
	if r.BiggestProblem != "" {
		desc += " Biggest problem: " + r.BiggestProblem
	}
	return storage.Task{
		Title:       "Fix usability",
		Description: desc,
		Deliverable: "Working, runnable solution",
		Domain:      "code",
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none reported)"
	}
	return s
}

func gapList(gaps []string) string {
	if len(gaps) == 0 {
		return "- (none reported)"
	}
	var b strings.Builder
	for i, g := range gaps {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + g)
	}
	return b.String()
}
