// Package worker executes a single task: it classifies the task, asks the
// oracle for a solution, validates and runs it, and saves the artifact.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/sandbox"
	"github.com/overhuman/foreman/internal/scheduler"
	"github.com/overhuman/foreman/internal/security"
	"github.com/overhuman/foreman/internal/storage"
)

// Executor runs generated programs.
type Executor interface {
	Supports(lang string) bool
	Run(ctx context.Context, p sandbox.Program) (sandbox.Result, error)
}

// Result is the JSON blob stored on a completed task.
type Result struct {
	Domain      string   `json:"domain"`
	Approach    string   `json:"approach"`
	Confidence  float64  `json:"confidence"`
	Language    string   `json:"language"`
	Artifact    string   `json:"artifact"`
	Explanation string   `json:"explanation,omitempty"`
	Executed    bool     `json:"executed"`
	Output      string   `json:"output,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) Option {
	return func(w *Worker) { w.classifier = c }
}

// WithValidator replaces BasicValidator.
func WithValidator(v Validator) Option {
	return func(w *Worker) { w.validator = v }
}

// WithScanner replaces the default code scanner.
func WithScanner(sc *security.CodeScanner) Option {
	return func(w *Worker) { w.scanner = sc }
}

// WithContext shows the oracle the project's earlier work.
func WithContext(p ContextProvider) Option {
	return func(w *Worker) { w.history = p }
}

// WithExecutor enables execution of runnable solutions.
func WithExecutor(e Executor) Option {
	return func(w *Worker) { w.executor = e }
}

// Worker implements scheduler.Worker for one project.
type Worker struct {
	oracle     brain.Oracle
	projectDir string
	classifier *Classifier
	validator  Validator
	scanner    *security.CodeScanner
	executor   Executor
	history    ContextProvider
	logger     *observability.Logger
}

var _ scheduler.Worker = (*Worker)(nil)

// New creates a worker that saves artifacts under projectDir.
func New(oracle brain.Oracle, projectDir string, opts ...Option) *Worker {
	w := &Worker{
		oracle:     oracle,
		projectDir: projectDir,
		classifier: NewClassifier(nil),
		validator:  BasicValidator{},
		scanner:    security.NewCodeScanner(),
		logger:     observability.Discard(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run executes one task. Every failure is reported in the outcome.
func (w *Worker) Run(ctx context.Context, task storage.Task) scheduler.Outcome {
	cls := w.classifier.Classify(task)
	w.logger.TaskEvent("classified", task.ID,
		"domain", cls.Tag(),
		"approach", cls.Approach.String(),
		"confidence", cls.Confidence,
	)

	sol, err := w.generate(ctx, task, cls)
	if err != nil {
		return failed(err)
	}

	warnings, err := w.validator.Validate(sol)
	if err != nil {
		return failed(fmt.Errorf("validate: %w", err))
	}
	findings := w.scanner.Scan(sol.Code)
	if f, block := security.Blocking(findings); block {
		w.logger.Warn("solution rejected", "task_id", task.ID, "rule", f.Rule, "match", f.Match)
		return failed(fmt.Errorf("%w: %s", security.ErrUnsafeCode, f.Rule))
	}
	for _, f := range findings {
		warnings = append(warnings, "security: "+f.Rule)
	}
	for _, warn := range warnings {
		w.logger.Warn("solution warning", "task_id", task.ID, "warning", warn)
	}

	res := Result{
		Domain:      cls.Tag(),
		Approach:    cls.Approach.String(),
		Confidence:  cls.Confidence,
		Language:    sol.Language,
		Explanation: sol.Explanation,
		Warnings:    warnings,
	}

	prose := w.classifier.Table().IsProse(cls.Primary)
	if !prose && w.executor != nil && w.executor.Supports(sol.Language) {
		if err := os.MkdirAll(w.projectDir, 0o755); err != nil {
			return failed(fmt.Errorf("artifacts dir: %w", err))
		}
		run, err := w.executor.Run(ctx, sandbox.Program{
			Language: sol.Language,
			Code:     sol.Code,
			Dir:      w.projectDir,
			GUI:      sandbox.IsGUI(sol.Code),
		})
		if err != nil {
			return failed(fmt.Errorf("execute: %w", err))
		}
		if !run.Success {
			return failed(fmt.Errorf("execute: %s", run.Error))
		}
		res.Executed = true
		res.Output = truncate(run.Stdout, 2000)
		if run.Probed {
			res.Output = "GUI application started and ran successfully"
		}
	}

	path, err := SaveArtifact(w.projectDir, sol.Filename, sol.Code)
	if err != nil {
		return failed(err)
	}
	res.Artifact = path

	blob, err := json.Marshal(res)
	if err != nil {
		return failed(fmt.Errorf("encode result: %w", err))
	}
	return scheduler.Outcome{Success: true, Result: blob}
}

func failed(err error) scheduler.Outcome {
	return scheduler.Outcome{Success: false, Error: err.Error()}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// SaveArtifact writes content to dir/filename. An existing file with the
// same name is kept and the new one gets a timestamp suffix.
func SaveArtifact(dir, filename, content string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if _, err := os.Stat(path); err == nil {
		ext := filepath.Ext(path)
		path = fmt.Sprintf("%s_%s%s", strings.TrimSuffix(path, ext), time.Now().UTC().Format("20060102T150405.000000000"), ext)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("save artifact: %w", err)
	}
	return path, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 40

// Slug turns free text into a lowercase, dash-separated name.
func Slug(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	return slug
}

// ProjectDir is where a project's artifacts live: <root>/<slug>-<id prefix>.
func ProjectDir(root, name, projectID string) string {
	slug := Slug(name)
	if slug == "" {
		slug = "project"
	}
	id := projectID
	if len(id) > 8 {
		id = id[:8]
	}
	if id != "" {
		slug += "-" + id
	}
	return filepath.Join(root, slug)
}
