// Package completeness judges a finished project from the requester's point
// of view and produces the satisfaction report that gates improvement.
package completeness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/storage"
)

// MethodOracle and MethodFallback name how a report was produced.
const (
	MethodOracle   = "llm_user_perspective"
	MethodFallback = "error_fallback"
)

// FallbackScore is reported when the oracle cannot judge the project.
const FallbackScore = 3

const (
	previewBytes = 300
	maxPreviews  = 3
)

// Report is the outcome of one validation.
type Report struct {
	SatisfactionScore    int      `json:"satisfaction_score"`
	UserWouldBeSatisfied bool     `json:"user_would_be_satisfied"`
	ClearEntryPoint      bool     `json:"clear_entry_point"`
	ActuallyWorks        bool     `json:"actually_works"`
	MajorGaps            []string `json:"major_gaps"`
	FirstImpression      string   `json:"first_impression"`
	BiggestProblem       string   `json:"the_one_biggest_problem"`
	QuickFix             string   `json:"quick_fix_suggestion"`
	Assessment           string   `json:"honest_assessment"`
	Method               string   `json:"validation_method"`
	Status               string   `json:"status"`
	Error                string   `json:"error,omitempty"`
}

// StatusFor maps a satisfaction score to a label.
func StatusFor(score int) string {
	switch {
	case score >= 8:
		return "EXCELLENT"
	case score >= 6:
		return "GOOD"
	case score >= 4:
		return "FAIR"
	default:
		return "POOR"
	}
}

// FallbackReport is used when the oracle fails.
func FallbackReport(err error) Report {
	r := Report{
		SatisfactionScore: FallbackScore,
		Assessment:        "Could not perform user perspective validation",
		Method:            MethodFallback,
		Status:            StatusFor(FallbackScore),
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Artifact is one generated file.
type Artifact struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Type    string `json:"type"`
	Preview string `json:"-"`
}

// TaskSummary describes a completed task.
type TaskSummary struct {
	Title       string `json:"title"`
	Deliverable string `json:"deliverable,omitempty"`
}

// Snapshot is the project state handed to the validator.
type Snapshot struct {
	Counts    storage.StatusCounts
	Completed []TaskSummary
	Artifacts []Artifact
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(v *Validator) { v.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(v *Validator) { v.metrics = m }
}

// Validator asks the oracle whether the project meets the objective.
type Validator struct {
	oracle  brain.Oracle
	logger  *observability.Logger
	metrics *observability.MetricsCollector
}

// New creates a validator.
func New(oracle brain.Oracle, opts ...Option) *Validator {
	v := &Validator{oracle: oracle, logger: observability.Discard()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

const userPerspectivePrompt = `You are evaluating a project from the perspective of someone who made a request and is now checking if their needs were met.

ORIGINAL REQUEST: %q

TASKS: %d completed, %d failed, %d pending
%s
GENERATED PROJECT FILES:
%s

SAMPLE FILE CONTENTS:
%s

They open the project folder expecting a working solution. Evaluate honestly:
1. USABILITY: is there a clear way to run or open this?
2. COMPLETENESS: does it actually do what was requested?
3. MISSING PIECES: are there gaps that would confuse or frustrate the user?
4. FIRST IMPRESSION: will it work immediately?
5. SATISFACTION: would they feel their request was fulfilled?

You are not evaluating code quality. You are asking whether this solved the user's actual problem.

Respond with JSON only:
{
  "user_would_be_satisfied": true/false,
  "satisfaction_score": 1-10,
  "clear_entry_point": true/false,
  "actually_works": true/false,
  "major_gaps": ["missing pieces"],
  "first_impression": "what happens when they first try to use it",
  "the_one_biggest_problem": "the single most important issue",
  "quick_fix_suggestion": "one specific action to make this much better",
  "honest_assessment": "blunt truth about whether this delivers on the request"
}`

// Validate produces a report for the snapshot. It never fails: oracle
// errors, undecodable replies and scores outside 1..10 yield FallbackReport.
func (v *Validator) Validate(ctx context.Context, snap Snapshot, objective string) Report {
	reply, err := v.oracle.Complete(ctx, buildPrompt(snap, objective))
	if err == nil {
		var r Report
		if err = brain.DecodeJSON(reply, &r); err == nil {
			if r.SatisfactionScore < 1 || r.SatisfactionScore > 10 {
				err = fmt.Errorf("satisfaction score %d outside 1..10", r.SatisfactionScore)
			} else {
				r.Method = MethodOracle
				r.Status = StatusFor(r.SatisfactionScore)
				v.record(r)
				return r
			}
		}
	}

	v.logger.Fallback("completeness", err)
	if v.metrics != nil {
		v.metrics.Increment(observability.CounterOracleFallbacks)
	}
	r := FallbackReport(err)
	v.record(r)
	return r
}

func (v *Validator) record(r Report) {
	v.logger.Info("project validated",
		"satisfaction", r.SatisfactionScore,
		"status", r.Status,
		"method", r.Method,
	)
	if v.metrics != nil {
		v.metrics.Record(observability.MetricSatisfaction, float64(r.SatisfactionScore),
			observability.Labels{"method": r.Method})
	}
}

func buildPrompt(snap Snapshot, objective string) string {
	var tasks strings.Builder
	for _, t := range snap.Completed {
		fmt.Fprintf(&tasks, "- %s", t.Title)
		if t.Deliverable != "" {
			fmt.Fprintf(&tasks, " (%s)", t.Deliverable)
		}
		tasks.WriteByte('\n')
	}

	files := "(none)"
	previews := "(none)"
	if len(snap.Artifacts) > 0 {
		var fl, pv []string
		for i, a := range snap.Artifacts {
			fl = append(fl, fmt.Sprintf("- %s (%d bytes, %s)", a.Name, a.Size, a.Type))
			if i < maxPreviews {
				pv = append(pv, fmt.Sprintf("%s:\n```\n%s\n```", a.Name, a.Preview))
			}
		}
		files = strings.Join(fl, "\n")
		previews = strings.Join(pv, "\n\n")
	}

	return fmt.Sprintf(userPerspectivePrompt, objective,
		snap.Counts.Completed, snap.Counts.Failed, snap.Counts.Pending,
		tasks.String(), files, previews)
}

// CollectArtifacts lists regular files under dir, sorted by name, with a
// short content preview. A missing directory yields no artifacts.
func CollectArtifacts(dir string) ([]Artifact, error) {
	var out []Artifact
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = d.Name()
		}
		a := Artifact{
			Name: filepath.ToSlash(rel),
			Path: path,
			Size: info.Size(),
			Type: FileType(d.Name()),
		}
		if data, err := os.ReadFile(path); err == nil {
			a.Preview = preview(string(data))
		}
		out = append(out, a)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("completeness: collect artifacts: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func preview(s string) string {
	if len(s) <= previewBytes {
		return s
	}
	return s[:previewBytes] + "..."
}

// FileType classifies a file by extension.
func FileType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return "html"
	case ".css":
		return "stylesheet"
	case ".js", ".ts":
		return "javascript"
	case ".py":
		return "python"
	case ".go":
		return "go"
	case ".sh":
		return "shell"
	case ".md", ".txt":
		return "documentation"
	case ".json", ".yaml", ".yml", ".toml":
		return "config"
	default:
		return "other"
	}
}
