package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/overhuman/foreman/internal/budget"
	"github.com/overhuman/foreman/internal/completeness"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/pipeline"
	"github.com/overhuman/foreman/internal/plan"
	"github.com/overhuman/foreman/internal/progress"
	"github.com/overhuman/foreman/internal/storage"
)

var (
	primaryColor   = lipgloss.Color("#7D56F4")
	secondaryColor = lipgloss.Color("#6C6C6C")
	successColor   = lipgloss.Color("#73F59F")
	warnColor      = lipgloss.Color("#F5C373")
	errorColor     = lipgloss.Color("#FF6B6B")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	labelStyle = lipgloss.NewStyle().
			Foreground(secondaryColor).
			Width(14)

	subtleStyle  = lipgloss.NewStyle().Foreground(secondaryColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warnStyle    = lipgloss.NewStyle().Foreground(warnColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
)

func field(label string, value any) string {
	return labelStyle.Render(label) + " " + fmt.Sprint(value)
}

func scoreStyle(score, threshold int) lipgloss.Style {
	switch {
	case score >= threshold:
		return successStyle
	case score >= completeness.FallbackScore+1:
		return warnStyle
	default:
		return errorStyle
	}
}

func statusStyle(s progress.Status) lipgloss.Style {
	switch s {
	case progress.StatusReadyForValidation:
		return successStyle
	case progress.StatusNoWork:
		return errorStyle
	default:
		return warnStyle
	}
}

func renderReport(lines []string, r *completeness.Report, threshold int) []string {
	if r == nil {
		return append(lines, field("satisfaction", subtleStyle.Render("not validated")))
	}
	lines = append(lines, field("satisfaction",
		scoreStyle(r.SatisfactionScore, threshold).Render(fmt.Sprintf("%d/10 %s", r.SatisfactionScore, r.Status))+
			subtleStyle.Render(" ("+r.Method+")")))
	if r.BiggestProblem != "" {
		lines = append(lines, field("problem", r.BiggestProblem))
	}
	if r.QuickFix != "" {
		lines = append(lines, field("quick fix", r.QuickFix))
	}
	return lines
}

// renderResult prints the outcome of a run.
func renderResult(w io.Writer, res *pipeline.Result, threshold int) {
	lines := []string{
		titleStyle.Render("foreman run"),
		field("project", res.ProjectID),
		field("artifacts", res.ProjectDir),
		field("plan", planLine(res.Plan)),
		field("progress", progressLine(res.Evaluation)),
		field("tasks", countsLine(res.Counts)),
		field("cycles", res.Cycles),
		field("improvements", res.ImprovementAttempts),
		field("elapsed", res.Elapsed.Round(time.Millisecond)),
	}
	lines = renderReport(lines, res.Report, threshold)
	if res.Exhausted {
		lines = append(lines, warnStyle.Render("stopped at the cycle limit"))
	}
	for _, f := range res.FailedTasks {
		lines = append(lines, errorStyle.Render("failed: ")+f.Title+subtleStyle.Render(" "+f.Error))
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))
}

// renderUsage prints oracle and task statistics gathered during a run.
func renderUsage(w io.Writer, m *observability.MetricsCollector, tracker *budget.Tracker) {
	var lines []string
	done := observability.Labels{"status": string(storage.StatusCompleted)}
	if s := m.Summarize(observability.MetricTaskDuration, time.Time{}, done); s.Count > 0 {
		lines = append(lines, field("task time", fmt.Sprintf("%d completed, mean %.0fms, p95 %.0fms", s.Count, s.Mean, s.P95)))
	}
	counters := m.Snapshot()
	oracle := fmt.Sprintf("%d calls, %d fallbacks",
		counters[observability.CounterOracleCalls], counters[observability.CounterOracleFallbacks])
	if s := m.Summarize(observability.MetricOracleLatency, time.Time{}); s.Count > 0 {
		oracle += fmt.Sprintf(", p50 %.0fms", s.P50)
	}
	lines = append(lines, field("oracle", oracle))
	if tracker != nil {
		lines = append(lines, field("budget", tracker.Status()))
	}
	fmt.Fprintln(w, subtleStyle.Render(strings.Join(lines, "\n")))
}

// renderSummary prints a stored project.
func renderSummary(w io.Writer, sum *pipeline.ProjectSummary, threshold int) {
	lines := []string{
		titleStyle.Render(sum.Project.Name),
		field("project", sum.Project.ID),
		field("objective", sum.Project.Objective),
		field("phase", sum.Project.Phase),
		field("plan", planLine(sum.Plan)),
		field("progress", progressLine(sum.Evaluation)),
		field("tasks", countsLine(sum.Counts)),
		field("improvements", sum.ImprovementAttempts),
	}
	lines = renderReport(lines, sum.Report, threshold)
	for _, a := range sum.Evaluation.NextActions {
		lines = append(lines, subtleStyle.Render("next: ")+a)
	}
	fmt.Fprintln(w, boxStyle.Render(strings.Join(lines, "\n")))

	for _, t := range sum.Tasks {
		line := fmt.Sprintf("%-11s %3d  %s", t.Status, t.Priority, t.Title)
		switch t.Status {
		case storage.StatusCompleted:
			line = successStyle.Render(line)
		case storage.StatusFailed:
			line = errorStyle.Render(line) + subtleStyle.Render("  "+t.Error)
		}
		fmt.Fprintln(w, line)
	}
}

// renderProjects prints one line per project.
func renderProjects(w io.Writer, projects []storage.ProjectState) {
	if len(projects) == 0 {
		fmt.Fprintln(w, subtleStyle.Render("no projects"))
		return
	}
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%-36s  %-13s  %-16s  %s", "ID", "PHASE", "UPDATED", "NAME")))
	for _, p := range projects {
		fmt.Fprintf(w, "%-36s  %-13s  %-16s  %s\n", p.ID, p.Phase, p.UpdatedAt.Local().Format("2006-01-02 15:04"), p.Name)
	}
}

func planLine(p *plan.Plan) string {
	if p == nil {
		return subtleStyle.Render("none")
	}
	line := fmt.Sprintf("%d nodes, complexity %d (%s)", len(p.Nodes), p.ComplexityScore, p.ComplexityLevel)
	if p.Fallback {
		line += subtleStyle.Render(" fallback")
	}
	return line
}

func progressLine(ev progress.Evaluation) string {
	return statusStyle(ev.Status).Render(fmt.Sprintf("%.0f%% %s", ev.CompletionPercentage, ev.Status)) +
		subtleStyle.Render(fmt.Sprintf(" (%d/%d, %s)", ev.Completed, ev.Total, ev.Phase))
}

func countsLine(c storage.StatusCounts) string {
	return fmt.Sprintf("%d completed, %d failed, %d pending, %d in progress", c.Completed, c.Failed, c.Pending, c.InProgress)
}
