package improvement

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/completeness"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/storage"
)

func report(score int) completeness.Report {
	return completeness.Report{SatisfactionScore: score, BiggestProblem: "no entry point"}
}

func fixedOracle(reply string, err error) brain.Oracle {
	return brain.OracleFunc(func(context.Context, string) (string, error) { return reply, err })
}

func TestShouldContinue(t *testing.T) {
	tests := []struct {
		score, attempt, max int
		want                bool
	}{
		{4, 0, 3, true},
		{4, 2, 3, true},
		{4, 3, 3, false},
		{1, 5, 3, false},
		{7, 0, 3, false},
		{9, 0, 3, false},
		{6, 0, 3, true},
	}
	for _, tt := range tests {
		if got := ShouldContinue(report(tt.score), tt.attempt, tt.max, 7); got != tt.want {
			t.Errorf("ShouldContinue(score=%d, attempt=%d, max=%d) = %v, want %v",
				tt.score, tt.attempt, tt.max, got, tt.want)
		}
	}
}

func TestShouldContinue_FalseAtCapForAnyScore(t *testing.T) {
	for score := 1; score <= 10; score++ {
		if ShouldContinue(report(score), 3, 3, 7) {
			t.Errorf("score %d: continued at the cap", score)
		}
	}
}

func TestLoop_FourthCallStops(t *testing.T) {
	metrics := observability.NewMetricsCollector(10)
	l := New(brain.OfflineOracle{}, DefaultConfig(), WithMetrics(metrics))
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		tasks, ok := l.Iterate(ctx, "snake game", report(4))
		if !ok || len(tasks) != 1 {
			t.Fatalf("call %d: ok=%v tasks=%d", i, ok, len(tasks))
		}
		if l.Attempt() != i {
			t.Errorf("attempt = %d, want %d", l.Attempt(), i)
		}
	}
	tasks, ok := l.Iterate(ctx, "snake game", report(4))
	if ok || tasks != nil {
		t.Errorf("4th call = %v, %v; want stop", tasks, ok)
	}
	if l.Attempt() != 4 {
		t.Errorf("attempt = %d, want 4", l.Attempt())
	}
	if metrics.Counter(observability.CounterImprovementAttempts) != 4 {
		t.Errorf("attempts counter = %d", metrics.Counter(observability.CounterImprovementAttempts))
	}
	if metrics.Counter(observability.CounterRemediationTasks) != 3 {
		t.Errorf("remediation counter = %d", metrics.Counter(observability.CounterRemediationTasks))
	}
}

func TestLoop_SatisfiedStillCounts(t *testing.T) {
	calls := 0
	oracle := brain.OracleFunc(func(context.Context, string) (string, error) {
		calls++
		return "", errors.New("unused")
	})
	l := New(oracle, DefaultConfig())

	tasks, ok := l.Iterate(context.Background(), "x", report(8))
	if ok || len(tasks) != 0 {
		t.Errorf("satisfied report produced work: %v", tasks)
	}
	if l.Attempt() != 1 {
		t.Errorf("attempt = %d, want 1", l.Attempt())
	}
	if calls != 0 {
		t.Error("oracle must not be called when the gate is closed")
	}
}

func TestGenerateRemediationTasks_FromOracle(t *testing.T) {
	var prompt string
	oracle := brain.OracleFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return `{"tasks": [
			{"title": "Add main entry point", "description": "create main.py", "deliverable": "main.py"},
			{"title": "Wire score display", "domain": "ui"},
			{"title": "  "},
			{"title": "Add restart"},
			{"title": "Dropped extra"}
		]}`, nil
	})
	l := New(oracle, DefaultConfig())
	r := completeness.Report{
		SatisfactionScore: 3,
		BiggestProblem:    "cannot start the game",
		QuickFix:          "add main.py",
		MajorGaps:         []string{"no score", "no restart"},
	}
	tasks := l.GenerateRemediationTasks(context.Background(), "snake game", r)

	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}
	wantTitles := []string{"Add main entry point", "Wire score display", "Add restart"}
	for i, task := range tasks {
		if task.Title != wantTitles[i] {
			t.Errorf("tasks[%d].Title = %q", i, task.Title)
		}
		if task.Source != storage.SourceRemediation {
			t.Errorf("tasks[%d].Source = %s", i, task.Source)
		}
		if task.Priority <= BasePriority {
			t.Errorf("tasks[%d].Priority = %d, want > %d", i, task.Priority, BasePriority)
		}
		if i > 0 && task.Priority >= tasks[i-1].Priority {
			t.Errorf("priorities not descending: %d then %d", tasks[i-1].Priority, task.Priority)
		}
	}
	if tasks[1].Domain != "ui" || tasks[2].Domain != "code" {
		t.Errorf("domains = %s, %s", tasks[1].Domain, tasks[2].Domain)
	}
	if tasks[1].Description != "Wire score display" {
		t.Errorf("description default = %q", tasks[1].Description)
	}
	for _, want := range []string{"cannot start the game", "add main.py", "- no score\n- no restart"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestGenerateRemediationTasks_Fallback(t *testing.T) {
	tests := []struct {
		name   string
		oracle brain.Oracle
	}{
		{"offline", brain.OfflineOracle{}},
		{"garbage", fixedOracle("no idea", nil)},
		{"empty list", fixedOracle(`{"tasks": []}`, nil)},
		{"only blank titles", fixedOracle(`{"tasks": [{"title": ""}]}`, nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewMetricsCollector(10)
			l := New(tt.oracle, DefaultConfig(), WithMetrics(metrics))
			tasks := l.GenerateRemediationTasks(context.Background(), "calculator", report(2))
			if len(tasks) != 1 {
				t.Fatalf("tasks = %d, want 1", len(tasks))
			}
			task := tasks[0]
			if task.Title != "Fix usability" || task.Priority <= BasePriority || task.Source != storage.SourceRemediation {
				t.Errorf("fallback task = %+v", task)
			}
			if !strings.Contains(task.Description, "no entry point") {
				t.Errorf("description = %q", task.Description)
			}
			if metrics.Counter(observability.CounterOracleFallbacks) != 1 {
				t.Error("fallback not counted")
			}
		})
	}
}
