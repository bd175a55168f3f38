package storage

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// Deterministic, strictly increasing clock.
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestProject(t *testing.T, s *SQLiteStore) string {
	t.Helper()
	id, err := s.CreateProject(context.Background(), "calc", "build a calculator")
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestNewSQLiteStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "foreman.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.CreateProject(context.Background(), "p", "o"); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteStore_Projects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id := newTestProject(t, s)
	p, err := s.GetProject(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Phase != "planning" {
		t.Errorf("Phase = %q, want planning", p.Phase)
	}
	if p.Objective != "build a calculator" {
		t.Errorf("Objective = %q", p.Objective)
	}

	meta := json.RawMessage(`{"complexity_score":2}`)
	if err := s.UpdateProjectPhase(ctx, id, "development", meta); err != nil {
		t.Fatal(err)
	}
	// Nil metadata keeps the previous blob.
	if err := s.UpdateProjectPhase(ctx, id, "integration", nil); err != nil {
		t.Fatal(err)
	}
	p, _ = s.GetProject(ctx, id)
	if p.Phase != "integration" {
		t.Errorf("Phase = %q", p.Phase)
	}
	if string(p.Metadata) != string(meta) {
		t.Errorf("Metadata = %s", p.Metadata)
	}
	if !p.UpdatedAt.After(p.CreatedAt) {
		t.Errorf("UpdatedAt %v not after CreatedAt %v", p.UpdatedAt, p.CreatedAt)
	}

	second := newTestProject(t, s)
	list, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].ID != second {
		t.Errorf("ListProjects = %+v, want newest first", list)
	}
}

func TestSQLiteStore_ProjectNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetProject(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject err = %v, want ErrNotFound", err)
	}
	if err := s.UpdateProjectPhase(ctx, "missing", "development", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProjectPhase err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_AddGetTask(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	id, err := s.AddTask(ctx, Task{
		ProjectID:       pid,
		Title:           "Core",
		Description:     "core logic",
		Priority:        9,
		Domain:          "code",
		Deliverable:     "calc.py",
		Dependencies:    []string{"task_0"},
		PlanTaskID:      "task_1",
		EstimatedEffort: "medium",
		Source:          SourcePlan,
		Attempt:         1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty id")
	}

	got, err := s.GetTask(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %q", got.Status)
	}
	if got.PlanTaskID != "task_1" || got.Domain != "code" || got.Source != SourcePlan || got.Attempt != 1 {
		t.Errorf("data blob not round-tripped: %+v", got)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0] != "task_0" {
		t.Errorf("Dependencies = %v", got.Dependencies)
	}

	if _, err := s.GetTask(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_AddTaskValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddTask(ctx, Task{Title: "x"}); err == nil {
		t.Error("expected error for missing project id")
	}
	if _, err := s.AddTask(ctx, Task{ProjectID: "p", Title: "  "}); err == nil {
		t.Error("expected error for blank title")
	}
}

func TestSQLiteStore_NextPendingOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)
	other := newTestProject(t, s)

	add := func(project, title string, prio int) string {
		t.Helper()
		id, err := s.AddTask(ctx, Task{ProjectID: project, Title: title, Priority: prio})
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	add(other, "foreign", 1000)
	low := add(pid, "low", 1)
	firstHigh := add(pid, "high-a", 8)
	secondHigh := add(pid, "high-b", 8)

	want := []string{firstHigh, secondHigh, low}
	for i, w := range want {
		next, err := s.NextPending(ctx, pid)
		if err != nil {
			t.Fatal(err)
		}
		if next == nil || next.ID != w {
			t.Fatalf("pull %d = %+v, want %s", i, next, w)
		}
		if err := s.UpdateStatus(ctx, next.ID, StatusInProgress, nil, ""); err != nil {
			t.Fatal(err)
		}
	}

	next, err := s.NextPending(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("expected empty queue, got %+v", next)
	}
}

func TestSQLiteStore_UpdateStatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	id, _ := s.AddTask(ctx, Task{ProjectID: pid, Title: "t"})

	// pending -> completed skips in_progress.
	if err := s.UpdateStatus(ctx, id, StatusCompleted, nil, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if err := s.UpdateStatus(ctx, id, StatusInProgress, nil, ""); err != nil {
		t.Fatal(err)
	}
	result := json.RawMessage(`{"ok":true}`)
	if err := s.UpdateStatus(ctx, id, StatusCompleted, result, ""); err != nil {
		t.Fatal(err)
	}
	// Completed is terminal.
	for _, to := range []TaskStatus{StatusPending, StatusInProgress, StatusFailed, StatusCompleted} {
		if err := s.UpdateStatus(ctx, id, to, nil, ""); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("completed -> %s err = %v, want ErrInvalidTransition", to, err)
		}
	}

	got, _ := s.GetTask(ctx, id)
	if got.Status != StatusCompleted || string(got.Result) != `{"ok":true}` {
		t.Errorf("task = %+v", got)
	}

	if err := s.UpdateStatus(ctx, "missing", StatusInProgress, nil, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_FailedKeepsError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	id, _ := s.AddTask(ctx, Task{ProjectID: pid, Title: "t"})
	s.UpdateStatus(ctx, id, StatusInProgress, nil, "")
	if err := s.UpdateStatus(ctx, id, StatusFailed, nil, "syntax error"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetTask(ctx, id)
	if got.Error != "syntax error" {
		t.Errorf("Error = %q", got.Error)
	}
}

func TestSQLiteStore_ListAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	pid := newTestProject(t, s)

	var ids []string
	for _, title := range []string{"a", "b", "c", "d"} {
		id, _ := s.AddTask(ctx, Task{ProjectID: pid, Title: title})
		ids = append(ids, id)
	}
	s.UpdateStatus(ctx, ids[0], StatusInProgress, nil, "")
	s.UpdateStatus(ctx, ids[0], StatusCompleted, nil, "")
	s.UpdateStatus(ctx, ids[1], StatusInProgress, nil, "")
	s.UpdateStatus(ctx, ids[1], StatusFailed, nil, "boom")
	s.UpdateStatus(ctx, ids[2], StatusInProgress, nil, "")

	counts, err := s.CountByStatus(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	want := StatusCounts{Pending: 1, InProgress: 1, Completed: 1, Failed: 1}
	if counts != want {
		t.Errorf("counts = %+v, want %+v", counts, want)
	}
	if counts.Total() != 4 {
		t.Errorf("Total = %d", counts.Total())
	}

	all, err := s.ListTasks(ctx, pid)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 || all[0].Title != "a" || all[3].Title != "d" {
		t.Errorf("ListTasks order wrong: %+v", all)
	}

	terminal, err := s.ListTasks(ctx, pid, StatusCompleted, StatusFailed)
	if err != nil {
		t.Fatal(err)
	}
	if len(terminal) != 2 {
		t.Errorf("terminal = %d, want 2", len(terminal))
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusInProgress, StatusPending, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusInProgress, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
	if !StatusFailed.Terminal() || StatusPending.Terminal() {
		t.Error("Terminal classification wrong")
	}
}
