// Package storage is the durable task record store.
//
// It owns two tables: tasks (the work queue, scoped to a project through
// parent_id) and project_state (one summary row per project). Rows are never
// deleted; terminal tasks stay behind for evaluation and audit.
//
// SQLiteStore is the default implementation using pure-Go SQLite
// (modernc.org/sqlite).
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a task or project does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidTransition is returned when a status change would move a
	// task backwards or skip in_progress.
	ErrInvalidTransition = errors.New("storage: invalid status transition")
)

// TaskStatus is the lifecycle state of a task record.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusInProgress
	case StatusInProgress:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}

// Source records which component created a task.
type Source string

const (
	SourcePlan        Source = "plan"
	SourceRemediation Source = "remediation"
	SourceDirect      Source = "direct"
)

// Task is a unit of work in the queue.
type Task struct {
	ID              string          `json:"id"`
	ProjectID       string          `json:"project_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Status          TaskStatus      `json:"status"`
	Priority        int             `json:"priority"`
	Domain          string          `json:"domain,omitempty"`
	Deliverable     string          `json:"deliverable,omitempty"`
	Dependencies    []string        `json:"dependencies,omitempty"` // plan node ids
	PlanTaskID      string          `json:"plan_task_id,omitempty"`
	EstimatedEffort string          `json:"estimated_effort,omitempty"`
	Source          Source          `json:"source,omitempty"`
	Attempt         int             `json:"attempt,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           string          `json:"error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// taskData is the JSON blob stored in the tasks.data column.
type taskData struct {
	Domain          string   `json:"domain,omitempty"`
	Deliverable     string   `json:"deliverable,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	PlanTaskID      string   `json:"plan_task_id,omitempty"`
	EstimatedEffort string   `json:"estimated_effort,omitempty"`
	Source          Source   `json:"source,omitempty"`
	Attempt         int      `json:"attempt,omitempty"`
}

// ProjectState is the persisted summary of one project.
type ProjectState struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Objective string          `json:"objective"`
	Phase     string          `json:"phase"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StatusCounts tallies a project's tasks by status.
type StatusCounts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Total returns the number of task records counted.
func (c StatusCounts) Total() int {
	return c.Pending + c.InProgress + c.Completed + c.Failed
}

// Store is the task record store interface.
type Store interface {
	// CreateProject inserts a project_state row and returns its id.
	CreateProject(ctx context.Context, name, objective string) (string, error)

	// GetProject returns the project or ErrNotFound.
	GetProject(ctx context.Context, id string) (*ProjectState, error)

	// UpdateProjectPhase records a phase and, when metadata is non-nil,
	// replaces the metadata blob.
	UpdateProjectPhase(ctx context.Context, id, phase string, metadata json.RawMessage) error

	// ListProjects returns all projects, newest first.
	ListProjects(ctx context.Context) ([]ProjectState, error)

	// AddTask inserts a pending task and returns its id.
	AddTask(ctx context.Context, t Task) (string, error)

	// GetTask returns the task or ErrNotFound.
	GetTask(ctx context.Context, id string) (*Task, error)

	// NextPending returns the highest-priority pending task of a project,
	// or nil when none is pending.
	NextPending(ctx context.Context, projectID string) (*Task, error)

	// UpdateStatus moves a task to a new status.
	UpdateStatus(ctx context.Context, id string, status TaskStatus, result json.RawMessage, errMsg string) error

	// ListTasks returns a project's tasks in insertion order, optionally
	// filtered by status.
	ListTasks(ctx context.Context, projectID string, statuses ...TaskStatus) ([]Task, error)

	// CountByStatus tallies a project's tasks.
	CountByStatus(ctx context.Context, projectID string) (StatusCounts, error)

	// Close shuts down the store.
	Close() error
}
