package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	mu  sync.RWMutex
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite-backed store.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		parent_id   TEXT NOT NULL,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		data        TEXT,
		status      TEXT NOT NULL,
		priority    INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		result      TEXT,
		error       TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_queue ON tasks(parent_id, status, priority DESC, created_at);
	CREATE TABLE IF NOT EXISTS project_state (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		objective  TEXT NOT NULL,
		phase      TEXT NOT NULL,
		metadata   TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, v)
	}
	return t
}

// CreateProject inserts a project in the planning phase.
func (s *SQLiteStore) CreateProject(ctx context.Context, name, objective string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO project_state (id, name, objective, phase, metadata, created_at, updated_at)
		VALUES (?, ?, ?, 'planning', NULL, ?, ?)`,
		id, name, objective, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("create project: %w", err)
	}
	return id, nil
}

// GetProject returns a project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*ProjectState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, objective, phase, metadata, created_at, updated_at
		FROM project_state WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %q: %w", id, err)
	}
	return p, nil
}

// UpdateProjectPhase records a new phase, and replaces metadata when given.
func (s *SQLiteStore) UpdateProjectPhase(ctx context.Context, id, phase string, metadata json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res sql.Result
		err error
	)
	if metadata != nil {
		res, err = s.db.ExecContext(ctx,
			"UPDATE project_state SET phase = ?, metadata = ?, updated_at = ? WHERE id = ?",
			phase, string(metadata), s.stamp(), id)
	} else {
		res, err = s.db.ExecContext(ctx,
			"UPDATE project_state SET phase = ?, updated_at = ? WHERE id = ?",
			phase, s.stamp(), id)
	}
	if err != nil {
		return fmt.Errorf("update project %q: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %q: %w", id, ErrNotFound)
	}
	return nil
}

// ListProjects returns all projects, newest first.
func (s *SQLiteStore) ListProjects(ctx context.Context) ([]ProjectState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, objective, phase, metadata, created_at, updated_at
		FROM project_state ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []ProjectState
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// AddTask inserts a task as pending. A missing id is generated.
func (s *SQLiteStore) AddTask(ctx context.Context, t Task) (string, error) {
	if strings.TrimSpace(t.ProjectID) == "" {
		return "", fmt.Errorf("add task: project id is required")
	}
	if strings.TrimSpace(t.Title) == "" {
		return "", fmt.Errorf("add task: title is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	data, err := json.Marshal(taskData{
		Domain:          t.Domain,
		Deliverable:     t.Deliverable,
		Dependencies:    t.Dependencies,
		PlanTaskID:      t.PlanTaskID,
		EstimatedEffort: t.EstimatedEffort,
		Source:          t.Source,
		Attempt:         t.Attempt,
	})
	if err != nil {
		return "", fmt.Errorf("encode task data: %w", err)
	}

	now := s.stamp()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, parent_id, title, description, data, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ProjectID, t.Title, t.Description, string(data), string(StatusPending), t.Priority, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("add task %q: %w", t.Title, err)
	}
	return t.ID, nil
}

const taskColumns = "id, parent_id, title, description, data, status, priority, created_at, updated_at, result, error"

// GetTask returns a task by id.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %q: %w", id, err)
	}
	return t, nil
}

// NextPending returns the next task to run: highest priority first, then
// oldest, then insertion order. Returns nil, nil when the queue is empty.
func (s *SQLiteStore) NextPending(ctx context.Context, projectID string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, "SELECT "+taskColumns+` FROM tasks
		WHERE parent_id = ? AND status = ?
		ORDER BY priority DESC, created_at ASC, rowid ASC
		LIMIT 1`, projectID, string(StatusPending))
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending: %w", err)
	}
	return t, nil
}

// UpdateStatus moves a task along its lifecycle. Result and error are
// stored only when non-empty.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status TaskStatus, result json.RawMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read status %q: %w", id, err)
	}
	if !CanTransition(TaskStatus(current), status) {
		return fmt.Errorf("task %q %s -> %s: %w", id, current, status, ErrInvalidTransition)
	}

	var resultVal, errVal *string
	if len(result) > 0 {
		v := string(result)
		resultVal = &v
	}
	if errMsg != "" {
		errVal = &errMsg
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?,
			result = COALESCE(?, result),
			error = COALESCE(?, error)
		WHERE id = ?`,
		string(status), s.stamp(), resultVal, errVal, id)
	if err != nil {
		return fmt.Errorf("update status %q: %w", id, err)
	}
	return tx.Commit()
}

// ListTasks returns a project's tasks in insertion order.
func (s *SQLiteStore) ListTasks(ctx context.Context, projectID string, statuses ...TaskStatus) ([]Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + taskColumns + " FROM tasks WHERE parent_id = ?"
	args := []any{projectID}
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, st := range statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += " AND status IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// CountByStatus tallies a project's tasks by status.
func (s *SQLiteStore) CountByStatus(ctx context.Context, projectID string) (StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT status, COUNT(*) FROM tasks WHERE parent_id = ? GROUP BY status", projectID)
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	var c StatusCounts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return StatusCounts{}, fmt.Errorf("scan count: %w", err)
		}
		switch TaskStatus(status) {
		case StatusPending:
			c.Pending = n
		case StatusInProgress:
			c.InProgress = n
		case StatusCompleted:
			c.Completed = n
		case StatusFailed:
			c.Failed = n
		}
	}
	return c, rows.Err()
}

// Close shuts down the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*Task, error) {
	var (
		t                    Task
		status               string
		data, result, errMsg sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &data, &status,
		&t.Priority, &createdAt, &updatedAt, &result, &errMsg); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if result.Valid && result.String != "" {
		t.Result = json.RawMessage(result.String)
	}
	t.Error = errMsg.String
	if data.Valid && data.String != "" {
		var d taskData
		if err := json.Unmarshal([]byte(data.String), &d); err != nil {
			return nil, fmt.Errorf("decode task data %q: %w", t.ID, err)
		}
		t.Domain = d.Domain
		t.Deliverable = d.Deliverable
		t.Dependencies = d.Dependencies
		t.PlanTaskID = d.PlanTaskID
		t.EstimatedEffort = d.EstimatedEffort
		t.Source = d.Source
		t.Attempt = d.Attempt
	}
	return &t, nil
}

func scanProject(row scanner) (*ProjectState, error) {
	var (
		p                    ProjectState
		metadata             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Objective, &p.Phase, &metadata, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" {
		p.Metadata = json.RawMessage(metadata.String)
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}
