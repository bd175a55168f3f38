package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/overhuman/foreman/internal/storage"
)

// Default bounds for the earlier work shown in a prompt.
const (
	DefaultMaxPriorTasks = 5
	DefaultMaxCodeBytes  = 8000
)

// PriorWork is a completed task the current one builds on.
type PriorWork struct {
	Title       string
	Description string
	Explanation string
	Artifact    string
	Dependency  bool // the current task depends on it
}

// ProjectContext is the earlier work of a project, as shown to the oracle.
type ProjectContext struct {
	Completed     []PriorWork
	LatestCode    string
	LatestFile    string
	LatestLang    string
	CodeTruncated bool
}

// Empty reports whether there is nothing to show.
func (pc ProjectContext) Empty() bool {
	return len(pc.Completed) == 0 && pc.LatestCode == ""
}

// ContextProvider gathers the earlier work a task builds on.
type ContextProvider interface {
	Context(ctx context.Context, task storage.Task) (ProjectContext, error)
}

// StoreContext reads earlier work from the task store and the artifacts
// completed tasks left on disk. Completed dependencies are always included;
// the remaining slots go to the most recent other completed tasks.
type StoreContext struct {
	store    storage.Store
	maxTasks int
	maxCode  int
}

// NewStoreContext returns a provider with the default bounds.
func NewStoreContext(store storage.Store) *StoreContext {
	return &StoreContext{store: store, maxTasks: DefaultMaxPriorTasks, maxCode: DefaultMaxCodeBytes}
}

type priorTask struct {
	work PriorWork
	lang string
}

// Context implements ContextProvider.
func (c *StoreContext) Context(ctx context.Context, task storage.Task) (ProjectContext, error) {
	done, err := c.store.ListTasks(ctx, task.ProjectID, storage.StatusCompleted)
	if err != nil {
		return ProjectContext{}, fmt.Errorf("worker: project context: %w", err)
	}

	deps := make(map[string]bool, len(task.Dependencies))
	for _, d := range task.Dependencies {
		deps[d] = true
	}

	var depWork, other []priorTask
	for _, t := range done {
		if t.ID == task.ID {
			continue
		}
		var res Result
		// Results from other workers may not decode; the title still helps.
		_ = json.Unmarshal(t.Result, &res)
		p := priorTask{
			work: PriorWork{
				Title:       t.Title,
				Description: t.Description,
				Explanation: res.Explanation,
				Artifact:    res.Artifact,
				Dependency:  t.PlanTaskID != "" && deps[t.PlanTaskID],
			},
			lang: res.Language,
		}
		if p.work.Dependency {
			depWork = append(depWork, p)
		} else {
			other = append(other, p)
		}
	}

	chosen := append([]priorTask(nil), depWork...)
	var recent []priorTask
	for i := len(other) - 1; i >= 0 && len(chosen)+len(recent) < c.maxTasks; i-- {
		recent = append(recent, other[i])
	}
	// Back to insertion order.
	for i := len(recent) - 1; i >= 0; i-- {
		chosen = append(chosen, recent[i])
	}

	var pc ProjectContext
	for _, p := range chosen {
		pc.Completed = append(pc.Completed, p.work)
	}
	c.latestCode(&pc, depWork, chosen)
	return pc, nil
}

// latestCode loads the newest readable artifact, preferring dependencies.
func (c *StoreContext) latestCode(pc *ProjectContext, groups ...[]priorTask) {
	for _, group := range groups {
		for i := len(group) - 1; i >= 0; i-- {
			p := group[i]
			if p.work.Artifact == "" {
				continue
			}
			data, err := os.ReadFile(p.work.Artifact)
			if err != nil || len(data) == 0 {
				continue
			}
			code := string(data)
			if len(code) > c.maxCode {
				code = code[:c.maxCode]
				pc.CodeTruncated = true
			}
			pc.LatestCode = code
			pc.LatestFile = filepath.Base(p.work.Artifact)
			pc.LatestLang = p.lang
			return
		}
	}
}

// writeContext renders earlier work into a prompt.
func writeContext(b *strings.Builder, pc ProjectContext) {
	if pc.Empty() {
		return
	}
	if len(pc.Completed) > 0 {
		fmt.Fprintf(b, "PREVIOUS COMPLETED TASKS (%d):\n", len(pc.Completed))
		for i, w := range pc.Completed {
			fmt.Fprintf(b, "%d. %s", i+1, w.Title)
			if w.Dependency {
				b.WriteString(" (dependency)")
			}
			b.WriteString("\n")
			if w.Description != "" {
				fmt.Fprintf(b, "   - Description: %s\n", w.Description)
			}
			if w.Explanation != "" {
				fmt.Fprintf(b, "   - Implementation: %s\n", w.Explanation)
			}
			if w.Artifact != "" {
				fmt.Fprintf(b, "   - File: %s\n", filepath.Base(w.Artifact))
			}
		}
		b.WriteString("\n")
	}
	if pc.LatestCode != "" {
		fmt.Fprintf(b, "LATEST CODE (%s):\n```%s\n%s\n```\n", pc.LatestFile, pc.LatestLang, pc.LatestCode)
		if pc.CodeTruncated {
			b.WriteString("(truncated)\n")
		}
		b.WriteString("Build upon the existing code rather than starting from scratch. " +
			"Keep what works and stay consistent with the existing implementation.\n\n")
	}
}
