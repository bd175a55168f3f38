package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/overhuman/foreman/internal/brain"
	"github.com/overhuman/foreman/internal/sandbox"
	"github.com/overhuman/foreman/internal/storage"
)

// ErrNoSolution is returned when the oracle reply holds neither solution
// JSON nor a code block.
var ErrNoSolution = errors.New("worker: no solution in reply")

// Solution is the generated deliverable for one task.
type Solution struct {
	Language    string `json:"language"`
	Filename    string `json:"filename"`
	Code        string `json:"code"`
	Explanation string `json:"explanation"`
}

// defaultExtension maps languages to file extensions.
var defaultExtension = map[string]string{
	"python":     ".py",
	"javascript": ".js",
	"typescript": ".ts",
	"html":       ".html",
	"css":        ".css",
	"bash":       ".sh",
	"sh":         ".sh",
	"go":         ".go",
	"ruby":       ".rb",
	"java":       ".java",
	"sql":        ".sql",
	"markdown":   ".md",
	"md":         ".md",
	"text":       ".txt",
}

const solutionFormat = `Respond with JSON only:
{"language": "python", "filename": "snake_case_name.ext", "code": "complete file contents", "explanation": "brief explanation of the approach"}`

const taskHeader = `TASK: %s
DESCRIPTION: %s
DELIVERABLE: %s
`

// buildPrompt renders the solution prompt for an approach, with the
// project's earlier work between the task and the output instructions.
func buildPrompt(task storage.Task, cls Classification, prose bool, pc ProjectContext) string {
	deliverable := task.Deliverable
	if deliverable == "" {
		deliverable = "Working solution"
	}
	var b strings.Builder
	switch cls.Approach {
	case ApproachSpecialized:
		fmt.Fprintf(&b, "You are an expert in the %s domain. Produce a complete, working deliverable.\n\n", cls.Primary)
	case ApproachCautious:
		fmt.Fprintf(&b, "This task appears to belong to the %s domain (confidence %.2f). "+
			"Apply %s practices where they clearly fit and fall back to sound general practice otherwise.\n\n",
			cls.Primary, cls.Confidence, cls.Primary)
	case ApproachHybrid:
		fmt.Fprintf(&b, "This task spans two domains: %s and %s. "+
			"Combine the practices of both into one coherent deliverable.\n\n", cls.Primary, cls.Secondary)
	case ApproachGenericFallback:
		b.WriteString("Complete the following task systematically and practically.\n\n")
		if cls.Reason != "" {
			fmt.Fprintf(&b, "FALLBACK REASON: %s\n\n", cls.Reason)
		}
	}
	fmt.Fprintf(&b, taskHeader, task.Title, task.Description, deliverable)
	b.WriteString("\n")
	writeContext(&b, pc)
	if prose {
		b.WriteString("Write the content in clear, professional prose using markdown. Use language \"markdown\".\n\n")
	} else {
		b.WriteString("Write one self-contained file. Prefer Python unless the task clearly needs another language. " +
			"The program must run without user input and print a short confirmation of what it did.\n\n")
	}
	b.WriteString(solutionFormat)
	return b.String()
}

// parseSolution decodes the JSON reply, falling back to the first fenced
// code block.
func parseSolution(reply string) (Solution, error) {
	var s Solution
	if err := brain.DecodeJSON(reply, &s); err == nil && strings.TrimSpace(s.Code) != "" {
		s.Language = strings.ToLower(strings.TrimSpace(s.Language))
		return s, nil
	}
	code, lang, ok := brain.CodeBlock(reply)
	if !ok || strings.TrimSpace(code) == "" {
		return Solution{}, ErrNoSolution
	}
	return Solution{Language: lang, Code: code}, nil
}

// generate asks the oracle for a solution. Cautious classifications retry
// once with the generic prompt when the first reply cannot be parsed.
func (w *Worker) generate(ctx context.Context, task storage.Task, cls Classification) (Solution, error) {
	prose := w.classifier.Table().IsProse(cls.Primary)
	pc := w.projectContext(ctx, task)
	reply, err := w.oracle.Complete(ctx, buildPrompt(task, cls, prose, pc))
	if err != nil {
		return Solution{}, fmt.Errorf("generate: %w", err)
	}
	sol, err := parseSolution(reply)
	if err != nil && cls.Approach == ApproachCautious {
		w.logger.Fallback("solution", err, "task_id", task.ID)
		generic := cls
		generic.Approach = ApproachGenericFallback
		generic.Reason = "specialized reply could not be parsed"
		reply, err = w.oracle.Complete(ctx, buildPrompt(task, generic, prose, pc))
		if err != nil {
			return Solution{}, fmt.Errorf("generate: %w", err)
		}
		sol, err = parseSolution(reply)
	}
	if err != nil {
		return Solution{}, fmt.Errorf("generate: %w", err)
	}

	sol.Language = sandbox.NormalizeLanguage(sol.Language)
	if sol.Language == "" {
		sol.Language = "python"
		if prose {
			sol.Language = "markdown"
		}
	}
	sol.Filename = cleanFilename(sol.Filename, task.Title, sol.Language)
	return sol, nil
}

// projectContext returns the earlier work for task. Failures degrade to an
// empty context.
func (w *Worker) projectContext(ctx context.Context, task storage.Task) ProjectContext {
	if w.history == nil {
		return ProjectContext{}
	}
	pc, err := w.history.Context(ctx, task)
	if err != nil {
		w.logger.Fallback("context", err, "task_id", task.ID)
		return ProjectContext{}
	}
	return pc
}

// cleanFilename keeps only the base name and derives one from the title
// when missing.
func cleanFilename(name, title, lang string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "." || name == "/" || name == ".." {
		name = ""
	}
	if name == "" {
		name = Slug(title)
		if name == "" {
			name = "solution"
		}
		name = strings.ReplaceAll(name, "-", "_")
	}
	if filepath.Ext(name) == "" {
		ext, ok := defaultExtension[lang]
		if !ok {
			ext = ".txt"
		}
		name += ext
	}
	return name
}
