// Package sandbox runs generated programs in a subprocess with hard time
// bounds.
//
// Non-interactive programs run to completion under Config.Timeout. Programs
// that open a window never exit on their own, so they get a startup probe
// instead: if the process is still alive after Config.ProbeDelay it is
// counted as started and shut down. Shutdown sends an interrupt first and a
// kill once Config.Grace has passed.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/overhuman/foreman/internal/observability"
)

// ErrUnsupported is returned for languages with no interpreter.
var ErrUnsupported = errors.New("sandbox: unsupported language")

// maxOutput bounds captured stdout and stderr each.
const maxOutput = 64 * 1024

// Program is code to execute.
type Program struct {
	Language string
	Code     string
	// Dir is the working directory; empty means the current one.
	Dir string
	// GUI selects the startup probe instead of run-to-completion.
	GUI bool
}

// Result is the outcome of one execution.
type Result struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	Elapsed  time.Duration `json:"elapsed"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Probed   bool          `json:"probed,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Interpreter describes how to run one language.
type Interpreter struct {
	Command   []string
	Extension string
}

// Config bounds execution.
type Config struct {
	Timeout      time.Duration
	ProbeDelay   time.Duration
	Grace        time.Duration
	Interpreters map[string]Interpreter
}

// DefaultInterpreters maps language names to commands.
func DefaultInterpreters() map[string]Interpreter {
	return map[string]Interpreter{
		"python":     {Command: []string{"python3"}, Extension: ".py"},
		"javascript": {Command: []string{"node"}, Extension: ".js"},
		"bash":       {Command: []string{"bash"}, Extension: ".sh"},
		"sh":         {Command: []string{"sh"}, Extension: ".sh"},
		"ruby":       {Command: []string{"ruby"}, Extension: ".rb"},
		"go":         {Command: []string{"go", "run"}, Extension: ".go"},
	}
}

// DefaultConfig returns the default bounds: 15s run, 3s probe, 5s grace.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		ProbeDelay:   3 * time.Second,
		Grace:        5 * time.Second,
		Interpreters: DefaultInterpreters(),
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(l *observability.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// Runner executes programs.
type Runner struct {
	cfg    Config
	logger *observability.Logger
}

// New creates a runner. Zero durations take their defaults.
func New(cfg Config, opts ...Option) *Runner {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.ProbeDelay <= 0 {
		cfg.ProbeDelay = def.ProbeDelay
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.Interpreters == nil {
		cfg.Interpreters = def.Interpreters
	}
	r := &Runner{cfg: cfg, logger: observability.Discard()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeLanguage folds common aliases onto interpreter names.
func NormalizeLanguage(lang string) string {
	switch l := strings.ToLower(strings.TrimSpace(lang)); l {
	case "py", "python3":
		return "python"
	case "js", "node", "nodejs":
		return "javascript"
	case "shell":
		return "bash"
	case "golang":
		return "go"
	case "rb":
		return "ruby"
	default:
		return l
	}
}

// Supports reports whether lang can be executed.
func (r *Runner) Supports(lang string) bool {
	_, ok := r.cfg.Interpreters[NormalizeLanguage(lang)]
	return ok
}

// Run executes the program. Execution failures are reported in Result; an
// error means the program could not be started at all.
func (r *Runner) Run(ctx context.Context, p Program) (Result, error) {
	interp, ok := r.cfg.Interpreters[NormalizeLanguage(p.Language)]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnsupported, p.Language)
	}

	f, err := os.CreateTemp("", "foreman-*"+interp.Extension)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.WriteString(p.Code); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("sandbox: write program: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, fmt.Errorf("sandbox: write program: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	args := append(append([]string(nil), interp.Command[1:]...), path)
	cmd := exec.CommandContext(runCtx, interp.Command[0], args...)
	cmd.Dir = p.Dir
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = r.cfg.Grace

	stdout := &limitedBuffer{max: maxOutput}
	stderr := &limitedBuffer{max: maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("sandbox: start %s: %w", interp.Command[0], err)
	}
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var res Result
	var waitErr error
	if p.GUI {
		probe := time.NewTimer(r.cfg.ProbeDelay)
		select {
		case waitErr = <-done:
			probe.Stop()
		case <-probe.C:
			res.Probed = true
			cancel()
			<-done
		}
	} else {
		waitErr = <-done
	}
	res.Elapsed = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	switch {
	case res.Probed:
		res.Success = true
	case runCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
		res.ExitCode = -1
		res.Error = fmt.Sprintf("execution timed out after %s", r.cfg.Timeout)
	case waitErr != nil:
		res.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		}
		res.Error = describeFailure(p.GUI, waitErr, res.Stderr)
	default:
		res.Success = true
	}

	r.logger.Debug("program executed",
		"language", p.Language,
		"gui", p.GUI,
		"success", res.Success,
		"exit_code", res.ExitCode,
		"timed_out", res.TimedOut,
		"elapsed_ms", res.Elapsed.Milliseconds(),
	)
	return res, nil
}

func describeFailure(gui bool, err error, stderr string) string {
	prefix := "execution failed"
	if gui {
		prefix = "GUI application failed to start"
	}
	if s := strings.TrimSpace(stderr); s != "" {
		return fmt.Sprintf("%s: %v: %s", prefix, err, s)
	}
	return fmt.Sprintf("%s: %v", prefix, err)
}

// guiIndicators mark programs that open a window and block in an event loop.
var guiIndicators = []string{
	"tkinter",
	"tk()",
	".mainloop()",
	"pygame.display",
	"pyqt",
	"pyside",
	"wx.app",
	"turtle.done",
}

// IsGUI reports whether code looks like a windowed program.
func IsGUI(code string) bool {
	lower := strings.ToLower(code)
	for _, ind := range guiIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}

// limitedBuffer keeps the first max bytes written and drops the rest.
type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
