package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/overhuman/foreman/internal/config"
	"github.com/overhuman/foreman/internal/lock"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/pipeline"
	"github.com/overhuman/foreman/internal/planner"
	"github.com/overhuman/foreman/internal/sandbox"
	"github.com/overhuman/foreman/internal/security"
)

const maxObjectiveBytes = 64 * 1024

type runOptions struct {
	*options
	artifacts   string
	offline     bool
	noExec      bool
	maxCycles   int
	maxAttempts int
}

func newRunCmd(shared *options) *cobra.Command {
	o := &runOptions{options: shared}
	cmd := &cobra.Command{
		Use:   "run [objective...]",
		Short: "Plan an objective and execute it",
		Long: `Plan an objective into a task graph, execute every task and run improvement
rounds until the result is satisfactory or the attempt limit is reached.

The objective is taken from the arguments. Without arguments it is read from
stdin: a single line when stdin is a terminal, the whole input when piped.`,
		RunE: o.run,
	}
	f := cmd.Flags()
	f.StringVar(&o.artifacts, "artifacts", "", "artifacts root directory (overrides config)")
	f.BoolVar(&o.offline, "offline", false, "run without an oracle, using deterministic fallbacks")
	f.BoolVar(&o.noExec, "no-exec", false, "save generated programs without running them")
	f.IntVar(&o.maxCycles, "max-cycles", 0, "maximum scheduling cycles (overrides config)")
	f.IntVar(&o.maxAttempts, "max-attempts", 0, "maximum improvement rounds (overrides config)")
	return cmd
}

// apply overlays run flags on cfg.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if o.artifacts != "" {
		cfg.Artifacts = o.artifacts
	}
	if o.offline {
		cfg.LLM.Provider = config.ProviderOffline
	}
	if o.noExec {
		cfg.Exec.Disabled = true
	}
	if cmd.Flags().Changed("max-cycles") {
		cfg.Loop.MaxCycles = o.maxCycles
	}
	if cmd.Flags().Changed("max-attempts") {
		cfg.Loop.MaxImprovements = o.maxAttempts
	}
	return cfg.Validate()
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	cfg, err := o.load()
	if err != nil {
		return err
	}
	if err := o.apply(cmd, &cfg); err != nil {
		return err
	}

	objective, err := readObjective(args, cmd.InOrStdin(), cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if objective == "" {
		return fmt.Errorf("no objective given: %w", pipeline.ErrNothingToDo)
	}

	logger, closer, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closer.Close()

	if cfg.Database != memoryDB {
		lk := lock.ForDatabase(cfg.Database)
		if err := lk.Acquire(); err != nil {
			return err
		}
		defer lk.Release()
	}

	store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	metrics := observability.NewMetricsCollector(10000)
	orc := newOracle(cfg, logger, metrics)

	plannerOpts := []planner.Option{
		planner.WithLogger(logger.Component("planner")),
		planner.WithMetrics(metrics),
	}
	if orc.selectPlanner != nil {
		plannerOpts = append(plannerOpts, planner.WithModelSelector(orc.selectPlanner))
	}
	deps := pipeline.Dependencies{
		Store:   store,
		Oracle:  orc.oracle,
		Planner: planner.New(orc.oracle, plannerOpts...),
		Sanitizer: security.NewSanitizer(security.SanitizerConfig{
			MaxInputLength: cfg.Security.MaxInputLength,
			Blocklist:      cfg.Security.Blocklist,
		}),
		Config: pipeline.Config{
			MaxCycles:             cfg.Loop.MaxCycles,
			MaxPulls:              cfg.Loop.MaxPulls,
			BatchSize:             cfg.Loop.BatchSize,
			MaxNodeAttempts:       cfg.Loop.MaxNodeAttempts,
			MaxImprovements:       cfg.Loop.MaxImprovements,
			SatisfactionThreshold: cfg.Loop.SatisfactionThreshold,
			ArtifactsDir:          cfg.Artifacts,
		},
		Logger:  logger,
		Metrics: metrics,
	}
	if !cfg.Exec.Disabled {
		deps.Executor = sandbox.New(sandbox.Config{
			Timeout:    cfg.Exec.Timeout,
			ProbeDelay: cfg.Exec.ProbeDelay,
			Grace:      cfg.Exec.Grace,
		}, sandbox.WithLogger(logger.Component("sandbox")))
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("run started", "provider", orc.provider, "database", cfg.Database)
	res, err := pipeline.New(deps).Run(ctx, objective)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	renderResult(out, res, cfg.Loop.SatisfactionThreshold)
	renderUsage(out, metrics, orc.budget)
	return nil
}

// readObjective joins args, or reads stdin: one prompted line on a
// terminal, the whole input otherwise.
func readObjective(args []string, in io.Reader, out io.Writer) (string, error) {
	if len(args) > 0 {
		return strings.TrimSpace(strings.Join(args, " ")), nil
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(out, "Objective: ")
		line, err := bufio.NewReader(f).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read objective: %w", err)
		}
		return strings.TrimSpace(line), nil
	}
	data, err := io.ReadAll(io.LimitReader(in, maxObjectiveBytes))
	if err != nil {
		return "", fmt.Errorf("read objective: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
