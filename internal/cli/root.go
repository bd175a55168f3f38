// Package cli implements the foreman command tree.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/overhuman/foreman/internal/config"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/storage"
)

const (
	version = "0.1.0"
	appName = "foreman"

	memoryDB = ":memory:"
)

// options holds flags shared by every command.
type options struct {
	configPath string
	dbPath     string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:   appName,
		Short: "Plan an objective into a task graph and drive it to a validated result",
		Long: `foreman breaks an objective into a dependency graph of tasks, executes them in
priority order, checks the result from the requester's point of view and runs
bounded improvement rounds until the requester would be satisfied.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default "+config.DefaultFile+" when present)")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "task database path (overrides config)")

	root.AddCommand(
		newRunCmd(opts),
		newStatusCmd(opts),
		newProjectsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s v%s\n", appName, version)
		},
	}
}

// load reads the config and applies the shared flags.
func (o *options) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if o.dbPath != "" {
		cfg.Database = o.dbPath
	}
	return cfg, nil
}

// openStore opens the database, creating its directory when needed.
func openStore(path string) (*storage.SQLiteStore, error) {
	if path != memoryDB {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
	}
	return storage.NewSQLiteStore(path)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newLogger writes JSON logs to the configured file, or to stderr.
func newLogger(cfg config.LogConfig, stderr io.Writer) (*observability.Logger, io.Closer, error) {
	level := observability.ParseLevel(cfg.Level)
	if cfg.File == "" {
		return observability.NewLoggerWithLevel(appName, stderr, level), nopCloser{}, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return observability.NewLoggerWithLevel(appName, f, level), f, nil
}
