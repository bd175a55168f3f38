package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/overhuman/foreman/internal/lock"
	"github.com/overhuman/foreman/internal/observability"
	"github.com/overhuman/foreman/internal/pipeline"
)

func newStatusCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status <project-id>",
		Short: "Show progress of a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := pipeline.New(pipeline.Dependencies{Store: store, Logger: observability.Discard()})
			sum, err := runner.Summary(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderSummary(cmd.OutOrStdout(), sum, cfg.Loop.SatisfactionThreshold)
			if cfg.Database != memoryDB {
				if pid, ok := lock.ForDatabase(cfg.Database).Holder(); ok {
					fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(fmt.Sprintf("run in progress (pid %d)", pid)))
				}
			}
			return nil
		},
	}
}

func newProjectsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.load()
			if err != nil {
				return err
			}
			store, err := openStore(cfg.Database)
			if err != nil {
				return err
			}
			defer store.Close()

			projects, err := store.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			renderProjects(cmd.OutOrStdout(), projects)
			return nil
		},
	}
}
