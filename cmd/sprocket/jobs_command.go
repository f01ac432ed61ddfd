package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"sprocket/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent engine runs from the audit store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cfg.Jobs.Enabled {
				return fmt.Errorf("job auditing is disabled; enable [jobs] in the configuration")
			}

			store, err := jobs.Open(cfg.JobsPath())
			if err != nil {
				return fmt.Errorf("open job store: %w", err)
			}
			defer store.Close()

			recent, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd, recent)
			}

			out := cmd.OutOrStdout()
			if len(recent) == 0 {
				fmt.Fprintln(out, "No recorded runs")
				return nil
			}

			rows := make([][]string, 0, len(recent))
			for _, job := range recent {
				detail := job.OutputID
				if job.ErrorMessage != "" {
					detail = truncate(job.ErrorMessage, 60)
				}
				rows = append(rows, []string{
					fmt.Sprintf("%d", job.ID),
					formatTime(job.StartedAt),
					job.Operation,
					string(job.Status),
					(time.Duration(job.DurationMS) * time.Millisecond).String(),
					detail,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "STARTED", "OPERATION", "STATUS", "DURATION", "OUTPUT / ERROR"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list")
	return cmd
}
