package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sprocket/internal/config"
	"sprocket/internal/toolkit"
)

func newRebuildCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reconstruct registry state from the managed directories",
		Long: "Scans the source, generated, and metadata directories and registers " +
			"everything recoverable, using provenance sidecars to restore derivation " +
			"records. Safe to run repeatedly; existing entries are left alone.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withToolkit(func(cfg *config.Config, tk *toolkit.Toolkit) error {
				report, err := tk.Rebuild(cmd.Context())
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, report)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Registered %d source(s), %d generated artifact(s), %d metadata document(s)\n",
					report.SourcesRegistered, report.GeneratedRegistered, report.MetadataRegistered)
				if len(report.Orphans) == 0 {
					return nil
				}

				rows := make([][]string, 0, len(report.Orphans))
				for _, orphan := range report.Orphans {
					rows = append(rows, []string{orphan.Path, orphan.Reason})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ORPHAN", "REASON"},
					rows,
					[]columnAlignment{alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
