package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"sprocket/internal/config"
	"sprocket/internal/registry"
	"sprocket/internal/toolkit"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that every registered resource still exists on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withToolkit(func(cfg *config.Config, tk *toolkit.Toolkit) error {
				missing := tk.IntegrityReport()

				if jsonOutput {
					return writeJSON(cmd, map[string]any{
						"clean":   len(missing) == 0,
						"missing": missing,
					})
				}

				out := cmd.OutOrStdout()
				if len(missing) == 0 {
					fmt.Fprintln(out, "Registry and filesystem agree")
					return nil
				}

				kinds := make([]string, 0, len(missing))
				for kind := range missing {
					kinds = append(kinds, string(kind))
				}
				sort.Strings(kinds)

				rows := make([][]string, 0)
				for _, kind := range kinds {
					ids := missing[registry.Kind(kind)]
					sort.Strings(ids)
					for _, id := range ids {
						rows = append(rows, []string{kind, id})
					}
				}
				fmt.Fprintln(out, renderTable(
					[]string{"KIND", "MISSING ID"},
					rows,
					[]columnAlignment{alignLeft, alignLeft},
				))
				return fmt.Errorf("%d resource(s) missing from disk; run `sprocket rebuild` after restoring files", len(rows))
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
