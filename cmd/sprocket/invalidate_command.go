package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sprocket/internal/config"
	"sprocket/internal/toolkit"
)

func newInvalidateCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "invalidate <path>",
		Short: "Re-check one source file and mark its dependents stale if it changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return fmt.Errorf("resolve path %q: %w", args[0], err)
			}

			return ctx.withToolkit(func(cfg *config.Config, tk *toolkit.Toolkit) error {
				divergence, changed, err := tk.InvalidateSinceChange(path)
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, map[string]any{
						"changed":   changed,
						"source_id": divergence.SourceID,
						"stale_ids": divergence.StaleIDs,
						"missing":   divergence.Missing,
					})
				}

				out := cmd.OutOrStdout()
				if !changed {
					fmt.Fprintf(out, "%s is unchanged\n", divergence.SourceID)
					return nil
				}
				if divergence.Missing {
					fmt.Fprintf(out, "%s is missing from disk\n", divergence.SourceID)
				} else {
					fmt.Fprintf(out, "%s changed\n", divergence.SourceID)
				}
				fmt.Fprintf(out, "%d dependent derivation(s) marked stale\n", len(divergence.StaleIDs))
				for _, id := range divergence.StaleIDs {
					fmt.Fprintf(out, "  %s\n", id)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
