package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"sprocket/internal/config"
	"sprocket/internal/toolkit"
)

func newSourcesCommand(ctx *commandContext) *cobra.Command {
	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage registered source files",
	}

	sourcesCmd.AddCommand(newSourcesAddCommand(ctx))
	sourcesCmd.AddCommand(newSourcesListCommand(ctx))
	sourcesCmd.AddCommand(newSourcesCheckCommand(ctx))

	return sourcesCmd
}

func newSourcesAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <path> [path...]",
		Short: "Register source files in the registry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withToolkit(func(cfg *config.Config, tk *toolkit.Toolkit) error {
				out := cmd.OutOrStdout()
				for _, arg := range args {
					path, err := config.ExpandPath(arg)
					if err != nil {
						return fmt.Errorf("resolve path %q: %w", arg, err)
					}
					if _, err := os.Stat(path); err != nil {
						return fmt.Errorf("inspect %q: %w", path, err)
					}
					id, err := tk.RegisterSource(path)
					if err != nil {
						return fmt.Errorf("register %q: %w", path, err)
					}
					fmt.Fprintf(out, "%s  %s\n", id, path)
				}
				return nil
			})
		},
	}
}

func newSourcesListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List registered sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, reg, err := ctx.openRegistry()
			if err != nil {
				return err
			}
			sources := reg.Sources()

			if jsonOutput {
				return writeJSON(cmd, sources)
			}

			if len(sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No sources registered")
				return nil
			}

			rows := make([][]string, 0, len(sources))
			for _, src := range sources {
				rows = append(rows, []string{
					src.ID,
					src.Path,
					formatBytes(src.Size),
					formatTime(src.ModTime),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "PATH", "SIZE", "MODIFIED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func newSourcesCheckCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Re-stat every source and mark dependents of changed files stale",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withToolkit(func(cfg *config.Config, tk *toolkit.Toolkit) error {
				divergences, err := tk.SweepSources(cmd.Context())
				if err != nil {
					return err
				}

				if jsonOutput {
					return writeJSON(cmd, divergences)
				}

				out := cmd.OutOrStdout()
				if len(divergences) == 0 {
					fmt.Fprintln(out, "All sources match their recorded signatures")
					return nil
				}

				rows := make([][]string, 0, len(divergences))
				for _, div := range divergences {
					rows = append(rows, []string{
						div.SourceID,
						yesNo(div.Missing),
						fmt.Sprintf("%d", len(div.StaleIDs)),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"SOURCE", "MISSING", "STALE DEPENDENTS"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
