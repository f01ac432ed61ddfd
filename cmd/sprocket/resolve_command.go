package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newResolveCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Map a resource ID to its filesystem path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, reg, err := ctx.openRegistry()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			path, err := reg.Resolve(id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, map[string]string{"id": id, "path": path})
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
