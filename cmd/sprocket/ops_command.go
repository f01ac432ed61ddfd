package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOpsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	var limit int

	cmd := &cobra.Command{
		Use:   "ops",
		Short: "Show the registry's append-only operation log",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, reg, err := ctx.openRegistry()
			if err != nil {
				return err
			}
			records := reg.OperationLog()
			if limit > 0 && len(records) > limit {
				records = records[len(records)-limit:]
			}

			if jsonOutput {
				return writeJSON(cmd, records)
			}

			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "Operation log is empty")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					formatTime(rec.Timestamp),
					rec.Operation,
					rec.OutputID,
					truncate(joinOrDash(rec.InputIDs), 48),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"WHEN", "OPERATION", "OUTPUT", "INPUTS"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Show only the most recent N records")
	return cmd
}
