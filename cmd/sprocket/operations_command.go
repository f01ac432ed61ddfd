package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sprocket/internal/toolkit"
)

type catalogEntry struct {
	Name      string              `json:"name"`
	Summary   string              `json:"summary"`
	Output    string              `json:"output"`
	MinInputs int                 `json:"min_inputs"`
	MaxInputs int                 `json:"max_inputs"`
	Params    []toolkit.ParamSpec `json:"params,omitempty"`
}

func newOperationsCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:         "operations",
		Short:       "List the available media operations and their parameters",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog := toolkit.Operations()

			if jsonOutput {
				entries := make([]catalogEntry, 0, len(catalog))
				for _, op := range catalog {
					entries = append(entries, catalogEntry{
						Name:      op.Name,
						Summary:   op.Summary,
						Output:    string(op.Output),
						MinInputs: op.MinInputs,
						MaxInputs: op.MaxInputs,
						Params:    op.Params,
					})
				}
				return writeJSON(cmd, entries)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			titler := cases.Title(language.Und)

			for i, op := range catalog {
				if i > 0 {
					fmt.Fprintln(out)
				}
				for _, line := range renderSectionHeader(titler.String(op.Name), colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintf(out, "%s%s\n", statusIndent, op.Summary)
				fmt.Fprintf(out, "%sInputs: %s, output: %s\n", statusIndent, describeArity(op), op.Output)
				if len(op.Params) == 0 {
					continue
				}
				rows := make([][]string, 0, len(op.Params))
				for _, p := range op.Params {
					required := "optional"
					if p.Required {
						required = "required"
					} else if p.Default != nil {
						required = fmt.Sprintf("default %v", p.Default)
					}
					rows = append(rows, []string{p.Name, string(p.Type), required, p.Description})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"PARAM", "TYPE", "REQUIRED", "DESCRIPTION"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

func describeArity(op toolkit.Operation) string {
	switch {
	case op.MinInputs == 0 && op.MaxInputs == 0:
		return "none"
	case op.MaxInputs < 0:
		return fmt.Sprintf("%d or more", op.MinInputs)
	case op.MinInputs == op.MaxInputs:
		return fmt.Sprintf("exactly %d", op.MinInputs)
	default:
		return fmt.Sprintf("%d to %d", op.MinInputs, op.MaxInputs)
	}
}
