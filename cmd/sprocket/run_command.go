package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"sprocket/internal/config"
	"sprocket/internal/toolkit"
)

type runReport struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	Cached   bool   `json:"cached"`
	Duration string `json:"duration,omitempty"`
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var inputs []string
	var params []string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "run <operation>",
		Short: "Execute one media operation, serving from cache when possible",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operation := strings.TrimSpace(args[0])
			op, ok := toolkit.LookupOperation(operation)
			if !ok {
				return fmt.Errorf("unknown operation %q; run `sprocket operations` for the catalog", operation)
			}

			parsed, err := parseParams(op, params)
			if err != nil {
				return err
			}

			return ctx.withToolkit(func(cfg *config.Config, tk *toolkit.Toolkit) error {
				execution, err := tk.Execute(cmd.Context(), operation, inputs, parsed)
				if err != nil {
					return err
				}

				report := runReport{
					ID:     execution.Outcome.ID,
					Path:   execution.Outcome.Path,
					Cached: execution.Cached,
				}
				if !execution.Cached {
					report.Duration = execution.Duration.Round(timeRounding).String()
				}

				if jsonOutput {
					return writeJSON(cmd, report)
				}

				out := cmd.OutOrStdout()
				if execution.Cached {
					fmt.Fprintf(out, "%s (cached)\n", report.ID)
				} else {
					fmt.Fprintf(out, "%s (computed in %s)\n", report.ID, report.Duration)
				}
				fmt.Fprintln(out, report.Path)
				return nil
			})
		},
	}

	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "Input resource ID (repeatable, ordered)")
	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Operation parameter as key=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}

// parseParams converts key=value flags into typed parameter values using the
// operation's declared schema; unknown keys pass through as strings so the
// toolkit can report them.
func parseParams(op toolkit.Operation, raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	types := make(map[string]toolkit.ParamType, len(op.Params))
	for _, spec := range op.Params {
		types[spec.Name] = spec.Type
	}

	params := make(map[string]any, len(raw))
	for _, entry := range raw {
		key, value, found := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !found || key == "" {
			return nil, fmt.Errorf("invalid parameter %q: expected key=value", entry)
		}
		if types[key] == toolkit.ParamNumber {
			number, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %q is not a number", key, value)
			}
			params[key] = number
			continue
		}
		params[key] = value
	}
	return params, nil
}
