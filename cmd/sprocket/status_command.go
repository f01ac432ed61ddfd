package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"sprocket/internal/preflight"
	"sprocket/internal/registry"
)

type statusReport struct {
	Registry    registry.Stats     `json:"registry"`
	Stale       map[string]string  `json:"stale,omitempty"`
	LoadWarning string             `json:"load_warning,omitempty"`
	Preflight   []preflight.Result `json:"preflight"`
	Healthy     bool               `json:"healthy"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show registry contents and environment health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, reg, err := ctx.openRegistry()
			if err != nil {
				return err
			}

			report := statusReport{
				Registry:    reg.Stats(),
				Stale:       reg.StaleIDs(),
				LoadWarning: reg.LoadWarning(),
				Preflight:   preflight.RunAll(cfg),
			}
			report.Healthy = preflight.Healthy(report.Preflight)

			if jsonOutput {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			titler := cases.Title(language.Und)

			for _, line := range renderSectionHeader("Registry", colorize) {
				fmt.Fprintln(out, line)
			}
			stats := report.Registry
			fmt.Fprintln(out, renderStatusLine("Sources", statusInfo, fmt.Sprintf("%d", stats.Sources), colorize))
			fmt.Fprintln(out, renderStatusLine("Generated", statusInfo, fmt.Sprintf("%d", stats.Generated), colorize))
			fmt.Fprintln(out, renderStatusLine("Metadata", statusInfo, fmt.Sprintf("%d", stats.Metadata), colorize))
			fmt.Fprintln(out, renderStatusLine("Operations logged", statusInfo, fmt.Sprintf("%d", stats.Operations), colorize))
			staleKind := statusOK
			if stats.Stale > 0 {
				staleKind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Stale derivations", staleKind, fmt.Sprintf("%d", stats.Stale), colorize))
			if report.LoadWarning != "" {
				fmt.Fprintln(out, renderStatusLine("Load warning", statusWarn, report.LoadWarning, colorize))
			}

			if len(report.Stale) > 0 {
				ids := make([]string, 0, len(report.Stale))
				for id := range report.Stale {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Stale", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, id := range ids {
					fmt.Fprintln(out, renderStatusLine(id, statusWarn, report.Stale[id], colorize))
				}
			}

			fmt.Fprintln(out)
			for _, line := range renderSectionHeader("Preflight", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range report.Preflight {
				kind := statusError
				if result.Passed {
					kind = statusOK
				}
				fmt.Fprintln(out, renderStatusLine(titler.String(result.Name), kind, result.Detail, colorize))
			}
			if !report.Healthy {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderStatusLine("Overall", statusError, "environment not ready", colorize))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Emit machine-readable JSON")
	return cmd
}
