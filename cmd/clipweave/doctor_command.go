package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"clipweave/internal/credential"
	"clipweave/internal/preflight"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, tools, credential, and provider reachability",
		Long: `Run every environment check a run depends on. The provider is probed with
the persisted credential (or the static token) and never triggers a live
harvest. A provider that answers but refuses the session is a warning.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			probe := cfg.Credential.Token
			rec, ok, err := credential.NewFileStore(cfg.Credential.StorePath).Load(cmd.Context())
			if err == nil && ok {
				probe = rec.Value
			}

			results := preflight.Report(cmd.Context(), cfg, probe)
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			for _, line := range renderSectionHeader("clipweave doctor", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, "Config:", ctx.configPath)
			for _, result := range results {
				fmt.Fprintln(out, renderStatusLine(result.Name, checkKind(result), result.Detail, colorize))
			}
			if failed := preflight.Failed(results); len(failed) > 0 {
				return fmt.Errorf("%d check(s) failed", len(failed))
			}
			return nil
		},
	}
}
