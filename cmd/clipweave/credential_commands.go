package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"clipweave/internal/credential"
)

func newCredentialCommand(ctx *commandContext) *cobra.Command {
	credCmd := &cobra.Command{
		Use:   "credential",
		Short: "Inspect and refresh the provider credential",
	}
	credCmd.AddCommand(newCredentialStatusCommand(ctx))
	credCmd.AddCommand(newCredentialRefreshCommand(ctx))
	return credCmd
}

func newCredentialStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the persisted credential and live source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store := credential.NewFileStore(cfg.Credential.StorePath)
			rec, ok, err := store.Load(cmd.Context())
			if err != nil {
				return err
			}
			ttl := cfg.CredentialTTL()
			age := time.Since(rec.AcquiredAt)
			fresh := ok && age < ttl

			if jsonOutput {
				payload := map[string]any{
					"store_path":  store.Path(),
					"stored":      ok,
					"ttl_seconds": ttl.Seconds(),
					"live_source": liveSourceLabel(cfg.Credential.LiveCommand, cfg.Credential.Token),
					"validate":    cfg.Credential.ValidateStored,
				}
				if ok {
					payload["credential"] = credential.Redact(rec.Value)
					payload["acquired_at"] = rec.AcquiredAt.UTC().Format(time.RFC3339)
					payload["fresh"] = fresh
				}
				return writeJSON(cmd, payload)
			}

			pairs := [][2]string{{"Store", store.Path()}}
			if ok {
				freshness := "stale"
				if fresh {
					freshness = "fresh"
				}
				pairs = append(pairs,
					[2]string{"Credential", credential.Redact(rec.Value)},
					[2]string{"Acquired", formatDisplayTime(rec.AcquiredAt)},
					[2]string{"Age", fmt.Sprintf("%s (%s, ttl %s)", formatAge(age), freshness, ttl)},
				)
			} else {
				pairs = append(pairs, [2]string{"Credential", "none stored"})
			}
			pairs = append(pairs,
				[2]string{"Live source", liveSourceLabel(cfg.Credential.LiveCommand, cfg.Credential.Token)},
				[2]string{"Validate stored", yesNo(cfg.Credential.ValidateStored)},
			)
			fmt.Fprintln(cmd.OutOrStdout(), renderPairs(pairs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print status as JSON")
	return cmd
}

func newCredentialRefreshCommand(ctx *commandContext) *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Acquire a new credential from the live source and persist it",
		Long: `Treat the persisted credential as rejected and acquire a replacement from
the live source (credential.live_command or the static token). The new value
is written to the credential store for later runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := ctx.buildRuntime(cmd.Context(), cmd.ErrOrStderr(), runtimeNeeds{})
			if err != nil {
				return err
			}
			defer rt.close()

			cred, err := refreshCredential(cmd.Context(), rt)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Credential %s acquired from %s\n", cred.Redacted(), cred.Source)
			if validate {
				if err := rt.client.Validate(cmd.Context(), cred.Value); err != nil {
					return fmt.Errorf("provider rejected the new credential: %w", err)
				}
				fmt.Fprintln(out, "Provider accepted the credential")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&validate, "validate", false, "Check the new credential against the provider")
	return cmd
}

// refreshCredential loads whatever the store holds into memory, then forces a
// refresh so that value is skipped and the live source answers.
func refreshCredential(ctx context.Context, rt *runtime) (credential.Credential, error) {
	_, stored, err := rt.store.Load(ctx)
	if err != nil {
		return credential.Credential{}, err
	}
	if !stored {
		return rt.creds.Acquire(ctx, false)
	}
	current, err := rt.creds.Acquire(ctx, false)
	if err != nil {
		return credential.Credential{}, err
	}
	return rt.creds.Refresh(ctx, current.Value)
}

func liveSourceLabel(command []string, token string) string {
	switch {
	case len(command) > 0:
		return "command: " + strings.Join(command, " ")
	case token != "":
		return "static token " + credential.Redact(token)
	default:
		return "none"
	}
}
