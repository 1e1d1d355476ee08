package main

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"analyzer/internal/bootstrap"
	"analyzer/internal/infra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyzerctl",
		Short: "Operate the screenshot analysis service",
		Long: `analyzerctl inspects quota and history, exports stored screenshots,
reaps stuck requests, applies database migrations, manages provider keys
and mints development tokens.

Configuration comes from the same environment variables as the API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			_ = godotenv.Load()
		},
	}

	cmd.AddCommand(
		newMigrateCmd(),
		newUsageCmd(),
		newHistoryCmd(),
		newReapCmd(),
		newTokenCmd(),
		newExportCmd(),
		newCredentialsCmd(),
	)
	return cmd
}

// openRuntime loads config and opens a provider-less runtime.
func openRuntime(ctx context.Context) (*bootstrap.Runtime, error) {
	cfg, err := infra.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel).Level(zerolog.WarnLevel).With().Str("cmd", "analyzerctl").Logger()
	return bootstrap.Open(ctx, cfg, logger, bootstrap.Options{})
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func requireOwner(owner string) error {
	if owner == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}
