package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"analyzer/internal/infra"
	"analyzer/internal/middleware"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != "postgres" {
				return fmt.Errorf("migrate needs STORE_BACKEND=postgres, got %q", cfg.StoreBackend)
			}
			logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)
			pool, err := infra.NewDBPool(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := infra.ApplyMigrations(pool, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newUsageCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:     "usage",
		Short:   "Show today's image quota for an owner",
		Example: `  analyzerctl usage --owner 5b7c0d1e`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			u, err := rt.Service.UsageStatus(cmd.Context(), owner, 0)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "owner:      %s\n", owner)
			fmt.Fprintf(out, "day:        %s\n", u.Day.Format(time.DateOnly))
			fmt.Fprintf(out, "used:       %d / %d\n", u.Count, u.MaxImages)
			fmt.Fprintf(out, "can submit: %t\n", u.CanMakeRequest())
			fmt.Fprintf(out, "resets at:  %s\n", formatTime(u.ResetAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (JWT subject)")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		owner  string
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List an owner's requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			page, err := rt.Service.List(cmd.Context(), owner, cursor)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tSTATE\tIMAGES\tCACHE\tRATING\tREASON")
			for _, r := range page.Requests {
				rating := "-"
				if r.Rating != nil {
					rating = fmt.Sprint(*r.Rating)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\t%s\n",
					r.ID, formatTime(r.CreatedAt), r.State, r.ImageCount, r.CacheHit, rating, r.FailureReason)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if page.NextCursor != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "\nnext: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (JWT subject)")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from a previous page")
	return cmd
}

func newReapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Fail requests stuck in flight and release their quota",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			ids, err := rt.Service.ReapStale(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reaped %d request(s)\n", len(ids))
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		owner string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for an owner (development)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}
			cfg, err := infra.LoadConfig()
			if err != nil {
				return err
			}
			claims := middleware.TokenClaims{Sub: owner, Issuer: "analyzerctl"}
			if ttl > 0 {
				claims.Exp = time.Now().Add(ttl).Unix()
			}
			tok, err := middleware.SignJWT(cfg.JWTSecret, claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id to put in the subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
