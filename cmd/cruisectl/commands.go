package main

import (
	"fmt"
	"time"

	"github.com/Domenick1991/cruisebooking/internal/auth"
	"github.com/Domenick1991/cruisebooking/internal/bootstrap"
	"github.com/Domenick1991/cruisebooking/internal/domain"
	"github.com/Domenick1991/cruisebooking/internal/repository"
	"github.com/Domenick1991/cruisebooking/internal/worker"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the booking session schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if err := repository.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run a maintenance job once",
	}

	run := func(job func(cmd *cobra.Command, s *worker.Sweeper) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			pool, err := pgxpool.New(cmd.Context(), cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			logger := bootstrap.NewLogger(cfg.Log)
			sessions := bootstrap.NewSessions(pool, nil, cfg, logger)
			return job(cmd, worker.NewSweeper(sessions.Store, logger))
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sessions",
		Short: "Expire active sessions whose window has closed",
		RunE: run(func(cmd *cobra.Command, s *worker.Sweeper) error {
			n, err := s.ExpireSessions(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "expired %d sessions\n", n)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "idempotency",
		Short: "Delete idempotency records past retention",
		RunE: run(func(cmd *cobra.Command, s *worker.Sweeper) error {
			n, err := s.CleanupIdempotency(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d idempotency records\n", n)
			return nil
		}),
	})
	return cmd
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Exchange client credentials against the upstream and print the token expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			tokens := bootstrap.NewTokenManager(cfg.Fusion)
			if _, err := tokens.AccessToken(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token valid until %s\n", tokens.Expiry().Format(time.RFC3339))
			return nil
		},
	}
}

func newCallerTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		userID   int64
		agencyID int64
		role     string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "caller-token",
		Short: "Sign an API bearer token for a caller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			signed, err := auth.NewJWTResolver(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Sign(domain.Caller{
				UserID:   userID,
				AgencyID: agencyID,
				Role:     domain.Role(role),
			}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "caller user id")
	cmd.Flags().Int64Var(&agencyID, "agency", 0, "caller agency id")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleAgent), "caller role (agent, client, admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
