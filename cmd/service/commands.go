// cmd/service/commands.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github-insights/internal/api"
	"github-insights/internal/config"
	"github-insights/internal/database/postgres"
	"github-insights/internal/model"
)

const shutdownTimeout = 10 * time.Second

func (c *cli) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup context for graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close(context.WithoutCancel(ctx))

			srv := &http.Server{
				Addr:              c.cfg.HTTPAddr,
				Handler:           api.NewRouter(a.syncer, a.leaderboard, a.webhooks, c.logger.With("component", "api")),
				ReadHeaderTimeout: 10 * time.Second,
			}
			serveErr := make(chan error, 1)
			go func() {
				c.logger.Info("HTTP server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			// Start the syncer in a separate goroutine
			go a.syncer.Start(ctx)

			c.logger.Info("Application started. Waiting for shutdown signal...")
			select {
			case <-ctx.Done():
				c.logger.Info("Shutdown signal received. Exiting.")
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("http server: %w", err)
				}
			}

			shutdownCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer stop()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				c.logger.Error("HTTP server shutdown failed", "error", err)
			}
			// Triggered full syncs run detached; let them finish before the store closes.
			a.syncer.Wait()
			return nil
		},
	}
}

func (c *cli) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync <repo-id>",
		Short: "Run a full sync of one tracked repository in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close(ctx)

			if err := a.syncer.FullSync(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "synced %s\n", args[0])
			return nil
		},
	}
}

func (c *cli) leaderboardCmd() *cobra.Command {
	var (
		period string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Generate and store a leaderboard snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close(ctx)

			lb, err := a.leaderboard.Generate(ctx, period, limit)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(lb)
		},
	}
	cmd.Flags().StringVar(&period, "period", model.PeriodWeekly, "daily, weekly, monthly or all-time")
	cmd.Flags().IntVar(&limit, "limit", 10, "number of entries")
	return cmd
}

func (c *cli) decayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decay",
		Short: "Apply inactivity decay to every user",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.store.Close(ctx)

			n, err := a.engine.ApplyDecayAll(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "decay applied to %d users\n", n)
			return err
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending PostgreSQL migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.cfg.StoreDriver != config.DriverPostgres {
				return fmt.Errorf("migrate requires STORE_DRIVER=%s, got %q", config.DriverPostgres, c.cfg.StoreDriver)
			}
			if err := postgres.Migrate(source, c.cfg.DBURL); err != nil {
				return fmt.Errorf("failed to run database migrations: %w", err)
			}
			c.logger.Info("Database migrations applied successfully")
			return nil
		},
	}
	cmd.Flags().StringVar(&source, "source", defaultMigrationsSource, "migration source URL")
	return cmd
}
