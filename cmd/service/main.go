// cmd/service/main.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github-insights/internal/config"
	"github-insights/internal/credentials"
	"github-insights/internal/database"
	"github-insights/internal/database/memory"
	"github-insights/internal/database/mongo"
	"github-insights/internal/database/postgres"
	"github-insights/internal/github"
	"github-insights/internal/reconcile"
	"github-insights/internal/syncer"
	"github-insights/internal/webhook"
	"github-insights/internal/xp"
)

const defaultMigrationsSource = "file://migrations"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("Application error", "error", err)
		os.Exit(1)
	}
}

// cli carries state shared by every subcommand once the root pre-run has loaded it.
type cli struct {
	logLevel *slog.LevelVar
	logger   *slog.Logger
	cfg      *config.Config
}

func newRootCmd() *cobra.Command {
	c := &cli{logLevel: new(slog.LevelVar)}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: c.logLevel})
	c.logger = slog.New(handler)
	slog.SetDefault(c.logger)

	root := &cobra.Command{
		Use:           "insights",
		Short:         "Repository insights sync and XP scoring engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setLogLevel(cfg.LogLevel, c.logLevel)
			c.cfg = cfg
			c.logger.Debug("Configuration loaded", "store_driver", cfg.StoreDriver)
			return nil
		},
	}

	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")
	_ = viper.BindPFlag("LOG_LEVEL", root.PersistentFlags().Lookup("log-level"))

	root.AddCommand(
		c.serveCmd(),
		c.syncCmd(),
		c.leaderboardCmd(),
		c.decayCmd(),
		c.migrateCmd(),
	)
	return root
}

// app is the wired object graph shared by the subcommands.
type app struct {
	store       database.Querier
	syncer      *syncer.Syncer
	engine      *xp.Engine
	leaderboard *xp.Leaderboard
	webhooks    *webhook.Handler
}

func (c *cli) newApp(ctx context.Context) (*app, error) {
	store, err := c.openStore(ctx)
	if err != nil {
		return nil, err
	}

	creds := credentials.NewProvider(store, c.cfg.GithubToken, c.logger.With("component", "credentials"))
	reconciler := reconcile.New(store, c.logger.With("component", "reconciler"),
		reconcile.WithParallelism(c.cfg.ReconcileParallelism))

	appSyncer, err := syncer.NewSyncer(store, c.clientFactory(), creds, reconciler, c.logger.With("component", "syncer"), syncer.Config{
		ReposToSync: c.cfg.ReposToSync,
		Interval:    c.cfg.SyncInterval,
		Concurrency: c.cfg.SyncConcurrency,
		MetadataTTL: c.cfg.MetadataTTL,
		CommitLimit: c.cfg.CommitSyncLimit,
	})
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("failed to create syncer: %w", err)
	}

	xpCfg, err := xp.LoadConfiguration(ctx, store, c.cfg.XPConfigFile, c.logger)
	if err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("failed to load XP configuration: %w", err)
	}
	engine := xp.NewEngine(store, store, xpCfg, c.logger.With("component", "xp"))

	return &app{
		store:       store,
		syncer:      appSyncer,
		engine:      engine,
		leaderboard: xp.NewLeaderboard(engine, store, c.logger.With("component", "leaderboard")),
		webhooks:    webhook.NewHandler(store, appSyncer, engine, creds, c.logger.With("component", "webhook")),
	}, nil
}

func (c *cli) openStore(ctx context.Context) (database.Querier, error) {
	switch c.cfg.StoreDriver {
	case config.DriverPostgres:
		if err := postgres.Migrate(defaultMigrationsSource, c.cfg.DBURL); err != nil {
			return nil, fmt.Errorf("failed to run database migrations: %w", err)
		}
		c.logger.Info("Database migrations applied successfully")
		store, err := postgres.New(ctx, c.cfg.DBURL)
		if err != nil {
			return nil, err
		}
		c.logger.Info("Database connection established", "driver", c.cfg.StoreDriver)
		return store, nil
	case config.DriverMongo:
		store, err := mongo.Connect(ctx, c.cfg.MongoURI, c.cfg.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
		}
		c.logger.Info("Database connection established", "driver", c.cfg.StoreDriver)
		return store, nil
	default:
		c.logger.Warn("Using the in-memory store; data is lost on exit")
		return memory.New(), nil
	}
}

// clientFactory builds a GitHub client per resolved token, honouring GITHUB_BASE_URL.
func (c *cli) clientFactory() syncer.ClientFactory {
	logger := c.logger.With("component", "github")
	return func(token string) (syncer.RepoClient, error) {
		var opts []github.Option
		if c.cfg.GithubBaseURL != "" {
			opts = append(opts, github.WithBaseURL(c.cfg.GithubBaseURL))
		}
		client, err := github.NewClient(token, logger, opts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
