package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pingguard/bot"
	"pingguard/config"
	"pingguard/handlers"
	"pingguard/model"
	"pingguard/utils/database"
)

const shutdownTimeout = 15 * time.Second

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "pingguard",
		Short:         "Discord bot that keeps protected members from being pinged",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yml (default $CONFIG or ./config.yml)")

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Connect to Discord and start moderating",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), configPath)
		},
	})

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg model.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func openStore(ctx context.Context, cfg model.DatabaseConfig, logger *zap.Logger) (*database.Store, error) {
	if cfg.Driver == "" || cfg.Driver == database.DriverSQLite {
		if dir := sqliteDir(cfg.DSN); dir != "" {
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}
	store, err := database.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		store.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	logger.Info("database ready", zap.String("driver", store.Driver()))
	return store, nil
}

// sqliteDir returns the directory holding a sqlite database file, or "" for
// in-memory databases.
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return filepath.Dir(path)
}

func setup(ctx context.Context, configPath string) (*model.Config, *zap.Logger, *database.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("error initializing database", zap.Error(err))
	}
	return cfg, logger, store, nil
}

func migrate(ctx context.Context, configPath string) error {
	_, logger, store, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer store.Close()
	logger.Info("migrations applied")
	return nil
}

func run(ctx context.Context, configPath string) error {
	cfg, logger, store, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer store.Close()

	b, err := bot.New(cfg, store, logger)
	if err != nil {
		return fmt.Errorf("error creating bot: %w", err)
	}
	b.Loader = func() (*model.Config, error) { return config.Load(configPath) }

	router := handlers.Register(b)
	defer router.Stop()

	runErr := b.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	b.Close(closeCtx)
	return runErr
}
