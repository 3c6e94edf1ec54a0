package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"agrisync/internal/config"
	"agrisync/internal/logging"
	"agrisync/internal/repo"
	"agrisync/migrations"

	"github.com/joho/godotenv"
)

func loadConfig() (*config.Config, *slog.Logger, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat), nil
}

// openRepository connects the configured store and applies migrations.
func openRepository(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Repository, error) {
	var (
		repository repo.Repository
		err        error
	)
	switch cfg.DatabaseDriver {
	case config.DriverSQLite:
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		repository, err = repo.New(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	if err := repository.RunMigrations(ctx, migrations.Files); err != nil {
		repository.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)
	return repository, nil
}
