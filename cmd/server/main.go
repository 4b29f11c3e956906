// Package main is the entry point for the waste-rewards ledger service.
//
// main stays small. It:
//  1. loads configuration from the environment
//  2. builds the logger
//  3. opens the store for the configured driver and seeds the catalog
//  4. hands everything to internal/server and blocks until shutdown
//
// All actual logic lives in internal/.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sakif/waste-rewards/internal/catalog"
	"github.com/sakif/waste-rewards/internal/config"
	"github.com/sakif/waste-rewards/internal/logging"
	"github.com/sakif/waste-rewards/internal/repository"
	"github.com/sakif/waste-rewards/internal/repository/postgres"
	sqliteRepo "github.com/sakif/waste-rewards/internal/repository/sqlite"
	"github.com/sakif/waste-rewards/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, authentication is disabled")
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", slog.String("driver", cfg.DBDriver), slog.String("error", err.Error()))
		return err
	}
	defer store.Close()

	if err := seedCatalog(cfg.CatalogPath, store, logger); err != nil {
		logger.Error("failed to seed reward catalog", slog.String("path", cfg.CatalogPath), slog.String("error", err.Error()))
		return err
	}

	srv, err := server.New(cfg, logger, store)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		return err
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func openStore(cfg *config.Config) (repository.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		db, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Options{
			MaxConns:    cfg.DBMaxConns,
			LockTimeout: cfg.TxTimeout,
		})
		if err != nil {
			return nil, err
		}
		return db, nil

	default:
		// mkdir -p for the database file's directory.
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath, sqliteRepo.Options{BusyTimeout: cfg.TxTimeout})
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

// seedCatalog upserts the reward catalog. A missing file is not fatal: the
// catalog may have been seeded by an earlier run or another instance.
func seedCatalog(path string, store repository.RewardCatalogRepository, logger *slog.Logger) error {
	items, err := catalog.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("reward catalog file not found, skipping seed", slog.String("path", path))
		return nil
	}
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := catalog.Seed(ctx, store, items); err != nil {
		return err
	}
	logger.Info("reward catalog seeded", slog.Int("items", len(items)))
	return nil
}
