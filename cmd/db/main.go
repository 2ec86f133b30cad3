package main

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/letieu/reddit-trends/config"
	"github.com/letieu/reddit-trends/internal/database"
	"github.com/letieu/reddit-trends/internal/history"
	"github.com/letieu/reddit-trends/internal/logging"
)

func main() {
	flags := config.Flags("db")
	backfill := flags.Bool("backfill", false, "upsert the CSV dataset into the database after migrating")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		slog.Error("Invalid arguments", "error", err)
		os.Exit(2)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if err := logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Format); err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("database.url is required (set DATABASE_URL)")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := database.Open(cfg.Database.URL, cfg.Database.Token)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("Migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database migrated")

	if !*backfill {
		return
	}

	records, err := history.NewStore(afero.NewOsFs()).Load(cfg.Store.Path)
	if err != nil {
		slog.Error("Failed to load dataset", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	if err := db.UpsertRecords(ctx, records); err != nil {
		slog.Error("Backfill failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Backfilled dataset", "path", cfg.Store.Path, "records", len(records))
}
