package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/letieu/reddit-trends/config"
	"github.com/letieu/reddit-trends/internal/crawl"
	"github.com/letieu/reddit-trends/internal/history"
	"github.com/letieu/reddit-trends/internal/logging"
	"github.com/letieu/reddit-trends/internal/record"
	"github.com/letieu/reddit-trends/internal/reddit"
)

func main() {
	flags := config.Flags("crawler")
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	crawler, err := crawl.FromConfig(ctx, cfg)
	if err != nil {
		slog.Error("Failed to set up crawler", "error", err)
		os.Exit(1)
	}

	summary, err := crawler.Run(ctx)
	crawler.Close()
	if err != nil {
		slog.Error("Crawl failed", "kind", errorKind(err), "error", err)
		os.Exit(1)
	}

	slog.Info("Crawl finished",
		"forum", cfg.Reddit.Forum,
		"fetched", summary.Fetched,
		"new", summary.New,
		"total", summary.Total,
		"path", summary.Path,
	)
}

func errorKind(err error) string {
	var (
		fetchErr     *reddit.FetchError
		malformedErr *record.MalformedRecordError
		corruptErr   *history.CorruptStoreError
		saveErr      *history.SaveError
	)
	switch {
	case errors.As(err, &fetchErr):
		return "fetch"
	case errors.As(err, &malformedErr):
		return "malformed_record"
	case errors.As(err, &corruptErr):
		return "corrupt_store"
	case errors.As(err, &saveErr):
		return "save"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "other"
	}
}
