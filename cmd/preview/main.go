package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/k0kubun/pp/v3"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/letieu/reddit-trends/config"
	"github.com/letieu/reddit-trends/internal/history"
)

func main() {
	flags := config.Flags("preview")
	rows := flags.IntP("rows", "n", 5, "number of records to print")
	noColor := flags.Bool("no-color", false, "disable colored output")
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

	records, err := history.NewStore(afero.NewOsFs()).Load(cfg.Store.Path)
	if err != nil {
		slog.Error("Failed to load dataset", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	slog.Info("Loaded dataset", "path", cfg.Store.Path, "records", len(records))

	if *rows >= 0 && *rows < len(records) {
		records = records[:*rows]
	}

	printer := pp.New()
	printer.SetColoringEnabled(!*noColor)
	printer.Println(records)
}
