// Command custody-export writes the events mirrored by the node's indexer to a
// Parquet file for offline reconciliation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"custodychain/config"
	"custodychain/observability/logging"
	"custodychain/services/indexer"
)

type exportOptions struct {
	configPath string
	out        string
	filter     indexer.Filter
}

func main() {
	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup("custody-export", cfg.Logging.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := export(ctx, cfg, opts, logger)
	if err != nil {
		logger.Error("export failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("export complete", slog.String("path", opts.out), slog.Int("rows", n))
}

func parseFlags(args []string, stderr io.Writer) (exportOptions, error) {
	var opts exportOptions
	fs := flag.NewFlagSet("custody-export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "./config.toml", "Path to the node configuration file")
	fs.StringVar(&opts.out, "out", "custody-events.parquet", "Destination Parquet file")
	fs.StringVar(&opts.filter.Type, "type", "", "Only export events of this type")
	fs.StringVar(&opts.filter.Contract, "contract", "", "Only export events of this contract")
	fs.Uint64Var(&opts.filter.FromSequence, "from", 0, "First journal sequence to export")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.out == "" {
		return opts, fmt.Errorf("-out is required")
	}
	return opts, nil
}

func export(ctx context.Context, cfg *config.Config, opts exportOptions, logger *slog.Logger) (int, error) {
	if !cfg.Indexer.Enabled {
		return 0, fmt.Errorf("the event indexer is disabled in %s", opts.configPath)
	}
	idx, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger)
	if err != nil {
		return 0, err
	}
	defer idx.Close()

	// Partial exports stay in the temp file.
	tmp, err := os.CreateTemp(filepath.Dir(opts.out), ".custody-export-*")
	if err != nil {
		return 0, fmt.Errorf("create output: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := idx.ExportParquet(ctx, tmp, opts.filter)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return n, err
	}
	if err := os.Rename(tmp.Name(), opts.out); err != nil {
		return n, fmt.Errorf("finalise output: %w", err)
	}
	return n, nil
}
