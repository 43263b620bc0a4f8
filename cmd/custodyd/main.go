package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/netutil"

	"custodychain/config"
	"custodychain/core"
	"custodychain/core/events"
	"custodychain/core/genesis"
	"custodychain/observability/logging"
	telemetry "custodychain/observability/otel"
	"custodychain/rpc"
	"custodychain/services/indexer"
	"custodychain/storage"
	"custodychain/storage/journal"
)

const genesisPathEnv = "CUSTODY_GENESIS"

// version is overridden at build time with -ldflags.
var version = "dev"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to a genesis YAML file (overrides CUSTODY_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.SetupWithOptions("custodyd", cfg.Logging.Environment, logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv), logger); err != nil {
		logger.Error("custodyd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, genesisPath string, logger *slog.Logger) error {
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "custodyd",
			ServiceVersion: version,
			Environment:    cfg.Logging.Environment,
			Endpoint:       cfg.Telemetry.Endpoint,
			Insecure:       cfg.Telemetry.Insecure,
			Headers:        telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:        cfg.Telemetry.Metrics,
			Traces:         cfg.Telemetry.Traces,
			SampleRatio:    cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	n, err := openNode(ctx, cfg, genesisPath, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	server, err := rpc.NewServer(rpc.Options{
		Processor: n.proc,
		Fanout:    n.fanout,
		Indexer:   n.indexer,
		RPC:       cfg.RPC,
		Auth:      cfg.Auth,
		JWTSecret: cfg.JWTSecret(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", cfg.RPC.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.RPC.ListenAddress, err)
	}
	if cfg.RPC.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.RPC.MaxConnections)
	}
	return server.Serve(ctx, ln)
}

// node bundles the ledger components the RPC server is wired to.
type node struct {
	db      *storage.LevelDB
	journal *journal.Journal
	proc    *core.Processor
	fanout  *events.Fanout
	indexer *indexer.Indexer
	logger  *slog.Logger
}

// openNode opens the state and journal stores, applies genesis on first
// start, applies configured pauses and attaches the event indexer.
func openNode(ctx context.Context, cfg *config.Config, genesisPath string, logger *slog.Logger) (*node, error) {
	quota, err := cfg.Quota.Runtime()
	if err != nil {
		return nil, fmt.Errorf("quota: %w", err)
	}
	db, err := storage.NewLevelDB(cfg.StatePath())
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	j, err := journal.Open(cfg.JournalPath())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}
	n := &node{db: db, journal: j, fanout: events.NewFanout(), logger: logger}

	var clock core.Clock = core.SystemClock{}
	if cfg.DevClock {
		start := time.Now().Unix()
		if head, ok := j.Head(); ok && head.Timestamp > start {
			start = head.Timestamp
		}
		clock = core.NewManualClock(start)
		logger.Warn("manual ledger clock enabled; time only moves through ledger_advanceTime")
	}

	n.proc, err = core.NewProcessor(db, j, core.ProcessorOptions{
		Clock:     clock,
		Publisher: n.fanout,
		Logger:    logger,
		Quota:     quota,
	})
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("create processor: %w", err)
	}

	if _, started := j.Head(); !started {
		spec := genesis.Empty()
		if genesisPath != "" {
			if spec, err = genesis.Load(genesisPath); err != nil {
				n.Close()
				return nil, err
			}
		} else {
			logger.Warn("no genesis file configured; starting with an empty ledger")
		}
		if err := n.proc.InitGenesis(spec); err != nil {
			n.Close()
			return nil, err
		}
	}

	for _, module := range cfg.PausedModules {
		if err := n.proc.SetModulePaused(module, true); err != nil {
			n.Close()
			return nil, fmt.Errorf("pause %s: %w", module, err)
		}
	}

	if cfg.Indexer.Enabled {
		idx, err := indexer.Open(cfg.Indexer.Driver, cfg.Indexer.DSN, logger)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.indexer = idx
		copied, err := idx.Backfill(ctx, n.proc.Events)
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("indexer backfill: %w", err)
		}
		logger.Info("event indexer ready", slog.String("driver", cfg.Indexer.Driver), slog.Int("backfilled", copied))
		n.fanout.AddSink(idx)
	}
	return n, nil
}

func (n *node) Close() {
	if n.indexer != nil {
		if err := n.indexer.Close(); err != nil {
			n.logger.Warn("close indexer", slog.Any("error", err))
		}
	}
	if err := n.journal.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		n.logger.Warn("close journal", slog.Any("error", err))
	}
	n.db.Close()
}

// resolveGenesisPath picks the genesis file: flag, then environment, then
// config.
func resolveGenesisPath(flagValue, cfgValue string, lookup func(string) (string, bool)) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return strings.TrimSpace(cfgValue)
}
