package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/perpbot/config"
	"github.com/alejandrodnm/perpbot/internal/adapters/exchange"
	"github.com/alejandrodnm/perpbot/internal/adapters/notify"
	"github.com/alejandrodnm/perpbot/internal/adapters/storage"
	"github.com/alejandrodnm/perpbot/internal/application/engine/paper"
	"github.com/alejandrodnm/perpbot/internal/application/session"
	"github.com/alejandrodnm/perpbot/internal/application/sim"
	"github.com/alejandrodnm/perpbot/internal/strategy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print full position/order tables each cycle")
	profile := flag.String("profile", "", "risk profile name (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *profile != "" {
		cfg.Risk.Profile = *profile
	}
	setupLogger(cfg.Log)

	limits, err := cfg.Profile(cfg.Risk.Profile)
	if err != nil {
		slog.Error("failed to resolve risk profile", "err", err)
		os.Exit(1)
	}

	slog.Info("perpbot starting",
		"config", *configPath,
		"instruments", cfg.Paper.Instruments,
		"risk_profile", cfg.Risk.Profile,
		"poll", cfg.PollInterval(),
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Risk profile changes are journaled with the confirming operator.
	if err := store.JournalProfileChange(ctx, cfg.Risk.Operator, cfg.Risk.Profile, limits); err != nil {
		slog.Warn("risk profile journal entry not persisted", "err", err)
	}

	if cfg.Metrics.Addr != "" {
		go serveMetrics(cfg.Metrics.Addr)
	}

	client := exchange.NewClient(cfg.Exchange.RESTBase)
	registry := session.NewRegistry(limits.MaxConcurrentStrategies)

	engine, _, err := registry.GetOrCreate("main", func(id string) (*paper.Engine, error) {
		return paper.New(paper.Config{
			SessionID:      id,
			Instruments:    cfg.Paper.Instruments,
			QuoteAsset:     cfg.Paper.QuoteAsset,
			InitialBalance: cfg.Paper.InitialBalance,
			PollInterval:   cfg.PollInterval(),
			Limits:         limits,
			Sim: sim.Config{
				SlippagePct: cfg.Paper.SlippagePct,
				FeeRate:     cfg.Paper.FeeRate,
			},
			FundingHistory: cfg.Paper.FundingHistory,
		}, client, store), nil
	})
	if err != nil {
		slog.Error("failed to create session", "err", err)
		os.Exit(1)
	}

	if cfg.Paper.Strategy != "" {
		if err := loadStrategy(cfg, engine); err != nil {
			slog.Error("failed to load strategy", "err", err)
			os.Exit(1)
		}
	}

	notifier := notify.NewConsole(*table)
	runPaper(ctx, cfg, engine, notifier)

	// Shutdown flattens every open position before teardown; no orphaned
	// simulated exposure survives the session.
	registry.ReleaseAll(context.Background())
	notifier.PrintExitSummary(engine.GetStatus())
	slog.Info("perpbot stopped cleanly")
}

// loadStrategy resolves the configured definition inside the strategy
// directory and injects the built strategy into the engine.
func loadStrategy(cfg *config.Config, engine *paper.Engine) error {
	loader, err := strategy.NewLoader(cfg.Paper.StrategyDir)
	if err != nil {
		return err
	}
	loader.RegisterType("momentum", func(name string, params map[string]any) (strategy.Strategy, error) {
		return strategy.NewMomentum(name, engine, params)
	})

	handle, strat, err := loader.Load(cfg.Paper.Strategy)
	if err != nil {
		return err
	}
	engine.SetStrategy(strat)
	slog.Info("strategy loaded", "name", handle.Name, "type", handle.Type, "path", handle.Path)
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	slog.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		slog.Warn("metrics listener stopped", "err", err)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
