package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/alejandrodnm/papertrader/config"
	"github.com/alejandrodnm/papertrader/internal/adapters/groww"
	"github.com/alejandrodnm/papertrader/internal/adapters/notify"
	"github.com/alejandrodnm/papertrader/internal/adapters/storage"
	"github.com/alejandrodnm/papertrader/internal/application/engine/paper"
	"github.com/alejandrodnm/papertrader/internal/domain"
	"github.com/alejandrodnm/papertrader/internal/logring"
	"github.com/alejandrodnm/papertrader/internal/ports"
	"github.com/alejandrodnm/papertrader/internal/risk"
	"github.com/alejandrodnm/papertrader/internal/tokenpool"
)

type rootFlags struct {
	configPath string
	verbose    bool
	format     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("papertrader: exited with error", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "papertrader",
		Short:         "Simulated intraday index-options trading on live market data",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&f.configPath, "config", "", "path to YAML config (optional; env and .env always apply)")
	cmd.PersistentFlags().BoolVar(&f.verbose, "verbose", false, "set log level to debug")
	cmd.PersistentFlags().StringVar(&f.format, "format", "", "log format: text|json (overrides config)")

	cmd.AddCommand(
		newRunCmd(f),
		newValidateTokensCmd(f),
		newReportCmd(f),
	)
	return cmd
}

// app holds everything a subcommand may need, built from one config.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	ring     *logring.Ring
	pool     *tokenpool.Pool
	risk     *risk.Manager
	store    ports.PositionStore
	reporter ports.TradeReporter // nil for the csv backend
	engine   *paper.Engine
	console  *notify.Console
}

func loadConfig(f *rootFlags) (*config.Config, *logring.Ring, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, nil, err
	}
	if f.verbose {
		cfg.Log.Level = "debug"
	}
	if f.format != "" {
		cfg.Log.Format = f.format
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	ring := setupLogger(cfg.Log, os.Stdout)
	return cfg, ring, nil
}

func buildApp(f *rootFlags) (*app, error) {
	cfg, ring, err := loadConfig(f)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	rcfg := risk.Config{
		MaxLossPerTrade:      cfg.Risk.MaxLossPerTrade,
		MaxDailyLoss:         cfg.Risk.MaxDailyLoss,
		MaxConsecutiveLosses: cfg.Risk.MaxConsecutiveLosses,
		TargetRR:             cfg.Risk.TargetRR,
		InitialSLPct:         cfg.Risk.InitialSLPct,
		TrailSLPct:           cfg.Risk.TrailSLPct,
	}
	if err := rcfg.Validate(); err != nil {
		return nil, err
	}
	reset, err := cfg.Clock("daily_reset")
	if err != nil {
		return nil, err
	}
	entry, err := cfg.Clock("entry_after")
	if err != nil {
		return nil, err
	}
	exit, err := cfg.Clock("exit_by")
	if err != nil {
		return nil, err
	}

	tokens, err := cfg.TokenList()
	if err != nil {
		return nil, err
	}
	pool, err := tokenpool.New(tokens, cfg.MinGap())
	if err != nil {
		return nil, err
	}

	store, reporter, err := openStore(cfg, loc)
	if err != nil {
		return nil, err
	}

	client := groww.NewClient(cfg.API.BaseURL, cfg.APITimeout(),
		groww.WithRate(cfg.API.RatePerSecond, cfg.API.Burst))
	rm := risk.NewManager(rcfg, risk.DayBoundary{Location: loc, Offset: reset})

	eng, err := paper.New(paper.Config{
		PollInterval: cfg.PollInterval(),
		Lots:         cfg.Trading.Lots,
		CandidateCap: cfg.Trading.CandidateCap,
		EntryAfter:   entry,
		ExitBy:       exit,
		Location:     loc,
		OptionPrice:  paper.PriceSource(cfg.Trading.OptionPrice),
		Underlyings:  cfg.DomainUnderlyings(),
	}, pool, client, rm, store, paper.WithLogRing(ring))
	if err != nil {
		store.Close()
		return nil, err
	}

	slog.Info("papertrader: configured",
		"config", f.configPath,
		"tokens", pool.Size(),
		"underlyings", len(cfg.Underlyings),
		"poll", cfg.PollInterval(),
		"storage", cfg.Storage.Backend,
		"tz", loc.String(),
	)

	return &app{
		cfg:      cfg,
		loc:      loc,
		ring:     ring,
		pool:     pool,
		risk:     rm,
		store:    store,
		reporter: reporter,
		engine:   eng,
		console:  notify.NewConsole(loc),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("papertrader: close storage", "err", err)
	}
}

// openStore returns the configured backend. Only SQLite answers report
// queries.
func openStore(cfg *config.Config, loc *time.Location) (ports.PositionStore, ports.TradeReporter, error) {
	switch cfg.Storage.Backend {
	case "sqlite":
		s, err := storage.NewSQLiteStore(cfg.Storage.DSN, loc)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	case "csv":
		s, err := storage.NewCSVStore(cfg.Storage.TradeLogDir, cfg.Storage.PortfolioPath, loc)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
	return nil, nil, fmt.Errorf("openStore: backend %q: %w", cfg.Storage.Backend, domain.ErrConfig)
}

// setupLogger installs the default logger and returns the ring the engine
// snapshot reads its recent lines from.
func setupLogger(cfg config.LogConfig, w io.Writer) *logring.Ring {
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
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	ring := logring.NewRing(logring.DefaultCapacity)
	slog.SetDefault(slog.New(logring.NewHandler(ring, handler, slog.LevelInfo)))
	return ring
}
