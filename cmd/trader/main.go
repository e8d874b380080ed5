package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/polytrader/config"
	"github.com/alejandrodnm/polytrader/internal/adapters/forecast"
	"github.com/alejandrodnm/polytrader/internal/adapters/metrics"
	"github.com/alejandrodnm/polytrader/internal/adapters/notify"
	"github.com/alejandrodnm/polytrader/internal/adapters/polymarket"
	"github.com/alejandrodnm/polytrader/internal/adapters/postgres"
	"github.com/alejandrodnm/polytrader/internal/adapters/statuscache"
	"github.com/alejandrodnm/polytrader/internal/adapters/storage"
	"github.com/alejandrodnm/polytrader/internal/application/engine"
	"github.com/alejandrodnm/polytrader/internal/application/execution"
	"github.com/alejandrodnm/polytrader/internal/application/lifecycle"
	"github.com/alejandrodnm/polytrader/internal/application/risk"
	"github.com/alejandrodnm/polytrader/internal/application/sizing"
	"github.com/alejandrodnm/polytrader/internal/domain"
	"github.com/alejandrodnm/polytrader/internal/ports"
	"github.com/alejandrodnm/polytrader/internal/ratelimit"
)

const reportCycles = 10

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one trading cycle and exit")
	dryRun := flag.Bool("dry-run", false, "simulate orders (overrides config)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	report := flag.Bool("report", false, "print status, positions, cycles and fill quality, then exit")
	resetKill := flag.Bool("reset-kill", false, "clear a drawdown kill after review")
	metricsAddr := flag.String("metrics", "", "Prometheus metrics HTTP address, e.g. :9090 (overrides config)")
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
	if *dryRun {
		cfg.Trader.DryRun = true
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	setupLogger(cfg.Log)

	slog.Info("polytrader starting",
		"config", *configPath,
		"dry_run", cfg.Trader.DryRun,
		"kill_switch", cfg.Trader.KillSwitch,
		"bankroll", fmt.Sprintf("$%.2f", cfg.Trader.Bankroll),
		"storage", cfg.Storage.Driver,
		"once", *once,
		"report", *report,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, *once, *report, *resetKill); err != nil {
		slog.Error("trader exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("polytrader stopped cleanly")
}

func run(ctx context.Context, cfg *config.Config, once, report, resetKill bool) error {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer store.Close()

	reg := ratelimit.NewRegistry(ratelimit.Limit{RatePerSec: 10, Burst: 10})
	client, err := polymarket.NewClient(cfg.ClientConfig(), reg)
	if err != nil {
		return fmt.Errorf("polymarket client: %w", err)
	}

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, m)
		defer shutdown(srv)
	}

	var executor ports.OrderExecutor
	if !cfg.Trader.DryRun && !report {
		trading, err := newTradingClient(ctx, client, cfg.Polymarket)
		if err != nil {
			return err
		}
		defer trading.Close()
		executor = trading
	}

	researcher, err := forecast.NewFileResearcher(cfg.Forecast.Path)
	if err != nil {
		return fmt.Errorf("forecast file: %w", err)
	}
	slog.Info("forecasts loaded", "path", cfg.Forecast.Path, "count", researcher.Len())

	deps := engine.Deps{
		Markets:    client,
		Prices:     client,
		Books:      client,
		Researcher: researcher,
		Store:      store,
		Alerter:    newAlerter(cfg.Alerts),
		Metrics:    m,

		Gate:      risk.NewGate(cfg.GateConfig()),
		Drawdown:  risk.NewDrawdownController(cfg.DrawdownConfig(), cfg.Trader.Bankroll),
		Exposure:  risk.NewExposureManager(cfg.PortfolioConfig()),
		Sizer:     sizing.New(cfg.SizingConfig()),
		Builder:   execution.NewBuilder(cfg.BuilderConfig()),
		Router:    execution.NewRouter(cfg.RouterConfig(), executor, m),
		Fills:     execution.NewFillTracker(),
		Lifecycle: lifecycle.New(cfg.LifecycleConfig()),
	}
	if cfg.Polymarket.Conviction.Enabled {
		deps.Conviction = polymarket.NewConviction(client, cfg.ConvictionConfig())
	}
	if cfg.Redis.Addr != "" {
		pub := statuscache.NewRedisPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, statuscache.Options{
			Key:     cfg.Redis.Key,
			Channel: cfg.Redis.Channel,
			TTL:     time.Duration(cfg.Redis.TTLSeconds) * time.Second,
		})
		defer pub.Close()
		if err := pub.Ping(ctx); err != nil {
			slog.Warn("redis unavailable, status will not be published", "addr", cfg.Redis.Addr, "err", err)
		} else {
			deps.Status = pub
		}
	}

	eng, err := engine.New(cfg.EngineConfig(), deps)
	if err != nil {
		return err
	}
	if err := eng.Restore(ctx); err != nil {
		return err
	}

	if resetKill {
		if err := eng.ResetKill(ctx); err != nil {
			return err
		}
		slog.Info("kill switch reset")
	}

	console := notify.NewConsole()
	if report {
		cycles, err := store.RecentCycles(ctx, reportCycles)
		if err != nil {
			return fmt.Errorf("load cycles: %w", err)
		}
		console.PrintReport(notify.ReportInput{
			Status:    eng.Status(),
			Positions: eng.Positions(),
			Cycles:    cycles,
			Quality:   eng.ExecutionQuality(cfg.QualityLookback()),
		})
		return nil
	}

	if once {
		console.PrintCycle(eng.RunOnce(ctx))
		return nil
	}

	eng.Start(ctx)
	<-ctx.Done()
	slog.Info("shutdown requested, waiting for in-flight cycle")
	eng.Stop()
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (ports.StateStore, error) {
	switch cfg.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := pool.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.NewStore(pool), nil
	default:
		s, err := storage.NewSQLiteStorage(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func newTradingClient(ctx context.Context, client *polymarket.Client, cfg config.PolymarketConfig) (*polymarket.TradingClient, error) {
	if cfg.PrivateKey == "" {
		return nil, errors.New("live trading requires POLY_PRIVATE_KEY (or run with -dry-run)")
	}
	auth, err := polymarket.NewAuthClient(client, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	if err := auth.EnsureCreds(ctx); err != nil {
		return nil, err
	}
	trading, err := polymarket.NewTradingClient(auth, cfg.RPCURL)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL != "" {
		if bal, err := trading.GetBalance(ctx); err != nil {
			slog.Warn("could not read USDC balance", "err", err)
		} else {
			slog.Info("live trading enabled", "address", auth.Address(), "usdc", fmt.Sprintf("$%.2f", bal))
		}
	}
	return trading, nil
}

func newAlerter(cfg config.AlertsConfig) ports.Alerter {
	alerters := notify.Multi{notify.NewLogAlerter(nil)}
	if cfg.DiscordWebhookURL != "" {
		alerters = append(alerters, notify.NewDiscordAlerter(cfg.DiscordWebhookURL, domain.AlertLevel(cfg.MinLevel)))
	}
	return alerters
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("metrics server shutdown", "err", err)
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
