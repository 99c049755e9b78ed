// Command runtime is the process entrypoint for the trading runtime.
//
// Architecture:
//
//	main.go                    — entry point: loads config, wires every
//	                              component, waits for SIGINT/SIGTERM
//	internal/stream/           — StreamMultiplexer: two WebSocket channels
//	                              (market + user) with application-layer
//	                              liveness and auto-reconnect
//	internal/decode/           — MessageDecoder: legacy + batched wire
//	                              formats normalized to one event stream
//	internal/exec/             — ExecutionEngine: pre-trade checks, paper
//	                              fill simulation, live order forwarding,
//	                              balance/position/trade accounting
//	internal/harness/          — StrategyHarness: one-time market load,
//	                              event loop, heartbeat, dispatch to
//	                              strategy (markets are not re-fetched
//	                              after Load)
//	internal/venue/            — REST client + L1 (EIP-712) / L2 (HMAC)
//	                              auth for the CLOB exchange
//	internal/metadata/         — Gamma API market/event lookup
//	internal/risk/             — exposure/daily-loss guard consulted by
//	                              the engine's pre-trade checks
//	internal/storage/          — Postgres or in-memory persistence port
//
// No concrete trading strategy ships with this binary — pkg/strategy
// defines the contract a strategy links in at compile time; this runtime
// does not load strategy code at run time. The
// built-in observer below only logs price updates; wire in your own
// strategy.Strategy implementation to trade.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"polytrader/internal/config"
	"polytrader/internal/exec"
	"polytrader/internal/harness"
	"polytrader/internal/metadata"
	"polytrader/internal/risk"
	"polytrader/internal/storage"
	"polytrader/internal/stream"
	"polytrader/internal/venue"
	"polytrader/pkg/strategy"
	"polytrader/pkg/types"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	riskGuard := risk.NewGuard(cfg.Risk, logger)
	metadataClient := metadata.NewClient(cfg, logger)

	var (
		liveSubmitter exec.LiveSubmitter
		wsAuth        stream.Authenticator
	)
	if !cfg.IsPaper() {
		auth, err := venue.NewAuth(cfg)
		if err != nil {
			logger.Error("failed to build venue auth", "error", err)
			os.Exit(1)
		}
		client := venue.NewClient(cfg, auth, logger)
		if !auth.HasL2Credentials() {
			logger.Info("no L2 credentials configured, deriving API key via L1...")
			creds, err := client.DeriveAPIKey(context.Background())
			if err != nil {
				logger.Error("failed to derive API key", "error", err)
				os.Exit(1)
			}
			auth.SetCredentials(*creds)
		}
		liveSubmitter = client
		wsAuth = auth
	}

	engine := exec.New(cfg.Paper, cfg.IsPaper(), store, riskGuard, liveSubmitter, logger)

	mux := stream.New(
		cfg.API.MarketWSURL,
		cfg.API.UserWSURL,
		wsAuth,
		secondsOrDefault(cfg.Liveness.PingIntervalSec, 5),
		secondsOrDefault(cfg.Liveness.ReconnectDelaySec, 5),
		logger,
	)

	strat := &priceLogger{logger: logger.With("component", "strategy")}
	h := harness.New(cfg.Harness, strat, metadataClient, mux, engine, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.Load(ctx, cfg.Markets); err != nil {
		logger.Error("failed to load any configured market", "error", err)
		os.Exit(1)
	}
	h.Subscribe()

	logger.Info("trading runtime started",
		"mode", cfg.Mode,
		"markets", len(cfg.Markets),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErr := make(chan error, 1)
	go func() { runErr <- h.Run(ctx) }()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
		<-runErr
	case err := <-runErr:
		if err != nil && ctx.Err() == nil {
			logger.Error("harness exited with error", "error", err)
		}
	}

	h.Stop()
	logger.Info("shutdown complete")
}

func openStore(cfg *config.Config) (storage.Port, error) {
	if cfg.Storage.DatabaseURL != "" {
		return storage.OpenPostgresStore(cfg.Storage.DatabaseURL)
	}
	dir := cfg.Storage.CSVDir
	if dir == "" {
		dir = "data"
	}
	return storage.OpenMemoryStore(dir)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func secondsOrDefault(v, def int) time.Duration {
	if v <= 0 {
		v = def
	}
	return time.Duration(v) * time.Second
}

// priceLogger is the minimal strategy linked into this binary by default:
// it only observes price updates and logs them. It places no orders and
// holds no state, so it carries none of the trading-logic judgment calls a
// real strategy would — swap it out for your own strategy.Strategy.
type priceLogger struct {
	logger *slog.Logger
}

func (p *priceLogger) OnPriceUpdate(market *types.Market, price strategy.PriceUpdate) {
	p.logger.Info("price update", "market_id", market.MarketID, "is_yes", price.IsYes, "price", price.Price)
}

func (p *priceLogger) OnStart() {
	p.logger.Info("strategy started")
}

func (p *priceLogger) OnStop() {
	p.logger.Info("strategy stopped")
}

func (p *priceLogger) OnError(err error) {
	p.logger.Error("strategy error", "error", err)
}
