package main

import (
	"log/slog"
	"os"

	"github.com/shopspring/decimal"

	"nearautopilot/internal/api"
	"nearautopilot/internal/config"
	"nearautopilot/internal/market"
	"nearautopilot/internal/orchestrator"
	"nearautopilot/internal/store"
	"nearautopilot/internal/telemetry"
)

// app bundles everything a subcommand needs, torn down together via close.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	httpServer   *api.Server
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
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

func openStore(cfg config.StateConfig) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return store.OpenSQLite(cfg.Path)
	default:
		return store.OpenFile(cfg.Path)
	}
}

const defaultSettlementLimit = 200

// bootstrap loads config, opens the store, builds the market client and
// telemetry bus, and wires the orchestrator — the common setup path for
// run, tick, and reconcile.
func bootstrap(cfgPath string) (*app, error) {
	return bootstrapWithSettlementLimit(cfgPath, defaultSettlementLimit)
}

func bootstrapWithSettlementLimit(cfgPath string, settlementLimit int) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Logging)

	st, err := openStore(cfg.State)
	if err != nil {
		return nil, err
	}

	policy, err := config.Resolve(cfg.Policy)
	if err != nil {
		st.Close()
		return nil, err
	}

	marketClient := market.New(market.Config{
		BaseURL:        cfg.Market.BaseURL,
		APIKey:         cfg.Market.APIKey,
		AuthHeader:     cfg.Market.AuthHeader,
		TimeoutMs:      cfg.Market.TimeoutMs,
		RetryAttempts:  cfg.Market.Retry.Attempts,
		RetryBackoffMs: cfg.Market.Retry.BackoffMs,
	})

	bus := telemetry.NewBus()

	nearPriceUsd := decimal.NewFromFloat(cfg.NearPriceUsd)

	orch := orchestrator.New(orchestrator.Config{
		AgentID:          cfg.AgentID,
		Policy:           policy,
		Market:           marketClient,
		Store:            st,
		Bus:              bus,
		NearPriceUsd:     nearPriceUsd,
		SubmitSigningKey: cfg.SubmitSigningKey,
		SubmitSignerID:   cfg.SubmitSignerID,
		SettlementLimit:  settlementLimit,
		Logger:           logger,
	})

	httpServer := api.NewServer(cfg.HTTP, st, bus, cfg.AgentID, logger)

	return &app{cfg: cfg, logger: logger, store: st, orchestrator: orch, httpServer: httpServer}, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close store", "error", err)
		}
	}
}

