package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/agenteconomy/backend/internal/api"
	"github.com/agenteconomy/backend/internal/config"
	"github.com/agenteconomy/backend/internal/events"
	"github.com/agenteconomy/backend/internal/ledger"
	"github.com/agenteconomy/backend/internal/metrics"
	"github.com/agenteconomy/backend/internal/reputation"
	"github.com/agenteconomy/backend/internal/reward"
	"github.com/agenteconomy/backend/internal/storage"
	"github.com/agenteconomy/backend/internal/verification"
)

func main() {
	// .env is optional; real deployments set env vars directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	configPath := os.Getenv("AGN_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	store, err := openStore(cfg)
	if err != nil {
		logger.Error("open transaction store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.New()
	bus := events.NewBus()

	led, err := ledger.New(ledger.Options{
		Config:  cfg,
		Store:   store,
		Events:  bus,
		Metrics: m,
	})
	if err != nil {
		logger.Error("open ledger", "error", err)
		os.Exit(1)
	}
	logger.Info("ledger loaded", "transactions", led.Len())

	rep := reputation.NewEngine(cfg, m)
	ranker := reputation.NewRanker(rep, cfg)
	rewards := reward.NewEngine(led, cfg, bus)
	verifier := verification.NewEngine(led, rep, cfg, bus, m)

	server := api.NewServer(led, rewards, verifier, rep, ranker, bus)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	if err := server.Start(port); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return storage.NewPostgresStore(cfg.Storage.PostgresDSN)
	case "memory":
		return storage.NewMemStore(), nil
	default:
		return storage.NewFileStore(cfg.Storage.Dir)
	}
}
