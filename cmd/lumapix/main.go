package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lumapix/lumapix/internal/analysis"
	"github.com/lumapix/lumapix/internal/config"
	"github.com/lumapix/lumapix/internal/database"
	"github.com/lumapix/lumapix/internal/events"
	"github.com/lumapix/lumapix/internal/logger"
	"github.com/lumapix/lumapix/internal/modules/batchmodule"
	"github.com/lumapix/lumapix/internal/modules/modulemanager"
	"github.com/lumapix/lumapix/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// A local .env is optional; absence is not an error.
	godotenv.Load()

	if err := config.Load(*configPath); err != nil {
		logger.Error("failed to load configuration", logger.Err(err))
		os.Exit(1)
	}
	cfg := config.Get()

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", logger.Err(err))
		os.Exit(1)
	}

	provider, err := analysis.NewLLMProvider(&cfg.Analysis)
	if err != nil {
		logger.Error("failed to configure analysis provider", logger.Err(err))
		os.Exit(1)
	}

	bus := events.NewBus()
	module := batchmodule.Register(cfg, db, bus, provider)

	if err := modulemanager.LoadAll(db); err != nil {
		logger.Error("failed to load modules", logger.Err(err))
		os.Exit(1)
	}

	router := server.SetupRouter(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, router); err != nil {
		logger.Error("server error", logger.Err(err))
	}

	logger.Info("shutting down, draining batches")
	module.Shutdown()
	bus.Stop()
}
