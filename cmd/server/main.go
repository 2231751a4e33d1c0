// accountcheck - social account authenticity scoring service
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mbd888/accountcheck/internal/config"
	"github.com/mbd888/accountcheck/internal/logging"
	"github.com/mbd888/accountcheck/internal/server"
	"github.com/mbd888/accountcheck/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info", "text").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logging.New(cfg.LogLevel, cfg.LogFormat).Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting accountcheck",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
		"store", cfg.StoreBackend,
		"kafka", cfg.KafkaEnabled(),
	)

	ctx := context.Background()

	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTraces(context.Background()); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	return srv.Run(ctx)
}
