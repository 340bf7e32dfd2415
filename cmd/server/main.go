// Sentinel - Threat detection and risk scoring for on-chain contracts
package main

import (
	"context"
	"os"

	"github.com/vermlabs/sentinel/internal/config"
	"github.com/vermlabs/sentinel/internal/logging"
	"github.com/vermlabs/sentinel/internal/server"
	"github.com/vermlabs/sentinel/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting sentinel",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"detector_timeout", cfg.DetectorTimeout,
		"detector_threshold", cfg.DetectorThreshold,
	)

	ctx := context.Background()

	// Tracing is optional; without an endpoint spans are no-ops
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTraces(context.Background()); err != nil {
			logger.Warn("trace shutdown error", "error", err)
		}
	}()

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
