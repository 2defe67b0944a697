package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kailas-cloud/threadscout/internal/app"
	"github.com/kailas-cloud/threadscout/internal/config"
	logpkg "github.com/kailas-cloud/threadscout/internal/logger"
	"github.com/kailas-cloud/threadscout/internal/transport/mcp"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(config.GetEnv())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// stdout carries the protocol; the logger writes to stderr.
	logger, err := logpkg.NewLogger("cli", cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build services: %w", err)
	}
	a.Start(ctx)
	defer a.Close()

	logger.Info("Serving MCP on stdio", zap.String("server", mcp.ServerName))
	return mcp.NewServer(a.Discovery, a.Source, logger).Serve()
}
