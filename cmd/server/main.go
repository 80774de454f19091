// Command server runs the IP geolocation MCP server over SSE.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/FreePeak/ip-geolocation-mcp-server/internal/builder"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/config"
	"github.com/FreePeak/ip-geolocation-mcp-server/internal/infrastructure/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = logging.ParseLevel(cfg.LogLevel)
	logCfg.Development = cfg.LogDevelopment
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logging.SetDefault(logger)

	c, err := builder.NewServerBuilder().
		WithConfig(cfg).
		WithLogger(logger).
		Build()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Server.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return c.Server.Stop(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", logging.Fields{"error": err})
		return err
	}
	logger.Info("server stopped")
	return nil
}
