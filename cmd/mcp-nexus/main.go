// Package main is the entry point for the mcp-nexus server: an MCP server
// that exposes crash-dump debugging sessions over JSON-RPC, on stdio or HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/config"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/events/bus"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/health"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/mcp/transport"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/session"
)

const (
	breakerThreshold = 3
	breakerReset     = 60 * time.Second
)

func main() {
	configPath := flag.String("config", "", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting mcp-nexus",
		zap.String("transport", cfg.Server.Transport),
		zap.String("version", mcp.ServerVersion))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event bus: NATS when configured, in-memory otherwise.
	var eventBus bus.EventBus
	if cfg.Events.NatsURL != "" {
		natsEventBus, err := bus.NewNATSEventBus(cfg.Events.NatsURL, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
	} else {
		eventBus = bus.NewMemoryEventBus(log)
	}
	defer eventBus.Close()

	breaker := health.NewBreaker(breakerThreshold, breakerReset, log)
	manager := session.NewManager(cfg, eventBus, breaker, log)
	manager.Start()
	dispatcher := mcp.NewDispatcher(manager, log)

	// Transports run until the context is cancelled; signals cancel it.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-quit
		log.Info("Shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	var runErr error
	switch cfg.Server.Transport {
	case "http":
		srv := transport.NewHTTPServer(dispatcher, manager, eventBus, breaker,
			cfg.Server.Host, cfg.Server.Port, log)
		runErr = srv.Run(ctx)
	default:
		stdio := transport.NewStdio(dispatcher, eventBus, os.Stdin, os.Stdout, log)
		runErr = stdio.Run(ctx)
	}
	if runErr != nil && runErr != context.Canceled {
		log.Error("Transport error", zap.Error(runErr))
	}

	// Dispose every session within the disposal budget.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	manager.Stop(shutdownCtx)

	log.Info("mcp-nexus stopped")
}
