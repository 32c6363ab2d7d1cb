package main

import (
	"moorgate/internal/gateway"
	"moorgate/internal/handlers"
	"moorgate/internal/hub"
	"moorgate/internal/metrics"
	"moorgate/internal/presence"
	"moorgate/internal/ratelimit"
	"moorgate/internal/retention"
	"moorgate/internal/store"
	"moorgate/internal/websocket"
	"moorgate/pkg/config"
	"moorgate/pkg/database"
	"moorgate/pkg/logging"
	"moorgate/pkg/monitoring"
	"moorgate/pkg/server"
	"moorgate/pkg/version"
	"time"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("postmaster")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting Postmaster (Conversation Gateway)")

	cfg := config.LoadGateway()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("postmaster", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("postmaster", version.Version, version.GitCommit)
	gatewayMetrics := metrics.New(metricsCollector)

	// Open the embedded store and bring the schema up to date
	db := database.MustConnect(database.DefaultConfig(cfg.DBPath), logger)
	defer db.Close()

	st := store.New(db, logger)

	// Assemble the runtime
	subHub := hub.New(logger)
	presenceManager := presence.New(cfg.Presence, logger)
	limiter := ratelimit.New(time.Minute)
	core := gateway.New(st, subHub, presenceManager, limiter, cfg, logger, gatewayMetrics)

	directory, err := handlers.LoadDirectory(cfg.DirectoryFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load gateway directory")
	}

	// Background loops
	stop := make(chan struct{})
	defer close(stop)

	retentionEngine := retention.New(st, cfg.Retention, logger, gatewayMetrics)
	retentionEngine.Start(stop)
	presenceManager.Start(stop)
	limiter.StartCleanup(time.Minute, stop)

	// Health checks
	healthChecker.AddCheck("database", monitoring.DatabaseHealthCheck(db))
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"GATEWAY_AUTH_SECRET": cfg.AuthSecret,
	}))

	// Routes
	router := server.SetupRouter(logger)
	wsServer := websocket.NewServer(core)
	gatewayHandlers := handlers.NewHandlers(core, directory)
	gatewayHandlers.RegisterRoutes(router, wsServer, healthChecker)

	// Serve until interrupted
	serverCfg := server.DefaultConfig("postmaster", "18090")
	if err := server.Start(serverCfg, router, logger); err != nil {
		logger.WithError(err).Fatal("Server error")
	}
}
