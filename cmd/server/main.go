package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/roomrelay/internal/logging"
	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/Tyrowin/roomrelay/internal/server"
	"github.com/Tyrowin/roomrelay/internal/version"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// Load local .env (dev only)
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to optional YAML config file")
	flag.Parse()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting roomrelay",
		zap.String("version", version.String()),
		zap.String("addr", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Strings("allowed_origins", cfg.AllowedOrigins),
		zap.Bool("self_delivery", cfg.SelfDelivery),
		zap.Bool("announce_rooms", cfg.AnnounceRooms),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	hub := server.NewHub(*cfg, logger.Named("hub"), m)
	go m.Report(ctx, cfg.MetricsInterval, logger.Named("metrics"))

	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub, m))
	go func() {
		if err := server.StartServer(httpServer, logger); err != nil {
			logger.Error("server crashed", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if err := server.ShutdownServer(httpServer, cfg.ShutdownTimeout, logger); err != nil {
		logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		logger.Warn("hub shutdown incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
