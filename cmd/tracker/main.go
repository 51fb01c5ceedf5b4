package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/coin_tracker/internal/config"
	"github.com/vitos/coin_tracker/internal/domain"
	"github.com/vitos/coin_tracker/internal/infrastructure/exchange"
	"github.com/vitos/coin_tracker/internal/infrastructure/logger"
	"github.com/vitos/coin_tracker/internal/infrastructure/storage"
	"github.com/vitos/coin_tracker/internal/usecase"
	"github.com/vitos/coin_tracker/internal/web"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Init Logger
	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Encoding)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Storage connection manager
	conn := usecase.NewConnectionManager(
		func(ctx context.Context) (domain.Store, error) {
			return storage.Open(ctx, cfg.Storage.URI, cfg.Storage.ConnectTimeout)
		},
		usecase.ConnectOptions{
			MaxAttempts:   cfg.Storage.MaxAttempts,
			BaseDelay:     cfg.Storage.BaseDelay,
			PingTimeout:   cfg.Storage.ServerSelectionTimeout,
			ProbeInterval: cfg.Storage.ProbeInterval,
		},
		log,
	)

	// 4. Upstream market source
	source := exchange.NewCoinGeckoAdapter(
		cfg.Upstream.BaseURL,
		cfg.Upstream.APIKey,
		exchange.MarketsQuery{
			VsCurrency: cfg.Upstream.VsCurrency,
			Order:      cfg.Upstream.Order,
			PerPage:    cfg.Upstream.PerPage,
			Page:       cfg.Upstream.Page,
		},
		cfg.Upstream.Timeout,
		cfg.Upstream.RequestsPerMinute,
	)

	// 5. Ingestion pipeline and scheduler
	status := usecase.NewStatusTracker()
	ingestion := usecase.NewIngestionService(source, conn, status, log)
	scheduler, err := usecase.NewScheduler(cfg.Ingestion.Cadence, ingestion, cfg.Ingestion.CycleTimeout, log)
	if err != nil {
		log.Fatal("Failed to init scheduler", zap.Error(err))
	}

	hub := web.NewHub(log)
	ingestion.OnCycle(func(report usecase.CycleReport) {
		hub.Broadcast(web.NewCycleMessage(report))
	})

	// 6. Connect in the background; the server comes up regardless.
	go func() {
		if err := conn.Connect(ctx); err != nil {
			log.Error("Storage unreachable, serving without ingestion", zap.Error(err))
			return
		}
		conn.Watch(ctx)
	}()

	poller := usecase.NewReadinessPoller(conn, scheduler, cfg.Ingestion.ReadinessInterval, cfg.Ingestion.RunOnStart, log)
	go poller.Run(ctx)

	// 7. Init Web Server
	server := web.NewServer(cfg.Server.Port, conn, scheduler, status, hub, log)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	// 8. Wait for Shutdown
	<-ctx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	// Lets an in-flight cycle finish before the store is closed.
	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("In-flight cycle did not finish before shutdown deadline", zap.Error(err))
	}
	if err := conn.Close(); err != nil {
		log.Error("Failed to close storage", zap.Error(err))
	}
}
