// cmd/billing/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deannos/billing-engine-nuvaris/internal/billing"
	"github.com/deannos/billing-engine-nuvaris/internal/config"
	"github.com/deannos/billing-engine-nuvaris/internal/events"
	"github.com/deannos/billing-engine-nuvaris/internal/ledger"
	"github.com/deannos/billing-engine-nuvaris/internal/logger"
	"github.com/deannos/billing-engine-nuvaris/internal/rates"
	"github.com/deannos/billing-engine-nuvaris/internal/render"
	"github.com/deannos/billing-engine-nuvaris/internal/server"
	"github.com/deannos/billing-engine-nuvaris/internal/store"
	"go.uber.org/zap"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs", "Path to the configuration directory")
	flag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	db, err := store.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err), zap.String("driver", cfg.Database.Driver))
	}
	repo := store.NewGormStore(db, log)

	catalog := rates.NewCatalog(repo, log)
	opts := []billing.Option{billing.WithDefaultCategory(cfg.Billing.DefaultCategory)}

	var publisher *events.Publisher
	if cfg.Kafka.Enabled {
		producer, err := events.NewProducer(cfg.Kafka, log)
		if err != nil {
			log.Fatal("Failed to setup Kafka producer", zap.Error(err))
		}
		publisher = events.NewPublisher(cfg.Publisher, cfg.Kafka, producer, log)
		publisher.Start()
		opts = append(opts, billing.WithPublisher(publisher))
	} else {
		log.Info("Kafka disabled, bill events are not published")
	}

	svc := billing.NewService(repo, catalog, ledger.New(repo, log), log, opts...)
	renderer := render.New(render.Options{
		TitleLines:  cfg.Render.TitleLines,
		FooterNotes: cfg.Render.FooterNotes,
		Currency:    cfg.Billing.Currency,
	})

	httpServer := server.NewHTTPServer(cfg, svc, catalog, renderer, log)
	if err := httpServer.Start(); err != nil {
		log.Fatal("Failed to start HTTP server", zap.Error(err))
	}
	log.Info("Billing service started",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
		zap.Bool("kafka", cfg.Kafka.Enabled),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout+5*time.Second)
	defer shutdownCancel()

	// HTTP first so no new bill writes enqueue events after the publisher drains.
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error("Error during HTTP server shutdown", zap.Error(err))
	}
	if publisher != nil {
		publisher.Stop()
	}
	if sqlDB, err := db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}
	log.Info("Server exited")
}
