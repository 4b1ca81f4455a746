package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/itamarsh/cardledger/internal/config"
	"github.com/itamarsh/cardledger/internal/detector"
	"github.com/itamarsh/cardledger/internal/eventbus"
	"github.com/itamarsh/cardledger/internal/handler"
	"github.com/itamarsh/cardledger/internal/parser"
	"github.com/itamarsh/cardledger/internal/reconcile"
	"github.com/itamarsh/cardledger/internal/server"
	"github.com/itamarsh/cardledger/internal/service"
	"github.com/itamarsh/cardledger/internal/storage"
	"github.com/itamarsh/cardledger/pkg/logger"
)

// noopRates stands in for the external currency rate collaborator; every rate
// is unknown, so foreign amounts without a charged ILS column degrade to the
// original amount with a warning.
type noopRates struct{}

func (noopRates) Rate(ctx context.Context, date time.Time, currency string) (*decimal.Decimal, error) {
	return nil, nil
}

// noopClassifier stands in for the external categorization collaborator.
type noopClassifier struct{}

func (noopClassifier) Classify(ctx context.Context, businessNames []string) (map[string]string, error) {
	return map[string]string{}, nil
}

func main() {
	cfg := config.Load()
	parser.Tolerance = decimal.NewFromFloat(cfg.Ingest.ValidationTolerance)

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	ctx := context.Background()
	log.Info(ctx, "Starting application")

	store := storage.NewMemoryStore()
	log.Info(ctx, "Repository initialized")

	eventBusCfg := &eventbus.Config{
		ChannelBuffer: cfg.EventBus.ChannelBufferSize,
		MaxRetries:    cfg.Worker.MaxRetries,
	}
	bus := eventbus.New(log, eventBusCfg)
	log.Info(ctx, "Event bus initialized")

	categorizationConsumer := eventbus.NewCategorizationConsumer(
		store,
		noopClassifier{},
		log,
		cfg.Worker.PoolSize,
	)
	log.Info(ctx, "Categorization consumer initialized",
		"worker_count", cfg.Worker.PoolSize,
	)

	err := bus.Subscribe(eventbus.EventTypeCategorization, categorizationConsumer)
	if err != nil {
		log.Fatal(ctx, "Failed to subscribe consumer",
			"error", err,
		)
	}

	err = bus.Start(ctx)
	if err != nil {
		log.Fatal(ctx, "Failed to start event bus",
			"error", err,
		)
	}

	registry := parser.NewRegistry()
	det := detector.New(store, registry, log)
	reconciler := reconcile.New(store, log)
	batchService := service.NewBatchService(
		store,
		store,
		det,
		registry,
		reconciler,
		store,
		noopRates{},
		bus,
		log,
		cfg.Ingest.DefaultCurrency,
	)
	log.Info(ctx, "Services initialized")

	batchHandler := handler.NewBatchHandler(batchService, log)
	cardHandler := handler.NewCardHandler(det, log)
	healthHandler := handler.NewHealthHandler()
	log.Info(ctx, "Handlers initialized")

	srv := server.New(cfg, log, batchHandler, cardHandler, healthHandler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal(ctx, "Failed to start HTTP server",
				"error", err,
			)
		}
	}()

	log.Info(ctx, "Application started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// Graceful shutdown in order:
	// 1. Stop accepting new HTTP requests
	log.Info(shutdownCtx, "Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "HTTP server shutdown error",
			"error", err,
		)
	}

	// 2. Stop event bus and wait for workers to finish
	if err := bus.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Event bus shutdown error",
			"error", err,
		)
	}

	log.Info(ctx, "Application stopped gracefully")
}
