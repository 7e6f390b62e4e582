package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"saldo/internal/amqp"
	"saldo/internal/cli"
	"saldo/internal/formula"
	"saldo/internal/log"
	"saldo/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentWorker)
	logger.Info("Starting saldo-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	store, cleanupStore := cli.InitStore(context.Background(), logger, cfg)
	seq := cli.InitSequence(logger, cfg)

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		cleanupStore()
		os.Exit(1)
	}

	// No publisher: a cascade failing here must not feed the queue it consumes.
	ledger := services.NewLedgerService(store, seq, formula.DefaultCatalog(seq), cli.LedgerConfig(cfg), nil)
	processor := services.NewMaintenanceProcessor(ledger, services.MaintenanceConfig{Interval: cfg.RecomputeInterval})

	logger.Info("Maintenance configured",
		"interval", cfg.RecomputeInterval.String(),
		"queue", cfg.AMQPQueue,
		"backend", cfg.DataBackend)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 25*time.Second)
		defer cancel()
		if err := processor.Stop(stopCtx); err != nil {
			logger.Warn("Maintenance processor stop error", log.FieldError, err)
		}
		if err := amqpClient.Close(); err != nil {
			logger.Warn("AMQP close error", log.FieldError, err)
		}
		cleanupStore()
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return processor.Start(gctx)
	})
	g.Go(func() error {
		err := amqpClient.ConsumeLedgerEvents(gctx, processor.HandleEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker failed", log.FieldError, err)
		cleanupStore()
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
