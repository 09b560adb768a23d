package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/Clarekpd/ss-expense-tracker/internal/amqp"
	"github.com/Clarekpd/ss-expense-tracker/internal/cache"
	"github.com/Clarekpd/ss-expense-tracker/internal/cli"
	"github.com/Clarekpd/ss-expense-tracker/internal/config"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
	"github.com/Clarekpd/ss-expense-tracker/internal/worker"
)

const (
	seenEvents    = 10000
	seenTTL       = time.Hour
	statsInterval = 5 * time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	cli.LoadEnvFile()

	// Only the broker and log settings matter here.
	cfg := config.Load()
	logger := cli.SetupLogger(cfg)

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required")
		return 1
	}

	logger.Info("Starting expense event consumer",
		"exchange", cfg.AMQPExchange,
		"queue", cfg.AMQPQueue)

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		return 1
	}
	defer client.Close()

	ctx, stop := cli.SignalContext()
	defer stop()

	seen := cache.NewLRUCache[struct{}](seenEvents, seenTTL)
	cacheManager := cache.NewManager(logger)
	cacheManager.Register(seen)
	cacheManager.StartCleanup(seenTTL / 4)
	defer cacheManager.Stop()

	w := worker.NewEventWorker(seen, logger)
	go w.ReportStats(ctx, statsInterval)

	if err := client.ConsumeExpenseEvents(ctx, w.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Message consumption failed", log.FieldError, err)
		return 1
	}

	logger.Info("Expense event consumer stopped", log.FieldOperation, log.OpShutdown)
	return 0
}
