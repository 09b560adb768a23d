package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Clarekpd/ss-expense-tracker/internal/auth"
	"github.com/Clarekpd/ss-expense-tracker/internal/cache"
	"github.com/Clarekpd/ss-expense-tracker/internal/cli"
	apphttp "github.com/Clarekpd/ss-expense-tracker/internal/http"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
	"github.com/Clarekpd/ss-expense-tracker/internal/services"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cli.LoadEnvFile()

	cfg, cfgErr := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg)
	if cfgErr != nil {
		cli.Fatal(logger, "Configuration validation failed", cfgErr)
	}

	ctx, stop := cli.SignalContext()
	defer stop()

	be, err := cli.OpenBackend(ctx, logger, cfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err)
	}
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	reportCache := cache.NewLRUCache[any](cfg.ReportCacheSize, cfg.ReportCacheTTL)
	cacheManager := cache.NewManager(logger)
	cacheManager.Register(reportCache)
	cacheManager.StartCleanup(cfg.ReportCacheTTL)
	defer cacheManager.Stop()

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL, time.Now)
	reports := services.NewReportService(be.Store, reportCache, logger)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Auth:           auth.NewService(be.Store, tokens, logger),
		Expenses:       services.NewExpenseService(be.Store, be.Events, reports, logger),
		Reports:        reports,
		Store:          be.Store,
		Logger:         logger,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: cfg.TrustedProxies,
		AuthRateLimit:  cfg.AuthRateLimit,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting expense tracker server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"events_enabled", be.Events != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down", log.FieldOperation, log.OpShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		return 1
	}
	logger.Info("Server stopped gracefully")
	return 0
}
