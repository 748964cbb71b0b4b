package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/opsconsole/api/controllers"
	"github.com/angelmondragon/opsconsole/api/routes"
	"github.com/angelmondragon/opsconsole/internal/bootstrap"
	"github.com/angelmondragon/opsconsole/internal/catalog"
	"github.com/angelmondragon/opsconsole/pkg/config"
	"github.com/angelmondragon/opsconsole/pkg/instance"
	"github.com/angelmondragon/opsconsole/pkg/logger"
	"github.com/angelmondragon/opsconsole/pkg/metrics"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Open(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap resources", err)
		os.Exit(1)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logg.Error(context.Background(), "error closing resources", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	job, err := bootstrap.NewChangeDetectionJob(cfg, logg, res, reg)
	if err != nil {
		logg.Error(ctx, "failed to create change detection job", err)
		os.Exit(1)
	}

	pickService, err := catalog.NewPickService(catalog.PickServiceParams{
		Logger:     logg,
		Repository: catalog.NewRepository(res.DB.DB()),
	})
	if err != nil {
		logg.Error(ctx, "failed to create pick service", err)
		os.Exit(1)
	}

	pingers := map[string]controllers.Pinger{"db": res.DB}
	deps := routes.Deps{
		Config:         cfg,
		Logger:         logg,
		Pingers:        pingers,
		ChangeDetector: job,
		Picks:          pickService,
		Gatherer:       reg,
		HTTPMetrics:    metrics.NewHTTPMetrics(reg),
	}
	if res.Redis != nil {
		pingers["redis"] = res.Redis
		deps.Limiter = res.Redis
	}
	if res.PubSub != nil {
		pingers["pubsub"] = res.PubSub
	}

	if cfg.ChangeDetection.RunInAPI {
		scheduler, err := bootstrap.NewScheduler(cfg, logg, job, reg)
		if err != nil {
			logg.Error(ctx, "failed to create scheduler", err)
			os.Exit(1)
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "in-process scheduler stopped", err)
			}
		}()
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx = logg.WithFields(ctx, map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"instance":  instance.GetID(),
		"scheduler": cfg.ChangeDetection.RunInAPI,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "api server shutdown failed", err)
		}
		logg.Info(ctx, "api server shut down gracefully")
	}
}
