package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/app"
	"github.com/platinummonkey/viewcount/pkg/config"
	"github.com/platinummonkey/viewcount/pkg/jobs"
	"github.com/platinummonkey/viewcount/pkg/observability"
)

var (
	runOnce    = flag.String("run-once", "", "Run a job once and exit: sync, consistency or all")
	recoverWAL = flag.Bool("recover-wal", false, "Replay and clear the local write-ahead log, then exit")
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create logger")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Worker exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, app.OTelConfig(cfg.Observability, observability.RoleWorker), log)
	if err != nil {
		return err
	}
	defer observability.ShutdownOTel(context.Background(), providers, log) //nolint:errcheck

	registry := prometheus.NewRegistry()
	metrics, promMetrics, err := app.NewMetrics(cfg.Observability, registry)
	if err != nil {
		return err
	}

	stores, err := app.OpenStores(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	if *recoverWAL {
		cfg.WAL.Enabled = true
		walLog, err := app.OpenWAL(cfg.WAL, log)
		if err != nil {
			return err
		}
		defer walLog.Close()
		return app.RecoverWAL(ctx, walLog, stores.Fast, log)
	}

	worker := app.NewJobs(cfg.Jobs, stores, metrics, log)

	if *runOnce != "" {
		log.WithField("job", *runOnce).Info("Running job once")
		if err := worker.RunOnce(ctx, *runOnce); err != nil {
			return err
		}
		log.WithField("job", *runOnce).Info("Job completed successfully")
		return nil
	}

	scheduler := jobs.NewScheduler(log)
	if err := worker.Schedule(scheduler); err != nil {
		return err
	}

	promMetrics.StartPoolStatsRoutine(ctx, 15*time.Second, stores.DBStats, stores.RedisPoolStats)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(stores.Durable, stores.Fast, cfg.Observability.OTelServiceVersion))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Health server failed")
		}
	}()

	scheduler.Start()
	log.WithFields(logrus.Fields{
		"sync_schedule":        cfg.Jobs.SyncSchedule,
		"consistency_schedule": cfg.Jobs.ConsistencySchedule,
	}).Info("View counter worker started")

	shutdown := observability.NewShutdownManager(log, cfg.Server.ShutdownTimeout, healthServer)
	shutdown.RegisterShutdownFunc(scheduler.Stop)

	err = shutdown.WaitForShutdown()
	log.Info("Worker stopped")
	return err
}
