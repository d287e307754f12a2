package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/viewcount/pkg/api"
	"github.com/platinummonkey/viewcount/pkg/app"
	"github.com/platinummonkey/viewcount/pkg/config"
	"github.com/platinummonkey/viewcount/pkg/observability"
	"github.com/platinummonkey/viewcount/pkg/views"
)

const poolStatsInterval = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create logger")
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("View counter exited with error")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, app.OTelConfig(cfg.Observability, observability.RoleAPI), log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, promMetrics, err := app.NewMetrics(cfg.Observability, registry)
	if err != nil {
		return err
	}

	stores, err := app.OpenStores(ctx, cfg.Storage, log)
	if err != nil {
		return err
	}
	if stores.Conns != nil {
		stores.Conns.StartHealthCheckRoutine(ctx, 30*time.Second)
	}
	promMetrics.StartPoolStatsRoutine(ctx, poolStatsInterval, stores.DBStats, stores.RedisPoolStats)

	walLog, err := app.OpenWAL(cfg.WAL, log)
	if err != nil {
		stores.Close()
		return err
	}
	if walLog != nil && cfg.WAL.RecoverOnStart {
		if err := app.RecoverWAL(ctx, walLog, stores.Fast, log); err != nil {
			log.WithError(err).Warn("Write-ahead log recovery failed, continuing")
		}
	}

	recorder := app.NewRecorder(stores, walLog, metrics, log)
	reader := views.NewReader(stores.Fast, stores.Durable, metrics, log)

	apiServer := api.NewServer(recorder, reader, stores.Fast, metrics, log)
	apiServer.Use(observability.HTTPMetricsMiddleware(promMetrics))

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      apiServer.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

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

	shutdown := observability.NewShutdownManager(log, cfg.Server.ShutdownTimeout, httpServer, healthServer)
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error {
		if walLog != nil {
			walLog.Close()
		}
		return stores.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		go func(srv *http.Server) {
			log.WithField("addr", srv.Addr).Info("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}(srv)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serveErr:
		log.WithError(err).Error("HTTP server failed")
		if shutdownErr := shutdown.Shutdown(); shutdownErr != nil {
			log.WithError(shutdownErr).Error("Shutdown after server failure")
		}
		return err
	case err := <-waitErr:
		log.Info("View counter stopped")
		return err
	}
}
