// Package observability provides structured logging, Prometheus metrics, health checks,
// OpenTelemetry setup and graceful shutdown for the viewcount processes.
//
// # Structured Logging
//
//	log, err := observability.NewLogger("info", "json", os.Stdout)
//	log.WithField("item_id", id).Warn("Fast counter store unavailable")
//
// # Prometheus Metrics
//
// Metrics implements viewstats.MetricsRecorder:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	recorder := views.NewRecorder(fast, durable, wal, metrics, log)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(durable, fast, "1.0.0")
//	observability.RegisterHealthRoutes(mux, checker)
//
// The durable store is required: its failure reports unhealthy. The fast store has a
// fallback path, so its failure only reports degraded.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "viewcount",
//	}, log)
//	defer observability.ShutdownOTel(ctx, providers, log)
package observability
