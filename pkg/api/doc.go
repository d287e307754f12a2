// Package api provides the HTTP surface of the view counter.
//
// # Overview
//
// The API is built on gorilla/mux. Viewer identity is supplied by the upstream
// authentication layer in the X-Viewer-ID header; a request without it is
// counted against the shared anonymous viewer.
//
// # Routes
//
//	POST /items/{id}/views   record one view                      204 / 503
//	GET  /items/{id}         record one view, then return stats    200
//	GET  /items/{id}/stats   current stats, X-Stats-Source header  200 / 503
//	GET  /monitoring         cache hit rate and sync queue size    200
//
// # Usage
//
//	server := api.NewServer(recorder, reader, fastStore, metrics, log)
//	server.Use(observability.HTTPMetricsMiddleware(promMetrics))
//	http.ListenAndServe(":8080", server.Handler())
//
// Handler wraps the router with request IDs, logging, panic recovery and an
// OpenTelemetry server span per request.
package api
