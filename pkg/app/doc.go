// Package app assembles the view counter's components from configuration.
//
// Both binaries share this wiring: cmd/viewcount serves the HTTP API and
// cmd/viewcount-worker runs the scheduled sync and consistency jobs.
//
//	stores, err := app.OpenStores(ctx, cfg.Storage, log)
//	w, err := app.OpenWAL(cfg.WAL, log)
//	recorder := app.NewRecorder(stores, w, metrics, log)
package app
