// Package jobs contains the background jobs that reconcile the fast counter store with the
// durable store, and the cron scheduler that runs them.
//
// SyncWorker drains the pending-sync queue and overwrites durable rows with the latest fast
// counters. ConsistencyValidator compares recently updated durable rows with the fast store
// and raises durable totals that fell behind. Both jobs isolate failures per item and
// tolerate overlapping runs.
package jobs
