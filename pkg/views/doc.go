// Package views holds the write path (Recorder) and the read path (Reader).
//
// A recorded view is always logged to the write-ahead log first, then applied to the fast
// counter store. When the fast store is unavailable the recorder attempts a WAL recovery
// and writes the view directly to the durable store. Reads prefer the fast store and fall
// back to the durable store, counting hits and misses.
package views
