// Package viewstats holds the types shared by every layer of the view counter:
// the stats record served to callers, the durable row shapes, viewer identity,
// the error taxonomy and the metrics port.
//
// # Error taxonomy
//
//   - ErrStoreUnavailable: the fast counter store could not be reached, timed out or
//     returned data that could not be interpreted. Never fatal; always triggers a fallback.
//   - ErrPersistence: a durable store transaction failed. The originating view may be lost.
//   - ErrWALIO: the local write-ahead log could not be appended, read or cleared.
//     Logged only; never blocks the write path.
//
// A consistency mismatch between the fast and durable stores is not an error. The
// consistency validator logs it and repairs it.
package viewstats
