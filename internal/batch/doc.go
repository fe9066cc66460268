// Package batch buffers readings between the ingress path and the store.
//
// Producers call Append from any goroutine. A background loop flushes
// once per interval when at least MinBatchSize readings are pending; the
// pending slice is swapped out under the lock and written outside it, so
// appends never wait on the sink. Stop drains everything regardless of
// size.
//
// A failed write is retried with backoff. If it still fails the readings
// go back to the front of the pending set, bounded by MaxPending, and the
// error is reported through the error handler and metrics.
package batch
