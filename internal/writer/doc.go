// Package writer records dispatched feed payloads in PostgreSQL.
//
// EventWriter is registered as an ordinary callback. It copies each payload
// into a GrowableBuffer and a separate goroutine flushes batches into the
// feed_events table with pgx.Batch. Rows are append-only.
package writer
