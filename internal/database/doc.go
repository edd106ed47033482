// Package database provides the PostgreSQL connection pool and schema for
// the feed recorder.
//
// The recorder appends every dispatched payload to feed_events; the table
// is created on startup when it does not exist.
package database
