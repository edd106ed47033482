// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Inbound frames by kind (event, data, snapshot, malformed)
//   - Callback invocations and skipped data frames per feed
//   - Subscribe/unsubscribe requests sent per feed
//   - Callback registry size and connection state
package metrics
