// Package model defines the feed catalogue and wire frames shared across the
// Crypto Facilities WebSocket client.
//
// Conventions:
//   - Public feeds are scoped by product id; private feeds are account scoped.
//   - A public feed subscribed without product ids (heartbeat) is tracked
//     under the empty product id.
//   - Snapshot frames carry a feed name suffixed with "_snapshot".
package model
