// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns one WebSocket connection for the life of the client (no reconnect)
//   - Bounds the dial by a connect timeout and tears down on failure
//   - Requests an authentication challenge on open when credentials are set
//   - Runs the single receive goroutine that feeds the Message Dispatcher
//   - Exposes subscribe, unsubscribe and callback registration to callers
package connection
