// Package router dispatches inbound WebSocket frames to registered callbacks.
//
// The Registry holds callbacks keyed by feed and product id. Registration
// requests are queued and applied by the receive goroutine before each data
// frame, so the callback table is only ever touched from that goroutine.
// The Dispatcher classifies frames, handles protocol events and fans each
// payload out to the matching callbacks in registration order.
package router
