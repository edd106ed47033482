package connection

import (
	"errors"
	"time"

	"github.com/rickgao/cf-feed/internal/auth"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrConnectTimeout  = errors.New("connect timeout")
	ErrAlreadyClosed   = errors.New("already closed")
)

// ConnectionState is the socket lifecycle state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // e.g. wss://futures.kraken.com/ws/v1
	PingInterval time.Duration // Keepalive ping period; 0 disables pings
	PingTimeout  time.Duration // Max time without a pong before the connection is stale; 0 disables
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  90 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   1000,
	}
}

// ManagerConfig configures the Connection Manager.
type ManagerConfig struct {
	URL               string
	Exchange          string // passed to every callback
	Credentials       auth.Credentials
	ConnectTimeout    time.Duration // bound on the dial + handshake
	AuthTimeout       time.Duration // bound on a private subscribe waiting for the challenge
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	BufferSize        int // inbound frame buffer
	CommandBufferSize int // callback registration queue
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Exchange:          "futures",
		ConnectTimeout:    5 * time.Second,
		AuthTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Second,
		PingInterval:      30 * time.Second,
		BufferSize:        1000,
		CommandBufferSize: 1024,
	}
}
