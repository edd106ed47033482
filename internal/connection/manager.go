package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/cf-feed/internal/auth"
	"github.com/rickgao/cf-feed/internal/model"
	"github.com/rickgao/cf-feed/internal/router"
	"github.com/rickgao/cf-feed/internal/subscription"
)

// Manager is the client facade: it owns the socket, the challenge handshake,
// the subscription sets and the callback registry, and runs the single
// receive goroutine that dispatches inbound frames.
type Manager struct {
	cfg    ManagerConfig
	logger *slog.Logger

	client     Client
	auth       *auth.Authenticator
	tracker    *subscription.Tracker
	registry   *router.Registry
	dispatcher *router.Dispatcher

	// ctx is cancelled by Exit and bounds the receive loop.
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	started  bool
	looping  bool
	exited   bool
	done     chan struct{} // closed once the manager has stopped
	err      error         // why the receive loop returned, if not Exit
	exitOnce sync.Once
}

// NewManager wires the components together. Nothing touches the network
// until Connect.
func NewManager(cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultManagerConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = def.AuthTimeout
	}
	if cfg.Exchange == "" {
		cfg.Exchange = def.Exchange
	}

	client := NewClient(ClientConfig{
		URL:          cfg.URL,
		PingInterval: cfg.PingInterval,
		PingTimeout:  3 * cfg.PingInterval,
		WriteTimeout: cfg.WriteTimeout,
		BufferSize:   cfg.BufferSize,
	}, logger.With("component", "client"))

	a := auth.NewAuthenticator(cfg.Credentials, client, logger.With("component", "auth"))
	tracker := subscription.NewTracker(client, a, cfg.AuthTimeout, logger.With("component", "subscription"))
	registry := router.NewRegistry(cfg.CommandBufferSize, tracker, logger.With("component", "registry"))
	dispatcher := router.NewDispatcher(cfg.Exchange, registry, a, logger.With("component", "dispatcher"))

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:        cfg,
		logger:     logger,
		client:     client,
		auth:       a,
		tracker:    tracker,
		registry:   registry,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Connect dials the endpoint, waiting at most ConnectTimeout, and starts
// the receive loop. When credentials are configured a challenge is
// requested as soon as the socket is open. On failure the manager is torn
// down and the error wraps ErrConnectTimeout; a Manager cannot be
// reconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.exited {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	if err := m.client.Connect(dialCtx); err != nil {
		m.logger.Error("connect failed",
			"url", m.cfg.URL,
			"timeout", m.cfg.ConnectTimeout,
			"error", err,
		)
		m.Exit()
		if errors.Is(err, ErrAlreadyClosed) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
	}

	m.mu.Lock()
	if m.exited {
		m.mu.Unlock()
		return ErrAlreadyClosed
	}
	m.looping = true
	m.mu.Unlock()
	go m.receiveLoop()

	m.logger.Info("connected", "url", m.cfg.URL)

	if m.auth.Configured() {
		if err := m.auth.RequestChallenge(); err != nil {
			m.logger.Error("challenge request failed", "error", err)
		}
	}
	return nil
}

// Exit closes the connection and stops the receive loop. It is idempotent
// and safe to call from any goroutine.
func (m *Manager) Exit() {
	m.exitOnce.Do(func() {
		m.mu.Lock()
		m.exited = true
		looping := m.looping
		m.mu.Unlock()

		m.cancel()
		m.registry.Close()
		if err := m.client.Close(); err != nil {
			m.logger.Debug("close error", "error", err)
		}

		// Without a receive loop nobody else closes done.
		if !looping {
			close(m.done)
		}
		m.logger.Info("client exited")
	})
}

// Done is closed once the client has stopped for good.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Err returns the error that ended the receive loop, or nil if it ended
// through Exit.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Wait blocks until the client stops or ctx is done. In the latter case it
// calls Exit and returns nil.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return m.Err()
	case <-ctx.Done():
		m.Exit()
		<-m.done
		return nil
	}
}

// State returns the connection state.
func (m *Manager) State() ConnectionState {
	return m.client.State()
}

// Subscribe subscribes to feed; see subscription.Tracker.Subscribe.
func (m *Manager) Subscribe(ctx context.Context, feed model.Feed, productIDs ...string) error {
	return m.tracker.Subscribe(ctx, feed, productIDs...)
}

// Unsubscribe unsubscribes from feed; see subscription.Tracker.Unsubscribe.
func (m *Manager) Unsubscribe(ctx context.Context, feed model.Feed, productIDs ...string) error {
	return m.tracker.Unsubscribe(ctx, feed, productIDs...)
}

// Subscriptions returns a copy of the tracked subscriptions.
func (m *Manager) Subscriptions() subscription.Snapshot {
	return m.tracker.Snapshot()
}

// AddCallback queues a callback registration for feed and returns the
// handle that removes it. It takes effect before the next data frame is
// dispatched.
func (m *Manager) AddCallback(ctx context.Context, feed model.Feed, productIDs []string, name string, fn router.Callback, kwargs map[string]any) (router.Handle, error) {
	return m.registry.Add(ctx, feed, productIDs, name, fn, kwargs)
}

// RemoveCallback queues removal of a registration. When a key loses its
// last callback the feed (or product) is unsubscribed.
func (m *Manager) RemoveCallback(ctx context.Context, feed model.Feed, productIDs []string, h router.Handle) error {
	return m.registry.Remove(ctx, feed, productIDs, h)
}

// Submit queues a raw registry command.
func (m *Manager) Submit(ctx context.Context, cmd router.Command) error {
	return m.registry.Submit(ctx, cmd)
}

// receiveLoop is the only goroutine that dispatches frames and mutates
// the callback registry.
func (m *Manager) receiveLoop() {
	defer close(m.done)

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-m.client.Errors():
			// The read loop queues every frame before it reports the error,
			// so whatever is buffered now arrived before the close.
			if derr := m.dispatchBuffered(); derr != nil {
				m.stop(derr)
				return
			}
			m.logger.Error("connection lost", "error", err)
			m.stop(err)
			return

		case msg := <-m.client.Messages():
			if err := m.dispatcher.HandleMessage(m.ctx, msg.Data); err != nil {
				m.stop(err)
				return
			}
		}
	}
}

// dispatchBuffered dispatches the frames already queued by the client
// without waiting for more.
func (m *Manager) dispatchBuffered() error {
	for {
		select {
		case msg := <-m.client.Messages():
			if err := m.dispatcher.HandleMessage(m.ctx, msg.Data); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (m *Manager) stop(err error) {
	m.mu.Lock()
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()
	m.Exit()
}
