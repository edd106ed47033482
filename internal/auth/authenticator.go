package auth

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rickgao/cf-feed/internal/model"
)

// Sender writes a frame to the socket as JSON.
type Sender interface {
	SendJSON(v any) error
}

// Authenticator requests challenges from the server and caches the signed
// result. Requests go out on the caller's goroutine; answers are captured on
// the receive goroutine.
type Authenticator struct {
	creds  Credentials
	sender Sender
	logger *slog.Logger

	mu        sync.Mutex
	challenge *Challenge
	requested bool
	ready     chan struct{} // closed once the first challenge is signed
}

// NewAuthenticator creates an Authenticator. sender may be nil until the
// socket is up; see SetSender.
func NewAuthenticator(creds Credentials, sender Sender, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		creds:  creds,
		sender: sender,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// SetSender replaces the frame sender.
func (a *Authenticator) SetSender(sender Sender) {
	a.mu.Lock()
	a.sender = sender
	a.mu.Unlock()
}

// Configured reports whether credentials are present.
func (a *Authenticator) Configured() bool {
	return a.creds.Configured()
}

// APIKey returns the configured API key.
func (a *Authenticator) APIKey() string {
	return a.creds.APIKey
}

// RequestChallenge sends {"event":"challenge","api_key":...}. The answer
// arrives asynchronously and is handed to Capture.
func (a *Authenticator) RequestChallenge() error {
	if !a.creds.Configured() {
		return ErrNoCredentials
	}

	a.mu.Lock()
	sender := a.sender
	a.requested = true
	a.mu.Unlock()

	if sender == nil {
		return fmt.Errorf("request challenge: no sender")
	}

	a.logger.Debug("requesting challenge")
	if err := sender.SendJSON(model.ChallengeRequest{Event: model.EventChallenge, APIKey: a.creds.APIKey}); err != nil {
		a.mu.Lock()
		a.requested = false
		a.mu.Unlock()
		return fmt.Errorf("request challenge: %w", err)
	}
	return nil
}

// Capture signs a challenge received from the server and caches it,
// replacing any previous challenge.
func (a *Authenticator) Capture(original string) error {
	ch, err := a.creds.Sign(original)
	if err != nil {
		return err
	}

	a.mu.Lock()
	first := a.challenge == nil
	a.challenge = &ch
	a.requested = false
	a.mu.Unlock()

	if first {
		close(a.ready)
	}
	a.logger.Info("challenge signed")
	return nil
}

// Challenge returns the cached signed challenge, if any.
func (a *Authenticator) Challenge() (Challenge, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.challenge == nil {
		return Challenge{}, false
	}
	return *a.challenge, true
}

// Wait blocks until a signed challenge is available or ctx is done. If no
// challenge has been requested yet, one is requested first.
func (a *Authenticator) Wait(ctx context.Context) (Challenge, error) {
	if ch, ok := a.Challenge(); ok {
		return ch, nil
	}

	a.mu.Lock()
	requested := a.requested
	a.mu.Unlock()

	if !requested {
		if err := a.RequestChallenge(); err != nil {
			return Challenge{}, err
		}
	}

	a.logger.Info("waiting for challenge")
	select {
	case <-a.ready:
		ch, _ := a.Challenge()
		return ch, nil
	case <-ctx.Done():
		return Challenge{}, fmt.Errorf("wait for challenge: %w", ctx.Err())
	}
}
