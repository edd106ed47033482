// Package subscription tracks which feeds and products the client is
// subscribed to so that repeated requests do not reach the network.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rickgao/cf-feed/internal/auth"
	"github.com/rickgao/cf-feed/internal/metrics"
	"github.com/rickgao/cf-feed/internal/model"
)

var (
	ErrUnknownFeed   = errors.New("unknown feed")
	ErrNoCredentials = errors.New("private feed requires credentials")
)

// DefaultAuthTimeout bounds how long a private subscribe waits for the
// challenge handshake.
const DefaultAuthTimeout = 30 * time.Second

// Sender writes a frame to the socket as JSON.
type Sender interface {
	SendJSON(v any) error
}

// Signer provides the signed challenge for private requests.
type Signer interface {
	Configured() bool
	APIKey() string
	Wait(ctx context.Context) (auth.Challenge, error)
}

// Tracker owns the public and private subscription sets. It is safe for
// concurrent use by callers on any goroutine and by the receive goroutine,
// which unsubscribes when the last callback for a key is removed.
//
// reqMu serializes check, send and record so two requests for the same key
// cannot both reach the network. mu only guards the sets and is never held
// across a socket write, so Snapshot does not wait on a slow send.
type Tracker struct {
	sender      Sender
	signer      Signer
	logger      *slog.Logger
	authTimeout time.Duration

	reqMu sync.Mutex

	mu      sync.Mutex
	public  map[model.Feed]map[string]struct{}
	private map[model.Feed]struct{}
}

// NewTracker creates a Tracker that sends requests through sender.
func NewTracker(sender Sender, signer Signer, authTimeout time.Duration, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if authTimeout <= 0 {
		authTimeout = DefaultAuthTimeout
	}
	return &Tracker{
		sender:      sender,
		signer:      signer,
		logger:      logger,
		authTimeout: authTimeout,
		public:      make(map[model.Feed]map[string]struct{}),
		private:     make(map[model.Feed]struct{}),
	}
}

// Subscribe subscribes to feed. For a public feed only product ids not
// already tracked are requested; nothing is sent when all are tracked. With
// no product ids the feed is tracked under the empty product id. A private
// feed waits for the challenge handshake first and is requested once.
func (t *Tracker) Subscribe(ctx context.Context, feed model.Feed, productIDs ...string) error {
	switch {
	case feed.IsPublic():
		return t.subscribePublic(feed, productIDs)
	case feed.IsPrivate():
		return t.subscribePrivate(ctx, feed)
	default:
		t.logger.Error("subscribe rejected: unknown feed", "feed", feed)
		return fmt.Errorf("subscribe %q: %w", feed, ErrUnknownFeed)
	}
}

// Unsubscribe unsubscribes from feed. A public unsubscribe is always sent
// for the requested product ids, tracked or not, and then untracked. A
// private unsubscribe is only sent when the feed is tracked.
func (t *Tracker) Unsubscribe(ctx context.Context, feed model.Feed, productIDs ...string) error {
	switch {
	case feed.IsPublic():
		return t.unsubscribePublic(feed, productIDs)
	case feed.IsPrivate():
		return t.unsubscribePrivate(ctx, feed)
	default:
		t.logger.Error("unsubscribe rejected: unknown feed", "feed", feed)
		return fmt.Errorf("unsubscribe %q: %w", feed, ErrUnknownFeed)
	}
}

func (t *Tracker) subscribePublic(feed model.Feed, productIDs []string) error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	t.mu.Lock()
	tracked := t.public[feed]
	var fresh []string
	for _, id := range normalize(productIDs) {
		if _, ok := tracked[id]; !ok {
			fresh = append(fresh, id)
		}
	}
	t.mu.Unlock()

	if len(fresh) == 0 {
		t.logger.Debug("already subscribed", "feed", feed, "product_ids", productIDs)
		return nil
	}

	req := model.PublicRequest{Event: model.EventSubscribe, Feed: feed, ProductIDs: wireIDs(fresh)}
	if err := t.sender.SendJSON(req); err != nil {
		t.logger.Error("public subscribe failed", "feed", feed, "error", err)
		return fmt.Errorf("subscribe %s: %w", feed, err)
	}
	metrics.IncRequest(model.EventSubscribe, feed.String())

	t.mu.Lock()
	tracked = t.public[feed]
	if tracked == nil {
		tracked = make(map[string]struct{}, len(fresh))
		t.public[feed] = tracked
	}
	for _, id := range fresh {
		tracked[id] = struct{}{}
	}
	t.mu.Unlock()

	t.logger.Info("public subscribe", "feed", feed, "product_ids", fresh)
	return nil
}

func (t *Tracker) unsubscribePublic(feed model.Feed, productIDs []string) error {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	ids := normalize(productIDs)

	// Sent even for ids that are not tracked; unlike subscribe there is no
	// dedup guard here.
	req := model.PublicRequest{Event: model.EventUnsubscribe, Feed: feed, ProductIDs: wireIDs(ids)}
	if err := t.sender.SendJSON(req); err != nil {
		t.logger.Error("public unsubscribe failed", "feed", feed, "error", err)
		return fmt.Errorf("unsubscribe %s: %w", feed, err)
	}
	metrics.IncRequest(model.EventUnsubscribe, feed.String())

	t.mu.Lock()
	if tracked := t.public[feed]; tracked != nil {
		for _, id := range ids {
			delete(tracked, id)
		}
		if len(tracked) == 0 {
			delete(t.public, feed)
		}
	}
	t.mu.Unlock()

	t.logger.Info("public unsubscribe", "feed", feed, "product_ids", productIDs)
	return nil
}

func (t *Tracker) subscribePrivate(ctx context.Context, feed model.Feed) error {
	if t.signer == nil || !t.signer.Configured() {
		t.logger.Error("private subscribe rejected: no credentials", "feed", feed)
		return fmt.Errorf("subscribe %s: %w", feed, ErrNoCredentials)
	}

	if t.isPrivateTracked(feed) {
		t.logger.Debug("already subscribed", "feed", feed)
		return nil
	}

	ch, err := t.waitChallenge(ctx)
	if err != nil {
		t.logger.Error("private subscribe failed: no challenge", "feed", feed, "error", err)
		return fmt.Errorf("subscribe %s: %w", feed, err)
	}

	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	// Re-check: another caller may have subscribed while we waited.
	if t.isPrivateTracked(feed) {
		return nil
	}

	if err := t.sender.SendJSON(t.privateRequest(model.EventSubscribe, feed, ch)); err != nil {
		t.logger.Error("private subscribe failed", "feed", feed, "error", err)
		return fmt.Errorf("subscribe %s: %w", feed, err)
	}
	metrics.IncRequest(model.EventSubscribe, feed.String())

	t.mu.Lock()
	t.private[feed] = struct{}{}
	t.mu.Unlock()

	t.logger.Info("private subscribe", "feed", feed)
	return nil
}

func (t *Tracker) unsubscribePrivate(ctx context.Context, feed model.Feed) error {
	if !t.isPrivateTracked(feed) {
		t.logger.Debug("not subscribed", "feed", feed)
		return nil
	}

	// A tracked private feed implies a signed challenge already exists, so
	// this does not block.
	ch, err := t.waitChallenge(ctx)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", feed, err)
	}

	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	if !t.isPrivateTracked(feed) {
		return nil
	}

	if err := t.sender.SendJSON(t.privateRequest(model.EventUnsubscribe, feed, ch)); err != nil {
		t.logger.Error("private unsubscribe failed", "feed", feed, "error", err)
		return fmt.Errorf("unsubscribe %s: %w", feed, err)
	}
	metrics.IncRequest(model.EventUnsubscribe, feed.String())

	t.mu.Lock()
	delete(t.private, feed)
	t.mu.Unlock()

	t.logger.Info("private unsubscribe", "feed", feed)
	return nil
}

func (t *Tracker) isPrivateTracked(feed model.Feed) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.private[feed]
	return ok
}

func (t *Tracker) waitChallenge(ctx context.Context) (auth.Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, t.authTimeout)
	defer cancel()
	return t.signer.Wait(ctx)
}

func (t *Tracker) privateRequest(event string, feed model.Feed, ch auth.Challenge) model.PrivateRequest {
	return model.PrivateRequest{
		Event:             event,
		Feed:              feed,
		APIKey:            t.signer.APIKey(),
		OriginalChallenge: ch.Original,
		SignedChallenge:   ch.Signed,
	}
}

// Products returns the tracked product ids for a public feed, sorted.
func (t *Tracker) Products(feed model.Feed) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.public[feed]))
	for id := range t.public[feed] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PrivateFeeds returns the tracked private feeds, sorted.
func (t *Tracker) PrivateFeeds() []model.Feed {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]model.Feed, 0, len(t.private))
	for f := range t.private {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Snapshot is a point-in-time copy of the tracked subscriptions.
type Snapshot struct {
	Public  map[model.Feed][]string `json:"public"`
	Private []model.Feed            `json:"private"`
}

// Snapshot copies the tracked state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	feeds := make([]model.Feed, 0, len(t.public))
	for f := range t.public {
		feeds = append(feeds, f)
	}
	t.mu.Unlock()

	snap := Snapshot{Public: make(map[model.Feed][]string, len(feeds))}
	for _, f := range feeds {
		snap.Public[f] = t.Products(f)
	}
	snap.Private = t.PrivateFeeds()
	return snap
}

// normalize drops duplicate ids, preserving first-seen order. No ids means
// the whole feed, tracked as the empty id.
func normalize(ids []string) []string {
	if len(ids) == 0 {
		return []string{""}
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// wireIDs strips the whole-feed marker so it is not sent as a product id.
func wireIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
