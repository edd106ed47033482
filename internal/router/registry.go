package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/cf-feed/internal/metrics"
	"github.com/rickgao/cf-feed/internal/model"
)

// DefaultQueueSize is the command queue capacity used when none is given.
const DefaultQueueSize = 1024

// Unsubscriber is called when the last callback for a key is removed.
type Unsubscriber interface {
	Unsubscribe(ctx context.Context, feed model.Feed, productIDs ...string) error
}

// Registry maps callback keys to ordered callback lists.
//
// Add, Remove and Submit are safe from any goroutine; they only enqueue.
// Drain and Lookup must be called from a single goroutine (the receive loop),
// which is the only place the map is touched.
type Registry struct {
	commands chan Command
	done     chan struct{}
	once     sync.Once

	unsub  Unsubscriber
	logger *slog.Logger

	entries map[key][]Entry
	count   int
}

// NewRegistry creates a Registry with a command queue of queueSize.
// unsub may be nil, in which case emptied keys are not unsubscribed.
func NewRegistry(queueSize int, unsub Unsubscriber, logger *slog.Logger) *Registry {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		commands: make(chan Command, queueSize),
		done:     make(chan struct{}),
		unsub:    unsub,
		logger:   logger,
		entries:  make(map[key][]Entry),
	}
}

// Add queues a registration of fn under feed (and each product id, for a
// public feed). The returned handle is needed to remove it.
func (r *Registry) Add(ctx context.Context, feed model.Feed, productIDs []string, name string, fn Callback, kwargs map[string]any) (Handle, error) {
	if !feed.Valid() {
		return "", fmt.Errorf("add callback %q: unknown feed %q", name, feed)
	}
	if fn == nil {
		return "", fmt.Errorf("add callback %q: nil callback", name)
	}
	h := Handle(uuid.NewString())
	err := r.Submit(ctx, Command{
		Action:     ActionAdd,
		Feed:       feed,
		ProductIDs: productIDs,
		Handle:     h,
		Name:       name,
		Invoke:     fn,
		Kwargs:     kwargs,
	})
	if err != nil {
		return "", err
	}
	return h, nil
}

// Remove queues removal of the registration identified by h.
func (r *Registry) Remove(ctx context.Context, feed model.Feed, productIDs []string, h Handle) error {
	return r.Submit(ctx, Command{
		Action:     ActionRemove,
		Feed:       feed,
		ProductIDs: productIDs,
		Handle:     h,
	})
}

// Submit enqueues cmd. It blocks while the queue is full.
func (r *Registry) Submit(ctx context.Context, cmd Command) error {
	select {
	case <-r.done:
		return ErrQueueClosed
	default:
	}

	select {
	case r.commands <- cmd:
		return nil
	case <-r.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting commands. Already queued commands can still be
// drained.
func (r *Registry) Close() {
	r.once.Do(func() { close(r.done) })
}

// Pending returns the number of queued commands.
func (r *Registry) Pending() int {
	return len(r.commands)
}

// Drain applies every currently queued command without blocking and
// returns how many were applied.
func (r *Registry) Drain(ctx context.Context) int {
	n := 0
	for {
		select {
		case cmd := <-r.commands:
			r.apply(ctx, cmd)
			n++
		default:
			if n > 0 {
				metrics.SetRegisteredCallbacks(r.count)
			}
			return n
		}
	}
}

func (r *Registry) apply(ctx context.Context, cmd Command) {
	switch cmd.Action {
	case ActionAdd:
		for _, k := range keysFor(cmd.Feed, cmd.ProductIDs) {
			r.entries[k] = append(r.entries[k], Entry{
				Handle: cmd.Handle,
				Name:   cmd.Name,
				Invoke: cmd.Invoke,
				Kwargs: cmd.Kwargs,
			})
			r.count++
		}
		r.logger.Debug("callback added", "feed", cmd.Feed, "product_ids", cmd.ProductIDs, "name", cmd.Name, "handle", cmd.Handle)

	case ActionRemove:
		for _, k := range keysFor(cmd.Feed, cmd.ProductIDs) {
			r.remove(ctx, k, cmd.Handle)
		}

	default:
		r.logger.Warn("unknown registry action", "action", cmd.Action)
	}
}

func (r *Registry) remove(ctx context.Context, k key, h Handle) {
	list, ok := r.entries[k]
	if !ok || len(list) == 0 {
		return
	}

	kept := list[:0]
	for _, e := range list {
		if e.Handle != h {
			kept = append(kept, e)
		}
	}
	removed := len(list) - len(kept)
	if removed == 0 {
		return
	}
	// Clear the tail so removed entries can be collected.
	for i := len(kept); i < len(list); i++ {
		list[i] = Entry{}
	}
	r.count -= removed
	r.logger.Debug("callback removed", "feed", k.feed, "product_id", k.productID, "handle", h)

	if len(kept) > 0 {
		r.entries[k] = kept
		return
	}
	delete(r.entries, k)

	if r.unsub == nil {
		return
	}
	var err error
	if k.productID == "" {
		err = r.unsub.Unsubscribe(ctx, k.feed)
	} else {
		err = r.unsub.Unsubscribe(ctx, k.feed, k.productID)
	}
	if err != nil {
		r.logger.Warn("unsubscribe after last callback removed failed",
			"feed", k.feed, "product_id", k.productID, "error", err)
	}
}

// Lookup returns the callbacks registered for a data frame of feed. The
// product id is ignored for private feeds. The returned slice must not be
// modified.
func (r *Registry) Lookup(feed model.Feed, productID string) []Entry {
	if feed.IsPrivate() {
		productID = ""
	}
	return r.entries[key{feed: feed, productID: productID}]
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	return r.count
}

func keysFor(feed model.Feed, productIDs []string) []key {
	if feed.IsPrivate() || len(productIDs) == 0 {
		return []key{{feed: feed}}
	}
	seen := make(map[string]struct{}, len(productIDs))
	keys := make([]key, 0, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, key{feed: feed, productID: id})
	}
	return keys
}
