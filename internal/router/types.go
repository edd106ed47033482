package router

import (
	"encoding/json"
	"errors"

	"github.com/rickgao/cf-feed/internal/model"
)

var (
	// ErrMalformedFrame is returned for frames that are not JSON objects.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrMissingField marks a data frame without the field its feed is
	// unpacked from. Such frames are skipped, not fatal.
	ErrMissingField = errors.New("missing payload field")
	// ErrQueueClosed is returned by Submit after the registry is closed.
	ErrQueueClosed = errors.New("command queue closed")
)

// Handle identifies one callback registration. It is returned by Add and
// required by Remove.
type Handle string

// Callback receives a dispatched payload along with the exchange it came
// from and the keyword arguments given at registration.
type Callback func(exchange string, payload json.RawMessage, kwargs map[string]any)

// Entry is a registered callback.
type Entry struct {
	Handle Handle
	Name   string // for logs only
	Invoke Callback
	Kwargs map[string]any
}

// Action is the kind of registry mutation a Command carries.
type Action int

const (
	ActionAdd Action = iota
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Command is a pending registry mutation. Commands are queued by any
// goroutine and applied only by the goroutine that drains the registry.
type Command struct {
	Action     Action
	Feed       model.Feed
	ProductIDs []string // public feeds only; empty means the whole feed
	Handle     Handle
	Name       string
	Invoke     Callback       // Add only
	Kwargs     map[string]any // Add only
}

// key is a CallbackKey: (feed, product) for public feeds, feed alone for
// private feeds (productID is empty).
type key struct {
	feed      model.Feed
	productID string
}

// listFields maps private feeds to the list field whose elements are
// dispatched one by one.
var listFields = map[model.Feed]string{
	model.FeedAccountBalancesAndMargins: "margin_accounts",
	model.FeedAccountLog:                "logs",
	model.FeedDepositsWithdrawals:       "elements",
	model.FeedFills:                     "fills",
	model.FeedOpenPositions:             "open_positions",
}
