package model

import (
	"sort"
	"strings"
)

// Feed is the name of a stream of market or account data.
type Feed string

// Public feeds.
const (
	FeedTrade      Feed = "trade"
	FeedBook       Feed = "book"
	FeedTicker     Feed = "ticker"
	FeedTickerLite Feed = "ticker_lite"
	FeedHeartbeat  Feed = "heartbeat"
)

// Private feeds.
const (
	FeedAccountBalancesAndMargins Feed = "account_balances_and_margins"
	FeedAccountLog                Feed = "account_log"
	FeedDepositsWithdrawals       Feed = "deposits_withdrawals"
	FeedFills                     Feed = "fills"
	FeedOpenPositions             Feed = "open_positions"
	FeedOpenOrders                Feed = "open_orders"
)

// SnapshotSuffix marks the initial full-state frame of a feed.
const SnapshotSuffix = "_snapshot"

var publicFeeds = map[Feed]struct{}{
	FeedTrade:      {},
	FeedBook:       {},
	FeedTicker:     {},
	FeedTickerLite: {},
	FeedHeartbeat:  {},
}

var privateFeeds = map[Feed]struct{}{
	FeedAccountBalancesAndMargins: {},
	FeedAccountLog:                {},
	FeedDepositsWithdrawals:       {},
	FeedFills:                     {},
	FeedOpenPositions:             {},
	FeedOpenOrders:                {},
}

// IsPublic reports whether f is a product-scoped feed.
func (f Feed) IsPublic() bool {
	_, ok := publicFeeds[f]
	return ok
}

// IsPrivate reports whether f requires a signed challenge.
func (f Feed) IsPrivate() bool {
	_, ok := privateFeeds[f]
	return ok
}

// Valid reports whether f is a recognized feed name.
func (f Feed) Valid() bool {
	return f.IsPublic() || f.IsPrivate()
}

// String returns the feed name.
func (f Feed) String() string {
	return string(f)
}

// IsSnapshot reports whether a data frame's feed name marks a snapshot.
func IsSnapshot(feed string) bool {
	return strings.HasSuffix(feed, SnapshotSuffix)
}

// PublicFeeds returns the public feed names in sorted order.
func PublicFeeds() []Feed {
	return sortedFeeds(publicFeeds)
}

// PrivateFeeds returns the private feed names in sorted order.
func PrivateFeeds() []Feed {
	return sortedFeeds(privateFeeds)
}

func sortedFeeds(set map[Feed]struct{}) []Feed {
	out := make([]Feed, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
