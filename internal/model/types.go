package model

import (
	"encoding/json"
	"errors"
)

// ErrNotObject is returned for frames that decode to JSON null.
var ErrNotObject = errors.New("frame is not a JSON object")

// -----------------------------------------------------------------------------
// Outbound Frames
// -----------------------------------------------------------------------------

// Outbound event names.
const (
	EventChallenge   = "challenge"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
)

// Inbound event names.
const (
	EventError           = "error"
	EventInfo            = "info"
	EventSubscribed      = "subscribed"
	EventUnsubscribed    = "unsubscribed"
	EventSubscribeFailed = "subscribe_failed"
)

// ChallengeRequest asks the server for a challenge string.
type ChallengeRequest struct {
	Event  string `json:"event"`
	APIKey string `json:"api_key"`
}

// PublicRequest subscribes to or unsubscribes from a product-scoped feed.
// ProductIDs is omitted for feeds that take none (heartbeat).
type PublicRequest struct {
	Event      string   `json:"event"`
	Feed       Feed     `json:"feed"`
	ProductIDs []string `json:"product_ids,omitempty"`
}

// PrivateRequest subscribes to or unsubscribes from an account feed.
type PrivateRequest struct {
	Event             string `json:"event"`
	Feed              Feed   `json:"feed"`
	APIKey            string `json:"api_key"`
	OriginalChallenge string `json:"original_challenge"`
	SignedChallenge   string `json:"signed_challenge"`
}

// -----------------------------------------------------------------------------
// Inbound Frames
// -----------------------------------------------------------------------------

// EventFrame is an acknowledgment or control frame (it carries "event").
type EventFrame struct {
	Event      string   `json:"event"`
	Message    string   `json:"message,omitempty"`
	Feed       string   `json:"feed,omitempty"`
	ProductIDs []string `json:"product_ids,omitempty"`
	Version    int      `json:"version,omitempty"`
}

// DataFrame is the routing header of a feed data frame.
type DataFrame struct {
	Feed      string `json:"feed"`
	ProductID string `json:"product_id,omitempty"`
}

// Envelope is an inbound frame decoded just far enough to classify it.
type Envelope map[string]json.RawMessage

// ParseEnvelope decodes a raw frame into its top-level fields.
// It fails for anything that is not a JSON object.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if env == nil {
		return nil, ErrNotObject
	}
	return env, nil
}

// IsEvent reports whether the frame carries an "event" field.
func (e Envelope) IsEvent() bool {
	_, ok := e["event"]
	return ok
}

// String returns a top-level string field, or "" if absent or not a string.
func (e Envelope) String(key string) string {
	raw, ok := e[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Event reads the event frame fields. Fields that are missing or of the
// wrong type are left at their zero value.
func (e Envelope) Event() EventFrame {
	f := EventFrame{
		Event:   e.String("event"),
		Message: e.String("message"),
		Feed:    e.String("feed"),
	}
	if raw, ok := e["product_ids"]; ok {
		if err := json.Unmarshal(raw, &f.ProductIDs); err != nil {
			f.ProductIDs = nil
		}
	}
	if raw, ok := e["version"]; ok {
		if err := json.Unmarshal(raw, &f.Version); err != nil {
			f.Version = 0
		}
	}
	return f
}

// Header reads the routing fields of a data frame.
func (e Envelope) Header() DataFrame {
	return DataFrame{Feed: e.String("feed"), ProductID: e.String("product_id")}
}
