package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rickgao/cf-feed/internal/metrics"
	"github.com/rickgao/cf-feed/internal/model"
)

const tracerName = "github.com/rickgao/cf-feed/internal/router"

// Authenticator is the part of the challenge handshake driven by inbound
// frames.
type Authenticator interface {
	Configured() bool
	RequestChallenge() error
	Capture(original string) error
}

// Dispatcher classifies inbound frames and routes data frames to the
// callbacks in a Registry. HandleMessage is called from the receive loop
// only; callbacks run synchronously on that goroutine, so a slow callback
// delays every frame behind it.
type Dispatcher struct {
	exchange string
	registry *Registry
	auth     Authenticator
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher. auth may be nil when no credentials
// are configured.
func NewDispatcher(exchange string, registry *Registry, auth Authenticator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		exchange: exchange,
		registry: registry,
		auth:     auth,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// HandleMessage processes one raw frame. A returned error means the frame
// could not be parsed at all and the connection should be failed; every
// other problem is logged and the frame is dropped.
func (d *Dispatcher) HandleMessage(ctx context.Context, data []byte) error {
	env, err := model.ParseEnvelope(data)
	if err != nil {
		metrics.IncFrame(metrics.KindMalformed)
		d.logger.Error("malformed frame", "error", err, "size", len(data))
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if env.IsEvent() {
		metrics.IncFrame(metrics.KindEvent)
		d.handleEvent(env)
		return nil
	}

	hdr := env.Header()
	if model.IsSnapshot(hdr.Feed) {
		metrics.IncFrame(metrics.KindSnapshot)
		d.logger.Debug("snapshot discarded", "feed", hdr.Feed)
		return nil
	}

	metrics.IncFrame(metrics.KindData)
	d.dispatch(ctx, hdr, env, data)
	return nil
}

func (d *Dispatcher) handleEvent(env model.Envelope) {
	ev := env.Event()
	metrics.IncEvent(ev.Event)

	switch ev.Event {
	case model.EventError:
		d.logger.Error("server error", "message", ev.Message)

	case model.EventInfo:
		d.logger.Info("server info", "version", ev.Version)
		if d.auth != nil && d.auth.Configured() {
			if err := d.auth.RequestChallenge(); err != nil {
				d.logger.Error("challenge request failed", "error", err)
			}
		}

	case model.EventChallenge:
		if d.auth == nil {
			d.logger.Warn("challenge received without authenticator")
			return
		}
		if err := d.auth.Capture(ev.Message); err != nil {
			d.logger.Error("failed to sign challenge", "error", err)
		}

	case model.EventSubscribed, model.EventUnsubscribed:
		d.logger.Info("subscription acknowledged",
			"event", ev.Event,
			"feed", ev.Feed,
			"product_ids", ev.ProductIDs,
		)

	case model.EventSubscribeFailed:
		d.logger.Error("subscription failed",
			"feed", ev.Feed,
			"message", ev.Message,
		)

	default:
		d.logger.Debug("unhandled event", "event", ev.Event)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, hdr model.DataFrame, env model.Envelope, data []byte) {
	// Registrations queued before this frame must be visible to it.
	d.registry.Drain(ctx)

	feed := model.Feed(hdr.Feed)
	entries := d.registry.Lookup(feed, hdr.ProductID)
	if len(entries) == 0 {
		return
	}

	_, span := d.tracer.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("feed", feed.String()),
			attribute.String("product_id", hdr.ProductID),
			attribute.Int("callbacks", len(entries)),
		))
	defer span.End()

	payloads, err := extract(feed, env, data)
	if err != nil {
		metrics.IncSkipped(feed.String())
		span.RecordError(err)
		span.SetStatus(codes.Error, "payload extraction failed")
		d.logger.Warn("frame skipped", "feed", feed, "error", err)
		return
	}
	span.SetAttributes(attribute.Int("payloads", len(payloads)))

	for _, p := range payloads {
		for _, e := range entries {
			e.Invoke(d.exchange, p, e.Kwargs)
			metrics.IncCallback(feed.String())
		}
	}
}

// extract returns the payloads a frame of feed is unpacked into. A nil
// slice with a nil error means the frame is deliberately not dispatched.
func extract(feed model.Feed, env model.Envelope, data []byte) ([]json.RawMessage, error) {
	if field, ok := listFields[feed]; ok {
		raw, present := env[field]
		if !present {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
		}
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil || items == nil {
			return nil, fmt.Errorf("%w: %s is not a list", ErrMissingField, field)
		}
		return items, nil
	}

	if feed == model.FeedOpenOrders {
		if raw, ok := env["is_cancel"]; ok {
			var cancel bool
			if err := json.Unmarshal(raw, &cancel); err == nil && cancel {
				return nil, nil
			}
		}
		order, ok := env["order"]
		if !ok {
			return nil, fmt.Errorf("%w: order", ErrMissingField)
		}
		return []json.RawMessage{order}, nil
	}

	// trade, book, ticker, ticker_lite, heartbeat: the whole frame.
	return []json.RawMessage{json.RawMessage(data)}, nil
}
