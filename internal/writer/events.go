package writer

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/cf-feed/internal/router"
)

const insertEventSQL = `
	INSERT INTO feed_events (exchange, feed, product_id, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)
`

// EventWriter records dispatched payloads into the feed_events table.
// Callback feeds it from the receive goroutine; Run flushes batches on its
// own goroutine so a slow database never stalls dispatch.
type EventWriter struct {
	cfg    WriterConfig
	db     BatchSender
	logger *slog.Logger
	now    func() time.Time

	input *GrowableBuffer[Event]

	mu      sync.Mutex
	metrics WriterMetrics
}

// NewEventWriter creates an EventWriter.
func NewEventWriter(cfg WriterConfig, db BatchSender, logger *slog.Logger) *EventWriter {
	def := DefaultWriterConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventWriter{
		cfg:    cfg,
		db:     db,
		logger: logger,
		now:    time.Now,
		input:  NewGrowableBuffer[Event](cfg.BufferSize),
	}
}

// Callback returns a router.Callback that queues every payload it receives.
// The feed is taken from kwargs["feed"]; the product id from
// kwargs["product_id"] or, failing that, the payload's own product_id.
func (w *EventWriter) Callback() router.Callback {
	return func(exchange string, payload json.RawMessage, kwargs map[string]any) {
		ev := Event{
			Exchange:   exchange,
			Feed:       kwargString(kwargs, "feed"),
			ProductID:  kwargString(kwargs, "product_id"),
			Payload:    append(json.RawMessage(nil), payload...),
			ReceivedAt: w.now(),
		}
		if ev.ProductID == "" {
			ev.ProductID = payloadProductID(payload)
		}
		w.Record(ev)
	}
}

// Record queues an event. It never blocks.
func (w *EventWriter) Record(ev Event) {
	if !w.input.Send(ev) {
		w.mu.Lock()
		w.metrics.Dropped++
		w.mu.Unlock()
	}
}

// Run flushes queued events until ctx is done, then performs a final flush
// of whatever is left.
func (w *EventWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	w.logger.Info("event writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)

	for {
		select {
		case <-ctx.Done():
			w.input.Close()
			// The run context is gone; give the final flush its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			for w.input.Len() > 0 {
				if !w.flush(flushCtx) {
					break
				}
			}
			cancel()
			w.logger.Info("event writer stopped")
			return nil

		case <-ticker.C:
			w.flush(ctx)

		case <-w.input.Ready():
			for w.input.Len() >= w.cfg.BatchSize {
				if !w.flush(ctx) {
					break
				}
			}
		}
	}
}

// Stats returns current metrics.
func (w *EventWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

// flush writes up to one batch. It reports false if the insert failed.
func (w *EventWriter) flush(ctx context.Context) bool {
	batch := w.input.DrainTo(w.cfg.BatchSize)
	if len(batch) == 0 {
		return true
	}

	start := time.Now()
	if err := w.batchInsert(ctx, batch); err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.mu.Lock()
		w.metrics.Errors++
		w.mu.Unlock()
		return false
	}

	w.mu.Lock()
	w.metrics.Inserts += int64(len(batch))
	w.metrics.Flushes++
	w.mu.Unlock()

	w.logger.Debug("flushed feed events",
		"count", len(batch),
		"duration", time.Since(start),
	)
	return true
}

// batchInsert inserts rows using a single pgx.Batch round trip.
func (w *EventWriter) batchInsert(ctx context.Context, events []Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEventSQL, ev.Exchange, ev.Feed, ev.ProductID, ev.Payload, ev.ReceivedAt)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func kwargString(kwargs map[string]any, key string) string {
	if v, ok := kwargs[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case interface{ String() string }:
			return s.String()
		}
	}
	return ""
}

func payloadProductID(payload json.RawMessage) string {
	var hdr struct {
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal(payload, &hdr); err != nil {
		return ""
	}
	return hdr.ProductID
}
