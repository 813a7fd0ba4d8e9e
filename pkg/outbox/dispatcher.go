package outbox

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"mailflow/pkg/metrics"
	"mailflow/pkg/trace"
)

// Store is the part of Repository the dispatcher needs.
type Store interface {
	Pending(ctx context.Context, limit int) ([]Event, error)
	MarkSent(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, maxRetries int) error
	Backlog(ctx context.Context) (int64, error)
}

// Publisher is satisfied by *mq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Dispatcher moves pending events from the outbox to the broker.
type Dispatcher struct {
	store      Store
	publisher  Publisher
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

func (d *Dispatcher) WithMaxRetries(n int) *Dispatcher {
	if n > 0 {
		d.maxRetries = n
	}
	return d
}

func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Dispatcher) WithBatchSize(n int) *Dispatcher {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("Starting outbox dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox dispatcher stopped")
			return nil
		case <-ticker.C:
			d.Flush(ctx)
		}
	}
}

// Flush publishes one batch and returns how many events were sent.
func (d *Dispatcher) Flush(ctx context.Context) int {
	events, err := d.store.Pending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		pubCtx := withPayloadTrace(ctx, event.Payload)
		if err := d.publisher.Publish(pubCtx, event.RoutingKey, event.Payload); err != nil {
			metrics.IncrementOutboxEvent(event.RoutingKey, "failed")
			d.logger.Warn("Failed to publish outbox event",
				zap.Int64("event_id", event.ID),
				zap.String("routing_key", event.RoutingKey),
				zap.Int("retry_count", event.RetryCount),
				zap.Error(err),
			)
			if err := d.store.MarkFailed(ctx, event.ID, d.maxRetries); err != nil {
				d.logger.Error("Failed to mark event as failed", zap.Int64("event_id", event.ID), zap.Error(err))
			}
			continue
		}

		if err := d.store.MarkSent(ctx, event.ID); err != nil {
			// The event will go out again; consumers see at-least-once delivery.
			d.logger.Error("Failed to mark event as sent", zap.Int64("event_id", event.ID), zap.Error(err))
			continue
		}
		metrics.IncrementOutboxEvent(event.RoutingKey, "sent")
		sent++
	}

	if sent > 0 {
		d.logger.Debug("Outbox batch published", zap.Int("sent", sent), zap.Int("fetched", len(events)))
	}

	if n, err := d.store.Backlog(ctx); err != nil {
		d.logger.Warn("Failed to count outbox backlog", zap.Error(err))
	} else {
		metrics.SetOutboxBacklog(n)
	}
	return sent
}

func withPayloadTrace(ctx context.Context, payload json.RawMessage) context.Context {
	var probe struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil || probe.TraceID == "" {
		return ctx
	}
	return trace.WithContext(ctx, probe.TraceID)
}
