package emitter

import (
	"context"
	"log/slog"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

// Sink delivers order lifecycle events to consumers.
// *redis.Client implements it.
type Sink interface {
	PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error
}

// Emitter publishes order lifecycle events. Without a sink it degrades to
// structured logging, and sink failures never propagate to the caller: order
// bookkeeping must not stall on a slow consumer.
type Emitter struct {
	sink Sink
}

// New creates an emitter. A nil sink is valid and logs events instead.
func New(sink Sink) *Emitter {
	return &Emitter{sink: sink}
}

// Emit delivers one event.
func (e *Emitter) Emit(ctx context.Context, event *domain.OrderEvent) {
	if e.sink == nil {
		slog.Info("Order event",
			"kind", event.Kind,
			"order_hash", event.Hash,
			"status", event.Status,
			"remaining", event.Remaining,
		)
		return
	}
	if err := e.sink.PublishOrderEvent(ctx, event); err != nil {
		slog.Warn("Failed to publish order event",
			"kind", event.Kind,
			"order_hash", event.Hash,
			"error", err,
		)
	}
}
