package storage

import (
	"context"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

// OrderRepository persists submitted orders and the state the revalidation
// loop maintains for them.
//
// Invalidation is height-based: an order seen unfillable at block h keeps the
// lowest such h, because a reorg can make it fillable again. UpdateState
// clears the mark when the order recovers; DeleteInvalidBefore prunes orders
// whose invalidation height has sunk below the reorg horizon.
type OrderRepository interface {
	// Insert stores a new order. Re-inserting an existing hash is a no-op.
	Insert(ctx context.Context, order *domain.OrderWithMetadata) error

	// Get returns the order with the given hash, or (nil, nil) if absent.
	Get(ctx context.Context, hash string) (*domain.OrderWithMetadata, error)

	// List returns all stored orders.
	List(ctx context.Context) ([]*domain.OrderWithMetadata, error)

	// UpdateState records a fillable observation and clears any
	// invalidation mark.
	UpdateState(ctx context.Context, hash string, status domain.OrderStatus, remaining string) error

	// Invalidate records an unfillable observation at the given height.
	// An existing lower invalidation height wins.
	Invalidate(ctx context.Context, hash string, status domain.OrderStatus, height uint64) error

	// DeleteInvalidBefore removes orders invalid since before height and
	// returns how many were removed.
	DeleteInvalidBefore(ctx context.Context, height uint64) (int64, error)

	// Count returns the number of stored orders.
	Count(ctx context.Context) (int64, error)
}
