package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

// OrderStorage is an in-memory storage.OrderRepository. It backs tests and
// database-less deployments.
type OrderStorage struct {
	mu     sync.RWMutex
	orders map[string]*domain.OrderWithMetadata
}

// NewOrderStorage creates an empty in-memory repository.
func NewOrderStorage() *OrderStorage {
	return &OrderStorage{orders: make(map[string]*domain.OrderWithMetadata)}
}

// Insert stores a new order. Re-inserting an existing hash is a no-op.
func (s *OrderStorage) Insert(ctx context.Context, order *domain.OrderWithMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.Hash]; ok {
		return nil
	}
	clone := *order
	s.orders[order.Hash] = &clone
	return nil
}

// Get returns the order with the given hash, or (nil, nil) if absent.
func (s *OrderStorage) Get(ctx context.Context, hash string) (*domain.OrderWithMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[hash]
	if !ok {
		return nil, nil
	}
	clone := *order
	return &clone, nil
}

// List returns all stored orders, oldest first.
func (s *OrderStorage) List(ctx context.Context) ([]*domain.OrderWithMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	orders := make([]*domain.OrderWithMetadata, 0, len(s.orders))
	for _, order := range s.orders {
		clone := *order
		orders = append(orders, &clone)
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].Hash < orders[j].Hash
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

// UpdateState records a fillable observation and clears the invalidation mark.
func (s *OrderStorage) UpdateState(ctx context.Context, hash string, status domain.OrderStatus, remaining string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[hash]
	if !ok {
		return nil
	}
	order.Status = status
	order.Remaining = remaining
	order.InvalidSince = nil
	return nil
}

// Invalidate marks an order unfillable as of height, keeping the lowest
// observed height.
func (s *OrderStorage) Invalidate(ctx context.Context, hash string, status domain.OrderStatus, height uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[hash]
	if !ok {
		return nil
	}
	order.Status = status
	order.Remaining = "0"
	if order.InvalidSince == nil || *order.InvalidSince > height {
		h := height
		order.InvalidSince = &h
	}
	return nil
}

// DeleteInvalidBefore removes orders invalid since before height.
func (s *OrderStorage) DeleteInvalidBefore(ctx context.Context, height uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for hash, order := range s.orders {
		if order.InvalidSince != nil && *order.InvalidSince < height {
			delete(s.orders, hash)
			deleted++
		}
	}
	return deleted, nil
}

// Count returns the number of stored orders.
func (s *OrderStorage) Count(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.orders)), nil
}
