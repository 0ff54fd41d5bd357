package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/metrics"
)

// OrderRepo implements storage.OrderRepository using PostgreSQL.
type OrderRepo struct {
	db *DB
}

// NewOrderRepo creates a new PostgreSQL order repository.
func NewOrderRepo(db *DB) *OrderRepo {
	return &OrderRepo{db: db}
}

type orderRow struct {
	Hash         string    `db:"order_hash"`
	Order        []byte    `db:"order_json"`
	Status       string    `db:"status"`
	Remaining    string    `db:"remaining"`
	InvalidSince *int64    `db:"invalid_since"`
	CreatedAt    time.Time `db:"created_at"`
}

func (r *orderRow) toDomain() (*domain.OrderWithMetadata, error) {
	var order domain.SignedOrder
	if err := json.Unmarshal(r.Order, &order); err != nil {
		return nil, fmt.Errorf("failed to decode stored order %s: %w", r.Hash, err)
	}
	meta := &domain.OrderWithMetadata{
		Order:     order,
		Hash:      r.Hash,
		Remaining: r.Remaining,
		Status:    domain.OrderStatus(r.Status),
		CreatedAt: r.CreatedAt,
	}
	if r.InvalidSince != nil {
		h := uint64(*r.InvalidSince)
		meta.InvalidSince = &h
	}
	return meta, nil
}

// Insert stores a new order. Conflicting hashes are left untouched so
// resubmission is idempotent.
func (r *OrderRepo) Insert(ctx context.Context, order *domain.OrderWithMetadata) error {
	raw, err := json.Marshal(order.Order)
	if err != nil {
		return fmt.Errorf("failed to encode order: %w", err)
	}

	query := `
		INSERT INTO signed_orders (order_hash, order_json, status, remaining)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_hash) DO NOTHING
	`
	_, err = r.db.ExecContext(ctx, query, order.Hash, raw, string(order.Status), order.Remaining)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	metrics.DBOperations.WithLabelValues("insert").Inc()
	return nil
}

// Get retrieves an order by hash.
func (r *OrderRepo) Get(ctx context.Context, hash string) (*domain.OrderWithMetadata, error) {
	query := `
		SELECT order_hash, order_json, status, remaining, invalid_since, created_at
		FROM signed_orders
		WHERE order_hash = $1
	`
	var row orderRow
	err := r.db.GetContext(ctx, &row, query, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return row.toDomain()
}

// List retrieves all stored orders, oldest first.
func (r *OrderRepo) List(ctx context.Context) ([]*domain.OrderWithMetadata, error) {
	query := `
		SELECT order_hash, order_json, status, remaining, invalid_since, created_at
		FROM signed_orders
		ORDER BY created_at
	`
	var rows []orderRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	metrics.DBOperations.WithLabelValues("list").Inc()
	metrics.DBOrders.Set(float64(len(rows)))

	orders := make([]*domain.OrderWithMetadata, 0, len(rows))
	for i := range rows {
		order, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// UpdateState records a fillable observation and clears the invalidation mark.
func (r *OrderRepo) UpdateState(ctx context.Context, hash string, status domain.OrderStatus, remaining string) error {
	query := `
		UPDATE signed_orders
		SET status = $1, remaining = $2, invalid_since = NULL
		WHERE order_hash = $3
	`
	_, err := r.db.ExecContext(ctx, query, string(status), remaining, hash)
	if err != nil {
		return fmt.Errorf("failed to update order state: %w", err)
	}
	metrics.DBOperations.WithLabelValues("update").Inc()
	return nil
}

// Invalidate marks an order unfillable as of height. A reorg can resurrect
// the order, so the lowest observed height is kept.
func (r *OrderRepo) Invalidate(ctx context.Context, hash string, status domain.OrderStatus, height uint64) error {
	query := `
		UPDATE signed_orders
		SET status = $1, remaining = '0',
			invalid_since = LEAST(COALESCE(invalid_since, $2), $2)
		WHERE order_hash = $3
	`
	_, err := r.db.ExecContext(ctx, query, string(status), int64(height), hash)
	if err != nil {
		return fmt.Errorf("failed to invalidate order: %w", err)
	}
	metrics.DBOperations.WithLabelValues("invalidate").Inc()
	return nil
}

// DeleteInvalidBefore prunes orders whose invalidation height can no longer
// be undone by a reorg.
func (r *OrderRepo) DeleteInvalidBefore(ctx context.Context, height uint64) (int64, error) {
	query := `DELETE FROM signed_orders WHERE invalid_since < $1`
	res, err := r.db.ExecContext(ctx, query, int64(height))
	if err != nil {
		return 0, fmt.Errorf("failed to delete invalid orders: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted orders: %w", err)
	}
	if deleted > 0 {
		metrics.DBOperations.WithLabelValues("delete").Inc()
	}
	return deleted, nil
}

// Count returns the number of stored orders.
func (r *OrderRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM signed_orders`); err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}
	return count, nil
}
