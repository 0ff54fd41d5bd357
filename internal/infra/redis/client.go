package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

// Client wraps Redis operations for order event publishing.
type Client struct {
	rdb *redis.Client
	cfg Config
}

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// NewClient creates a new Redis client.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.Stream == "" {
		cfg.Stream = "order_events"
	}
	if cfg.MaxLen == 0 {
		cfg.MaxLen = 100_000
	}

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{rdb: rdb, cfg: cfg}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PublishOrderEvent appends an order status change to the event stream. The
// stream is trimmed approximately to MaxLen.
func (c *Client) PublishOrderEvent(ctx context.Context, event *domain.OrderEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode order event: %w", err)
	}

	err = c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		MaxLen: c.cfg.MaxLen,
		Approx: true,
		Values: map[string]any{
			"order_hash": event.Hash,
			"kind":       string(event.Kind),
			"payload":    payload,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Health checks if Redis is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
