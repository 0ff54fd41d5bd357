package revalidate

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/emitter"
	"github.com/vietddude/orderwatch/internal/indexing/metrics"
	"github.com/vietddude/orderwatch/internal/infra/storage"
)

// StateFetcher resolves an order's current on-chain state.
// *batcher.Batcher implements it.
type StateFetcher interface {
	FetchState(ctx context.Context, order domain.SignedOrder, priority bool) (domain.OrderState, error)
}

// Config holds revalidation settings.
type Config struct {
	MaxReorg int // matches the watcher's reorg horizon
	Workers  int // concurrent per-order state requests
}

func (c *Config) applyDefaults() {
	if c.MaxReorg == 0 {
		c.MaxReorg = 10
	}
	if c.Workers == 0 {
		c.Workers = 64
	}
}

// Revalidator re-checks every stored order against the chain on each new
// block. Orders that turn unfillable are marked with the block height, kept
// for one reorg horizon in case the chain rolls back, then pruned.
type Revalidator struct {
	cfg     Config
	repo    storage.OrderRepository
	fetcher StateFetcher
	emitter *emitter.Emitter
}

// New creates a revalidator.
func New(repo storage.OrderRepository, fetcher StateFetcher, em *emitter.Emitter, cfg Config) *Revalidator {
	cfg.applyDefaults()
	return &Revalidator{
		cfg:     cfg,
		repo:    repo,
		fetcher: fetcher,
		emitter: em,
	}
}

// Run consumes tip watcher events until the stream closes or ctx is
// cancelled.
func (r *Revalidator) Run(ctx context.Context, events <-chan domain.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case domain.EventHeaderAccepted:
				r.revalidateBlock(ctx, ev.Header)
			case domain.EventReorgDetected:
				metrics.ReorgsObserved.Inc()
				slog.Warn("Chain reorg observed",
					"restart_height", ev.RestartHeight)
			}
		}
	}
}

func (r *Revalidator) revalidateBlock(ctx context.Context, header domain.Header) {
	start := time.Now()
	defer func() {
		metrics.RevalidationLatency.Observe(time.Since(start).Seconds())
	}()

	// Below the reorg horizon an invalidation can no longer be undone.
	if header.Number > uint64(r.cfg.MaxReorg) {
		horizon := header.Number - uint64(r.cfg.MaxReorg)
		deleted, err := r.repo.DeleteInvalidBefore(ctx, horizon)
		if err != nil {
			slog.Error("Failed to prune unfillable orders", "error", err)
		} else if deleted > 0 {
			slog.Info("Pruned unfillable orders", "count", deleted, "below_height", horizon)
		}
	}

	orders, err := r.repo.List(ctx)
	if err != nil {
		slog.Error("Failed to list orders for revalidation", "error", err)
		return
	}
	if len(orders) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for _, order := range orders {
		order := order
		g.Go(func() error {
			r.revalidateOrder(gctx, header, order)
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("Revalidated orders",
		"block", header.Number,
		"orders", len(orders),
		"took", time.Since(start),
	)
}

func (r *Revalidator) revalidateOrder(ctx context.Context, header domain.Header, order *domain.OrderWithMetadata) {
	state, err := r.fetcher.FetchState(ctx, order.Order, false)
	if err != nil {
		slog.Warn("Order state fetch failed", "order_hash", order.Hash, "error", err)
		return
	}

	if verr := state.Validate(); verr != nil {
		status := state.Status
		if !state.SignatureIsValid {
			status = domain.OrderStatusInvalid
		}
		if err := r.repo.Invalidate(ctx, order.Hash, status, header.Number); err != nil {
			slog.Error("Failed to invalidate order", "order_hash", order.Hash, "error", err)
			return
		}
		metrics.InvalidationReason.WithLabelValues(string(status)).Inc()
		// An order that was already unfillable is not re-announced.
		if order.InvalidSince == nil {
			r.emitter.Emit(ctx, &domain.OrderEvent{
				Kind:      domain.OrderInvalidated,
				Hash:      order.Hash,
				Status:    status,
				Remaining: "0",
				Reason:    verr.Error(),
			})
		}
		return
	}

	if order.InvalidSince == nil && order.Status == state.Status && order.Remaining == state.FillableAmount {
		return
	}
	if err := r.repo.UpdateState(ctx, order.Hash, state.Status, state.FillableAmount); err != nil {
		slog.Error("Failed to update order state", "order_hash", order.Hash, "error", err)
		return
	}
	r.emitter.Emit(ctx, &domain.OrderEvent{
		Kind:      domain.OrderUpdated,
		Hash:      order.Hash,
		Status:    state.Status,
		Remaining: state.FillableAmount,
	})
}
