package batcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/metrics"
)

// ErrInvalidOutputLength means the contract returned a result array whose
// length does not match the submitted batch. Every waiter in the batch
// receives it.
var ErrInvalidOutputLength = errors.New("batch result length does not match input")

// StateQuery performs the batched on-chain state lookup.
// *ethereum.Exchange implements it.
type StateQuery interface {
	BatchOrderStates(ctx context.Context, orders []domain.SignedOrder) ([]domain.OrderState, error)
}

// Config holds state batcher settings.
type Config struct {
	BatchSize    int           // maximum orders per contract call
	Concurrent   int           // maximum in-flight contract calls
	QueueCork    time.Duration // normal lane dispatch delay
	PriorityCork time.Duration // priority lane dispatch delay
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 512
	}
	if c.Concurrent == 0 {
		c.Concurrent = 16
	}
	if c.QueueCork == 0 {
		c.QueueCork = 100 * time.Millisecond
	}
	if c.PriorityCork == 0 {
		c.PriorityCork = 5 * time.Millisecond
	}
}

type result struct {
	state domain.OrderState
	err   error
}

// job is one pending lookup. Concurrent requests for the same order merge
// into a single job; every caller gets its own reply channel.
type job struct {
	order   domain.SignedOrder
	waiters []chan result
}

// Batcher coalesces concurrent order state lookups into batched contract
// calls. Requests for the same order are deduplicated, a short cork delay
// lets a batch fill up before dispatch, and priority requests dispatch on a
// much shorter cork.
type Batcher struct {
	cfg   Config
	query StateQuery
	sem   *semaphore.Weighted

	mu       sync.Mutex
	priority []*job
	normal   []*job

	notify chan struct{}
}

// New creates a batcher issuing lookups through query.
func New(query StateQuery, cfg Config) *Batcher {
	cfg.applyDefaults()
	return &Batcher{
		cfg:    cfg,
		query:  query,
		sem:    semaphore.NewWeighted(int64(cfg.Concurrent)),
		notify: make(chan struct{}, 1),
	}
}

// Start runs the dispatch loop until ctx is cancelled. Callers blocked in
// FetchState unblock through their own contexts.
func (b *Batcher) Start(ctx context.Context) {
	go b.run(ctx)
}

// FetchState returns the current on-chain state of order, batching the
// lookup with whatever else is queued. Priority requests are corked for a
// shorter time and always dispatch ahead of normal ones.
func (b *Batcher) FetchState(ctx context.Context, order domain.SignedOrder, priority bool) (domain.OrderState, error) {
	ch := make(chan result, 1)
	b.enqueue(order, priority, ch)
	select {
	case <-ctx.Done():
		return domain.OrderState{}, ctx.Err()
	case res := <-ch:
		return res.state, res.err
	}
}

func (b *Batcher) enqueue(order domain.SignedOrder, priority bool, ch chan result) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, j := find(b.priority, order); j != nil {
		j.waiters = append(j.waiters, ch)
		metrics.OrderStateMerged.Inc()
		return
	}
	if i, j := find(b.normal, order); j != nil {
		j.waiters = append(j.waiters, ch)
		metrics.OrderStateMerged.Inc()
		if priority {
			// Promote: the whole job moves to the priority lane so
			// every waiter benefits from the shorter cork.
			b.normal = append(b.normal[:i], b.normal[i+1:]...)
			if len(b.priority) == 0 {
				b.cork(b.cfg.PriorityCork)
			}
			b.priority = append(b.priority, j)
		}
		return
	}

	j := &job{order: order, waiters: []chan result{ch}}
	lane, delay := &b.normal, b.cfg.QueueCork
	if priority {
		lane, delay = &b.priority, b.cfg.PriorityCork
	}
	if len(*lane) == 0 {
		b.cork(delay)
	}
	*lane = append(*lane, j)
	metrics.OrderStateQueued.WithLabelValues(strconv.FormatBool(priority)).Inc()

	if len(b.priority)+len(b.normal) >= b.cfg.BatchSize {
		b.kick()
	}
}

func find(lane []*job, order domain.SignedOrder) (int, *job) {
	for i, j := range lane {
		if j.order == order {
			return i, j
		}
	}
	return -1, nil
}

// cork arms the dispatch timer for a lane that just went from empty to
// non-empty. A full queue kicks immediately instead of waiting it out.
func (b *Batcher) cork(delay time.Duration) {
	time.AfterFunc(delay, b.kick)
}

func (b *Batcher) kick() {
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *Batcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}
		for {
			if err := b.sem.Acquire(ctx, 1); err != nil {
				return
			}
			batch := b.takeBatch()
			if len(batch) == 0 {
				b.sem.Release(1)
				break
			}
			go b.dispatch(ctx, batch)
		}
	}
}

// takeBatch drains up to BatchSize jobs, priority lane first.
func (b *Batcher) takeBatch() []*job {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.priority)
	if n > b.cfg.BatchSize {
		n = b.cfg.BatchSize
	}
	batch := make([]*job, 0, n)
	batch = append(batch, b.priority[:n]...)
	b.priority = b.priority[n:]

	m := b.cfg.BatchSize - len(batch)
	if m > len(b.normal) {
		m = len(b.normal)
	}
	batch = append(batch, b.normal[:m]...)
	b.normal = b.normal[m:]
	return batch
}

func (b *Batcher) dispatch(ctx context.Context, batch []*job) {
	orders := make([]domain.SignedOrder, len(batch))
	for i, j := range batch {
		orders[i] = j.order
	}

	metrics.OrderStateCalls.Inc()
	metrics.BatchSize.Observe(float64(len(batch)))
	start := time.Now()
	states, err := b.query.BatchOrderStates(ctx, orders)
	metrics.BatchLatency.Observe(time.Since(start).Seconds())
	// Released only after the call returns, so Concurrent bounds the number
	// of in-flight contract calls.
	b.sem.Release(1)

	if err == nil && len(states) != len(batch) {
		err = fmt.Errorf("%w: %d states for %d orders", ErrInvalidOutputLength, len(states), len(batch))
	}
	if err != nil {
		slog.Warn("Batch order state call failed", "orders", len(batch), "error", err)
	}

	for i, j := range batch {
		res := result{err: err}
		if err == nil {
			res = result{state: states[i]}
			metrics.OrderStateFetched.Inc()
		}
		for _, ch := range j.waiters {
			// Reply channels are buffered; a waiter that gave up just
			// never reads its slot.
			select {
			case ch <- res:
			default:
			}
		}
	}
}
