package tipwatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/orderwatch/internal/core/domain"
	"github.com/vietddude/orderwatch/internal/indexing/metrics"
	"github.com/vietddude/orderwatch/internal/infra/ethereum"
)

var (
	// ErrEndOfStream is returned when the node closes the header stream.
	ErrEndOfStream = errors.New("header stream ended")
	// ErrReorgOverflow is returned when a reorg walk cannot reconnect to the
	// accepted chain within the configured depth.
	ErrReorgOverflow = errors.New("reorg exceeds maximum depth")
	// ErrInsaneNumber means a resolved chain segment skipped a block number.
	ErrInsaneNumber = errors.New("non-consecutive block number")
	// ErrInsaneParentHash means a resolved chain segment broke the hash chain.
	ErrInsaneParentHash = errors.New("parent hash mismatch")
)

// Config holds chain tip watcher settings.
type Config struct {
	PollDelay     time.Duration // wait on the subscription before polling
	FetchTimeout  time.Duration // per header fetch RPC
	RetryDelay    time.Duration // between reconnection attempts
	MaxRetries    int           // connection cycles without progress before fatal
	MaxReorg      int           // maximum reorg depth resolved
	QueueCapacity int           // per subscriber event backlog
}

func (c *Config) applyDefaults() {
	if c.PollDelay == 0 {
		c.PollDelay = 5 * time.Second
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = 5 * time.Second
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	if c.MaxReorg == 0 {
		c.MaxReorg = 10
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 20
	}
}

// Watcher follows the chain tip and publishes a linearized header stream.
// Subscribers observe exactly one HeaderAccepted per canonical height, in
// order, with every header's parent hash matching its predecessor; reorgs
// appear as a ReorgDetected event followed by the replacement headers.
type Watcher struct {
	cfg         Config
	source      ethereum.Source
	broadcaster *Broadcaster
	fatal       chan error
}

// New creates a watcher reading from the given source.
func New(source ethereum.Source, cfg Config) *Watcher {
	cfg.applyDefaults()
	return &Watcher{
		cfg:         cfg,
		source:      source,
		broadcaster: NewBroadcaster(cfg.QueueCapacity),
		fatal:       make(chan error, 1),
	}
}

// Subscribe registers a new event subscriber.
func (w *Watcher) Subscribe() *Subscription { return w.broadcaster.Subscribe() }

// Fatal reports an unrecoverable watcher failure. The event channels of all
// subscribers are closed alongside.
func (w *Watcher) Fatal() <-chan error { return w.fatal }

// Start runs the watch loop until ctx is cancelled or the retry budget is
// exhausted. All subscriptions are closed when the loop exits.
func (w *Watcher) Start(ctx context.Context) {
	go func() {
		defer w.broadcaster.Close()
		if err := w.run(ctx); err != nil {
			slog.Error("Chain tip watcher failed", "error", err)
			select {
			case w.fatal <- err:
			default:
			}
		}
	}()
}

// run reconnects on transient errors. The retry counter resets whenever a
// cycle accepted at least one header, so only consecutive fruitless cycles
// count against the budget.
func (w *Watcher) run(ctx context.Context) error {
	var last *domain.Header
	retries := 0
	for {
		before := last
		err := w.runOnce(ctx, &last)
		if ctx.Err() != nil {
			return nil
		}
		if progressed(before, last) {
			retries = 0
		}
		if retries >= w.cfg.MaxRetries {
			return fmt.Errorf("no progress after %d retries: %w", retries, err)
		}
		retries++
		slog.Warn("Header stream interrupted, reconnecting", "error", err, "retries", retries)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.RetryDelay):
		}
	}
}

func progressed(before, after *domain.Header) bool {
	if before == nil || after == nil {
		return before != after
	}
	return before.Hash != after.Hash
}

func (w *Watcher) runOnce(ctx context.Context, last **domain.Header) error {
	metrics.ConnectionAttempts.Inc()
	conn, err := w.source.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	// First cycle: the current tip seeds the stream.
	if *last == nil {
		head, err := w.fetchLatest(ctx, conn)
		if err != nil {
			return err
		}
		slog.Info("Watching chain tip", "number", head.Number, "hash", head.Hash)
		w.accept(head)
		*last = &head
	}
	return w.fetchLoop(ctx, conn, last)
}

func (w *Watcher) fetchLoop(ctx context.Context, conn ethereum.Conn, last **domain.Header) error {
	for {
		head, err := w.nextHeader(ctx, conn)
		if err != nil {
			return err
		}
		if head.Number <= (*last).Number {
			slog.Debug("Discarding stale header", "number", head.Number, "tip", (*last).Number)
			continue
		}
		if head.Timestamp > 0 {
			metrics.HeaderAge.Observe(time.Since(time.Unix(int64(head.Timestamp), 0)).Seconds())
		}
		if err := w.resolve(ctx, conn, last, head); err != nil {
			return err
		}
	}
}

// nextHeader waits on the subscription, falling back to polling the tip if
// nothing is pushed within the poll delay. The poll still races the
// subscription so pushed headers always win.
func (w *Watcher) nextHeader(ctx context.Context, conn ethereum.Conn) (domain.Header, error) {
	select {
	case <-ctx.Done():
		return domain.Header{}, ctx.Err()
	case head, ok := <-conn.Headers():
		if !ok {
			return domain.Header{}, ErrEndOfStream
		}
		return head, nil
	case <-time.After(w.cfg.PollDelay):
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	type result struct {
		head domain.Header
		err  error
	}
	polled := make(chan result, 1)
	go func() {
		head, err := w.fetchLatest(fetchCtx, conn)
		polled <- result{head, err}
	}()

	select {
	case <-ctx.Done():
		return domain.Header{}, ctx.Err()
	case head, ok := <-conn.Headers():
		if !ok {
			return domain.Header{}, ErrEndOfStream
		}
		return head, nil
	case res := <-polled:
		return res.head, res.err
	}
}

// resolve connects head to the accepted tip. It walks the gap between them
// backwards, rewinding the accepted tip when the chains diverge, then emits
// the connected segment oldest first.
func (w *Watcher) resolve(ctx context.Context, conn ethereum.Conn, last **domain.Header, head domain.Header) error {
	base := **last
	pending := []domain.Header{head}
	rewound := 0

	for {
		tip := pending[len(pending)-1] // lowest unconnected header so far
		if tip.Number == base.Number+1 {
			if tip.ParentHash == base.Hash {
				break
			}
			// Diverged at the join point: our accepted tip is no longer
			// canonical. Rewind it one block and try to connect again.
			parent, err := w.fetchByHash(ctx, conn, base.ParentHash)
			if err != nil {
				return err
			}
			slog.Info("Rewinding reorged block", "number", base.Number, "hash", base.Hash)
			rewound++
			base = parent
			continue
		}
		parent, err := w.fetchByHash(ctx, conn, tip.ParentHash)
		if err != nil {
			return err
		}
		pending = append(pending, parent)
		if len(pending) > w.cfg.MaxReorg+1 {
			return fmt.Errorf("%w: %d unconnected headers below %d", ErrReorgOverflow, len(pending), head.Number)
		}
	}

	if rewound > 0 {
		metrics.BlocksRewound.Observe(float64(rewound))
		slog.Warn("Reorg resolved", "depth", rewound, "restart_height", base.Number+1)
		w.broadcaster.Publish(domain.ReorgDetected(base.Number + 1))
	}
	metrics.BlocksAdded.Observe(float64(len(pending)))

	for i := len(pending) - 1; i >= 0; i-- {
		h := pending[i]
		if h.Number != base.Number+1 {
			return fmt.Errorf("%w: block %d after %d", ErrInsaneNumber, h.Number, base.Number)
		}
		if h.ParentHash != base.Hash {
			return fmt.Errorf("%w: block %d", ErrInsaneParentHash, h.Number)
		}
		w.accept(h)
		base = h
	}
	tip := base
	*last = &tip
	return nil
}

func (w *Watcher) accept(head domain.Header) {
	metrics.BlocksReceived.Inc()
	w.broadcaster.Publish(domain.HeaderAccepted(head))
}

func (w *Watcher) fetchLatest(ctx context.Context, conn ethereum.Conn) (domain.Header, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	start := time.Now()
	head, err := conn.LatestHeader(fetchCtx)
	metrics.HeaderFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Header{}, fmt.Errorf("fetch latest header: %w", err)
	}
	return head, nil
}

func (w *Watcher) fetchByHash(ctx context.Context, conn ethereum.Conn, hash string) (domain.Header, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	start := time.Now()
	head, err := conn.HeaderByHash(fetchCtx, hash)
	metrics.HeaderFetchLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return domain.Header{}, fmt.Errorf("fetch header %s: %w", hash, err)
	}
	return head, nil
}
