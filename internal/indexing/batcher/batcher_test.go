package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

func testOrder(i int) domain.SignedOrder {
	return domain.SignedOrder{
		Maker:       "0x1111111111111111111111111111111111111111",
		MakerToken:  "0x2222222222222222222222222222222222222222",
		TakerToken:  "0x3333333333333333333333333333333333333333",
		MakerAmount: "1000",
		TakerAmount: "2000",
		Salt:        fmt.Sprintf("%d", i),
	}
}

// fakeQuery records batches and answers with one state per order, keyed by
// the order's salt so fan-out by position is observable.
type fakeQuery struct {
	delay time.Duration
	err   error
	short bool // drop one state from the result

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu    sync.Mutex
	calls [][]domain.SignedOrder
}

func (q *fakeQuery) BatchOrderStates(ctx context.Context, orders []domain.SignedOrder) ([]domain.OrderState, error) {
	n := q.inFlight.Add(1)
	defer q.inFlight.Add(-1)
	for {
		max := q.maxInFlight.Load()
		if n <= max || q.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	if q.delay > 0 {
		time.Sleep(q.delay)
	}

	q.mu.Lock()
	q.calls = append(q.calls, append([]domain.SignedOrder(nil), orders...))
	q.mu.Unlock()

	if q.err != nil {
		return nil, q.err
	}
	states := make([]domain.OrderState, len(orders))
	for i, o := range orders {
		states[i] = domain.OrderState{
			Hash:             "0xhash" + o.Salt,
			Status:           domain.OrderStatusFillable,
			FillableAmount:   o.TakerAmount,
			SignatureIsValid: true,
		}
	}
	if q.short {
		states = states[:len(states)-1]
	}
	return states, nil
}

func (q *fakeQuery) batches(t *testing.T) [][]domain.SignedOrder {
	t.Helper()
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([][]domain.SignedOrder(nil), q.calls...)
}

func TestBatcher_MergesDuplicateRequests(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := &fakeQuery{}
	b := New(query, Config{BatchSize: 64, Concurrent: 4, QueueCork: 20 * time.Millisecond})
	b.Start(ctx)

	order := testOrder(1)
	var wg sync.WaitGroup
	errs := make([]error, 20)
	states := make([]domain.OrderState, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], errs[i] = b.FetchState(ctx, order, false)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if states[i].Hash != "0xhash1" {
			t.Fatalf("waiter %d got state %q", i, states[i].Hash)
		}
	}

	calls := query.batches(t)
	if len(calls) != 1 {
		t.Fatalf("expected a single contract call, got %d", len(calls))
	}
	if len(calls[0]) != 1 {
		t.Fatalf("expected 1 order in the batch, got %d", len(calls[0]))
	}
}

func TestBatcher_FullQueueDispatchesImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := &fakeQuery{}
	// Cork long enough that only the size trigger can explain a dispatch.
	b := New(query, Config{BatchSize: 4, Concurrent: 4, QueueCork: time.Hour, PriorityCork: time.Hour})
	b.Start(ctx)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.FetchState(ctx, testOrder(i), false); err != nil {
				t.Errorf("order %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("full batch took %s to dispatch", elapsed)
	}
	calls := query.batches(t)
	total := 0
	for _, c := range calls {
		if len(c) > 4 {
			t.Fatalf("batch of %d exceeds the cap", len(c))
		}
		total += len(c)
	}
	if total != 4 {
		t.Fatalf("expected 4 orders fetched, got %d", total)
	}
}

func TestBatcher_BoundsConcurrentCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := &fakeQuery{delay: 30 * time.Millisecond}
	b := New(query, Config{BatchSize: 1, Concurrent: 2, QueueCork: time.Millisecond, PriorityCork: time.Millisecond})
	b.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := b.FetchState(ctx, testOrder(i), false); err != nil {
				t.Errorf("order %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if max := query.maxInFlight.Load(); max > 2 {
		t.Fatalf("%d calls in flight, limit is 2", max)
	}
	if calls := query.batches(t); len(calls) != 6 {
		t.Fatalf("expected 6 single-order calls, got %d", len(calls))
	}
}

func TestBatcher_PriorityDrainsAheadOfNormal(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := &fakeQuery{}
	b := New(query, Config{BatchSize: 64, Concurrent: 4, QueueCork: 500 * time.Millisecond, PriorityCork: 5 * time.Millisecond})
	b.Start(ctx)

	normalDone := make(chan error, 1)
	go func() {
		_, err := b.FetchState(ctx, testOrder(1), false)
		normalDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	if _, err := b.FetchState(ctx, testOrder(2), true); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("priority request waited %s", elapsed)
	}

	// The priority dispatch drains the normal lane too.
	if err := <-normalDone; err != nil {
		t.Fatal(err)
	}
	calls := query.batches(t)
	if len(calls) != 1 {
		t.Fatalf("expected one combined call, got %d", len(calls))
	}
	if calls[0][0].Salt != "2" {
		t.Fatalf("expected the priority order first, got salt %s", calls[0][0].Salt)
	}
}

func TestBatcher_PromotionAdoptsPriorityCork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := &fakeQuery{}
	b := New(query, Config{BatchSize: 64, Concurrent: 4, QueueCork: 500 * time.Millisecond, PriorityCork: 5 * time.Millisecond})
	b.Start(ctx)

	order := testOrder(1)
	start := time.Now()
	normalDone := make(chan error, 1)
	go func() {
		_, err := b.FetchState(ctx, order, false)
		normalDone <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// Same order requested with priority: the queued job is promoted and
	// the first waiter rides along.
	if _, err := b.FetchState(ctx, order, true); err != nil {
		t.Fatal(err)
	}
	if err := <-normalDone; err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Fatalf("promoted request waited %s", elapsed)
	}

	calls := query.batches(t)
	if len(calls) != 1 || len(calls[0]) != 1 {
		t.Fatalf("expected one single-order call, got %v", calls)
	}
}

func TestBatcher_LengthMismatchFailsAllWaiters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := &fakeQuery{short: true}
	b := New(query, Config{BatchSize: 3, Concurrent: 2, QueueCork: time.Hour})
	b.Start(ctx)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.FetchState(ctx, testOrder(i), false)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, ErrInvalidOutputLength) {
			t.Fatalf("waiter %d: expected length mismatch, got %v", i, err)
		}
	}
}

func TestBatcher_CallErrorSharedByBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	callErr := errors.New("execution reverted")
	query := &fakeQuery{err: callErr}
	b := New(query, Config{BatchSize: 2, Concurrent: 2, QueueCork: time.Hour})
	b.Start(ctx)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = b.FetchState(ctx, testOrder(i), false)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, callErr) {
			t.Fatalf("waiter %d: expected the shared call error, got %v", i, err)
		}
	}
}

func TestBatcher_AbandonedWaiterDoesNotBlockOthers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	query := &fakeQuery{delay: 50 * time.Millisecond}
	b := New(query, Config{BatchSize: 2, Concurrent: 2, QueueCork: time.Hour})
	b.Start(ctx)

	impatient, cancelImpatient := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancelImpatient()

	done := make(chan error, 1)
	go func() {
		_, err := b.FetchState(ctx, testOrder(1), false)
		done <- err
	}()

	if _, err := b.FetchState(impatient, testOrder(2), false); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	// The batch still completes for the patient waiter.
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("patient waiter never finished")
	}
}
