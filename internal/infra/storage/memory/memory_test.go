package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vietddude/orderwatch/internal/core/domain"
)

func stored(hash string, createdAt time.Time) *domain.OrderWithMetadata {
	return &domain.OrderWithMetadata{
		Order:     domain.SignedOrder{Salt: hash},
		Hash:      hash,
		Remaining: "100",
		Status:    domain.OrderStatusAdded,
		CreatedAt: createdAt,
	}
}

func TestOrderStorage_InsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStorage()

	order := stored("0xh1", time.Now())
	if err := s.Insert(ctx, order); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateState(ctx, "0xh1", domain.OrderStatusFillable, "50"); err != nil {
		t.Fatal(err)
	}
	// Resubmission must not reset the revalidated state.
	if err := s.Insert(ctx, order); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "0xh1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusFillable || got.Remaining != "50" {
		t.Fatalf("resubmission reset state: %+v", got)
	}
}

func TestOrderStorage_InvalidateKeepsLowestHeight(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStorage()
	if err := s.Insert(ctx, stored("0xh1", time.Now())); err != nil {
		t.Fatal(err)
	}

	if err := s.Invalidate(ctx, "0xh1", domain.OrderStatusCancelled, 105); err != nil {
		t.Fatal(err)
	}
	if err := s.Invalidate(ctx, "0xh1", domain.OrderStatusCancelled, 102); err != nil {
		t.Fatal(err)
	}
	if err := s.Invalidate(ctx, "0xh1", domain.OrderStatusCancelled, 110); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "0xh1")
	if err != nil {
		t.Fatal(err)
	}
	if got.InvalidSince == nil || *got.InvalidSince != 102 {
		t.Fatalf("expected invalid since 102, got %v", got.InvalidSince)
	}

	// Recovery clears the mark.
	if err := s.UpdateState(ctx, "0xh1", domain.OrderStatusFillable, "100"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, "0xh1")
	if got.InvalidSince != nil {
		t.Fatalf("mark not cleared: %v", *got.InvalidSince)
	}
}

func TestOrderStorage_DeleteInvalidBefore(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStorage()
	now := time.Now()
	for _, hash := range []string{"0xh1", "0xh2", "0xh3"} {
		if err := s.Insert(ctx, stored(hash, now)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Invalidate(ctx, "0xh1", domain.OrderStatusCancelled, 90); err != nil {
		t.Fatal(err)
	}
	if err := s.Invalidate(ctx, "0xh2", domain.OrderStatusExpired, 100); err != nil {
		t.Fatal(err)
	}

	deleted, err := s.DeleteInvalidBefore(ctx, 100)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}

	if got, _ := s.Get(ctx, "0xh1"); got != nil {
		t.Fatal("0xh1 should be pruned")
	}
	if got, _ := s.Get(ctx, "0xh2"); got == nil {
		t.Fatal("0xh2 pruned at the boundary")
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Fatalf("expected 2 orders left, got %d", n)
	}
}

func TestOrderStorage_ListOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	s := NewOrderStorage()
	base := time.Now()
	if err := s.Insert(ctx, stored("0xh2", base.Add(time.Second))); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(ctx, stored("0xh1", base)); err != nil {
		t.Fatal(err)
	}

	orders, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 2 || orders[0].Hash != "0xh1" || orders[1].Hash != "0xh2" {
		t.Fatalf("unexpected order %v", []string{orders[0].Hash, orders[1].Hash})
	}

	// Listed orders are copies; mutating them must not leak back.
	orders[0].Status = domain.OrderStatusCancelled
	got, _ := s.Get(ctx, "0xh1")
	if got.Status != domain.OrderStatusAdded {
		t.Fatal("list returned a live reference")
	}
}
