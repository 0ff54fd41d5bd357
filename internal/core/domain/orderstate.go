package domain

import "time"

// OrderStatus follows the on-chain getLimitOrderInfo status codes.
type OrderStatus string

const (
	OrderStatusAdded       OrderStatus = "ADDED"
	OrderStatusInvalid     OrderStatus = "INVALID"
	OrderStatusFillable    OrderStatus = "FILLABLE"
	OrderStatusFullyFilled OrderStatus = "FULLY_FILLED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
	OrderStatusExpired     OrderStatus = "EXPIRED"
)

// OrderStatusFromCode maps the contract's uint8 status to a status string.
func OrderStatusFromCode(code uint8) OrderStatus {
	switch code {
	case 1:
		return OrderStatusFillable
	case 2:
		return OrderStatusFullyFilled
	case 3:
		return OrderStatusCancelled
	case 4:
		return OrderStatusExpired
	default:
		return OrderStatusInvalid
	}
}

// OrderState is an order's on-chain state as returned by the exchange's
// batch query. FillableAmount is the remaining taker amount.
type OrderState struct {
	Hash             string
	Status           OrderStatus
	FilledAmount     string
	FillableAmount   string
	SignatureIsValid bool
}

// Validate maps the on-chain state to an acceptance decision.
func (s OrderState) Validate() error {
	if !s.SignatureIsValid {
		return ErrInvalidSignature
	}
	switch s.Status {
	case OrderStatusAdded, OrderStatusFillable:
		return nil
	case OrderStatusFullyFilled:
		return ErrOrderFullyFilled
	case OrderStatusCancelled:
		return ErrOrderCancelled
	case OrderStatusExpired:
		return ErrOrderExpired
	default:
		return ErrOrderUnfunded
	}
}

// OrderWithMetadata is a stored order plus the bookkeeping the revalidation
// loop maintains for it. InvalidSince is the lowest block height at which the
// order was observed unfillable; it is cleared when the order recovers and
// orders invalid since before the reorg horizon are pruned.
type OrderWithMetadata struct {
	Order        SignedOrder
	Hash         string
	Remaining    string
	Status       OrderStatus
	InvalidSince *uint64
	CreatedAt    time.Time
}
