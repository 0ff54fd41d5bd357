package domain

// OrderEventKind classifies order lifecycle notifications.
type OrderEventKind string

const (
	OrderAdded       OrderEventKind = "added"
	OrderUpdated     OrderEventKind = "updated"
	OrderInvalidated OrderEventKind = "invalidated"
)

// OrderEvent is published whenever an order is accepted or its observed
// on-chain state changes.
type OrderEvent struct {
	Kind      OrderEventKind `json:"kind"`
	Hash      string         `json:"orderHash"`
	Status    OrderStatus    `json:"status"`
	Remaining string         `json:"remaining"`
	Reason    string         `json:"reason,omitempty"`
	Order     *SignedOrder   `json:"order,omitempty"`
}
