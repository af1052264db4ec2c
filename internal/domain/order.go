package domain

import (
	"fmt"
	"time"
)

// OrderStatus is the lifecycle status of an order. Transitions only move
// forward and are owned by the gateway; this service reflects them.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// CanTransitionTo reports whether the status may move to the target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return target == OrderStatusCompleted || target == OrderStatusCancelled
	case OrderStatusCompleted:
		return target == OrderStatusRefunded
	default:
		return false
	}
}

// Order is an order draft built from the cart at checkout time, later
// confirmed and finalized by the gateway. Credentials maps line IDs to
// delivered key strings and is populated only after confirmation; an empty
// map on a completed order means already delivered.
type Order struct {
	ID          string            `json:"id"`
	UserID      string            `json:"userId"`
	Items       []OrderItem       `json:"items"`
	Total       float64           `json:"total"`
	Status      OrderStatus       `json:"status"`
	Credentials map[string]string `json:"credentials,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// OrderItem is an immutable snapshot of one cart line.
type OrderItem struct {
	ProductID string  `json:"productId"`
	TierID    string  `json:"tierId,omitempty"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Duration  string  `json:"duration,omitempty"`
	Image     string  `json:"image,omitempty"`
}

// NewOrderID generates a draft order ID. The gateway replaces or confirms it
// on completion.
func NewOrderID(now time.Time) string {
	return fmt.Sprintf("ord-%d", now.UnixMilli())
}

// NewOrderDraft builds a pending order from the current cart. The total is
// recomputed from the lines, never taken from a cached value.
func NewOrderDraft(cart *Cart, now time.Time) *Order {
	items := make([]OrderItem, 0, len(cart.Items))
	var total float64
	for _, line := range cart.Items {
		items = append(items, OrderItem{
			ProductID: line.ProductID,
			TierID:    line.TierID,
			Name:      line.Name,
			Price:     line.Price,
			Quantity:  line.Quantity,
			Duration:  line.Duration,
			Image:     line.Image,
		})
		total += line.Price * float64(line.Quantity)
	}

	return &Order{
		ID:        NewOrderID(now),
		UserID:    cart.UserID,
		Items:     items,
		Total:     total,
		Status:    OrderStatusPending,
		CreatedAt: now,
	}
}
