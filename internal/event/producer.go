// Package event publishes checkout lifecycle events to Kafka.
package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nerochristian/robloxkeys/internal/domain"
	"github.com/nerochristian/robloxkeys/pkg/kafka"
	"github.com/nerochristian/robloxkeys/pkg/logger"
)

const (
	topicCheckout = "storefront.checkout"

	sourceName = "storefront"
)

// Event types emitted on the checkout topic.
const (
	TypePaymentSessionCreated = "payment.session.created"
	TypeCheckoutCompleted     = "checkout.completed"
	TypeCheckoutFailed        = "checkout.failed"
)

// Producer publishes checkout events.
type Producer struct {
	producer *kafka.Producer
	logger   *slog.Logger
}

// NewProducer creates a checkout event producer.
func NewProducer(producer *kafka.Producer, log *slog.Logger) *Producer {
	return &Producer{producer: producer, logger: log}
}

type paymentSessionCreatedData struct {
	Token   string  `json:"token"`
	UserID  string  `json:"user_id"`
	OrderID string  `json:"order_id"`
	Method  string  `json:"method"`
	Total   float64 `json:"total"`
}

// PaymentSessionCreated reports that a provider payment session was created
// and the user was handed a redirect.
func (p *Producer) PaymentSessionCreated(ctx context.Context, pending *domain.PendingPayment) error {
	data := paymentSessionCreatedData{
		Token:   pending.Token,
		UserID:  pending.UserID,
		OrderID: pending.OrderID,
		Method:  string(pending.Method),
		Total:   pending.Total,
	}
	return p.publish(ctx, TypePaymentSessionCreated, pending.OrderID, data)
}

type checkoutCompletedData struct {
	OrderID string  `json:"order_id"`
	UserID  string  `json:"user_id"`
	Total   float64 `json:"total"`
	Items   int     `json:"items"`
}

// CheckoutCompleted reports a confirmed purchase.
func (p *Producer) CheckoutCompleted(ctx context.Context, order *domain.Order) error {
	data := checkoutCompletedData{
		OrderID: order.ID,
		UserID:  order.UserID,
		Total:   order.Total,
		Items:   len(order.Items),
	}
	return p.publish(ctx, TypeCheckoutCompleted, order.ID, data)
}

type checkoutFailedData struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Reason  string `json:"reason"`
}

// CheckoutFailed reports a checkout attempt that ended in an error.
func (p *Producer) CheckoutFailed(ctx context.Context, userID, orderID, reason string) error {
	data := checkoutFailedData{OrderID: orderID, UserID: userID, Reason: reason}
	return p.publish(ctx, TypeCheckoutFailed, orderID, data)
}

func (p *Producer) publish(ctx context.Context, eventType, aggregateID string, data any) error {
	evt, err := kafka.NewEvent(eventType, aggregateID, "checkout", sourceName, data)
	if err != nil {
		return fmt.Errorf("build %s event: %w", eventType, err)
	}
	if cid := logger.CorrelationIDFromContext(ctx); cid != "" {
		evt.WithCorrelationID(cid)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.producer.Publish(pubCtx, topicCheckout, evt)
}
