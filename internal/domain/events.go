package domain

import (
	"time"

	"github.com/rahulmenon/orderdesk/internal/money"
)

const (
	EventOrderCreated    = "order.created"
	EventOrderCancelled  = "order.cancelled"
	EventPaymentCaptured = "payment.captured"
	EventPaymentFailed   = "payment.failed"
)

// OrderEvent is published to the order lifecycle topic after the
// corresponding state change has been committed.
type OrderEvent struct {
	Type        string      `json:"type"`
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number,omitempty"`
	UserID      string      `json:"user_id"`
	Total       money.Money `json:"total,omitempty"`
	PaymentID   string      `json:"payment_id,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}
