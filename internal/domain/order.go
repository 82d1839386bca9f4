package domain

import (
	"time"

	"github.com/rahulmenon/orderdesk/internal/money"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
	OrderStatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// ReturnWindow is how long after delivery a return may be requested.
const ReturnWindow = 7 * 24 * time.Hour

// statusRank orders the forward path of the lifecycle. Branch states
// (cancelled, returned, refunded) carry no rank; transitions into them
// are guarded explicitly.
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusConfirmed:  1,
	OrderStatusProcessing: 2,
	OrderStatusShipped:    3,
	OrderStatusDelivered:  4,
}

// Rank returns the forward position of s, or -1 for branch states.
func (s OrderStatus) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusReturned, OrderStatusRefunded:
		return true
	}
	return false
}

// Cancellable reports whether a customer may still cancel.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPending || s == OrderStatusConfirmed
}

type OrderItem struct {
	ID           string      `json:"id"`
	ProductID    string      `json:"product_id"`
	VariantID    string      `json:"variant_id,omitempty"`
	ProductName  string      `json:"product_name"`
	ProductImage string      `json:"product_image,omitempty"`
	Quantity     int         `json:"quantity"`
	UnitPrice    money.Money `json:"unit_price"`
	TotalPrice   money.Money `json:"total_price"`
}

// Address is the snapshot copied onto an order at creation time. Later
// edits to the address book never touch historical orders.
type Address struct {
	FullName     string `json:"full_name"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty"`
	City         string `json:"city"`
	State        string `json:"state"`
	PostalCode   string `json:"postal_code"`
	Country      string `json:"country"`
}

type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	UserID      string `json:"user_id"`

	Status        OrderStatus   `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod string        `json:"payment_method"`

	Subtotal       money.Money `json:"subtotal"`
	ShippingAmount money.Money `json:"shipping_amount"`
	TaxAmount      money.Money `json:"tax_amount"`
	DiscountAmount money.Money `json:"discount_amount"`
	TotalAmount    money.Money `json:"total_amount"`

	ShippingAddress Address `json:"shipping_address"`
	BillingAddress  Address `json:"billing_address"`

	Items []OrderItem `json:"items"`

	RazorpayOrderID   string `json:"razorpay_order_id,omitempty"`
	RazorpayPaymentID string `json:"razorpay_payment_id,omitempty"`

	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`

	CouponCode         string `json:"coupon_code,omitempty"`
	Notes              string `json:"notes,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ShippedAt   *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
}

// TotalsBalance checks the money invariant that holds at creation and on
// any recomputation.
func (o *Order) TotalsBalance() bool {
	want := o.Subtotal.Add(o.ShippingAmount).Add(o.TaxAmount).Sub(o.DiscountAmount)
	return want.Equal(o.TotalAmount)
}

// CanCancel validates a customer cancellation against the current state.
func (o *Order) CanCancel() error {
	if !o.Status.Cancellable() {
		return ErrInvalidTransition
	}
	return nil
}

// CanRequestReturn validates a return request at the given instant.
func (o *Order) CanRequestReturn(now time.Time) error {
	if o.Status != OrderStatusDelivered {
		return ErrInvalidTransition
	}
	if o.DeliveredAt == nil || now.After(o.DeliveredAt.Add(ReturnWindow)) {
		return ErrReturnWindowExpired
	}
	return nil
}

// CanMarkPaid reports whether a capture may be applied. Already-paid is
// not an error for webhooks, so the two cases stay distinguishable.
func (o *Order) CanMarkPaid() error {
	if o.PaymentStatus == PaymentStatusPaid {
		return ErrAlreadyPaid
	}
	if o.PaymentStatus == PaymentStatusRefunded {
		return ErrInvalidTransition
	}
	return nil
}
