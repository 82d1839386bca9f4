package orders

import (
	"sort"
	"time"

	"github.com/rahulmenon/orderdesk/internal/domain"
)

type TimelineEntry struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
}

type Tracking struct {
	OrderNumber    string          `json:"order_number"`
	CurrentStatus  string          `json:"current_status"`
	TrackingNumber string          `json:"tracking_number,omitempty"`
	TrackingURL    string          `json:"tracking_url,omitempty"`
	Timeline       []TimelineEntry `json:"timeline"`
}

// BuildTracking derives the timeline purely from the order's lifecycle
// timestamps. Unset stages are omitted; entries come out in
// chronological order.
func BuildTracking(o *domain.Order) *Tracking {
	entries := []TimelineEntry{{
		Status:      "Order Placed",
		Timestamp:   o.CreatedAt,
		Description: "Order " + o.OrderNumber + " has been placed successfully",
	}}

	add := func(ts *time.Time, status, description string) {
		if ts != nil {
			entries = append(entries, TimelineEntry{Status: status, Timestamp: *ts, Description: description})
		}
	}
	add(o.ConfirmedAt, "Order Confirmed", "Your order has been confirmed and is being prepared")
	add(o.ShippedAt, "Order Shipped", "Your order has been shipped")
	add(o.DeliveredAt, "Order Delivered", "Your order has been delivered successfully")
	add(o.CancelledAt, "Order Cancelled", "Your order has been cancelled")

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	return &Tracking{
		OrderNumber:    o.OrderNumber,
		CurrentStatus:  string(o.Status),
		TrackingNumber: o.TrackingNumber,
		TrackingURL:    o.TrackingURL,
		Timeline:       entries,
	}
}
