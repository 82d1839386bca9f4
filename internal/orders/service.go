package orders

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rahulmenon/orderdesk/internal/cart"
	"github.com/rahulmenon/orderdesk/internal/catalog"
	"github.com/rahulmenon/orderdesk/internal/domain"
	"github.com/rahulmenon/orderdesk/internal/money"
	"github.com/rahulmenon/orderdesk/internal/pricing"
)

// CartStore is the slice of the cart collaborator the order service
// consumes: read everything, then clear atomically with the insert.
type CartStore interface {
	Items(ctx context.Context, userID string) ([]cart.Item, error)
	ClearTx(ctx context.Context, tx *sql.Tx, userID string) error
}

// CatalogReader resolves current product data for price snapshotting.
type CatalogReader interface {
	Snapshots(ctx context.Context, productIDs []string) (map[string]catalog.Snapshot, error)
	VariantSnapshot(ctx context.Context, productID, variantID string) (catalog.Snapshot, error)
}

// AddressStore supplies owned address snapshots.
type AddressStore interface {
	Get(ctx context.Context, id, userID string) (*domain.Address, error)
}

// Store is the persistence surface the service drives. Implemented by
// *Repository; faked in tests.
type Store interface {
	Create(ctx context.Context, order *domain.Order, clearCart func(ctx context.Context, tx *sql.Tx) error) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, f ListFilter, page, perPage int) ([]domain.Order, int, error)
	Cancel(ctx context.Context, id, reason string) (bool, error)
	MarkReturned(ctx context.Context, id, reason string) (bool, error)
	ApproveReturn(ctx context.Context, id string) (bool, error)
	RejectReturn(ctx context.Context, id, reason string) (bool, error)
	MarkShipped(ctx context.Context, id, trackingNumber, trackingURL string, from domain.OrderStatus) (bool, error)
	MarkDelivered(ctx context.Context, id string, from domain.OrderStatus) (bool, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) (bool, error)
}

// Publisher pushes lifecycle events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

type Service struct {
	store     Store
	carts     CartStore
	catalog   CatalogReader
	addresses AddressStore
	producer  Publisher // nil-safe: events skipped when absent
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(store Store, carts CartStore, catalogReader CatalogReader, addresses AddressStore, producer Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		carts:     carts,
		catalog:   catalogReader,
		addresses: addresses,
		producer:  producer,
		logger:    logger,
		now:       time.Now,
	}
}

type CreateInput struct {
	ShippingAddressID string
	BillingAddressID  string
	PaymentMethod     string
	CouponCode        string
	Notes             string
}

// Create converts the user's cart into an order: prices are snapshotted
// from the catalog, totals are computed by the pricing engine, and the
// order insert plus cart clear commit as one transaction.
func (s *Service) Create(ctx context.Context, userID string, in CreateInput) (*domain.Order, error) {
	cartItems, err := s.carts.Items(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	if len(cartItems) == 0 {
		return nil, domain.ErrEmptyCart
	}

	shipping, err := s.addresses.Get(ctx, in.ShippingAddressID, userID)
	if err != nil {
		return nil, err
	}
	billing := shipping
	if in.BillingAddressID != "" && in.BillingAddressID != in.ShippingAddressID {
		billing, err = s.addresses.Get(ctx, in.BillingAddressID, userID)
		if err != nil {
			return nil, err
		}
	}

	orderItems, lineItems, err := s.snapshotItems(ctx, cartItems)
	if err != nil {
		return nil, err
	}

	quote := pricing.Compute(lineItems)
	discount := money.Zero() // coupon validation is not implemented; code stored verbatim

	now := s.now().UTC()
	order := &domain.Order{
		UserID:          userID,
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusPending,
		PaymentMethod:   in.PaymentMethod,
		Subtotal:        quote.Subtotal,
		ShippingAmount:  quote.Shipping,
		TaxAmount:       quote.Tax,
		DiscountAmount:  discount,
		TotalAmount:     quote.Total.Sub(discount),
		ShippingAddress: *shipping,
		BillingAddress:  *billing,
		Items:           orderItems,
		CouponCode:      in.CouponCode,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	clear := func(ctx context.Context, tx *sql.Tx) error {
		return s.carts.ClearTx(ctx, tx, userID)
	}
	if err := s.store.Create(ctx, order, clear); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	s.publish(ctx, domain.OrderEvent{
		Type:        domain.EventOrderCreated,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.TotalAmount,
		Timestamp:   now,
	})

	s.logger.InfoContext(ctx, "order created",
		"order_id", order.ID, "order_number", order.OrderNumber,
		"user_id", userID, "total", order.TotalAmount.String())
	return order, nil
}

func (s *Service) snapshotItems(ctx context.Context, cartItems []cart.Item) ([]domain.OrderItem, []pricing.LineItem, error) {
	productIDs := make([]string, 0, len(cartItems))
	for _, it := range cartItems {
		if it.VariantID == "" {
			productIDs = append(productIDs, it.ProductID)
		}
	}

	snaps, err := s.catalog.Snapshots(ctx, productIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot catalog: %w", err)
	}

	orderItems := make([]domain.OrderItem, 0, len(cartItems))
	lineItems := make([]pricing.LineItem, 0, len(cartItems))
	for _, it := range cartItems {
		var snap catalog.Snapshot
		if it.VariantID != "" {
			snap, err = s.catalog.VariantSnapshot(ctx, it.ProductID, it.VariantID)
			if err != nil {
				return nil, nil, fmt.Errorf("snapshot variant %s: %w", it.VariantID, err)
			}
		} else {
			var ok bool
			snap, ok = snaps[it.ProductID]
			if !ok {
				return nil, nil, fmt.Errorf("product %s: %w", it.ProductID, domain.ErrNotFound)
			}
		}

		name := snap.Name
		if snap.VariantName != "" {
			name = snap.Name + " - " + snap.VariantName
		}
		orderItems = append(orderItems, domain.OrderItem{
			ProductID:    it.ProductID,
			VariantID:    it.VariantID,
			ProductName:  name,
			ProductImage: snap.Image,
			Quantity:     it.Quantity,
			UnitPrice:    snap.Price,
			TotalPrice:   snap.Price.MulInt(it.Quantity),
		})
		lineItems = append(lineItems, pricing.LineItem{UnitPrice: snap.Price, Quantity: it.Quantity})
	}
	return orderItems, lineItems, nil
}

// Get fetches an order scoped to its owner. Ownership failures look
// identical to missing orders so ids cannot be probed.
func (s *Service) Get(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	o, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o == nil || o.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, userID string, status domain.OrderStatus, page, perPage int) ([]domain.Order, int, error) {
	return s.store.List(ctx, ListFilter{UserID: userID, Status: status}, page, perPage)
}

// Cancel applies the customer cancellation transition. The repository
// re-checks the state in the UPDATE itself, so a webhook landing between
// our read and the write cannot be overwritten.
func (s *Service) Cancel(ctx context.Context, orderID, userID, reason string) error {
	o, err := s.Get(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if err := o.CanCancel(); err != nil {
		return err
	}
	if reason == "" {
		reason = "Cancelled by customer"
	}
	ok, err := s.store.Cancel(ctx, orderID, reason)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidTransition
	}

	s.publish(ctx, domain.OrderEvent{
		Type:      domain.EventOrderCancelled,
		OrderID:   orderID,
		UserID:    userID,
		Timestamp: s.now().UTC(),
	})
	s.logger.InfoContext(ctx, "order cancelled", "order_id", orderID, "user_id", userID)
	return nil
}

// RequestReturn validates the return window and reason, then marks the
// order returned.
func (s *Service) RequestReturn(ctx context.Context, orderID, userID, reason string) error {
	if len(strings.TrimSpace(reason)) < 10 {
		return fmt.Errorf("return reason must be at least 10 characters: %w", domain.ErrValidation)
	}
	o, err := s.Get(ctx, orderID, userID)
	if err != nil {
		return err
	}
	if err := o.CanRequestReturn(s.now()); err != nil {
		return err
	}
	ok, err := s.store.MarkReturned(ctx, orderID, "Return requested: "+reason)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidTransition
	}
	s.logger.InfoContext(ctx, "return requested", "order_id", orderID, "user_id", userID)
	return nil
}

// Track builds the tracking timeline for the owner.
func (s *Service) Track(ctx context.Context, orderID, userID string) (*Tracking, error) {
	o, err := s.Get(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	return BuildTracking(o), nil
}

func (s *Service) publish(ctx context.Context, event domain.OrderEvent) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish order event",
			"error", err, "type", event.Type, "order_id", event.OrderID)
	}
}
