package orders

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/rahulmenon/orderdesk/internal/cart"
	"github.com/rahulmenon/orderdesk/internal/catalog"
	"github.com/rahulmenon/orderdesk/internal/domain"
	"github.com/rahulmenon/orderdesk/internal/money"
)

type fakeCarts struct {
	items   []cart.Item
	cleared bool
}

func (f *fakeCarts) Items(_ context.Context, _ string) ([]cart.Item, error) {
	return f.items, nil
}

func (f *fakeCarts) ClearTx(_ context.Context, _ *sql.Tx, _ string) error {
	f.cleared = true
	return nil
}

type fakeCatalog struct {
	products map[string]catalog.Snapshot
	variants map[string]catalog.Snapshot
}

func (f *fakeCatalog) Snapshots(_ context.Context, productIDs []string) (map[string]catalog.Snapshot, error) {
	out := make(map[string]catalog.Snapshot)
	for _, id := range productIDs {
		if snap, ok := f.products[id]; ok {
			out[id] = snap
		}
	}
	return out, nil
}

func (f *fakeCatalog) VariantSnapshot(_ context.Context, _, variantID string) (catalog.Snapshot, error) {
	snap, ok := f.variants[variantID]
	if !ok {
		return catalog.Snapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

type fakeAddresses struct {
	byID map[string]*domain.Address
}

func (f *fakeAddresses) Get(_ context.Context, id, _ string) (*domain.Address, error) {
	addr, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrInvalidAddress
	}
	return addr, nil
}

type fakeStore struct {
	created   *domain.Order
	createErr error
	orders    map[string]*domain.Order

	cancelled      bool
	cancelReason   string
	cancelApplied  bool
	returned       bool
	returnedReason string

	// admin transition recording; failTransitions makes the
	// conditional updates report zero rows matched.
	failTransitions bool
	shippedTracking string
	shippedFrom     domain.OrderStatus
	deliveredFrom   domain.OrderStatus
	statusFrom      domain.OrderStatus
	statusTo        domain.OrderStatus
	approvedReturn  bool
	rejectedReason  string
}

func (f *fakeStore) Create(ctx context.Context, order *domain.Order, clearCart func(ctx context.Context, tx *sql.Tx) error) error {
	if f.createErr != nil {
		return f.createErr
	}
	order.ID = "ord-1"
	order.OrderNumber = "ORD-20260901-100001"
	f.created = order
	return clearCart(ctx, nil)
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f.orders[id], nil
}

func (f *fakeStore) List(_ context.Context, _ ListFilter, _, _ int) ([]domain.Order, int, error) {
	return nil, 0, nil
}

func (f *fakeStore) Cancel(_ context.Context, _, reason string) (bool, error) {
	f.cancelled = true
	f.cancelReason = reason
	return f.cancelApplied, nil
}

func (f *fakeStore) MarkReturned(_ context.Context, _, reason string) (bool, error) {
	f.returned = true
	f.returnedReason = reason
	return true, nil
}

func (f *fakeStore) ApproveReturn(_ context.Context, _ string) (bool, error) {
	f.approvedReturn = true
	return !f.failTransitions, nil
}

func (f *fakeStore) RejectReturn(_ context.Context, _, reason string) (bool, error) {
	f.rejectedReason = reason
	return !f.failTransitions, nil
}

func (f *fakeStore) MarkShipped(_ context.Context, _, trackingNumber, _ string, from domain.OrderStatus) (bool, error) {
	f.shippedTracking = trackingNumber
	f.shippedFrom = from
	return !f.failTransitions, nil
}

func (f *fakeStore) MarkDelivered(_ context.Context, _ string, from domain.OrderStatus) (bool, error) {
	f.deliveredFrom = from
	return !f.failTransitions, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, _ string, from, to domain.OrderStatus) (bool, error) {
	f.statusFrom = from
	f.statusTo = to
	return !f.failTransitions, nil
}

type fakePublisher struct {
	events []domain.OrderEvent
}

func (f *fakePublisher) Publish(_ context.Context, event domain.OrderEvent) error {
	f.events = append(f.events, event)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestService(store *fakeStore, carts *fakeCarts, cat *fakeCatalog, addrs *fakeAddresses, pub *fakePublisher) *Service {
	var producer Publisher
	if pub != nil {
		producer = pub
	}
	return NewService(store, carts, cat, addrs, producer, testLogger())
}

func defaultAddresses() *fakeAddresses {
	return &fakeAddresses{byID: map[string]*domain.Address{
		"addr-1": {FullName: "Asha Rao", Phone: "9999999999", AddressLine1: "1 MG Road", City: "Bengaluru", State: "KA", PostalCode: "560001", Country: "India"},
	}}
}

func TestCreateEmptyCart(t *testing.T) {
	carts := &fakeCarts{}
	svc := newTestService(&fakeStore{}, carts, &fakeCatalog{}, defaultAddresses(), nil)

	_, err := svc.Create(context.Background(), "user-1", CreateInput{ShippingAddressID: "addr-1"})
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if carts.cleared {
		t.Error("cart should not be cleared on failure")
	}
}

func TestCreateInvalidAddress(t *testing.T) {
	carts := &fakeCarts{items: []cart.Item{{ProductID: "p1", Quantity: 1}}}
	svc := newTestService(&fakeStore{}, carts, &fakeCatalog{}, defaultAddresses(), nil)

	_, err := svc.Create(context.Background(), "user-1", CreateInput{ShippingAddressID: "no-such"})
	if !errors.Is(err, domain.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if carts.cleared {
		t.Error("cart should not be cleared on failure")
	}
}

func TestCreateComputesTotalsAndClearsCart(t *testing.T) {
	carts := &fakeCarts{items: []cart.Item{{ProductID: "p1", Quantity: 2}}}
	cat := &fakeCatalog{products: map[string]catalog.Snapshot{
		"p1": {ProductID: "p1", Name: "Trail Shoes", Price: money.MustFromString("1500.00")},
	}}
	store := &fakeStore{}
	pub := &fakePublisher{}
	svc := newTestService(store, carts, cat, defaultAddresses(), pub)

	order, err := svc.Create(context.Background(), "user-1", CreateInput{
		ShippingAddressID: "addr-1",
		PaymentMethod:     "razorpay",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if got, want := order.Subtotal.String(), "3000.00"; got != want {
		t.Errorf("subtotal = %s, want %s", got, want)
	}
	if got, want := order.ShippingAmount.String(), "0.00"; got != want {
		t.Errorf("shipping = %s, want %s", got, want)
	}
	if got, want := order.TaxAmount.String(), "540.00"; got != want {
		t.Errorf("tax = %s, want %s", got, want)
	}
	if got, want := order.TotalAmount.String(), "3540.00"; got != want {
		t.Errorf("total = %s, want %s", got, want)
	}
	if !order.TotalsBalance() {
		t.Error("order totals do not balance")
	}
	if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("new order state = %s/%s, want pending/pending", order.Status, order.PaymentStatus)
	}
	if !carts.cleared {
		t.Error("cart was not cleared with the order insert")
	}
	if len(pub.events) != 1 || pub.events[0].Type != domain.EventOrderCreated {
		t.Fatalf("expected one order.created event, got %+v", pub.events)
	}
}

func TestCreateVariantItemNaming(t *testing.T) {
	carts := &fakeCarts{items: []cart.Item{{ProductID: "p1", VariantID: "v1", Quantity: 1}}}
	cat := &fakeCatalog{variants: map[string]catalog.Snapshot{
		"v1": {ProductID: "p1", VariantID: "v1", Name: "Trail Shoes", VariantName: "Size 9", Price: money.MustFromString("2000.00")},
	}}
	store := &fakeStore{}
	svc := newTestService(store, carts, cat, defaultAddresses(), nil)

	order, err := svc.Create(context.Background(), "user-1", CreateInput{ShippingAddressID: "addr-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got, want := order.Items[0].ProductName, "Trail Shoes - Size 9"; got != want {
		t.Errorf("item name = %q, want %q", got, want)
	}
}

func TestCreatePersistFailureKeepsCart(t *testing.T) {
	carts := &fakeCarts{items: []cart.Item{{ProductID: "p1", Quantity: 1}}}
	cat := &fakeCatalog{products: map[string]catalog.Snapshot{
		"p1": {ProductID: "p1", Name: "Trail Shoes", Price: money.MustFromString("100.00")},
	}}
	store := &fakeStore{createErr: errors.New("connection reset")}
	svc := newTestService(store, carts, cat, defaultAddresses(), nil)

	if _, err := svc.Create(context.Background(), "user-1", CreateInput{ShippingAddressID: "addr-1"}); err == nil {
		t.Fatal("expected persistence error")
	}
	if carts.cleared {
		t.Error("cart must survive a failed order insert")
	}
}

func TestGetHidesForeignOrders(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{
		"ord-1": {ID: "ord-1", UserID: "user-2"},
	}}
	svc := newTestService(store, &fakeCarts{}, &fakeCatalog{}, defaultAddresses(), nil)

	if _, err := svc.Get(context.Background(), "ord-1", "user-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign order, got %v", err)
	}
}

func TestCancelPendingOrder(t *testing.T) {
	store := &fakeStore{
		cancelApplied: true,
		orders: map[string]*domain.Order{
			"ord-1": {ID: "ord-1", UserID: "user-1", Status: domain.OrderStatusPending},
		},
	}
	pub := &fakePublisher{}
	svc := newTestService(store, &fakeCarts{}, &fakeCatalog{}, defaultAddresses(), pub)

	if err := svc.Cancel(context.Background(), "ord-1", "user-1", ""); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got, want := store.cancelReason, "Cancelled by customer"; got != want {
		t.Errorf("reason = %q, want %q", got, want)
	}
	if len(pub.events) != 1 || pub.events[0].Type != domain.EventOrderCancelled {
		t.Fatalf("expected one order.cancelled event, got %+v", pub.events)
	}
}

func TestCancelShippedOrderFails(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{
		"ord-1": {ID: "ord-1", UserID: "user-1", Status: domain.OrderStatusShipped},
	}}
	svc := newTestService(store, &fakeCarts{}, &fakeCatalog{}, defaultAddresses(), nil)

	if err := svc.Cancel(context.Background(), "ord-1", "user-1", "changed my mind"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if store.cancelled {
		t.Error("repository cancel should not run for a shipped order")
	}
}

func TestCancelLostRace(t *testing.T) {
	// The read sees a cancellable order but the conditional UPDATE
	// matches nothing because another actor moved it first.
	store := &fakeStore{
		cancelApplied: false,
		orders: map[string]*domain.Order{
			"ord-1": {ID: "ord-1", UserID: "user-1", Status: domain.OrderStatusConfirmed},
		},
	}
	svc := newTestService(store, &fakeCarts{}, &fakeCatalog{}, defaultAddresses(), nil)

	if err := svc.Cancel(context.Background(), "ord-1", "user-1", ""); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after lost race, got %v", err)
	}
}

func TestRequestReturnShortReason(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeCarts{}, &fakeCatalog{}, defaultAddresses(), nil)

	err := svc.RequestReturn(context.Background(), "ord-1", "user-1", "   bad   ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRequestReturnInsideWindow(t *testing.T) {
	delivered := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{orders: map[string]*domain.Order{
		"ord-1": {
			ID: "ord-1", UserID: "user-1",
			Status:      domain.OrderStatusDelivered,
			DeliveredAt: &delivered,
		},
	}}
	svc := newTestService(store, &fakeCarts{}, &fakeCatalog{}, defaultAddresses(), nil)
	svc.now = func() time.Time { return delivered.Add(6 * 24 * time.Hour) }

	if err := svc.RequestReturn(context.Background(), "ord-1", "user-1", "wrong size delivered"); err != nil {
		t.Fatalf("return inside window: %v", err)
	}
	if got, want := store.returnedReason, "Return requested: wrong size delivered"; got != want {
		t.Errorf("reason = %q, want %q", got, want)
	}
}

func TestRequestReturnExpiredWindow(t *testing.T) {
	delivered := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{orders: map[string]*domain.Order{
		"ord-1": {
			ID: "ord-1", UserID: "user-1",
			Status:      domain.OrderStatusDelivered,
			DeliveredAt: &delivered,
		},
	}}
	svc := newTestService(store, &fakeCarts{}, &fakeCatalog{}, defaultAddresses(), nil)
	svc.now = func() time.Time { return delivered.Add(domain.ReturnWindow + time.Second) }

	err := svc.RequestReturn(context.Background(), "ord-1", "user-1", "wrong size delivered")
	if !errors.Is(err, domain.ErrReturnWindowExpired) {
		t.Fatalf("expected ErrReturnWindowExpired, got %v", err)
	}
	if store.returned {
		t.Error("repository should not be touched after the window")
	}
}
