package payments

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/rahulmenon/orderdesk/internal/domain"
	"github.com/rahulmenon/orderdesk/internal/money"
)

type fakeStore struct {
	orders map[string]*domain.Order

	gatewayOrderSet string
	paidWith        string
	paidCount       int
	failedCount     int
	linkageTaken    bool
	markPaidErr     error // consumed by the next MarkPaid call
}

func (f *fakeStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	return f.orders[id], nil
}

func (f *fakeStore) SetGatewayOrder(_ context.Context, id, gatewayOrderID string) (bool, error) {
	if f.linkageTaken {
		return false, nil
	}
	f.gatewayOrderSet = gatewayOrderID
	if o, ok := f.orders[id]; ok {
		o.RazorpayOrderID = gatewayOrderID
	}
	return true, nil
}

func (f *fakeStore) MarkPaid(_ context.Context, id, gatewayPaymentID string) (bool, error) {
	if err := f.markPaidErr; err != nil {
		f.markPaidErr = nil
		return false, err
	}
	o, ok := f.orders[id]
	if !ok || o.PaymentStatus == domain.PaymentStatusPaid {
		return false, nil
	}
	o.PaymentStatus = domain.PaymentStatusPaid
	o.RazorpayPaymentID = gatewayPaymentID
	f.paidWith = gatewayPaymentID
	f.paidCount++
	return true, nil
}

func (f *fakeStore) MarkPaymentFailed(_ context.Context, id string) (bool, error) {
	o, ok := f.orders[id]
	if !ok || o.PaymentStatus != domain.PaymentStatusPending {
		return false, nil
	}
	o.PaymentStatus = domain.PaymentStatusFailed
	f.failedCount++
	return true, nil
}

type fakeGateway struct {
	calls       int
	lastReq     GatewayOrderRequest
	err         error
	amountPaise int64 // overrides the echoed amount when non-zero
}

func (f *fakeGateway) CreateOrder(_ context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	amount := req.AmountPaise
	if f.amountPaise != 0 {
		amount = f.amountPaise
	}
	return &GatewayOrder{ID: "rzp_order_abc", AmountPaise: amount, Currency: req.Currency, Status: "created"}, nil
}

type fakeDeduper struct {
	seen     map[string]bool
	err      error
	released int
}

func (f *fakeDeduper) FirstDelivery(_ context.Context, eventID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeDeduper) Release(_ context.Context, eventID string) error {
	delete(f.seen, eventID)
	f.released++
	return nil
}

type fakePublisher struct {
	events []domain.OrderEvent
}

func (f *fakePublisher) Publish(_ context.Context, event domain.OrderEvent) error {
	f.events = append(f.events, event)
	return nil
}

const (
	testKeySecret     = "key-secret"
	testWebhookSecret = "webhook-secret"
)

func newTestService(store *fakeStore, gw Gateway, dedup Deduper, pub Publisher) *Service {
	return NewService(store, gw, dedup, pub, slog.New(slog.DiscardHandler), Config{
		KeyID:         "rzp_test_key",
		KeySecret:     testKeySecret,
		WebhookSecret: testWebhookSecret,
	})
}

func pendingOrder(id, userID string) *domain.Order {
	return &domain.Order{
		ID:            id,
		UserID:        userID,
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
		TotalAmount:   money.MustFromString("3540.00"),
	}
}

func TestCreateGatewayOrder(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	gw := &fakeGateway{}
	svc := newTestService(store, gw, nil, nil)

	details, err := svc.CreateGatewayOrder(context.Background(), "ord-1", "user-1")
	if err != nil {
		t.Fatalf("create gateway order: %v", err)
	}
	if details.AmountPaise != 354000 {
		t.Errorf("amount = %d paise, want 354000", details.AmountPaise)
	}
	if details.Currency != "INR" {
		t.Errorf("currency = %q, want INR", details.Currency)
	}
	if gw.lastReq.Notes["order_id"] != "ord-1" {
		t.Errorf("gateway notes missing order correlation: %+v", gw.lastReq.Notes)
	}
	if store.gatewayOrderSet != "rzp_order_abc" {
		t.Errorf("linkage not stored: %q", store.gatewayOrderSet)
	}
}

func TestCreateGatewayOrderReusesLinkage(t *testing.T) {
	order := pendingOrder("ord-1", "user-1")
	order.RazorpayOrderID = "rzp_order_existing"
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": order}}
	gw := &fakeGateway{}
	svc := newTestService(store, gw, nil, nil)

	details, err := svc.CreateGatewayOrder(context.Background(), "ord-1", "user-1")
	if err != nil {
		t.Fatalf("create gateway order: %v", err)
	}
	if details.GatewayOrderID != "rzp_order_existing" {
		t.Errorf("gateway order = %q, want reused id", details.GatewayOrderID)
	}
	if gw.calls != 0 {
		t.Errorf("gateway called %d times, want 0", gw.calls)
	}
}

func TestCreateGatewayOrderAlreadyPaid(t *testing.T) {
	order := pendingOrder("ord-1", "user-1")
	order.PaymentStatus = domain.PaymentStatusPaid
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": order}}
	svc := newTestService(store, &fakeGateway{}, nil, nil)

	_, err := svc.CreateGatewayOrder(context.Background(), "ord-1", "user-1")
	if !errors.Is(err, domain.ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestCreateGatewayOrderForeignOrder(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-2")}}
	svc := newTestService(store, &fakeGateway{}, nil, nil)

	_, err := svc.CreateGatewayOrder(context.Background(), "ord-1", "user-1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateGatewayOrderAmountMismatch(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	gw := &fakeGateway{amountPaise: 100}
	svc := newTestService(store, gw, nil, nil)

	_, err := svc.CreateGatewayOrder(context.Background(), "ord-1", "user-1")
	if err == nil {
		t.Fatal("expected error when gateway echoes a different amount")
	}
	if store.gatewayOrderSet != "" {
		t.Error("mismatched gateway order must not be linked")
	}
}

func TestCreateGatewayOrderGatewayDown(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	gw := &fakeGateway{err: domain.ErrGatewayUnavailable}
	svc := newTestService(store, gw, nil, nil)

	_, err := svc.CreateGatewayOrder(context.Background(), "ord-1", "user-1")
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if store.gatewayOrderSet != "" {
		t.Error("no linkage should be written on gateway failure")
	}
}

func TestVerifyPaymentSuccess(t *testing.T) {
	order := pendingOrder("ord-1", "user-1")
	order.RazorpayOrderID = "rzp_order_abc"
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": order}}
	pub := &fakePublisher{}
	svc := newTestService(store, &fakeGateway{}, nil, pub)

	sig := SignPayment("rzp_order_abc", "pay_123", testKeySecret)
	result, err := svc.VerifyPayment(context.Background(), VerifyInput{
		OrderID:          "ord-1",
		UserID:           "user-1",
		GatewayOrderID:   "rzp_order_abc",
		GatewayPaymentID: "pay_123",
		Signature:        sig,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Verified {
		t.Fatal("expected verified result")
	}
	if store.paidWith != "pay_123" {
		t.Errorf("paid with %q, want pay_123", store.paidWith)
	}
	if len(pub.events) != 1 || pub.events[0].Type != domain.EventPaymentCaptured {
		t.Fatalf("expected one payment.captured event, got %+v", pub.events)
	}
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	order := pendingOrder("ord-1", "user-1")
	order.RazorpayOrderID = "rzp_order_abc"
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": order}}
	svc := newTestService(store, &fakeGateway{}, nil, nil)

	result, err := svc.VerifyPayment(context.Background(), VerifyInput{
		OrderID:          "ord-1",
		UserID:           "user-1",
		GatewayOrderID:   "rzp_order_abc",
		GatewayPaymentID: "pay_123",
		Signature:        "forged",
	})
	if err != nil {
		t.Fatalf("verify should not error on bad signature: %v", err)
	}
	if result.Verified {
		t.Fatal("forged signature must not verify")
	}
	if store.paidCount != 0 {
		t.Error("order must not be marked paid")
	}
	if order.PaymentStatus != domain.PaymentStatusFailed {
		t.Errorf("payment status = %s, want failed", order.PaymentStatus)
	}
}

func TestVerifyPaymentGatewayOrderMismatch(t *testing.T) {
	order := pendingOrder("ord-1", "user-1")
	order.RazorpayOrderID = "rzp_order_abc"
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": order}}
	svc := newTestService(store, &fakeGateway{}, nil, nil)

	// Valid signature, but over a different gateway order.
	sig := SignPayment("rzp_order_other", "pay_123", testKeySecret)
	result, err := svc.VerifyPayment(context.Background(), VerifyInput{
		OrderID:          "ord-1",
		UserID:           "user-1",
		GatewayOrderID:   "rzp_order_other",
		GatewayPaymentID: "pay_123",
		Signature:        sig,
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Verified {
		t.Fatal("mismatched gateway order must not verify")
	}
}

func TestVerifyFailureCannotDowngradePaidOrder(t *testing.T) {
	order := pendingOrder("ord-1", "user-1")
	order.RazorpayOrderID = "rzp_order_abc"
	order.PaymentStatus = domain.PaymentStatusPaid
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": order}}
	svc := newTestService(store, &fakeGateway{}, nil, nil)

	_, _ = svc.VerifyPayment(context.Background(), VerifyInput{
		OrderID:          "ord-1",
		UserID:           "user-1",
		GatewayOrderID:   "rzp_order_abc",
		GatewayPaymentID: "pay_123",
		Signature:        "forged",
	})
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("paid order downgraded to %s", order.PaymentStatus)
	}
}

func capturedWebhookBody(orderID, paymentID string) []byte {
	return []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"` + paymentID + `","order_id":"rzp_order_abc","notes":{"order_id":"` + orderID + `","user_id":"user-1"}}}}}`)
}

func TestWebhookCaptureApplied(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	pub := &fakePublisher{}
	svc := newTestService(store, &fakeGateway{}, &fakeDeduper{}, pub)

	body := capturedWebhookBody("ord-1", "pay_777")
	outcome := svc.HandleWebhook(context.Background(), "evt_1", body, SignWebhook(body, testWebhookSecret))

	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}
	if store.orders["ord-1"].PaymentStatus != domain.PaymentStatusPaid {
		t.Error("order not marked paid")
	}
	if len(pub.events) != 1 || pub.events[0].Type != domain.EventPaymentCaptured {
		t.Fatalf("expected one payment.captured event, got %+v", pub.events)
	}
}

func TestWebhookDuplicateEventID(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	svc := newTestService(store, &fakeGateway{}, &fakeDeduper{}, nil)

	body := capturedWebhookBody("ord-1", "pay_777")
	sig := SignWebhook(body, testWebhookSecret)

	if outcome := svc.HandleWebhook(context.Background(), "evt_1", body, sig); outcome != OutcomeApplied {
		t.Fatalf("first delivery outcome = %s", outcome)
	}
	if outcome := svc.HandleWebhook(context.Background(), "evt_1", body, sig); outcome != OutcomeDuplicate {
		t.Fatalf("second delivery outcome = %s, want duplicate", outcome)
	}
	if store.paidCount != 1 {
		t.Errorf("paid applied %d times, want 1", store.paidCount)
	}
}

func TestWebhookRedeliveryAfterApplyError(t *testing.T) {
	// A transient database failure on the first delivery must not burn
	// the event id, or the capture would be dropped as a duplicate on
	// redelivery and never land.
	store := &fakeStore{
		orders:      map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")},
		markPaidErr: errors.New("connection reset"),
	}
	dedup := &fakeDeduper{}
	svc := newTestService(store, &fakeGateway{}, dedup, nil)

	body := capturedWebhookBody("ord-1", "pay_777")
	sig := SignWebhook(body, testWebhookSecret)

	if outcome := svc.HandleWebhook(context.Background(), "evt_1", body, sig); outcome != OutcomeError {
		t.Fatalf("first delivery outcome = %s, want error", outcome)
	}
	if dedup.released != 1 {
		t.Fatalf("event id released %d times, want 1", dedup.released)
	}

	if outcome := svc.HandleWebhook(context.Background(), "evt_1", body, sig); outcome != OutcomeApplied {
		t.Fatalf("redelivery outcome = %s, want applied", outcome)
	}
	if store.orders["ord-1"].PaymentStatus != domain.PaymentStatusPaid {
		t.Error("capture lost after redelivery")
	}
}

func TestWebhookRedeliveryWithoutDeduper(t *testing.T) {
	// Dedup store outage degrades to the conditional update alone; the
	// order still transitions exactly once.
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	svc := newTestService(store, &fakeGateway{}, &fakeDeduper{err: errors.New("redis down")}, nil)

	body := capturedWebhookBody("ord-1", "pay_777")
	sig := SignWebhook(body, testWebhookSecret)

	svc.HandleWebhook(context.Background(), "evt_1", body, sig)
	svc.HandleWebhook(context.Background(), "evt_1", body, sig)

	if store.paidCount != 1 {
		t.Errorf("paid applied %d times, want 1", store.paidCount)
	}
	if store.orders["ord-1"].PaymentStatus != domain.PaymentStatusPaid {
		t.Error("order not marked paid")
	}
}

func TestWebhookInvalidSignature(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	svc := newTestService(store, &fakeGateway{}, &fakeDeduper{}, nil)

	body := capturedWebhookBody("ord-1", "pay_777")
	outcome := svc.HandleWebhook(context.Background(), "evt_1", body, "forged")

	if outcome != OutcomeInvalidSignature {
		t.Fatalf("outcome = %s, want invalid_signature", outcome)
	}
	if store.paidCount != 0 {
		t.Error("forged webhook must not touch the order")
	}
}

func TestWebhookPaymentFailed(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	svc := newTestService(store, &fakeGateway{}, &fakeDeduper{}, nil)

	body := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_9","notes":{"order_id":"ord-1"}}}}}`)
	outcome := svc.HandleWebhook(context.Background(), "evt_2", body, SignWebhook(body, testWebhookSecret))

	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %s, want applied", outcome)
	}
	if store.orders["ord-1"].PaymentStatus != domain.PaymentStatusFailed {
		t.Error("order not marked failed")
	}
}

func TestWebhookFailureAfterCaptureIsNoOp(t *testing.T) {
	// Out-of-order delivery: failure event lands after capture.
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	svc := newTestService(store, &fakeGateway{}, &fakeDeduper{}, nil)

	captured := capturedWebhookBody("ord-1", "pay_777")
	svc.HandleWebhook(context.Background(), "evt_1", captured, SignWebhook(captured, testWebhookSecret))

	failed := []byte(`{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_777","notes":{"order_id":"ord-1"}}}}}`)
	svc.HandleWebhook(context.Background(), "evt_2", failed, SignWebhook(failed, testWebhookSecret))

	if store.orders["ord-1"].PaymentStatus != domain.PaymentStatusPaid {
		t.Fatalf("capture overwritten: %s", store.orders["ord-1"].PaymentStatus)
	}
}

func TestWebhookUnknownEventIgnored(t *testing.T) {
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": pendingOrder("ord-1", "user-1")}}
	svc := newTestService(store, &fakeGateway{}, &fakeDeduper{}, nil)

	body := []byte(`{"event":"refund.created","payload":{"payment":{"entity":{"id":"pay_9","notes":{"order_id":"ord-1"}}}}}`)
	outcome := svc.HandleWebhook(context.Background(), "evt_3", body, SignWebhook(body, testWebhookSecret))

	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %s, want ignored", outcome)
	}
}

func TestWebhookMissingOrderCorrelation(t *testing.T) {
	svc := newTestService(&fakeStore{}, &fakeGateway{}, &fakeDeduper{}, nil)

	body := []byte(`{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_9","notes":{}}}}}`)
	outcome := svc.HandleWebhook(context.Background(), "evt_4", body, SignWebhook(body, testWebhookSecret))

	if outcome != OutcomeIgnored {
		t.Fatalf("outcome = %s, want ignored", outcome)
	}
}

func TestStatusSnapshot(t *testing.T) {
	order := pendingOrder("ord-1", "user-1")
	order.RazorpayOrderID = "rzp_order_abc"
	store := &fakeStore{orders: map[string]*domain.Order{"ord-1": order}}
	svc := newTestService(store, &fakeGateway{}, nil, nil)

	snap, err := svc.Status(context.Background(), "ord-1", "user-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.PaymentStatus != domain.PaymentStatusPending {
		t.Errorf("payment status = %s", snap.PaymentStatus)
	}
	if snap.AmountPaise != 354000 {
		t.Errorf("amount = %d, want 354000", snap.AmountPaise)
	}
}
