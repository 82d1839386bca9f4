package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rahulmenon/orderdesk/internal/domain"
	"github.com/rahulmenon/orderdesk/internal/money"
)

// Store is the slice of order persistence the reconciliation service
// drives. All writes are conditional in SQL, which is what makes webhook
// redelivery and races with other actors safe.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	SetGatewayOrder(ctx context.Context, id, gatewayOrderID string) (bool, error)
	MarkPaid(ctx context.Context, id, gatewayPaymentID string) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string) (bool, error)
}

// Deduper remembers webhook event ids across deliveries.
type Deduper interface {
	// FirstDelivery returns false when the event id was seen before.
	FirstDelivery(ctx context.Context, eventID string) (bool, error)
	// Release forgets an event id so redelivery is processed again.
	Release(ctx context.Context, eventID string) error
}

type Publisher interface {
	Publish(ctx context.Context, event domain.OrderEvent) error
}

type Config struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	Currency      string
}

type Service struct {
	store    Store
	gateway  Gateway
	dedup    Deduper   // nil-safe: falls back to conditional updates only
	producer Publisher // nil-safe
	logger   *slog.Logger
	cfg      Config

	webhookEvents metric.Int64Counter
}

func NewService(store Store, gateway Gateway, dedup Deduper, producer Publisher, logger *slog.Logger, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	counter, err := otel.Meter("payments").Int64Counter("payments.webhook.events",
		metric.WithDescription("Webhook deliveries by outcome"))
	if err != nil {
		logger.Error("failed to create webhook counter", "error", err)
	}
	return &Service{
		store:         store,
		gateway:       gateway,
		dedup:         dedup,
		producer:      producer,
		logger:        logger,
		cfg:           cfg,
		webhookEvents: counter,
	}
}

// CheckoutDetails is what the frontend needs to open the gateway's
// checkout for an order.
type CheckoutDetails struct {
	GatewayOrderID string `json:"razorpay_order_id"`
	AmountPaise    int64  `json:"amount"`
	Currency       string `json:"currency"`
	KeyID          string `json:"key_id"`
}

// CreateGatewayOrder creates (or re-uses) the gateway-side order for an
// internal order. Retries after a gateway timeout are safe: an existing
// linkage short-circuits, and the linkage column is only written while
// still unset.
func (s *Service) CreateGatewayOrder(ctx context.Context, orderID, userID string) (*CheckoutDetails, error) {
	order, err := s.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return nil, domain.ErrAlreadyPaid
	}

	amount, err := order.TotalAmount.Paise()
	if err != nil {
		// A fractional-paisa total is a data integrity bug upstream;
		// surface it rather than truncating money silently.
		s.logger.ErrorContext(ctx, "order total is not an exact paise amount",
			"order_id", orderID, "total", order.TotalAmount.String())
		return nil, fmt.Errorf("convert total to paise: %w", err)
	}

	if order.RazorpayOrderID != "" {
		return &CheckoutDetails{
			GatewayOrderID: order.RazorpayOrderID,
			AmountPaise:    amount,
			Currency:       s.cfg.Currency,
			KeyID:          s.cfg.KeyID,
		}, nil
	}

	gwOrder, err := s.gateway.CreateOrder(ctx, GatewayOrderRequest{
		AmountPaise: amount,
		Currency:    s.cfg.Currency,
		Receipt:     "order_" + order.ID,
		Notes: map[string]string{
			"order_id": order.ID,
			"user_id":  userID,
		},
	})
	if err != nil {
		return nil, err
	}
	if gwOrder.AmountPaise != amount {
		// The gateway echoing a different amount means the checkout it
		// opens would charge something other than the order total.
		return nil, fmt.Errorf("gateway order amount %s does not match order total %s",
			money.FromPaise(gwOrder.AmountPaise), order.TotalAmount)
	}

	ok, err := s.store.SetGatewayOrder(ctx, orderID, gwOrder.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Concurrent request won the linkage; use the stored id.
		order, err = s.ownedOrder(ctx, orderID, userID)
		if err != nil {
			return nil, err
		}
		gwOrder.ID = order.RazorpayOrderID
	}

	s.logger.InfoContext(ctx, "gateway order created",
		"order_id", orderID, "gateway_order_id", gwOrder.ID, "amount_paise", amount)
	return &CheckoutDetails{
		GatewayOrderID: gwOrder.ID,
		AmountPaise:    amount,
		Currency:       s.cfg.Currency,
		KeyID:          s.cfg.KeyID,
	}, nil
}

type VerifyInput struct {
	OrderID          string
	UserID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

type VerificationResult struct {
	Verified  bool   `json:"payment_verified"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id,omitempty"`
	Message   string `json:"message"`
}

// VerifyPayment validates the client-submitted signature. A bad
// signature is a result, not an error: payment_status moves to failed
// and the caller gets payment_verified=false.
func (s *Service) VerifyPayment(ctx context.Context, in VerifyInput) (*VerificationResult, error) {
	order, err := s.ownedOrder(ctx, in.OrderID, in.UserID)
	if err != nil {
		return nil, err
	}

	verified := VerifyPaymentSignature(in.GatewayOrderID, in.GatewayPaymentID, s.cfg.KeySecret, in.Signature)
	if verified && order.RazorpayOrderID != "" && order.RazorpayOrderID != in.GatewayOrderID {
		// Valid signature for somebody else's gateway order.
		s.logger.WarnContext(ctx, "signature valid but gateway order mismatch",
			"order_id", in.OrderID, "expected", order.RazorpayOrderID, "got", in.GatewayOrderID)
		verified = false
	}

	if !verified {
		if _, err := s.store.MarkPaymentFailed(ctx, in.OrderID); err != nil {
			return nil, err
		}
		s.logger.WarnContext(ctx, "payment verification failed", "order_id", in.OrderID)
		return &VerificationResult{
			Verified: false,
			OrderID:  in.OrderID,
			Message:  "Payment verification failed",
		}, nil
	}

	if _, err := s.store.MarkPaid(ctx, in.OrderID, in.GatewayPaymentID); err != nil {
		return nil, err
	}
	s.publishCaptured(ctx, order, in.GatewayPaymentID)

	s.logger.InfoContext(ctx, "payment verified",
		"order_id", in.OrderID, "payment_id", in.GatewayPaymentID)
	return &VerificationResult{
		Verified:  true,
		OrderID:   in.OrderID,
		PaymentID: in.GatewayPaymentID,
		Message:   "Payment verified successfully",
	}, nil
}

// WebhookOutcome distinguishes internally what the HTTP layer hides
// behind a uniform 200 acknowledgement.
type WebhookOutcome string

const (
	OutcomeApplied          WebhookOutcome = "applied"
	OutcomeDuplicate        WebhookOutcome = "duplicate"
	OutcomeInvalidSignature WebhookOutcome = "invalid_signature"
	OutcomeIgnored          WebhookOutcome = "ignored"
	OutcomeError            WebhookOutcome = "error"
)

type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID      string            `json:"id"`
				OrderID string            `json:"order_id"`
				Notes   map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// HandleWebhook reconciles an asynchronous gateway event. It is
// idempotent under at-least-once delivery: event ids are deduplicated
// and the underlying updates are conditional no-ops once applied.
func (s *Service) HandleWebhook(ctx context.Context, eventID string, body []byte, signature string) WebhookOutcome {
	outcome := s.processWebhook(ctx, eventID, body, signature)
	s.recordOutcome(ctx, outcome)
	return outcome
}

func (s *Service) processWebhook(ctx context.Context, eventID string, body []byte, signature string) WebhookOutcome {
	if !VerifyWebhookSignature(body, s.cfg.WebhookSecret, signature) {
		s.logger.WarnContext(ctx, "webhook signature invalid; event dropped", "event_id", eventID)
		return OutcomeInvalidSignature
	}

	claimed := false
	if s.dedup != nil && eventID != "" {
		first, err := s.dedup.FirstDelivery(ctx, eventID)
		if err != nil {
			// Dedup store outage: proceed, the conditional updates
			// below keep redelivery harmless.
			s.logger.WarnContext(ctx, "webhook dedup unavailable", "error", err, "event_id", eventID)
		} else if !first {
			s.logger.InfoContext(ctx, "webhook event already processed", "event_id", eventID)
			return OutcomeDuplicate
		} else {
			claimed = true
		}
	}

	outcome := s.applyWebhook(ctx, eventID, body)
	if outcome == OutcomeError && claimed {
		// This delivery failed before the state change landed; forget
		// the event id so the gateway's redelivery gets applied rather
		// than dropped as a duplicate.
		if err := s.dedup.Release(ctx, eventID); err != nil {
			s.logger.WarnContext(ctx, "failed to release webhook event id", "error", err, "event_id", eventID)
		}
	}
	return outcome
}

func (s *Service) applyWebhook(ctx context.Context, eventID string, body []byte) WebhookOutcome {
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.ErrorContext(ctx, "webhook payload malformed", "error", err, "event_id", eventID)
		return OutcomeError
	}

	entity := event.Payload.Payment.Entity
	orderID := entity.Notes["order_id"]
	if orderID == "" {
		s.logger.WarnContext(ctx, "webhook event missing order correlation",
			"event", event.Event, "event_id", eventID)
		return OutcomeIgnored
	}

	switch event.Event {
	case "payment.captured":
		applied, err := s.store.MarkPaid(ctx, orderID, entity.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to apply payment capture",
				"error", err, "order_id", orderID, "event_id", eventID)
			return OutcomeError
		}
		if applied {
			s.publishCapturedByID(ctx, orderID, entity.Notes["user_id"], entity.ID)
			s.logger.InfoContext(ctx, "payment captured via webhook",
				"order_id", orderID, "payment_id", entity.ID)
		}
		return OutcomeApplied

	case "payment.failed":
		if _, err := s.store.MarkPaymentFailed(ctx, orderID); err != nil {
			s.logger.ErrorContext(ctx, "failed to apply payment failure",
				"error", err, "order_id", orderID, "event_id", eventID)
			return OutcomeError
		}
		s.publish(ctx, domain.OrderEvent{
			Type:      domain.EventPaymentFailed,
			OrderID:   orderID,
			UserID:    entity.Notes["user_id"],
			Timestamp: time.Now().UTC(),
		})
		s.logger.InfoContext(ctx, "payment failed via webhook", "order_id", orderID)
		return OutcomeApplied

	default:
		s.logger.InfoContext(ctx, "ignoring unhandled webhook event",
			"event", event.Event, "event_id", eventID)
		return OutcomeIgnored
	}
}

// StatusSnapshot is the read-only payment projection of an order.
type StatusSnapshot struct {
	OrderID          string               `json:"order_id"`
	PaymentStatus    domain.PaymentStatus `json:"payment_status"`
	GatewayOrderID   string               `json:"razorpay_order_id,omitempty"`
	GatewayPaymentID string               `json:"razorpay_payment_id,omitempty"`
	AmountPaise      int64                `json:"amount"`
	Currency         string               `json:"currency"`
	PaidAt           *time.Time           `json:"paid_at,omitempty"`
}

func (s *Service) Status(ctx context.Context, orderID, userID string) (*StatusSnapshot, error) {
	order, err := s.ownedOrder(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	amount, err := order.TotalAmount.Paise()
	if err != nil {
		return nil, err
	}
	return &StatusSnapshot{
		OrderID:          order.ID,
		PaymentStatus:    order.PaymentStatus,
		GatewayOrderID:   order.RazorpayOrderID,
		GatewayPaymentID: order.RazorpayPaymentID,
		AmountPaise:      amount,
		Currency:         s.cfg.Currency,
		PaidAt:           order.PaidAt,
	}, nil
}

func (s *Service) ownedOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) publishCaptured(ctx context.Context, order *domain.Order, paymentID string) {
	s.publish(ctx, domain.OrderEvent{
		Type:        domain.EventPaymentCaptured,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Total:       order.TotalAmount,
		PaymentID:   paymentID,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *Service) publishCapturedByID(ctx context.Context, orderID, userID, paymentID string) {
	s.publish(ctx, domain.OrderEvent{
		Type:      domain.EventPaymentCaptured,
		OrderID:   orderID,
		UserID:    userID,
		PaymentID: paymentID,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publish(ctx context.Context, event domain.OrderEvent) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish payment event",
			"error", err, "type", event.Type, "order_id", event.OrderID)
	}
}

func (s *Service) recordOutcome(ctx context.Context, outcome WebhookOutcome) {
	if s.webhookEvents == nil {
		return
	}
	s.webhookEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
