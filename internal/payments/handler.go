package payments

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rahulmenon/orderdesk/internal/httpapi"
)

const (
	webhookSignatureHeader = "X-Razorpay-Signature"
	webhookEventIDHeader   = "X-Razorpay-Event-Id"
)

// maxWebhookBody caps how much of a webhook payload is read.
const maxWebhookBody = 1 << 20

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createPaymentOrderRequest struct {
	OrderID string `json:"order_id"`
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	var req createPaymentOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.OrderID == "" {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "order_id is required.", "order_id")
		return
	}

	details, err := h.service.CreateGatewayOrder(r.Context(), req.OrderID, id.UserID)
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "", details)
}

type verifyPaymentRequest struct {
	OrderID           string `json:"order_id"`
	RazorpayOrderID   string `json:"razorpay_order_id"`
	RazorpayPaymentID string `json:"razorpay_payment_id"`
	RazorpaySignature string `json:"razorpay_signature"`
}

func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "Invalid request body.", "")
		return
	}
	if req.OrderID == "" || req.RazorpayOrderID == "" || req.RazorpayPaymentID == "" || req.RazorpaySignature == "" {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "All payment fields are required.", "")
		return
	}

	result, err := h.service.VerifyPayment(r.Context(), VerifyInput{
		OrderID:          req.OrderID,
		UserID:           id.UserID,
		GatewayOrderID:   req.RazorpayOrderID,
		GatewayPaymentID: req.RazorpayPaymentID,
		Signature:        req.RazorpaySignature,
	})
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}

	// A failed verification is a 200 with payment_verified=false so the
	// checkout flow can react without special error handling.
	httpapi.WriteJSON(w, http.StatusOK, httpapi.Envelope{
		Success: result.Verified,
		Message: result.Message,
		Data:    result,
	})
}

// HandleWebhook always acknowledges with 200 so the gateway does not
// retry-storm; the real outcome is recorded in logs and metrics.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to read webhook body", "error", err)
		httpapi.WriteData(w, http.StatusOK, "Webhook received", nil)
		return
	}

	h.service.HandleWebhook(r.Context(),
		r.Header.Get(webhookEventIDHeader),
		body,
		r.Header.Get(webhookSignatureHeader),
	)

	httpapi.WriteData(w, http.StatusOK, "Webhook processed", nil)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	snapshot, err := h.service.Status(r.Context(), chi.URLParam(r, "orderID"), id.UserID)
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "", snapshot)
}
