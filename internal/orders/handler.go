package orders

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/rahulmenon/orderdesk/internal/domain"
	"github.com/rahulmenon/orderdesk/internal/httpapi"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

type createOrderRequest struct {
	ShippingAddressID string `json:"shipping_address_id"`
	BillingAddressID  string `json:"billing_address_id,omitempty"`
	PaymentMethod     string `json:"payment_method"`
	CouponCode        string `json:"coupon_code,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "Invalid request body.", "")
		return
	}
	if req.ShippingAddressID == "" {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "shipping_address_id is required.", "shipping_address_id")
		return
	}
	if req.PaymentMethod == "" {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "payment_method is required.", "payment_method")
		return
	}

	order, err := h.service.Create(r.Context(), id.UserID, CreateInput{
		ShippingAddressID: req.ShippingAddressID,
		BillingAddressID:  req.BillingAddressID,
		PaymentMethod:     req.PaymentMethod,
		CouponCode:        req.CouponCode,
		Notes:             req.Notes,
	})
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}

	httpapi.WriteData(w, http.StatusCreated, "Order placed successfully.", order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	order, err := h.service.Get(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "", order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())
	page, perPage := httpapi.PageParams(r)
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "Unknown order status.", "status")
		return
	}

	list, total, err := h.service.List(r.Context(), id.UserID, status, page, perPage)
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []domain.Order{}
	}
	httpapi.WritePage(w, list, httpapi.NewPagination(page, perPage, total))
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	var req cancelRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // body optional
	}

	if err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), id.UserID, req.Reason); err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "Order cancelled successfully.", nil)
}

type returnRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "Invalid request body.", "")
		return
	}

	if err := h.service.RequestReturn(r.Context(), chi.URLParam(r, "id"), id.UserID, req.Reason); err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "Return request submitted. We'll process your refund within 3-5 business days.", nil)
}

func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	id, _ := httpapi.IdentityFromContext(r.Context())

	tracking, err := h.service.Track(r.Context(), chi.URLParam(r, "id"), id.UserID)
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "", tracking)
}

type adminUpdateRequest struct {
	Status         string `json:"status,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	TrackingURL    string `json:"tracking_url,omitempty"`
}

func (h *Handler) HandleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	var req adminUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "Invalid request body.", "")
		return
	}

	order, err := h.service.AdminUpdateOrder(r.Context(), chi.URLParam(r, "id"), AdminUpdate{
		Status:         domain.OrderStatus(req.Status),
		TrackingNumber: req.TrackingNumber,
		TrackingURL:    req.TrackingURL,
	})
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "Order updated.", order)
}

func (h *Handler) HandleAdminList(w http.ResponseWriter, r *http.Request) {
	page, perPage := httpapi.PageParams(r)
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	paymentStatus := domain.PaymentStatus(r.URL.Query().Get("payment_status"))

	list, total, err := h.service.AdminList(r.Context(), status, paymentStatus, page, perPage)
	if err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	if list == nil {
		list = []domain.Order{}
	}
	httpapi.WritePage(w, list, httpapi.NewPagination(page, perPage, total))
}

func (h *Handler) HandleApproveReturn(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ApproveReturn(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "Return approved and refund initiated.", nil)
}

type rejectReturnRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleRejectReturn(w http.ResponseWriter, r *http.Request) {
	var req rejectReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpapi.WriteErrorDetail(w, http.StatusBadRequest, "validation_error", "Invalid request body.", "")
		return
	}

	if err := h.service.RejectReturn(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		httpapi.WriteError(w, r, h.logger, err)
		return
	}
	httpapi.WriteData(w, http.StatusOK, "Return rejected.", nil)
}
