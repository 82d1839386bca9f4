// Package httpapi carries the HTTP surface shared by all handlers: the
// uniform response envelope, pagination metadata, the mapping from the
// domain error taxonomy to status codes, and authentication middleware.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/rahulmenon/orderdesk/internal/domain"
)

// Envelope is the uniform success response body.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type ErrorEnvelope struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

type Pagination struct {
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

type PaginatedEnvelope struct {
	Success    bool       `json:"success"`
	Data       any        `json:"data"`
	Pagination Pagination `json:"pagination"`
}

func NewPagination(page, perPage, total int) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = (total + perPage - 1) / perPage
	}
	return Pagination{
		Page:       page,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
		HasPrev:    page > 1,
	}
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteData(w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

func WritePage(w http.ResponseWriter, data any, p Pagination) {
	WriteJSON(w, http.StatusOK, PaginatedEnvelope{Success: true, Data: data, Pagination: p})
}

func WriteErrorDetail(w http.ResponseWriter, status int, code, message, field string) {
	WriteJSON(w, status, ErrorEnvelope{Error: ErrorDetail{Code: code, Message: message, Field: field}})
}

// WriteError maps a domain error to its HTTP representation. Unknown
// errors become an opaque 500; internal detail never reaches the client.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		WriteErrorDetail(w, http.StatusNotFound, "not_found", "Order not found.", "")
	case errors.Is(err, domain.ErrEmptyCart):
		WriteErrorDetail(w, http.StatusBadRequest, "empty_cart", "Cart is empty.", "")
	case errors.Is(err, domain.ErrInvalidAddress):
		WriteErrorDetail(w, http.StatusBadRequest, "invalid_address", "Invalid shipping address.", "shipping_address_id")
	case errors.Is(err, domain.ErrInvalidTransition):
		WriteErrorDetail(w, http.StatusBadRequest, "invalid_state", "Order cannot be updated at this stage.", "")
	case errors.Is(err, domain.ErrReturnWindowExpired):
		WriteErrorDetail(w, http.StatusBadRequest, "return_window_expired", "Return period has expired (7 days from delivery).", "")
	case errors.Is(err, domain.ErrAlreadyPaid):
		WriteErrorDetail(w, http.StatusConflict, "already_paid", "Order is already paid.", "")
	case errors.Is(err, domain.ErrSignatureInvalid):
		WriteErrorDetail(w, http.StatusUnauthorized, "signature_invalid", "Payment signature verification failed.", "")
	case errors.Is(err, domain.ErrValidation):
		WriteErrorDetail(w, http.StatusBadRequest, "validation_error", err.Error(), "")
	case errors.Is(err, domain.ErrGatewayUnavailable):
		WriteErrorDetail(w, http.StatusBadGateway, "gateway_unavailable", "Payment gateway is unavailable. Please retry.", "")
	default:
		logger.ErrorContext(r.Context(), "internal error", "error", err, "path", r.URL.Path)
		WriteErrorDetail(w, http.StatusInternalServerError, "internal_error", "Something went wrong. Please try again.", "")
	}
}

// PageParams parses pagination query parameters with the usual clamps.
func PageParams(r *http.Request) (page, perPage int) {
	page, perPage = 1, 10
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n >= 1 {
		page = n
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("per_page")); err == nil && n >= 1 {
		perPage = n
	}
	if perPage > 50 {
		perPage = 50
	}
	return page, perPage
}
