package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
)

// OrderOpener starts orders on the backend before checkout.
type OrderOpener interface {
	CreateOrder(ctx context.Context, req backend.CreateOrderRequest) (*d.Order, error)
	CreateOrderFromBooking(ctx context.Context, bookingID string) (*d.Order, error)
}

type OrdersHandler struct {
	orders  OrderOpener
	timeout time.Duration
}

func NewOrdersHandler(orders OrderOpener, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		timeout: timeout,
	}
}

type CreateOrderRequestDTO struct {
	CustomerID string `json:"customerId"`
	BookingID  string `json:"bookingId"`
}

// POST /api/v1/orders
func (h *OrdersHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req CreateOrderRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CustomerID == "" && req.BookingID == "" {
		respondError(w, http.StatusBadRequest, "missing_fields", "customerId or bookingId is required")
		return
	}

	order, err := h.orders.CreateOrder(ctx, backend.CreateOrderRequest{
		CustomerID: req.CustomerID,
		BookingID:  req.BookingID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// POST /api/v1/bookings/{booking_id}/order
func (h *OrdersHandler) CreateFromBooking(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.orders.CreateOrderFromBooking(ctx, chi.URLParam(r, "booking_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}
