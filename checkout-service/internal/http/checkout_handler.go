package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/service"
	"github.com/shopspring/decimal"
)

// Checkout is the settlement surface the dashboard drives.
type Checkout interface {
	Quote(ctx context.Context, req service.QuoteRequest) (*service.Quote, error)
	Settle(ctx context.Context, req d.SettleRequest) (*service.SettlementResult, error)
	CompleteTerminal(ctx context.Context, result *d.TerminalResult) (*service.SettlementResult, error)
	CancelTerminal(ctx context.Context, orderID string) error
	Snapshot(orderID string) (*d.Order, bool)
	InFlight(orderID string) bool
}

type CheckoutHandler struct {
	checkout Checkout
	timeout  time.Duration
}

func NewCheckoutHandler(checkout Checkout, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
	}
}

type QuoteRequestDTO struct {
	CustomerID string               `json:"customerId"`
	IsWalkIn   bool                 `json:"isWalkIn"`
	Pending    *d.PendingAdjustment `json:"pending"`
	Loyalty    *d.LoyaltyRedemption `json:"loyalty"`
	Tip        d.TipSelection       `json:"tip"`
}

type SettleRequestDTO struct {
	CustomerID     string               `json:"customerId"`
	IsWalkIn       bool                 `json:"isWalkIn"`
	Method         d.SettleMethod       `json:"method"`
	Pending        *d.PendingAdjustment `json:"pending"`
	Loyalty        *d.LoyaltyRedemption `json:"loyalty"`
	Tip            d.TipSelection       `json:"tip"`
	Amount         *decimal.Decimal     `json:"amount"`
	CashReceived   *decimal.Decimal     `json:"cashReceived"`
	Split          []d.SplitPart        `json:"split"`
	TerminalID     string               `json:"terminalId"`
	IdempotencyKey string               `json:"idempotencyKey"`
}

type SnapshotResponseDTO struct {
	Order    *d.Order `json:"order"`
	InFlight bool     `json:"inFlight"`
}

// POST /api/v1/orders/{order_id}/quote
func (h *CheckoutHandler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req QuoteRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	q, err := h.checkout.Quote(ctx, service.QuoteRequest{
		OrderID:    chi.URLParam(r, "order_id"),
		CustomerID: req.CustomerID,
		IsWalkIn:   req.IsWalkIn,
		Pending:    req.Pending,
		Loyalty:    req.Loyalty,
		Tip:        req.Tip,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, q)
}

// POST /api/v1/orders/{order_id}/settle
func (h *CheckoutHandler) Settle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SettleRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get("Idempotency-Key")
	}

	res, err := h.checkout.Settle(ctx, d.SettleRequest{
		OrderID:        chi.URLParam(r, "order_id"),
		CustomerID:     req.CustomerID,
		IsWalkIn:       req.IsWalkIn,
		Method:         req.Method,
		Pending:        req.Pending,
		Loyalty:        req.Loyalty,
		Tip:            req.Tip,
		Amount:         req.Amount,
		CashReceived:   req.CashReceived,
		Split:          req.Split,
		TerminalID:     req.TerminalID,
		IdempotencyKey: key,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if res.Status == d.SettlementAwaitingTerminal {
		status = http.StatusAccepted
	}
	respondJSON(w, status, res)
}

// GET /api/v1/orders/{order_id}
func (h *CheckoutHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "order_id")
	order, ok := h.checkout.Snapshot(orderID)
	if !ok {
		respondError(w, http.StatusNotFound, "not_found", "no checkout in progress for this order")
		return
	}
	respondJSON(w, http.StatusOK, SnapshotResponseDTO{
		Order:    order,
		InFlight: h.checkout.InFlight(orderID),
	})
}

// DELETE /api/v1/orders/{order_id}/terminal
func (h *CheckoutHandler) CancelTerminal(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.checkout.CancelTerminal(ctx, chi.URLParam(r, "order_id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/terminal/callback
func (h *CheckoutHandler) TerminalCallback(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var result d.TerminalResult
	if !decodeJSON(w, r, &result) {
		return
	}
	if result.Reference == "" || result.Outcome == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "reference and outcome are required")
		return
	}

	res, err := h.checkout.CompleteTerminal(ctx, &result)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
