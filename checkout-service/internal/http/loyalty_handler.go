package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/service"
)

type Loyalty interface {
	CheckLoyalty(ctx context.Context, plan loyalty.Plan) (*service.LoyaltyPreview, error)
	RedeemLoyalty(ctx context.Context, plan loyalty.Plan, orderID string) (*d.LoyaltyDiscount, error)
}

type LoyaltyHandler struct {
	loyalty Loyalty
	timeout time.Duration
}

func NewLoyaltyHandler(l Loyalty, timeout time.Duration) *LoyaltyHandler {
	return &LoyaltyHandler{
		loyalty: l,
		timeout: timeout,
	}
}

type RedeemRequestDTO struct {
	OrderID  string `json:"orderId"`
	IsWalkIn bool   `json:"isWalkIn"`
	Points   int    `json:"points"`
}

// GET /api/v1/customers/{customer_id}/loyalty?points=N&walkIn=true
func (h *LoyaltyHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	plan := loyalty.Plan{
		CustomerID: chi.URLParam(r, "customer_id"),
		IsWalkIn:   r.URL.Query().Get("walkIn") == "true",
	}
	if raw := r.URL.Query().Get("points"); raw != "" {
		points, err := strconv.Atoi(raw)
		if err != nil || points < 0 {
			respondError(w, http.StatusBadRequest, "invalid_points", "points must be a non-negative integer")
			return
		}
		plan.Points = points
	}

	preview, err := h.loyalty.CheckLoyalty(ctx, plan)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, preview)
}

// POST /api/v1/customers/{customer_id}/loyalty/redeem
func (h *LoyaltyHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req RedeemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.OrderID == "" {
		respondError(w, http.StatusBadRequest, "missing_order_id", "orderId is required")
		return
	}

	granted, err := h.loyalty.RedeemLoyalty(ctx, loyalty.Plan{
		CustomerID: chi.URLParam(r, "customer_id"),
		IsWalkIn:   req.IsWalkIn,
		Points:     req.Points,
	}, req.OrderID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, granted)
}
