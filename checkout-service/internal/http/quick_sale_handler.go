package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/catalog"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/draft"
)

type QuickSales interface {
	Create(ctx context.Context, in *draft.Draft) (*draft.Draft, error)
	Get(ctx context.Context, id string) (*draft.Draft, error)
	Put(ctx context.Context, id string, in *draft.Draft) (*draft.Draft, error)
	Delete(ctx context.Context, id string) error
	Checkout(ctx context.Context, id string) (*d.Order, error)
}

type Catalog interface {
	ListServices(ctx context.Context, includeInactive bool) ([]*catalog.Service, error)
	UpsertService(ctx context.Context, s *catalog.Service) error
}

type QuickSaleHandler struct {
	drafts  QuickSales
	catalog Catalog
	timeout time.Duration
}

func NewQuickSaleHandler(drafts QuickSales, cat Catalog, timeout time.Duration) *QuickSaleHandler {
	return &QuickSaleHandler{
		drafts:  drafts,
		catalog: cat,
		timeout: timeout,
	}
}

// POST /api/v1/quick-sales
func (h *QuickSaleHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var in draft.Draft
	if !decodeJSON(w, r, &in) {
		return
	}
	created, err := h.drafts.Create(ctx, &in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// GET /api/v1/quick-sales/{draft_id}
func (h *QuickSaleHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	dr, err := h.drafts.Get(ctx, chi.URLParam(r, "draft_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dr)
}

// PUT /api/v1/quick-sales/{draft_id}
func (h *QuickSaleHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var in draft.Draft
	if !decodeJSON(w, r, &in) {
		return
	}
	saved, err := h.drafts.Put(ctx, chi.URLParam(r, "draft_id"), &in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, saved)
}

// DELETE /api/v1/quick-sales/{draft_id}
func (h *QuickSaleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.drafts.Delete(ctx, chi.URLParam(r, "draft_id")); err != nil {
		handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/quick-sales/{draft_id}/checkout
func (h *QuickSaleHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, err := h.drafts.Checkout(ctx, chi.URLParam(r, "draft_id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, order)
}

// GET /api/v1/catalog/services?all=true
func (h *QuickSaleHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services, err := h.catalog.ListServices(ctx, r.URL.Query().Get("all") == "true")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if services == nil {
		services = make([]*catalog.Service, 0)
	}
	respondJSON(w, http.StatusOK, services)
}

// PUT /api/v1/catalog/services/{service_id}
func (h *QuickSaleHandler) PutService(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var svc catalog.Service
	if !decodeJSON(w, r, &svc) {
		return
	}
	svc.ID = chi.URLParam(r, "service_id")
	if svc.Name == "" {
		respondError(w, http.StatusBadRequest, "missing_name", "name is required")
		return
	}
	if svc.Price.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid_price", "price must not be negative")
		return
	}
	if err := h.catalog.UpsertService(ctx, &svc); err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, svc)
}
