package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Handlers struct {
	Orders     *OrdersHandler
	Checkout   *CheckoutHandler
	Loyalty    *LoyaltyHandler
	QuickSales *QuickSaleHandler
}

// NewRouter builds the dashboard API. Handlers left nil are not mounted.
func NewRouter(h Handlers, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLog(logger))
	r.Use(middleware.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if h.Orders != nil {
			r.Post("/orders", h.Orders.CreateOrder)
			r.Post("/bookings/{booking_id}/order", h.Orders.CreateFromBooking)
		}
		if h.Checkout != nil {
			r.Route("/orders/{order_id}", func(r chi.Router) {
				r.Get("/", h.Checkout.GetSnapshot)
				r.Post("/quote", h.Checkout.Quote)
				r.Post("/settle", h.Checkout.Settle)
				r.Delete("/terminal", h.Checkout.CancelTerminal)
			})
			r.Post("/terminal/callback", h.Checkout.TerminalCallback)
		}
		if h.Loyalty != nil {
			r.Route("/customers/{customer_id}/loyalty", func(r chi.Router) {
				r.Get("/", h.Loyalty.Check)
				r.Post("/redeem", h.Loyalty.Redeem)
			})
		}
		if h.QuickSales != nil {
			r.Route("/quick-sales", func(r chi.Router) {
				r.Post("/", h.QuickSales.Create)
				r.Get("/{draft_id}", h.QuickSales.Get)
				r.Put("/{draft_id}", h.QuickSales.Put)
				r.Delete("/{draft_id}", h.QuickSales.Delete)
				r.Post("/{draft_id}/checkout", h.QuickSales.Checkout)
			})
			r.Route("/catalog/services", func(r chi.Router) {
				r.Get("/", h.QuickSales.ListServices)
				r.Put("/{service_id}", h.QuickSales.PutService)
			})
		}
	})

	return otelhttp.NewHandler(r, "checkout-http")
}
