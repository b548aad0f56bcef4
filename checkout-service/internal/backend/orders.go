package backend

import (
	"context"
	"fmt"
	"net/http"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	CustomerID string `json:"customerId,omitempty"`
	BookingID  string `json:"bookingId,omitempty"`
}

type PrepareItem struct {
	ServiceID string          `json:"itemId"`
	StaffID   string          `json:"staffId,omitempty"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Discount  decimal.Decimal `json:"discount"`
}

// PrepareRequest carries either a booking id or ad hoc line items.
type PrepareRequest struct {
	BookingID  string        `json:"bookingId,omitempty"`
	Items      []PrepareItem `json:"items,omitempty"`
	CustomerID string        `json:"customerId,omitempty"`
	IsWalkIn   bool          `json:"isWalkIn"`
}

// Validate runs before the request leaves the process.
func (r PrepareRequest) Validate() error {
	if r.BookingID == "" && len(r.Items) == 0 {
		return fmt.Errorf("%w: booking id or items required", ErrValidation)
	}
	for i, it := range r.Items {
		if it.ServiceID == "" {
			return fmt.Errorf("%w: item %d has no service id", ErrValidation, i+1)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i+1)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: item %d price must not be negative", ErrValidation, i+1)
		}
	}
	return nil
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*d.Order, error) {
	if req.CustomerID == "" && req.BookingID == "" {
		return nil, fmt.Errorf("%w: customer id or booking id required", ErrValidation)
	}
	body, err := c.send(ctx, call{method: http.MethodPost, path: epCreateOrder.path(), body: req})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

func (c *Client) CreateOrderFromBooking(ctx context.Context, bookingID string) (*d.Order, error) {
	body, err := c.send(ctx, call{method: http.MethodPost, path: epCreateOrderFromBooking.path(bookingID)})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

// PrepareOrderForPayment creates or fetches the order for a booking or line items in one
// round trip and returns it ready for payment.
func (c *Client) PrepareOrderForPayment(ctx context.Context, req PrepareRequest) (*d.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := c.send(ctx, call{method: http.MethodPost, path: epPrepareOrder.path(), body: req})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

// GetOrder may be served from cache. Use FetchOrder where staleness matters.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*d.Order, error) {
	body, err := c.send(ctx, call{
		method:   http.MethodGet,
		path:     epGetOrder.path(orderID),
		cacheKey: orderKey(orderID),
		ttl:      epGetOrder.ttl,
	})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

// FetchOrder is the authoritative refetch; it bypasses the cache and refreshes it.
func (c *Client) FetchOrder(ctx context.Context, orderID string) (*d.Order, error) {
	c.invalidate(ctx, orderKey(orderID))
	return c.GetOrder(ctx, orderID)
}

func (c *Client) AddOrderModifier(ctx context.Context, orderID string, m d.OrderModifier) (*d.Order, error) {
	payload := map[string]any{
		"type":        m.Type,
		"calculation": m.Calculation,
		"value":       m.Value,
		"description": m.Description,
	}
	body, err := c.send(ctx, call{
		method:     http.MethodPost,
		path:       epAddModifier.path(orderID),
		body:       payload,
		invalidate: []string{orderKey(orderID)},
	})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

func (c *Client) UpdateOrderState(ctx context.Context, orderID string, state d.OrderState) (*d.Order, error) {
	if state != d.OrderStateLocked && state != d.OrderStateCancelled {
		return nil, fmt.Errorf("%w: cannot request state %s", ErrValidation, state)
	}
	body, err := c.send(ctx, call{
		method:     http.MethodPatch,
		path:       epUpdateOrderState.path(orderID),
		body:       map[string]any{"state": state},
		invalidate: []string{orderKey(orderID)},
	})
	if err != nil {
		return nil, err
	}
	return decodeOrder(body)
}

func (c *Client) ProcessPayment(ctx context.Context, req d.PaymentRequest) (*d.Payment, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: payment amount must be positive", ErrValidation)
	}
	body, err := c.send(ctx, call{
		method:         http.MethodPost,
		path:           epProcessPayment.path(),
		body:           req,
		idempotencyKey: req.IdempotencyKey,
		invalidate:     []string{orderKey(req.OrderID)},
		callerDeadline: true,
	})
	if err != nil {
		return nil, err
	}
	return decodePayment(body)
}

func (c *Client) ProcessSplitPayment(ctx context.Context, req d.SplitPaymentRequest) (*d.Payment, error) {
	if len(req.Payments) < 2 {
		return nil, fmt.Errorf("%w: split payment needs at least two parts", ErrValidation)
	}
	for i, p := range req.Payments {
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: split part %d amount must be positive", ErrValidation, i+1)
		}
	}
	body, err := c.send(ctx, call{
		method:         http.MethodPost,
		path:           epSplitPayment.path(),
		body:           req,
		idempotencyKey: req.IdempotencyKey,
		invalidate:     []string{orderKey(req.OrderID)},
		callerDeadline: true,
	})
	if err != nil {
		return nil, err
	}
	return decodePayment(body)
}
