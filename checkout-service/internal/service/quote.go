package service

import (
	"context"
	"fmt"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
)

type QuoteRequest struct {
	OrderID    string
	CustomerID string
	IsWalkIn   bool
	Pending    *d.PendingAdjustment
	Loyalty    *d.LoyaltyRedemption
	Tip        d.TipSelection
}

type Quote struct {
	Order     *d.Order          `json:"order"`
	Breakdown pricing.Breakdown `json:"breakdown"`
	// Loyalty is the reward the ledger currently offers. It is provisional until a
	// settlement redeems it.
	Loyalty *d.LoyaltyDiscount `json:"loyalty,omitempty"`
	// Exact is the unrounded breakdown the rounded one was derived from.
	Exact           pricing.Breakdown `json:"-"`
	RequiresPayment bool              `json:"requiresPayment"`
	TipPercentages  []string          `json:"tipPercentages,omitempty"`
}

// Quote prices an order with the operator's current choices. Nothing is written.
func (s *Sequencer) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.OrderID == "" {
		return nil, pricing.ValidationError{Field: "orderId", Message: "order id is required"}
	}
	if err := pricing.ValidatePending(req.Pending); err != nil {
		return nil, err
	}
	if req.Loyalty != nil && d.IsWalkIn(req.CustomerID, req.IsWalkIn) {
		return nil, loyalty.ErrWalkInIneligible
	}

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant settings: %w", err)
	}
	if req.Loyalty != nil && !settings.LoyaltyEnabled {
		return nil, loyalty.ErrLoyaltyDisabled
	}

	order, err := s.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	reward, err := s.previewLoyalty(ctx, order, req)
	if err != nil {
		return nil, err
	}

	b, err := pricing.Calculate(pricing.Input{
		Order:       order,
		Pending:     req.Pending,
		Loyalty:     reward,
		Tip:         req.Tip,
		TipsEnabled: settings.TipsEnabled,
		PaidAmount:  order.PaidAmount,
	})
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Order:           order,
		Breakdown:       b.Rounded(),
		Loyalty:         reward,
		Exact:           b,
		RequiresPayment: b.RequiresPayment(),
	}
	if settings.TipsEnabled {
		for _, pct := range settings.TipPercentages {
			q.TipPercentages = append(q.TipPercentages, pct.String())
		}
	}
	return q, nil
}

// previewLoyalty resolves the reward a settlement would redeem, using the ledger's
// current state. A reward already committed to the order is priced by its modifier.
func (s *Sequencer) previewLoyalty(ctx context.Context, order *d.Order, req QuoteRequest) (*d.LoyaltyDiscount, error) {
	if req.Loyalty == nil {
		return nil, nil
	}
	if _, ok := pricing.FindLoyaltyModifier(order.Modifiers); ok {
		return nil, nil
	}
	plan := loyalty.Plan{CustomerID: req.CustomerID, IsWalkIn: req.IsWalkIn, Points: req.Loyalty.Points}
	check, err := s.loyalty.Check(ctx, plan.CustomerID, plan.IsWalkIn)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(check, plan)
}
