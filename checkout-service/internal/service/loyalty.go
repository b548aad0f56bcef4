package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/pkg/logger"
)

type LoyaltyPreview struct {
	Check *d.LoyaltyCheckResponse `json:"check"`
	// Discount is nil when the customer has nothing to redeem.
	Discount *d.LoyaltyDiscount `json:"discount,omitempty"`
}

// CheckLoyalty looks up the customer's loyalty state and resolves the reward the
// operator could apply. The discount is provisional until redeemed.
func (s *Sequencer) CheckLoyalty(ctx context.Context, plan loyalty.Plan) (*LoyaltyPreview, error) {
	if err := s.loyaltyEnabled(ctx); err != nil {
		return nil, err
	}
	check, err := s.loyalty.Check(ctx, plan.CustomerID, plan.IsWalkIn)
	if err != nil {
		return nil, err
	}
	discount, err := s.resolver.Resolve(check, plan)
	if errors.Is(err, loyalty.ErrNoRewardAvailable) {
		return &LoyaltyPreview{Check: check}, nil
	}
	if err != nil {
		return nil, err
	}
	return &LoyaltyPreview{Check: check, Discount: discount}, nil
}

// RedeemLoyalty resolves and commits a reward against orderID in one step and returns the
// discount the ledger granted.
func (s *Sequencer) RedeemLoyalty(ctx context.Context, plan loyalty.Plan, orderID string) (*d.LoyaltyDiscount, error) {
	if err := s.loyaltyEnabled(ctx); err != nil {
		return nil, err
	}
	check, err := s.loyalty.Check(ctx, plan.CustomerID, plan.IsWalkIn)
	if err != nil {
		return nil, err
	}
	provisional, err := s.resolver.Resolve(check, plan)
	if err != nil {
		return nil, err
	}
	return s.loyalty.Redeem(ctx, plan, orderID, provisional)
}

func (s *Sequencer) loyaltyEnabled(ctx context.Context) error {
	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load merchant settings: %w", err)
	}
	if !settings.LoyaltyEnabled {
		return loyalty.ErrLoyaltyDisabled
	}
	return nil
}

// commitLoyalty redeems the customer's reward and commits the value the ledger granted
// as a discount modifier, ahead of the lock. Nothing is applied unless the redemption
// succeeds. A reward already committed to the order is not redeemed again.
func (s *Sequencer) commitLoyalty(ctx context.Context, t *ticket, order *d.Order, req d.SettleRequest, log *slog.Logger) (*d.Order, *d.LoyaltyDiscount, error) {
	if req.Loyalty == nil {
		return order, nil, nil
	}
	if m, ok := pricing.FindLoyaltyModifier(order.Modifiers); ok {
		log.Info("loyalty reward already on order, not redeeming again", "modifier", m.Description)
		return order, nil, nil
	}
	due, err := pricing.Calculate(pricing.Input{Order: order, PaidAmount: order.PaidAmount})
	if err != nil {
		return nil, nil, err
	}
	if !due.RequiresPayment() {
		return nil, nil, ErrNoPaymentNeeded
	}

	plan := planFor(req)
	check, err := s.loyalty.Check(ctx, plan.CustomerID, plan.IsWalkIn)
	if err != nil {
		return nil, nil, err
	}
	provisional, err := s.resolver.Resolve(check, plan)
	if err != nil {
		return nil, nil, err
	}

	// Once the ledger is asked to debit, the outcome is followed through.
	bg := context.WithoutCancel(ctx)
	granted, err := s.loyalty.Redeem(bg, plan, order.ID, provisional)
	if err != nil {
		log.Warn("loyalty redemption failed", "customer_id", plan.CustomerID, logger.Err(err))
		return nil, nil, fmt.Errorf("loyalty reward not applied: %w", err)
	}

	updated, err := s.addModifier(bg, t, order, pricing.LoyaltyAdjustment(*granted, pricing.Subtotal(order)), log)
	if err != nil {
		log.Error("loyalty reward redeemed but not committed to the order",
			"customer_id", plan.CustomerID,
			logger.Err(err))
		s.addEvent(bg, order.ID, r.EventLoyaltyRewardUnapplied, map[string]any{
			"orderId":    order.ID,
			"customerId": plan.CustomerID,
			"source":     granted.Source,
			"kind":       granted.Kind,
			"value":      granted.Value,
			"points":     granted.Points,
			"reason":     err.Error(),
		})
		return nil, nil, fmt.Errorf("failed to apply loyalty reward: %w", err)
	}
	log.Info("loyalty reward applied",
		"source", granted.Source,
		"kind", granted.Kind,
		"value", granted.Value.String())
	return updated, granted, nil
}
