package loyalty

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
)

// Ledger is the slice of the backend the loyalty flows need.
type Ledger interface {
	CheckLoyalty(ctx context.Context, customerID string) (*d.LoyaltyCheckResponse, error)
	RedeemVisit(ctx context.Context, customerID, orderID string) (*d.VisitRedemption, error)
	RedeemPoints(ctx context.Context, customerID string, points int, orderID string) (*d.PointsRedemption, error)
}

// Redeemer debits the loyalty ledger and returns the discount the ledger actually granted.
type Redeemer struct {
	ledger  Ledger
	timeout time.Duration
	logger  *slog.Logger
}

func NewRedeemer(ledger Ledger, timeout time.Duration, logger *slog.Logger) *Redeemer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redeemer{ledger: ledger, timeout: timeout, logger: logger}
}

// Check fetches the customer's loyalty state. Walk-ins never reach the network.
func (r *Redeemer) Check(ctx context.Context, customerID string, isWalkIn bool) (*d.LoyaltyCheckResponse, error) {
	if d.IsWalkIn(customerID, isWalkIn) {
		return nil, ErrWalkInIneligible
	}
	checkCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	check, err := r.ledger.CheckLoyalty(checkCtx, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to check loyalty: %w", err)
	}
	return check, nil
}

// Redeem commits a provisional discount. On any error the provisional discount must be
// dropped by the caller; on success the returned discount replaces it.
func (r *Redeemer) Redeem(ctx context.Context, plan Plan, orderID string, provisional *d.LoyaltyDiscount) (*d.LoyaltyDiscount, error) {
	if d.IsWalkIn(plan.CustomerID, plan.IsWalkIn) {
		return nil, ErrWalkInIneligible
	}
	if provisional == nil {
		return nil, ErrNoRewardAvailable
	}

	redeemCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if provisional.Source == d.LoyaltyPoints {
		return r.redeemPoints(redeemCtx, plan.CustomerID, orderID, provisional)
	}
	return r.redeemVisit(redeemCtx, plan.CustomerID, orderID, provisional)
}

func (r *Redeemer) redeemVisit(ctx context.Context, customerID, orderID string, provisional *d.LoyaltyDiscount) (*d.LoyaltyDiscount, error) {
	res, err := r.ledger.RedeemVisit(ctx, customerID, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem visit reward: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrRedemptionFailed, res.Message)
	}

	granted := &d.LoyaltyDiscount{
		Value:       res.RewardValue,
		Description: provisional.Description,
		Source:      d.LoyaltyVisits,
	}
	switch res.RewardType {
	case d.RewardFreeService:
		granted.Kind = d.DiscountPercentage
		granted.Value = hundred
	case d.RewardPercentageDiscount:
		granted.Kind = d.DiscountPercentage
	case d.RewardFixedDiscount:
		granted.Kind = d.DiscountFixed
	default:
		granted.Kind = provisional.Kind
	}
	if !granted.Value.Equal(provisional.Value) || granted.Kind != provisional.Kind {
		r.logger.Info("ledger granted a different reward than previewed",
			"customer_id", customerID,
			"order_id", orderID,
			"previewed", provisional.Value.String(),
			"granted", granted.Value.String())
	}
	return granted, nil
}

func (r *Redeemer) redeemPoints(ctx context.Context, customerID, orderID string, provisional *d.LoyaltyDiscount) (*d.LoyaltyDiscount, error) {
	if provisional.Points <= 0 {
		return nil, ErrInvalidPoints
	}
	res, err := r.ledger.RedeemPoints(ctx, customerID, provisional.Points, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to redeem points: %w", err)
	}
	if !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrRedemptionFailed, res.Message)
	}

	granted := &d.LoyaltyDiscount{
		Kind:        d.DiscountFixed,
		Value:       res.DollarValue,
		Description: provisional.Description,
		Source:      d.LoyaltyPoints,
		Points:      provisional.Points,
	}
	r.logger.Debug("points redeemed",
		"customer_id", customerID,
		"points", provisional.Points,
		"remaining", res.RemainingPoints)
	return granted, nil
}
