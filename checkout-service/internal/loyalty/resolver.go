package loyalty

import (
	"fmt"
	"log/slog"
	"strings"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Plan is what the operator chose to redeem. Points is only read for points programs.
type Plan struct {
	CustomerID string
	IsWalkIn   bool
	Points     int
}

// Resolver turns a loyalty check into a provisional discount. The discount is for
// preview only; it must be confirmed by Redeemer before it reaches a payment.
type Resolver struct {
	logger *slog.Logger
}

func NewResolver(logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{logger: logger}
}

func (r *Resolver) Resolve(check *d.LoyaltyCheckResponse, plan Plan) (*d.LoyaltyDiscount, error) {
	if d.IsWalkIn(plan.CustomerID, plan.IsWalkIn) {
		return nil, ErrWalkInIneligible
	}
	if check == nil || !check.HasProgram {
		return nil, ErrNoRewardAvailable
	}

	switch check.Type {
	case d.LoyaltyVisits:
		return r.resolveVisit(check)
	case d.LoyaltyPoints:
		return resolvePoints(check, plan.Points)
	default:
		return nil, fmt.Errorf("%w: unknown program type %q", ErrNoRewardAvailable, check.Type)
	}
}

func (r *Resolver) resolveVisit(check *d.LoyaltyCheckResponse) (*d.LoyaltyDiscount, error) {
	if !check.RewardAvailable {
		return nil, fmt.Errorf("%w: %d of %d visits", ErrNoRewardAvailable, check.CurrentVisits, check.VisitsRequired)
	}

	discount := &d.LoyaltyDiscount{
		Description: check.Description,
		Source:      d.LoyaltyVisits,
	}
	switch check.RewardType {
	case d.RewardFreeService:
		discount.Kind = d.DiscountPercentage
		discount.Value = hundred
	case d.RewardPercentageDiscount:
		discount.Kind = d.DiscountPercentage
		discount.Value = check.RewardValue
	case d.RewardFixedDiscount:
		discount.Kind = d.DiscountFixed
		discount.Value = check.RewardValue
	default:
		discount.Kind = KindFromDescription(check.Description)
		discount.Value = check.RewardValue
		r.logger.Warn("loyalty reward has no explicit kind, inferred from description",
			"reward_type", check.RewardType,
			"description", check.Description,
			"kind", discount.Kind)
	}
	if discount.Description == "" {
		discount.Description = describe(discount)
	}
	return discount, nil
}

// resolvePoints redeems proportionally: pointsToRedeem/currentPoints of the balance's
// dollar value.
func resolvePoints(check *d.LoyaltyCheckResponse, points int) (*d.LoyaltyDiscount, error) {
	if check.CurrentPoints <= 0 || !check.PointsValue.IsPositive() {
		return nil, ErrNoRewardAvailable
	}
	if points <= 0 || points > check.CurrentPoints {
		return nil, fmt.Errorf("%w (requested %d, balance %d)", ErrInvalidPoints, points, check.CurrentPoints)
	}

	value := ProportionalValue(points, check.CurrentPoints, check.PointsValue)
	discount := &d.LoyaltyDiscount{
		Kind:   d.DiscountFixed,
		Value:  value,
		Source: d.LoyaltyPoints,
		Points: points,
	}
	discount.Description = describe(discount)
	return discount, nil
}

func ProportionalValue(points, currentPoints int, pointsValue decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(int64(points)).
		Div(decimal.NewFromInt(int64(currentPoints))).
		Mul(pointsValue)
}

// KindFromDescription is the legacy inference for rewards that arrive without a reward
// type: a description containing "%" is a percentage.
func KindFromDescription(description string) d.DiscountKind {
	if strings.Contains(description, "%") {
		return d.DiscountPercentage
	}
	return d.DiscountFixed
}

func describe(l *d.LoyaltyDiscount) string {
	switch {
	case l.Source == d.LoyaltyPoints:
		return fmt.Sprintf("%d points redeemed", l.Points)
	case l.Kind == d.DiscountPercentage && l.Value.Equal(hundred):
		return "Free service reward"
	case l.Kind == d.DiscountPercentage:
		return fmt.Sprintf("%s%% loyalty discount", l.Value.String())
	default:
		return fmt.Sprintf("$%s loyalty discount", l.Value.StringFixed(2))
	}
}
