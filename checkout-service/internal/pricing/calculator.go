package pricing

import (
	"fmt"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/money"
	"github.com/shopspring/decimal"
)

// tolerance is how far the client cascade may drift from the server total before the two
// are considered out of sync.
var tolerance = decimal.RequireFromString("0.01")

type Input struct {
	Order       *d.Order
	Pending     *d.PendingAdjustment
	Loyalty     *d.LoyaltyDiscount
	Tip         d.TipSelection
	TipsEnabled bool
	PaidAmount  decimal.Decimal
}

// Breakdown is the full price path of an order, kept at full precision.
type Breakdown struct {
	Subtotal        decimal.Decimal `json:"subtotal"`
	AfterModifiers  decimal.Decimal `json:"afterModifiers"`
	AfterAdjustment decimal.Decimal `json:"afterAdjustment"`
	AfterLoyalty    decimal.Decimal `json:"afterLoyalty"`
	Tip             decimal.Decimal `json:"tip"`
	TotalWithTip    decimal.Decimal `json:"totalWithTip"`
	PaidAmount      decimal.Decimal `json:"paidAmount"`
	BalanceDue      decimal.Decimal `json:"balanceDue"`
	Outstanding     decimal.Decimal `json:"outstanding"`
}

// RequiresPayment uses the unfloored balance; zero or a credit means nothing to charge.
func (b Breakdown) RequiresPayment() bool {
	return b.Outstanding.IsPositive()
}

// Rounded is the presentation copy.
func (b Breakdown) Rounded() Breakdown {
	return Breakdown{
		Subtotal:        money.Round(b.Subtotal),
		AfterModifiers:  money.Round(b.AfterModifiers),
		AfterAdjustment: money.Round(b.AfterAdjustment),
		AfterLoyalty:    money.Round(b.AfterLoyalty),
		Tip:             money.Round(b.Tip),
		TotalWithTip:    money.Round(b.TotalWithTip),
		PaidAmount:      money.Round(b.PaidAmount),
		BalanceDue:      money.Round(b.BalanceDue),
		Outstanding:     money.Round(b.Outstanding),
	}
}

// Subtotal prefers the server snapshot and falls back to the line items for orders the
// server has not priced yet.
func Subtotal(o *d.Order) decimal.Decimal {
	if !o.Subtotal.IsZero() {
		return o.Subtotal
	}
	return ItemsSubtotal(o.Items)
}

// Calculate composes subtotal, committed modifiers, the pending adjustment, the loyalty
// discount and tip into a balance due. It has no side effects.
func Calculate(in Input) (Breakdown, error) {
	if !in.Order.Hydrated() {
		return Breakdown{}, ErrOrderNotReady
	}
	if err := ValidatePending(in.Pending); err != nil {
		return Breakdown{}, err
	}
	if !in.Tip.IsZero() && !in.TipsEnabled {
		return Breakdown{}, ErrTipsDisabled
	}

	subtotal := Subtotal(in.Order)
	afterModifiers := CascadeModifiers(subtotal, in.Order.Modifiers)
	afterAdjustment := ApplyPending(afterModifiers, subtotal, in.Pending)
	afterLoyalty := ApplyLoyalty(afterAdjustment, subtotal, in.Loyalty)

	tip, err := TipAmount(money.Floor0(afterLoyalty.Sub(in.PaidAmount)), in.Tip)
	if err != nil {
		return Breakdown{}, err
	}

	totalWithTip := afterLoyalty.Add(tip)
	outstanding := totalWithTip.Sub(in.PaidAmount)

	return Breakdown{
		Subtotal:        subtotal,
		AfterModifiers:  afterModifiers,
		AfterAdjustment: afterAdjustment,
		AfterLoyalty:    afterLoyalty,
		Tip:             tip,
		TotalWithTip:    totalWithTip,
		PaidAmount:      in.PaidAmount,
		BalanceDue:      money.Floor0(outstanding),
		Outstanding:     outstanding,
	}, nil
}

// ApplyLoyalty subtracts a resolved loyalty reward. Percentages are of the original
// subtotal.
func ApplyLoyalty(afterAdjustment, subtotal decimal.Decimal, l *d.LoyaltyDiscount) decimal.Decimal {
	if l == nil || l.Value.IsZero() {
		return afterAdjustment
	}
	amount := l.Value
	if l.Kind == d.DiscountPercentage {
		amount = money.Percent(subtotal, l.Value)
	}
	return money.ApplyFixed(afterAdjustment, amount, money.Discount)
}

// TipAmount computes the tip on base. Tips only ever add to the charge.
func TipAmount(base decimal.Decimal, sel d.TipSelection) (decimal.Decimal, error) {
	switch {
	case sel.Custom != nil:
		if sel.Custom.IsNegative() {
			return decimal.Zero, ValidationError{Field: "tip.custom", Message: "tip must not be negative"}
		}
		return *sel.Custom, nil
	case sel.Percentage != nil:
		if sel.Percentage.IsNegative() {
			return decimal.Zero, ValidationError{Field: "tip.percentage", Message: "tip must not be negative"}
		}
		return money.Percent(base, *sel.Percentage), nil
	default:
		return decimal.Zero, nil
	}
}

// Reconcile checks the client cascade against the server total once a modifier round
// trip has completed.
func Reconcile(o *d.Order) error {
	if o == nil || o.TotalAmount.IsZero() {
		return nil
	}
	preview := CascadeModifiers(Subtotal(o), o.Modifiers)
	if preview.Sub(o.TotalAmount).Abs().GreaterThan(tolerance) {
		return fmt.Errorf("%w: preview %s, server %s", ErrTotalsMismatch,
			money.Cents(preview), money.Cents(o.TotalAmount))
	}
	return nil
}
