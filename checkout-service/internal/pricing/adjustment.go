package pricing

import (
	"fmt"
	"strings"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/money"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// SignOf maps a modifier type onto the arithmetic sign used to apply it.
func SignOf(t d.ModifierType) money.Sign {
	if t == d.ModifierSurcharge {
		return money.Surcharge
	}
	return money.Discount
}

// ValidateAdjustment rejects adjustments that would be refused server-side, so the
// request never leaves the process.
func ValidateAdjustment(t d.ModifierType, c d.Calculation, value decimal.Decimal) error {
	if t != d.ModifierDiscount && t != d.ModifierSurcharge {
		return ValidationError{Field: "type", Message: fmt.Sprintf("unknown adjustment type %q", t)}
	}
	if c != d.CalculationFixed && c != d.CalculationPercentage {
		return ValidationError{Field: "calculation", Message: fmt.Sprintf("unknown calculation %q", c)}
	}
	if value.IsNegative() {
		return ValidationError{Field: "value", Message: "value must not be negative"}
	}
	if c == d.CalculationPercentage && t == d.ModifierDiscount && value.GreaterThan(hundred) {
		return ValidationError{Field: "value", Message: "percentage discount cannot exceed 100"}
	}
	return nil
}

func ValidatePending(p *d.PendingAdjustment) error {
	if p == nil {
		return nil
	}
	return ValidateAdjustment(p.Type, p.Calculation, p.Value)
}

// LineTotal is unitPrice*quantity less the per-item discount, never below zero.
func LineTotal(item d.OrderItem) decimal.Decimal {
	gross := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
	return money.ApplyFixed(gross, item.Discount, money.Discount)
}

func ItemsSubtotal(items []d.OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(LineTotal(item))
	}
	return total
}

// CascadeModifiers applies committed modifiers in array order, each against the running
// result of the previous one.
func CascadeModifiers(subtotal decimal.Decimal, modifiers []d.OrderModifier) decimal.Decimal {
	running := subtotal
	for _, m := range modifiers {
		sign := SignOf(m.Type)
		if m.Calculation == d.CalculationPercentage {
			running = money.ApplyPercentage(running, m.Value, sign)
		} else {
			running = money.ApplyFixed(running, m.Value, sign)
		}
	}
	return running
}

// ApplyPending applies the operator's manual adjustment to afterModifiers. Percentages are
// taken from the original subtotal, not from afterModifiers.
func ApplyPending(afterModifiers, subtotal decimal.Decimal, p *d.PendingAdjustment) decimal.Decimal {
	if p == nil || p.Value.IsZero() {
		return afterModifiers
	}
	amount := p.Value
	if p.Calculation == d.CalculationPercentage {
		amount = money.Percent(subtotal, p.Value)
	}
	return money.ApplyFixed(afterModifiers, amount, SignOf(p.Type))
}

// DescribeAdjustment is the default operator-facing text for an adjustment.
func DescribeAdjustment(t d.ModifierType, c d.Calculation, value decimal.Decimal) string {
	kind := "discount"
	if t == d.ModifierSurcharge {
		kind = "surcharge"
	}
	if c == d.CalculationPercentage {
		return fmt.Sprintf("%s%% %s", value.String(), kind)
	}
	return fmt.Sprintf("%s %s", money.Cents(value), kind)
}

// ToModifier turns a pending adjustment into the modifier payload submitted to the
// server, filling in the description when the operator left it empty.
func ToModifier(p d.PendingAdjustment) d.OrderModifier {
	desc := strings.TrimSpace(p.Description)
	if desc == "" {
		desc = DescribeAdjustment(p.Type, p.Calculation, p.Value)
	}
	return d.OrderModifier{
		Type:        p.Type,
		Calculation: p.Calculation,
		Value:       p.Value,
		Description: desc,
	}
}

// FindEquivalent looks for a committed modifier that already represents p, so a retried
// settlement does not apply the same discount twice. Matching is by description, or for
// percentages by the "N%" token appearing in an existing description of the same type.
// This is a heuristic; it is not an idempotency key.
func FindEquivalent(existing []d.OrderModifier, p d.PendingAdjustment) (d.OrderModifier, bool) {
	want := ToModifier(p)
	pctToken := ""
	if p.Calculation == d.CalculationPercentage {
		pctToken = p.Value.String() + "%"
	}
	for _, m := range existing {
		if m.Type != want.Type || strings.HasPrefix(strings.TrimSpace(m.Description), LoyaltyPrefix) {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(m.Description), want.Description) {
			return m, true
		}
		if pctToken != "" && strings.Contains(m.Description, pctToken) {
			return m, true
		}
	}
	return d.OrderModifier{}, false
}

// LoyaltyPrefix marks the modifier a redeemed loyalty reward was committed as.
const LoyaltyPrefix = "Loyalty reward: "

// LoyaltyAdjustment is the discount a granted reward is committed as. A percentage is
// taken from the original subtotal and committed as a fixed amount, so the server
// cascade reproduces ApplyLoyalty.
func LoyaltyAdjustment(l d.LoyaltyDiscount, subtotal decimal.Decimal) d.PendingAdjustment {
	amount := l.Value
	if l.Kind == d.DiscountPercentage {
		amount = money.Percent(subtotal, l.Value)
	}
	desc := strings.TrimSpace(l.Description)
	if desc == "" {
		desc = DescribeAdjustment(d.ModifierDiscount, d.CalculationFixed, money.Round(amount))
	}
	return d.PendingAdjustment{
		Type:        d.ModifierDiscount,
		Calculation: d.CalculationFixed,
		Value:       money.Round(amount),
		Description: LoyaltyPrefix + desc,
	}
}

// FindLoyaltyModifier returns the loyalty reward already committed to the order, if any.
func FindLoyaltyModifier(existing []d.OrderModifier) (d.OrderModifier, bool) {
	for _, m := range existing {
		if m.Type == d.ModifierDiscount && strings.HasPrefix(strings.TrimSpace(m.Description), LoyaltyPrefix) {
			return m, true
		}
	}
	return d.OrderModifier{}, false
}
