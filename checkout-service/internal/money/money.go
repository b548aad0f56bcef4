// Package money holds the decimal arithmetic every total is built from. Values are kept
// at full precision through intermediate steps; Round is for presentation only.
package money

import (
	"github.com/shopspring/decimal"
)

type Sign int

const (
	Discount  Sign = -1
	Surcharge Sign = 1
)

var hundred = decimal.NewFromInt(100)

// Percent returns base * pct / 100.
func Percent(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

// ApplyFixed returns base + sign*amount. A discount never takes the result below zero.
func ApplyFixed(base, amount decimal.Decimal, sign Sign) decimal.Decimal {
	out := base.Add(amount.Mul(decimal.NewFromInt(int64(sign))))
	if sign == Discount && out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// ApplyPercentage returns base + sign*(base*pct/100), clamped like ApplyFixed.
func ApplyPercentage(base, pct decimal.Decimal, sign Sign) decimal.Decimal {
	return ApplyFixed(base, Percent(base, pct), sign)
}

// Round rounds half away from zero to cents.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Floor0 returns d, or zero when d is negative.
func Floor0(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Sum adds values in order.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Cents formats d for display, e.g. "$12.50".
func Cents(d decimal.Decimal) string {
	return "$" + Round(d).StringFixed(2)
}
