package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPercent(t *testing.T) {
	assert.True(t, d("6.75").Equal(Percent(d("45"), d("15"))))
	assert.True(t, d("0").Equal(Percent(d("0"), d("20"))))
}

func TestApplyFixed(t *testing.T) {
	assert.True(t, d("95").Equal(ApplyFixed(d("90"), d("5"), Surcharge)))
	assert.True(t, d("85").Equal(ApplyFixed(d("90"), d("5"), Discount)))
}

func TestApplyFixed_DiscountClampsAtZero(t *testing.T) {
	assert.True(t, ApplyFixed(d("10"), d("25"), Discount).IsZero())
}

func TestApplyPercentage(t *testing.T) {
	assert.True(t, d("90").Equal(ApplyPercentage(d("100"), d("10"), Discount)))
	assert.True(t, d("110").Equal(ApplyPercentage(d("100"), d("10"), Surcharge)))
	assert.True(t, ApplyPercentage(d("100"), d("150"), Discount).IsZero())
}

func TestRound_OnlyAtPresentation(t *testing.T) {
	// three sequential 1/3 discounts keep full precision until the end
	v := d("100")
	for i := 0; i < 3; i++ {
		v = ApplyPercentage(v, d("33.3333"), Discount)
	}
	assert.Equal(t, "29.63", Round(v).StringFixed(2))
}

func TestFloor0AndSum(t *testing.T) {
	assert.True(t, Floor0(d("-3")).IsZero())
	assert.True(t, d("3").Equal(Floor0(d("3"))))
	assert.True(t, d("80").Equal(Sum(d("50"), d("30"))))
}

func TestCents(t *testing.T) {
	assert.Equal(t, "$12.50", Cents(d("12.5")))
	assert.Equal(t, "$6.75", Cents(d("6.749")))
}
