package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ModifierType string

const (
	ModifierDiscount  ModifierType = "DISCOUNT"
	ModifierSurcharge ModifierType = "SURCHARGE"
)

type Calculation string

const (
	CalculationFixed      Calculation = "FIXED_AMOUNT"
	CalculationPercentage Calculation = "PERCENTAGE"
)

type OrderItem struct {
	ID        string          `json:"id,omitempty"`
	ServiceID string          `json:"serviceId,omitempty"`
	Name      string          `json:"name,omitempty"`
	StaffID   string          `json:"staffId,omitempty"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
	Discount  decimal.Decimal `json:"discount"`
}

// OrderModifier is a committed, server-persisted adjustment. Modifiers are never edited;
// a correction is a new offsetting modifier.
type OrderModifier struct {
	ID          string          `json:"id,omitempty"`
	Type        ModifierType    `json:"type"`
	Calculation Calculation     `json:"calculation"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt,omitempty"`
}

// Order is the single normalized order shape; the backend client produces it at the
// boundary and everything downstream consumes it as is.
type Order struct {
	ID          string          `json:"id,omitempty"`
	OrderNumber string          `json:"orderNumber,omitempty"`
	BookingID   string          `json:"bookingId,omitempty"`
	CustomerID  string          `json:"customerId,omitempty"`
	State       OrderState      `json:"state"`
	Items       []OrderItem     `json:"items"`
	Modifiers   []OrderModifier `json:"modifiers"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	PaidAmount  decimal.Decimal `json:"paidAmount"`
	Payments    []Payment       `json:"payments,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt,omitempty"`
}

// Hydrated reports whether the order is complete enough to price. A draft still being
// created server-side has no id yet.
func (o *Order) Hydrated() bool {
	return o != nil && o.ID != "" && len(o.Items) > 0
}

// Clone returns a deep copy used as a rollback snapshot.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.Modifiers = append([]OrderModifier(nil), o.Modifiers...)
	c.Payments = append([]Payment(nil), o.Payments...)
	return &c
}

// PendingAdjustment is the operator's uncommitted discount or surcharge. It becomes an
// OrderModifier on submission and is cleared afterwards.
type PendingAdjustment struct {
	Type        ModifierType    `json:"type"`
	Calculation Calculation     `json:"calculation"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
}

type TipSelection struct {
	Percentage *decimal.Decimal `json:"percentage,omitempty"`
	Custom     *decimal.Decimal `json:"custom,omitempty"`
}

func (t TipSelection) IsZero() bool {
	return t.Percentage == nil && t.Custom == nil
}

// MerchantSettings carries the feature gates that shape checkout.
type MerchantSettings struct {
	TipsEnabled          bool              `json:"tipsEnabled"`
	TipPercentages       []decimal.Decimal `json:"tipPercentages,omitempty"`
	LoyaltyEnabled       bool              `json:"loyaltyEnabled"`
	SplitPaymentsEnabled bool              `json:"splitPaymentsEnabled"`
	Currency             string            `json:"currency,omitempty"`
}
