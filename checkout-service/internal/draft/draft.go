package draft

import (
	"errors"
	"fmt"
	"time"

	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	"github.com/shopspring/decimal"
)

var (
	ErrDraftNotFound   = errors.New("quick sale draft not found")
	ErrAlreadyCheckout = errors.New("quick sale draft was already sent to checkout")
)

// Draft is a quick sale being put together at the till before an order exists.
type Draft struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId,omitempty"`
	IsWalkIn   bool      `json:"isWalkIn"`
	Lines      []Line    `json:"lines"`
	Note       string    `json:"note,omitempty"`
	OrderID    string    `json:"orderId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Line is one service on a draft. A nil Price takes the catalog price at checkout.
type Line struct {
	ServiceID string           `json:"serviceId"`
	Name      string           `json:"name,omitempty"`
	StaffID   string           `json:"staffId,omitempty"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Discount  decimal.Decimal  `json:"discount"`
}

// Validate checks the draft before it is stored or sent anywhere.
func (d *Draft) Validate() error {
	for i, l := range d.Lines {
		if l.ServiceID == "" {
			return pricing.ValidationError{Field: fmt.Sprintf("lines[%d].serviceId", i), Message: "service id is required"}
		}
		if l.Quantity <= 0 {
			return pricing.ValidationError{Field: fmt.Sprintf("lines[%d].quantity", i), Message: "quantity must be positive"}
		}
		if l.Price != nil && l.Price.IsNegative() {
			return pricing.ValidationError{Field: fmt.Sprintf("lines[%d].price", i), Message: "price must not be negative"}
		}
		if l.Discount.IsNegative() {
			return pricing.ValidationError{Field: fmt.Sprintf("lines[%d].discount", i), Message: "discount must not be negative"}
		}
	}
	return nil
}

func (d *Draft) CheckedOut() bool {
	return d.OrderID != ""
}
