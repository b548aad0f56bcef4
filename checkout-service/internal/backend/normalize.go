package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/shopspring/decimal"
)

// The backend has served the same concepts under several field names over time. The
// wire types accept all of them and normalize* folds them into the domain shape.

type wireItem struct {
	ID          string              `json:"id"`
	ServiceID   string              `json:"serviceId"`
	ItemID      string              `json:"itemId"`
	Name        string              `json:"name"`
	ServiceName string              `json:"serviceName"`
	StaffID     string              `json:"staffId"`
	UnitPrice   decimal.NullDecimal `json:"unitPrice"`
	Price       decimal.NullDecimal `json:"price"`
	TotalPrice  decimal.NullDecimal `json:"totalPrice"`
	Quantity    int                 `json:"quantity"`
	Discount    decimal.NullDecimal `json:"discount"`
}

type wireModifier struct {
	ID          string              `json:"id"`
	Type        string              `json:"type"`
	Calculation string              `json:"calculation"`
	Value       decimal.NullDecimal `json:"value"`
	Amount      decimal.NullDecimal `json:"amount"`
	Description string              `json:"description"`
	CreatedAt   time.Time           `json:"createdAt"`
}

type wirePayment struct {
	ID        string              `json:"id"`
	OrderID   string              `json:"orderId"`
	Amount    decimal.NullDecimal `json:"amount"`
	TipAmount decimal.NullDecimal `json:"tipAmount"`
	Method    string              `json:"method"`
	Status    string              `json:"status"`
	Metadata  map[string]any      `json:"metadata"`
	CreatedAt time.Time           `json:"createdAt"`
}

type wireOrder struct {
	ID          string              `json:"id"`
	OrderNumber string              `json:"orderNumber"`
	BookingID   string              `json:"bookingId"`
	CustomerID  string              `json:"customerId"`
	State       string              `json:"state"`
	Status      string              `json:"status"`
	Items       []wireItem          `json:"items"`
	Modifiers   []wireModifier      `json:"modifiers"`
	Subtotal    decimal.NullDecimal `json:"subtotal"`
	TotalAmount decimal.NullDecimal `json:"totalAmount"`
	Total       decimal.NullDecimal `json:"total"`
	TotalPrice  decimal.NullDecimal `json:"totalPrice"`
	PaidAmount  decimal.NullDecimal `json:"paidAmount"`
	AmountPaid  decimal.NullDecimal `json:"amountPaid"`
	Payments    []wirePayment       `json:"payments"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

func first(values ...decimal.NullDecimal) decimal.Decimal {
	for _, v := range values {
		if v.Valid {
			return v.Decimal
		}
	}
	return decimal.Zero
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeOrder(w wireOrder) *d.Order {
	o := &d.Order{
		ID:          w.ID,
		OrderNumber: w.OrderNumber,
		BookingID:   w.BookingID,
		CustomerID:  w.CustomerID,
		State:       d.OrderState(strings.ToUpper(firstString(w.State, w.Status, string(d.OrderStateDraft)))),
		Items:       make([]d.OrderItem, 0, len(w.Items)),
		Modifiers:   make([]d.OrderModifier, 0, len(w.Modifiers)),
		Subtotal:    first(w.Subtotal),
		TotalAmount: first(w.TotalAmount, w.Total, w.TotalPrice),
		PaidAmount:  first(w.PaidAmount, w.AmountPaid),
		UpdatedAt:   w.UpdatedAt,
	}
	for _, it := range w.Items {
		o.Items = append(o.Items, normalizeItem(it))
	}
	for _, m := range w.Modifiers {
		o.Modifiers = append(o.Modifiers, d.OrderModifier{
			ID:          m.ID,
			Type:        d.ModifierType(strings.ToUpper(m.Type)),
			Calculation: d.Calculation(strings.ToUpper(m.Calculation)),
			Value:       first(m.Value, m.Amount),
			Description: m.Description,
			CreatedAt:   m.CreatedAt,
		})
	}
	for _, p := range w.Payments {
		o.Payments = append(o.Payments, normalizePayment(p))
	}
	// Older responses omit paidAmount and only list the payments.
	if !w.PaidAmount.Valid && !w.AmountPaid.Valid {
		for _, p := range o.Payments {
			if p.Status == "" || p.Status == d.PaymentStatusCompleted {
				o.PaidAmount = o.PaidAmount.Add(p.Amount)
			}
		}
	}
	return o
}

func normalizeItem(it wireItem) d.OrderItem {
	qty := it.Quantity
	if qty <= 0 {
		qty = 1
	}
	unit := first(it.UnitPrice, it.Price)
	if !it.UnitPrice.Valid && !it.Price.Valid && it.TotalPrice.Valid {
		unit = it.TotalPrice.Decimal.Div(decimal.NewFromInt(int64(qty)))
	}
	return d.OrderItem{
		ID:        it.ID,
		ServiceID: firstString(it.ServiceID, it.ItemID),
		Name:      firstString(it.Name, it.ServiceName),
		StaffID:   it.StaffID,
		UnitPrice: unit,
		Quantity:  qty,
		Discount:  first(it.Discount),
	}
}

func normalizePayment(p wirePayment) d.Payment {
	var meta map[string]string
	if len(p.Metadata) > 0 {
		meta = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			meta[k] = fmt.Sprint(v)
		}
	}
	return d.Payment{
		ID:        p.ID,
		OrderID:   p.OrderID,
		Amount:    first(p.Amount),
		TipAmount: first(p.TipAmount),
		Method:    d.PaymentMethod(strings.ToUpper(p.Method)),
		Status:    d.PaymentStatus(strings.ToUpper(p.Status)),
		Metadata:  meta,
		CreatedAt: p.CreatedAt,
	}
}

// unwrap returns the value under the first envelope key present ("order", "data", ...),
// or body itself when it is not enveloped.
func unwrap(body []byte, keys ...string) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return body
	}
	var env map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return body
	}
	for _, k := range keys {
		if raw, ok := env[k]; ok && len(raw) > 0 && string(raw) != "null" {
			return raw
		}
	}
	return body
}

func decodeOrder(body []byte) (*d.Order, error) {
	var w wireOrder
	if err := json.Unmarshal(unwrap(body, "order", "data"), &w); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	if w.ID == "" {
		return nil, fmt.Errorf("decode order: response has no order id")
	}
	return normalizeOrder(w), nil
}

func decodePayment(body []byte) (*d.Payment, error) {
	var w wirePayment
	if err := json.Unmarshal(unwrap(body, "payment", "data"), &w); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	p := normalizePayment(w)
	return &p, nil
}

func decodeInto(body []byte, v any, keys ...string) error {
	if err := json.Unmarshal(unwrap(body, keys...), v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}
