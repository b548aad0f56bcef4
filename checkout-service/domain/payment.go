package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash PaymentMethod = "CASH"
	PaymentMethodCard PaymentMethod = "CARD"
)

type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
	PaymentStatusPending   PaymentStatus = "PENDING"
)

// Payment is one settlement record against an order. Split payments produce several.
type Payment struct {
	ID        string            `json:"id"`
	OrderID   string            `json:"orderId"`
	Amount    decimal.Decimal   `json:"amount"`
	TipAmount decimal.Decimal   `json:"tipAmount"`
	Method    PaymentMethod     `json:"method"`
	Status    PaymentStatus     `json:"status,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt,omitempty"`
}

type PaymentRequest struct {
	OrderID        string            `json:"orderId"`
	Amount         decimal.Decimal   `json:"amount"`
	Method         PaymentMethod     `json:"method"`
	TipAmount      decimal.Decimal   `json:"tipAmount"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
}

type SplitPart struct {
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	TipAmount decimal.Decimal `json:"tipAmount"`
}

type SplitPaymentRequest struct {
	OrderID        string      `json:"orderId"`
	Payments       []SplitPart `json:"payments"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
}

// Payment metadata keys written by this service.
const (
	MetadataIdempotencyKey = "idempotencyKey"
	MetadataTerminalTxnID  = "terminalTransactionId"
	MetadataTerminalID     = "terminalId"
	MetadataCashReceived   = "cashReceived"
)
