package domain

import "github.com/shopspring/decimal"

type SettleMethod string

const (
	SettleCash     SettleMethod = "CASH"
	SettleCard     SettleMethod = "CARD"
	SettleSplit    SettleMethod = "SPLIT"
	SettleTerminal SettleMethod = "TERMINAL"
)

type SettleRequest struct {
	OrderID        string
	CustomerID     string
	IsWalkIn       bool
	Method         SettleMethod
	Pending        *PendingAdjustment
	Loyalty        *LoyaltyRedemption
	Tip            TipSelection
	Amount         *decimal.Decimal // partial payment; nil charges the full balance
	CashReceived   *decimal.Decimal
	Split          []SplitPart
	TerminalID     string
	IdempotencyKey string
}

type SettlementStatus string

const (
	SettlementPaid             SettlementStatus = "PAID"
	SettlementPartiallyPaid    SettlementStatus = "PARTIALLY_PAID"
	SettlementAwaitingTerminal SettlementStatus = "AWAITING_TERMINAL"
)

type TerminalOutcome string

const (
	TerminalApproved    TerminalOutcome = "APPROVED"
	TerminalDeclined    TerminalOutcome = "DECLINED"
	TerminalCancelled   TerminalOutcome = "CANCELLED"
	TerminalTimeout     TerminalOutcome = "TIMEOUT"
	TerminalUnavailable TerminalOutcome = "UNAVAILABLE"
	TerminalNotPaired   TerminalOutcome = "NOT_PAIRED"
)

// TerminalResult is delivered asynchronously by the terminal bridge once the customer
// has finished (or abandoned) the card interaction.
type TerminalResult struct {
	OrderID       string          `json:"orderId"`
	Reference     string          `json:"reference"`
	Outcome       TerminalOutcome `json:"outcome"`
	TransactionID string          `json:"transactionId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	TipAmount     decimal.Decimal `json:"tipAmount"`
	Message       string          `json:"message,omitempty"`
}
