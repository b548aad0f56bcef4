package domain

import "github.com/shopspring/decimal"

// WalkInCustomerID is the sentinel identity for an unregistered buyer.
const WalkInCustomerID = "walk-in"

func IsWalkIn(customerID string, isWalkIn bool) bool {
	return isWalkIn || customerID == "" || customerID == WalkInCustomerID
}

type LoyaltyType string

const (
	LoyaltyVisits LoyaltyType = "VISITS"
	LoyaltyPoints LoyaltyType = "POINTS"
)

type RewardType string

const (
	RewardFreeService        RewardType = "FREE_SERVICE"
	RewardPercentageDiscount RewardType = "PERCENTAGE_DISCOUNT"
	RewardFixedDiscount      RewardType = "FIXED_DISCOUNT"
)

type LoyaltyCheckResponse struct {
	HasProgram      bool            `json:"hasProgram"`
	Type            LoyaltyType     `json:"type"`
	RewardAvailable bool            `json:"rewardAvailable"`
	RewardType      RewardType      `json:"rewardType,omitempty"`
	RewardValue     decimal.Decimal `json:"rewardValue"`
	CurrentVisits   int             `json:"currentVisits"`
	VisitsRequired  int             `json:"visitsRequired"`
	CurrentPoints   int             `json:"currentPoints"`
	PointsValue     decimal.Decimal `json:"pointsValue"`
	Description     string          `json:"description,omitempty"`
}

type DiscountKind string

const (
	DiscountPercentage DiscountKind = "PERCENTAGE"
	DiscountFixed      DiscountKind = "FIXED"
)

// LoyaltyDiscount is a resolved reward. Kind is explicit; it is never inferred later
// from Description.
type LoyaltyDiscount struct {
	Kind        DiscountKind    `json:"kind"`
	Value       decimal.Decimal `json:"value"`
	Description string          `json:"description,omitempty"`
	Source      LoyaltyType     `json:"source"`
	Points      int             `json:"points,omitempty"`
}

// LoyaltyRedemption is the operator's choice to redeem the customer's reward on a
// settlement. The reward's value always comes from the ledger.
type LoyaltyRedemption struct {
	// Points to redeem; only read for points programs.
	Points int `json:"points,omitempty"`
}

type VisitRedemption struct {
	Success     bool            `json:"success"`
	RewardType  RewardType      `json:"rewardType"`
	RewardValue decimal.Decimal `json:"rewardValue"`
	Message     string          `json:"message,omitempty"`
}

type PointsRedemption struct {
	Success         bool            `json:"success"`
	DollarValue     decimal.Decimal `json:"dollarValue"`
	RemainingPoints int             `json:"remainingPoints"`
	Message         string          `json:"message,omitempty"`
}
