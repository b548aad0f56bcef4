package domain

type OrderState string

const (
	OrderStateDraft     OrderState = "DRAFT"
	OrderStateLocked    OrderState = "LOCKED"
	OrderStatePaid      OrderState = "PAID"
	OrderStateCancelled OrderState = "CANCELLED"
)

func (s OrderState) IsTerminal() bool {
	return s == OrderStatePaid || s == OrderStateCancelled
}

// String representation (for logging)
func (s OrderState) String() string {
	return string(s)
}

// CanTransitionTo reports whether the server accepts moving an order from one state to
// another. A LOCKED order may be re-locked so a retried settlement does not fail on it.
func CanTransitionTo(from, to OrderState) bool {
	switch from {
	case OrderStateDraft:
		return to == OrderStateLocked || to == OrderStateCancelled
	case OrderStateLocked:
		return to == OrderStateLocked || to == OrderStatePaid || to == OrderStateCancelled
	default:
		return false
	}
}
