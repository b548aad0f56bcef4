package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/pkg/logger"
	"github.com/shopspring/decimal"
)

type SettlementResult struct {
	Status         d.SettlementStatus `json:"status"`
	Order          *d.Order           `json:"order,omitempty"`
	Payments       []d.Payment        `json:"payments,omitempty"`
	Breakdown      pricing.Breakdown  `json:"breakdown"`
	Amount         decimal.Decimal    `json:"amount"`
	TipAmount      decimal.Decimal    `json:"tipAmount"`
	Change         *decimal.Decimal   `json:"change,omitempty"`
	Loyalty        *d.LoyaltyDiscount `json:"loyalty,omitempty"`
	Reference      string             `json:"reference,omitempty"`
	IdempotencyKey string             `json:"idempotencyKey,omitempty"`
}

// Snapshot is the latest order this service has produced for orderID, including
// optimistic updates that have not been confirmed yet.
func (s *Sequencer) Snapshot(orderID string) (*d.Order, bool) {
	return s.book.Snapshot(orderID)
}

// InFlight reports whether a settlement of orderID is running right now, including a
// terminal payment still waiting for its result.
func (s *Sequencer) InFlight(orderID string) bool {
	return s.guard.busy(orderID) || s.awaiting.pendingFor(orderID, s.now())
}

// Settle takes an order from its current state to paid: it commits the pending
// adjustment, redeems and commits the loyalty reward, locks the order and charges.
// Terminal payments stop after the hand-off and finish in CompleteTerminal.
func (s *Sequencer) Settle(ctx context.Context, req d.SettleRequest) (*SettlementResult, error) {
	if err := validateSettle(req); err != nil {
		return nil, err
	}

	release, err := s.guard.acquire(req.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.awaiting.pendingFor(req.OrderID, s.now()) {
		return nil, ErrOperationInFlight
	}

	log := s.logger.With("order_id", req.OrderID, "method", req.Method)

	settings, err := s.settings.Settings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant settings: %w", err)
	}
	if err := gate(settings, req); err != nil {
		return nil, err
	}

	key, replayed, err := s.resolveKey(ctx, req.IdempotencyKey)
	if err != nil || replayed != nil {
		return replayed, err
	}

	t := s.book.begin(ctx, req.OrderID)

	order, err := s.orders.FetchOrder(ctx, req.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	t.apply(order)

	if order.State == d.OrderStatePaid {
		return nil, ErrNoPaymentNeeded
	}
	if order.State.IsTerminal() {
		return nil, fmt.Errorf("%w: order is %s", backend.ErrStateConflict, order.State)
	}

	order, err = s.commitPending(ctx, t, order, req.Pending, log)
	if err != nil {
		return nil, err
	}

	order, reward, err := s.commitLoyalty(ctx, t, order, req, log)
	if err != nil {
		return nil, err
	}

	order, err = s.lock(ctx, t, order)
	if err != nil {
		return nil, err
	}

	b, err := pricing.Calculate(pricing.Input{
		Order:       order,
		Tip:         req.Tip,
		TipsEnabled: settings.TipsEnabled,
		PaidAmount:  order.PaidAmount,
	})
	if err != nil {
		return nil, err
	}
	if !b.RequiresPayment() {
		return nil, ErrNoPaymentNeeded
	}

	c, err := planCharge(b, req)
	if err != nil {
		return nil, err
	}

	if req.Method == d.SettleTerminal {
		return s.startTerminal(ctx, order, b, c, req, key, reward)
	}

	res, err := s.charge(ctx, t, order, b, c, req, key, reward)
	if err != nil {
		return nil, err
	}
	log.Info("order settled",
		"status", res.Status,
		"amount", c.amount.StringFixed(2),
		"tip", c.tip.StringFixed(2))
	return res, nil
}

func validateSettle(req d.SettleRequest) error {
	if req.OrderID == "" {
		return pricing.ValidationError{Field: "orderId", Message: "order id is required"}
	}
	switch req.Method {
	case d.SettleCash, d.SettleCard, d.SettleSplit, d.SettleTerminal:
	default:
		return pricing.ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", req.Method)}
	}
	if err := pricing.ValidatePending(req.Pending); err != nil {
		return err
	}
	if req.Amount != nil && !req.Amount.IsPositive() {
		return pricing.ValidationError{Field: "amount", Message: "amount must be positive"}
	}
	if req.CashReceived != nil && req.Method != d.SettleCash {
		return pricing.ValidationError{Field: "cashReceived", Message: "cash received only applies to cash payments"}
	}
	if req.Method == d.SettleSplit && len(req.Split) < 2 {
		return pricing.ValidationError{Field: "split", Message: "a split payment needs at least two parts"}
	}
	if req.Method == d.SettleTerminal && req.TerminalID == "" {
		return pricing.ValidationError{Field: "terminalId", Message: "terminal id is required"}
	}
	if req.Loyalty != nil && d.IsWalkIn(req.CustomerID, req.IsWalkIn) {
		return loyalty.ErrWalkInIneligible
	}
	return nil
}

// gate applies the merchant's feature switches before anything reaches the network.
func gate(settings *d.MerchantSettings, req d.SettleRequest) error {
	if !req.Tip.IsZero() && !settings.TipsEnabled {
		return pricing.ErrTipsDisabled
	}
	if req.Method == d.SettleSplit && !settings.SplitPaymentsEnabled {
		return ErrSplitDisabled
	}
	if req.Loyalty != nil && !settings.LoyaltyEnabled {
		return loyalty.ErrLoyaltyDisabled
	}
	return nil
}

// resolveKey decides which idempotency key a settlement uses. A key that already
// succeeded replays the settled order instead of charging again.
func (s *Sequencer) resolveKey(ctx context.Context, key string) (string, *SettlementResult, error) {
	if key == "" {
		return s.newKey(), nil, nil
	}
	attempt, err := s.journal.GetAttemptByIdempotencyKey(ctx, key)
	if errors.Is(err, r.ErrAttemptNotFound) {
		return key, nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	switch attempt.Status {
	case r.AttemptSucceeded:
		s.logger.Info("duplicate settlement detected",
			"idempotency_key", key,
			"order_id", attempt.OrderID,
			"payment_id", attempt.PaymentID)
		order, err := s.orders.FetchOrder(ctx, attempt.OrderID)
		if err != nil {
			return "", nil, fmt.Errorf("failed to load settled order: %w", err)
		}
		return key, &SettlementResult{
			Status:         statusOf(order),
			Order:          order,
			Amount:         attempt.Amount,
			TipAmount:      attempt.TipAmount,
			IdempotencyKey: key,
		}, nil
	case r.AttemptFailed:
		return s.newKey(), nil, nil
	default:
		return "", nil, ErrPaymentPending
	}
}

// commitPending turns the operator's pending adjustment into a modifier on the server
// and adopts the server's order. An equivalent modifier already on the order is reused.
func (s *Sequencer) commitPending(ctx context.Context, t *ticket, order *d.Order, pending *d.PendingAdjustment, log *slog.Logger) (*d.Order, error) {
	if pending == nil || pending.Value.IsZero() {
		return order, nil
	}
	if m, ok := pricing.FindEquivalent(order.Modifiers, *pending); ok {
		log.Info("adjustment already on order, not reapplying", "modifier", m.Description)
		return order, nil
	}
	updated, err := s.addModifier(ctx, t, order, *pending, log)
	if err != nil {
		return nil, fmt.Errorf("failed to apply adjustment: %w", err)
	}
	return updated, nil
}

func (s *Sequencer) addModifier(ctx context.Context, t *ticket, order *d.Order, adj d.PendingAdjustment, log *slog.Logger) (*d.Order, error) {
	updated, err := s.orders.AddOrderModifier(ctx, order.ID, pricing.ToModifier(adj))
	if err != nil {
		t.restore(order)
		return nil, err
	}
	updated, err = s.hydrate(ctx, updated)
	if err != nil {
		return nil, err
	}
	if err := pricing.Reconcile(updated); err != nil {
		log.Warn("server total differs from local preview", logger.Err(err))
	}
	t.apply(updated)
	return updated, nil
}

// lock moves a DRAFT order to LOCKED. A LOCKED order passes through.
func (s *Sequencer) lock(ctx context.Context, t *ticket, order *d.Order) (*d.Order, error) {
	from := order.State
	if from == "" {
		from = d.OrderStateDraft
	}
	if !d.CanTransitionTo(from, d.OrderStateLocked) {
		return nil, fmt.Errorf("%w: order is %s", backend.ErrStateConflict, order.State)
	}
	if from == d.OrderStateLocked {
		return order, nil
	}

	locked, err := s.orders.UpdateOrderState(ctx, order.ID, d.OrderStateLocked)
	if err != nil {
		t.restore(order)
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	locked, err = s.hydrate(ctx, locked)
	if err != nil {
		return nil, err
	}
	t.apply(locked)
	return locked, nil
}

// hydrate refetches when a mutation response came back without line items.
func (s *Sequencer) hydrate(ctx context.Context, o *d.Order) (*d.Order, error) {
	if o.Hydrated() {
		return o, nil
	}
	full, err := s.orders.FetchOrder(ctx, o.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh order: %w", err)
	}
	return full, nil
}

func planFor(req d.SettleRequest) loyalty.Plan {
	plan := loyalty.Plan{CustomerID: req.CustomerID, IsWalkIn: req.IsWalkIn}
	if req.Loyalty != nil {
		plan.Points = req.Loyalty.Points
	}
	return plan
}

// statusOf reads the settlement status off the server's order.
func statusOf(o *d.Order) d.SettlementStatus {
	if o != nil && o.State == d.OrderStatePaid {
		return d.SettlementPaid
	}
	return d.SettlementPartiallyPaid
}
