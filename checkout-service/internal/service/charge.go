package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/money"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/pkg/logger"
	"github.com/shopspring/decimal"
)

var cent = decimal.RequireFromString("0.01")

// chargePlan is what one payment submission sends, rounded to cents.
type chargePlan struct {
	amount decimal.Decimal
	tip    decimal.Decimal
	change *decimal.Decimal
	parts  []d.SplitPart
	// full is set when the charge clears the outstanding balance.
	full bool
}

func (c chargePlan) total() decimal.Decimal {
	return c.amount.Add(c.tip)
}

// planCharge splits the outstanding balance into the amount and tip to submit. A partial
// amount carries no tip; the tip rides on the payment that clears the order.
func planCharge(b pricing.Breakdown, req d.SettleRequest) (chargePlan, error) {
	due := money.Floor0(b.AfterLoyalty.Sub(b.PaidAmount))
	c := chargePlan{
		amount: money.Round(due),
		tip:    money.Round(b.Outstanding.Sub(due)),
		full:   true,
	}

	if req.Amount != nil {
		switch {
		case req.Amount.GreaterThan(money.Round(due)):
			return chargePlan{}, pricing.ValidationError{
				Field:   "amount",
				Message: fmt.Sprintf("amount %s exceeds the balance due %s", money.Cents(*req.Amount), money.Cents(due)),
			}
		case req.Amount.LessThan(money.Round(due)):
			c = chargePlan{amount: money.Round(*req.Amount), tip: decimal.Zero}
		}
	}

	if req.CashReceived != nil {
		if req.CashReceived.LessThan(c.total()) {
			return chargePlan{}, pricing.ValidationError{
				Field:   "cashReceived",
				Message: fmt.Sprintf("cash received %s is less than %s", money.Cents(*req.CashReceived), money.Cents(c.total())),
			}
		}
		change := money.Round(req.CashReceived.Sub(c.total()))
		c.change = &change
	}

	if req.Method == d.SettleSplit {
		parts, err := splitParts(req.Split, c)
		if err != nil {
			return chargePlan{}, err
		}
		c.parts = parts
	}
	return c, nil
}

// splitParts checks the parts cover the charge. When no part names a tip the whole tip is
// put on the first part.
func splitParts(in []d.SplitPart, c chargePlan) ([]d.SplitPart, error) {
	parts := make([]d.SplitPart, len(in))
	amounts, tips := decimal.Zero, decimal.Zero
	for i, p := range in {
		if !p.Amount.IsPositive() {
			return nil, pricing.ValidationError{Field: fmt.Sprintf("split[%d].amount", i), Message: "amount must be positive"}
		}
		if p.TipAmount.IsNegative() {
			return nil, pricing.ValidationError{Field: fmt.Sprintf("split[%d].tipAmount", i), Message: "tip must not be negative"}
		}
		if p.Method != d.PaymentMethodCash && p.Method != d.PaymentMethodCard {
			return nil, pricing.ValidationError{Field: fmt.Sprintf("split[%d].method", i), Message: fmt.Sprintf("unknown payment method %q", p.Method)}
		}
		parts[i] = d.SplitPart{Method: p.Method, Amount: money.Round(p.Amount), TipAmount: money.Round(p.TipAmount)}
		amounts = amounts.Add(parts[i].Amount)
		tips = tips.Add(parts[i].TipAmount)
	}

	if amounts.Sub(c.amount).Abs().GreaterThanOrEqual(cent) {
		return nil, pricing.ValidationError{
			Field:   "split",
			Message: fmt.Sprintf("parts add up to %s but %s is due", money.Cents(amounts), money.Cents(c.amount)),
		}
	}
	if tips.IsZero() {
		parts[0].TipAmount = c.tip
	} else if !tips.Equal(c.tip) {
		return nil, pricing.ValidationError{
			Field:   "split",
			Message: fmt.Sprintf("part tips add up to %s but the tip is %s", money.Cents(tips), money.Cents(c.tip)),
		}
	}
	return parts, nil
}

// charge journals the attempt, submits it under the payment timeout and records the
// outcome. Cash shows as paid straight away and is rolled back if the call fails.
func (s *Sequencer) charge(ctx context.Context, t *ticket, order *d.Order, b pricing.Breakdown, c chargePlan, req d.SettleRequest, key string, reward *d.LoyaltyDiscount) (*SettlementResult, error) {
	attempt := &r.PaymentAttempt{
		ID:             uuid.NewString(),
		IdempotencyKey: key,
		OrderID:        order.ID,
		Method:         string(req.Method),
		Amount:         c.amount,
		TipAmount:      c.tip,
		Loyalty:        reward,
	}
	if err := s.journal.BeginAttempt(ctx, attempt); err != nil {
		if errors.Is(err, r.ErrDuplicateAttempt) {
			return nil, ErrPaymentPending
		}
		return nil, fmt.Errorf("failed to journal payment attempt: %w", err)
	}

	preCharge := order.Clone()
	if req.Method == d.SettleCash {
		t.apply(withPayment(order, []d.Payment{{
			OrderID:   order.ID,
			Amount:    c.amount,
			TipAmount: c.tip,
			Method:    d.PaymentMethodCash,
			Status:    d.PaymentStatusPending,
			Metadata:  map[string]string{d.MetadataIdempotencyKey: key},
		}}, c.full))
	}

	// The payment call outlives the caller: once submitted its outcome is always recorded.
	bg := context.WithoutCancel(ctx)
	payCtx, cancel := context.WithTimeout(bg, s.paymentTimeout)
	defer cancel()

	payments, err := s.submit(payCtx, order.ID, req, c, key)
	if err != nil {
		t.restore(preCharge)
		return nil, s.recordFailure(bg, attempt, req.Method, payCtx, err)
	}

	s.recordSuccess(bg, attempt, payments, r.EventOrderSettled)

	final := s.refreshAfterPayment(ctx, order, payments, c.full)
	t.apply(final)

	return &SettlementResult{
		Status:         statusOf(final),
		Order:          final,
		Payments:       payments,
		Breakdown:      b.Rounded(),
		Amount:         c.amount,
		TipAmount:      c.tip,
		Change:         c.change,
		Loyalty:        reward,
		IdempotencyKey: key,
	}, nil
}

func (s *Sequencer) submit(ctx context.Context, orderID string, req d.SettleRequest, c chargePlan, key string) ([]d.Payment, error) {
	if req.Method == d.SettleSplit {
		p, err := s.orders.ProcessSplitPayment(ctx, d.SplitPaymentRequest{
			OrderID:        orderID,
			Payments:       c.parts,
			IdempotencyKey: key,
		})
		if err != nil {
			return nil, err
		}
		return []d.Payment{*p}, nil
	}

	method := d.PaymentMethodCard
	metadata := map[string]string{d.MetadataIdempotencyKey: key}
	if req.Method == d.SettleCash {
		method = d.PaymentMethodCash
		if req.CashReceived != nil {
			metadata[d.MetadataCashReceived] = money.Round(*req.CashReceived).StringFixed(2)
		}
	}
	p, err := s.orders.ProcessPayment(ctx, d.PaymentRequest{
		OrderID:        orderID,
		Amount:         c.amount,
		Method:         method,
		TipAmount:      c.tip,
		Metadata:       metadata,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, err
	}
	return []d.Payment{*p}, nil
}

// recordFailure journals a failed submission. A server answer means the payment failed;
// a timeout or transport failure means the outcome is unknown until reconciled.
func (s *Sequencer) recordFailure(ctx context.Context, attempt *r.PaymentAttempt, method d.SettleMethod, payCtx context.Context, err error) error {
	log := s.logger.With("order_id", attempt.OrderID, "attempt_id", attempt.ID)

	timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(payCtx.Err(), context.DeadlineExceeded)
	var apiErr *backend.APIError
	if !timedOut && errors.As(err, &apiErr) {
		if jerr := s.journal.FailAttempt(ctx, attempt.ID, apiErr.Message); jerr != nil {
			log.Error("failed to journal payment failure", logger.Err(jerr))
		}
		log.Warn("payment rejected", logger.Err(err))
		return fmt.Errorf("payment failed: %w", err)
	}

	if jerr := s.journal.MarkAttemptUnknown(ctx, attempt.ID, err.Error()); jerr != nil {
		log.Error("failed to journal unknown payment outcome", logger.Err(jerr))
	}
	log.Warn("payment outcome unknown", "timed_out", timedOut, logger.Err(err))

	if !timedOut {
		return fmt.Errorf("payment failed: %w", err)
	}
	if method == d.SettleCash {
		return ErrCashPaymentTimeout
	}
	return ErrPaymentTimeout
}

func (s *Sequencer) recordSuccess(ctx context.Context, attempt *r.PaymentAttempt, payments []d.Payment, eventType string) {
	paymentID := ""
	if len(payments) > 0 {
		paymentID = payments[0].ID
	}
	payload, err := json.Marshal(map[string]any{
		"orderId":        attempt.OrderID,
		"paymentId":      paymentID,
		"method":         attempt.Method,
		"amount":         attempt.Amount,
		"tipAmount":      attempt.TipAmount,
		"idempotencyKey": attempt.IdempotencyKey,
		"loyalty":        attempt.Loyalty,
		"settledAt":      s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to marshal settlement event", "order_id", attempt.OrderID, logger.Err(err))
		return
	}
	event := &r.OutboxEvent{AggregateID: attempt.OrderID, EventType: eventType, Payload: payload}
	if err := s.journal.CompleteAttempt(ctx, attempt.ID, paymentID, event); err != nil {
		s.logger.Error("payment succeeded but the journal was not updated",
			"order_id", attempt.OrderID,
			"attempt_id", attempt.ID,
			"payment_id", paymentID,
			logger.Err(err))
	}
}

// refreshAfterPayment reads the order back from the server. When that fails the local
// view is advanced by the payments just made, and full says whether they cleared it.
func (s *Sequencer) refreshAfterPayment(ctx context.Context, order *d.Order, payments []d.Payment, full bool) *d.Order {
	if ctx.Err() == nil {
		fresh, err := s.orders.FetchOrder(ctx, order.ID)
		if err == nil {
			return fresh
		}
		s.logger.Warn("failed to refresh order after payment", "order_id", order.ID, logger.Err(err))
	}
	return withPayment(order, payments, full)
}

// withPayment returns a copy of o with payments recorded against it. The copy is PAID
// when full is set or the payments cover the order's total.
func withPayment(o *d.Order, payments []d.Payment, full bool) *d.Order {
	next := o.Clone()
	for _, p := range payments {
		next.PaidAmount = money.Sum(next.PaidAmount, p.Amount, p.TipAmount)
		next.Payments = append(next.Payments, p)
	}
	if full || (next.TotalAmount.IsPositive() && next.PaidAmount.GreaterThanOrEqual(next.TotalAmount)) {
		next.State = d.OrderStatePaid
	}
	return next
}
