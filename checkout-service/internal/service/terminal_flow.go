package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/terminal"
	"github.com/nirvana9010/heya-pos/pkg/logger"
)

// terminalWindow is how long a started terminal payment blocks new settlements of the
// same order while no result has arrived.
const terminalWindow = 3 * time.Minute

type awaitingTerminal struct {
	orderID    string
	terminalID string
	startedAt  time.Time
}

// terminalRegistry remembers terminal payments between hand-off and result.
type terminalRegistry struct {
	mu      sync.Mutex
	pending map[string]awaitingTerminal
}

func newTerminalRegistry() *terminalRegistry {
	return &terminalRegistry{pending: make(map[string]awaitingTerminal)}
}

func (tr *terminalRegistry) put(reference string, a awaitingTerminal) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.pending[reference] = a
}

func (tr *terminalRegistry) take(reference string) (awaitingTerminal, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	a, ok := tr.pending[reference]
	delete(tr.pending, reference)
	return a, ok
}

func (tr *terminalRegistry) pendingFor(orderID string, now time.Time) bool {
	_, _, ok := tr.lookupOrder(orderID, now)
	return ok
}

func (tr *terminalRegistry) lookupOrder(orderID string, now time.Time) (string, awaitingTerminal, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	for ref, a := range tr.pending {
		if a.orderID != orderID {
			continue
		}
		if now.Sub(a.startedAt) > terminalWindow {
			delete(tr.pending, ref)
			continue
		}
		return ref, a, true
	}
	return "", awaitingTerminal{}, false
}

// startTerminal hands the charge to the card terminal and returns straight away. The
// order stays LOCKED until CompleteTerminal receives the result.
func (s *Sequencer) startTerminal(ctx context.Context, order *d.Order, b pricing.Breakdown, c chargePlan, req d.SettleRequest, key string, reward *d.LoyaltyDiscount) (*SettlementResult, error) {
	reference, err := s.terminal.Start(ctx, terminal.StartRequest{
		TerminalID: req.TerminalID,
		OrderID:    order.ID,
		Amount:     c.amount,
		TipAmount:  c.tip,
	})
	if err != nil {
		return nil, err
	}

	attempt := &r.PaymentAttempt{
		ID:                uuid.NewString(),
		IdempotencyKey:    key,
		OrderID:           order.ID,
		Method:            string(d.SettleTerminal),
		Amount:            c.amount,
		TipAmount:         c.tip,
		TerminalReference: reference,
		TerminalID:        req.TerminalID,
		Loyalty:           reward,
	}
	if err := s.journal.BeginAttempt(ctx, attempt); err != nil {
		if cerr := s.terminal.Cancel(context.WithoutCancel(ctx), req.TerminalID, reference); cerr != nil {
			s.logger.Error("failed to cancel unjournaled terminal payment",
				"order_id", order.ID,
				"reference", reference,
				logger.Err(cerr))
		}
		if errors.Is(err, r.ErrDuplicateAttempt) {
			return nil, ErrPaymentPending
		}
		return nil, fmt.Errorf("failed to journal terminal payment: %w", err)
	}

	s.awaiting.put(reference, awaitingTerminal{
		orderID:    order.ID,
		terminalID: req.TerminalID,
		startedAt:  s.now(),
	})

	return &SettlementResult{
		Status:         d.SettlementAwaitingTerminal,
		Order:          order,
		Breakdown:      b.Rounded(),
		Amount:         c.amount,
		TipAmount:      c.tip,
		Loyalty:        reward,
		Reference:      reference,
		IdempotencyKey: key,
	}, nil
}

// CompleteTerminal applies a terminal result. An approved result is recorded as a card
// payment; every other outcome leaves the order LOCKED so the operator can retry.
func (s *Sequencer) CompleteTerminal(ctx context.Context, result *d.TerminalResult) (*SettlementResult, error) {
	if result == nil || result.Reference == "" {
		return nil, pricing.ValidationError{Field: "reference", Message: "terminal reference is required"}
	}

	attempt, err := s.journal.GetAttemptByReference(ctx, result.Reference)
	if errors.Is(err, r.ErrAttemptNotFound) {
		return nil, ErrUnknownReference
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load terminal payment: %w", err)
	}
	if result.OrderID != "" && result.OrderID != attempt.OrderID {
		return nil, pricing.ValidationError{Field: "orderId", Message: "reference belongs to another order"}
	}

	release, err := s.guard.acquire(attempt.OrderID)
	if err != nil {
		return nil, err
	}
	defer release()

	log := s.logger.With("order_id", attempt.OrderID, "reference", result.Reference, "outcome", result.Outcome)

	switch attempt.Status {
	case r.AttemptSucceeded:
		log.Info("duplicate terminal result ignored")
		order, err := s.orders.FetchOrder(ctx, attempt.OrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to load settled order: %w", err)
		}
		return &SettlementResult{
			Status:    statusOf(order),
			Order:     order,
			Amount:    attempt.Amount,
			TipAmount: attempt.TipAmount,
			Loyalty:   attempt.Loyalty,
			Reference: result.Reference,
		}, nil
	case r.AttemptFailed:
		return nil, fmt.Errorf("%w: terminal payment %s is already closed", backend.ErrStateConflict, result.Reference)
	case r.AttemptUnknown:
		return nil, ErrPaymentPending
	}

	s.awaiting.take(result.Reference)
	bg := context.WithoutCancel(ctx)

	if outcomeErr := terminal.OutcomeError(result.Outcome); outcomeErr != nil {
		if jerr := s.journal.FailAttempt(bg, attempt.ID, terminal.UserMessage(outcomeErr)); jerr != nil {
			log.Error("failed to journal terminal outcome", logger.Err(jerr))
		}
		if errors.Is(outcomeErr, terminal.ErrCancelled) {
			s.addEvent(bg, attempt.OrderID, r.EventTerminalPaymentCancelled, map[string]any{
				"orderId":   attempt.OrderID,
				"reference": result.Reference,
			})
		}
		if terminal.Alarming(outcomeErr) {
			log.Warn("terminal payment not approved", "message", result.Message)
		} else {
			log.Info("terminal payment cancelled by customer")
		}
		return nil, outcomeErr
	}

	amount, tip := result.Amount, result.TipAmount
	if amount.IsZero() {
		amount, tip = attempt.Amount, attempt.TipAmount
	}
	metadata := map[string]string{
		d.MetadataIdempotencyKey: attempt.IdempotencyKey,
		d.MetadataTerminalTxnID:  result.TransactionID,
	}
	if attempt.TerminalID != "" {
		metadata[d.MetadataTerminalID] = attempt.TerminalID
	}

	t := s.book.begin(ctx, attempt.OrderID)
	payCtx, cancel := context.WithTimeout(bg, s.paymentTimeout)
	defer cancel()
	p, err := s.orders.ProcessPayment(payCtx, d.PaymentRequest{
		OrderID:        attempt.OrderID,
		Amount:         amount,
		Method:         d.PaymentMethodCard,
		TipAmount:      tip,
		Metadata:       metadata,
		IdempotencyKey: attempt.IdempotencyKey,
	})
	if err != nil {
		return nil, s.recordFailure(bg, attempt, d.SettleTerminal, payCtx, err)
	}
	payments := []d.Payment{*p}
	s.recordSuccess(bg, attempt, payments, r.EventOrderSettled)

	final := s.refreshAfterPayment(ctx, s.lastKnown(attempt.OrderID), payments, false)
	t.apply(final)

	log.Info("terminal payment recorded", "payment_id", p.ID)
	return &SettlementResult{
		Status:         statusOf(final),
		Order:          final,
		Payments:       payments,
		Amount:         amount,
		TipAmount:      tip,
		Loyalty:        attempt.Loyalty,
		Reference:      result.Reference,
		IdempotencyKey: attempt.IdempotencyKey,
	}, nil
}

// lastKnown is the latest snapshot held for orderID, or a bare order when there is none.
func (s *Sequencer) lastKnown(orderID string) *d.Order {
	if o, ok := s.book.Snapshot(orderID); ok {
		return o
	}
	return &d.Order{ID: orderID}
}

// CancelTerminal asks the terminal to abandon the payment in progress for orderID.
func (s *Sequencer) CancelTerminal(ctx context.Context, orderID string) error {
	reference, waiting, ok := s.awaiting.lookupOrder(orderID, s.now())
	if !ok {
		return fmt.Errorf("%w: no terminal payment in progress", backend.ErrStateConflict)
	}
	return s.terminal.Cancel(ctx, waiting.terminalID, reference)
}

func (s *Sequencer) addEvent(ctx context.Context, aggregateID, eventType string, body map[string]any) {
	payload, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("failed to marshal outbox event", "event_type", eventType, logger.Err(err))
		return
	}
	if err := s.journal.AddOutboxEvent(ctx, &r.OutboxEvent{AggregateID: aggregateID, EventType: eventType, Payload: payload}); err != nil {
		s.logger.Error("failed to write outbox event", "event_type", eventType, logger.Err(err))
	}
}
