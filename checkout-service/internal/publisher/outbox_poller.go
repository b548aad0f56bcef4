package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/pkg/logger"
	"github.com/segmentio/kafka-go"
)

const Topic = "checkout-outbox"

// OrderFetcher is the authoritative, uncached order read used to resolve payments whose
// outcome was never observed.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID string) (*d.Order, error)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type OutboxPoller struct {
	timeout      time.Duration
	eventTick    time.Duration
	recoveryTick time.Duration
	// settleAfter is how long an UNKNOWN attempt is left alone before it is checked.
	settleAfter time.Duration
	// giveUpAfter is how old an unmatched UNKNOWN attempt must be before it is failed.
	giveUpAfter time.Duration
	repo        r.RepoInterface
	orders      OrderFetcher
	writer      messageWriter
	logger      *slog.Logger
	now         func() time.Time
}

func NewOutboxPoller(repo r.RepoInterface, orders OrderFetcher, log *slog.Logger, brokers ...string) *OutboxPoller {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return &OutboxPoller{
		timeout:      5 * time.Second,
		eventTick:    time.Second,
		recoveryTick: 15 * time.Second,
		settleAfter:  30 * time.Second,
		giveUpAfter:  15 * time.Minute,
		repo:         repo,
		orders:       orders,
		writer:       w,
		logger:       log,
		now:          time.Now,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.reconcileUnknownAttempts(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, 100)
	if err != nil {
		p.logger.Error("failed to fetch outbox events", logger.Err(err))
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Error("failed to publish outbox event", "event_id", event.ID, logger.Err(err))
			continue
		}
		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.logger.Error("failed to mark outbox event processed", "event_id", event.ID, logger.Err(err))
		}
	}
}

// reconcileUnknownAttempts resolves payments whose response was lost (usually a client
// timeout) by refetching the order and looking for the payment carrying the attempt's
// idempotency key.
func (p *OutboxPoller) reconcileUnknownAttempts(ctx context.Context) {
	attempts, err := p.repo.ListUnknownAttempts(ctx, p.settleAfter, 50)
	if err != nil {
		p.logger.Error("failed to list unknown payment attempts", logger.Err(err))
		return
	}
	for _, attempt := range attempts {
		p.reconcile(ctx, attempt)
	}
}

func (p *OutboxPoller) reconcile(ctx context.Context, attempt *r.PaymentAttempt) {
	log := p.logger.With("attempt_id", attempt.ID, "order_id", attempt.OrderID)

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	order, err := p.orders.FetchOrder(fetchCtx, attempt.OrderID)
	cancel()
	if err != nil {
		log.Warn("reconciliation fetch failed", logger.Err(err))
		return
	}

	if payment, ok := findPayment(order, attempt.IdempotencyKey); ok {
		payload, err := json.Marshal(map[string]any{
			"orderId":        order.ID,
			"paymentId":      payment.ID,
			"idempotencyKey": attempt.IdempotencyKey,
			"amount":         payment.Amount,
			"tipAmount":      payment.TipAmount,
			"method":         payment.Method,
			"orderState":     order.State,
		})
		if err != nil {
			log.Error("failed to marshal reconciliation payload", logger.Err(err))
			return
		}
		event := &r.OutboxEvent{AggregateID: order.ID, EventType: r.EventPaymentReconciled, Payload: payload}
		if err := p.repo.CompleteAttempt(ctx, attempt.ID, payment.ID, event); err != nil {
			log.Error("failed to complete reconciled attempt", logger.Err(err))
			return
		}
		log.Info("payment attempt reconciled as succeeded", "payment_id", payment.ID)
		return
	}

	if p.now().Sub(attempt.CreatedAt) < p.giveUpAfter {
		return
	}
	if err := p.repo.FailAttempt(ctx, attempt.ID, "no matching payment found on order"); err != nil && !errors.Is(err, r.ErrAttemptNotFound) {
		log.Error("failed to fail unmatched attempt", logger.Err(err))
		return
	}
	log.Info("payment attempt reconciled as failed")
}

func findPayment(order *d.Order, idempotencyKey string) (d.Payment, bool) {
	for _, payment := range order.Payments {
		if payment.Status == d.PaymentStatusFailed {
			continue
		}
		if payment.Metadata[d.MetadataIdempotencyKey] == idempotencyKey {
			return payment, true
		}
	}
	return d.Payment{}, false
}

func (p *OutboxPoller) publish(ctx context.Context, event *r.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.writer.WriteMessages(writeCtx, msg)
}
