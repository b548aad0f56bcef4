package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
)

type MockRepository struct {
	r.RepoInterface
	mu sync.Mutex

	OutboxEvents      []*r.OutboxEvent
	GetEventsErr      error
	ProcessedIDs      []string
	UnknownAttempts   []*r.PaymentAttempt
	ListUnknownErr    error
	Completed         map[string]string
	CompletedEvents   []*r.OutboxEvent
	Failed            []string
	CompleteCallCount int
}

func (m *MockRepository) GetUnprocessedEvents(context.Context, int) ([]*r.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetEventsErr != nil {
		return nil, m.GetEventsErr
	}
	ev := m.OutboxEvents
	m.OutboxEvents = nil
	return ev, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ProcessedIDs = append(m.ProcessedIDs, id)
	return nil
}

func (m *MockRepository) processedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ProcessedIDs)
}

func (m *MockRepository) ListUnknownAttempts(context.Context, time.Duration, int) ([]*r.PaymentAttempt, error) {
	return m.UnknownAttempts, m.ListUnknownErr
}

func (m *MockRepository) CompleteAttempt(_ context.Context, id, paymentID string, event *r.OutboxEvent) error {
	m.CompleteCallCount++
	if m.Completed == nil {
		m.Completed = map[string]string{}
	}
	m.Completed[id] = paymentID
	m.CompletedEvents = append(m.CompletedEvents, event)
	return nil
}

func (m *MockRepository) FailAttempt(_ context.Context, id, _ string) error {
	m.Failed = append(m.Failed, id)
	return nil
}

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkaGo.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkaGo.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeOrders struct {
	order *d.Order
	err   error
	calls int
}

func (f *fakeOrders) FetchOrder(context.Context, string) (*d.Order, error) {
	f.calls++
	return f.order, f.err
}

func newTestPoller(repo r.RepoInterface, orders OrderFetcher, w messageWriter) *OutboxPoller {
	p := NewOutboxPoller(repo, orders, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.writer = w
	return p
}

func TestProcessUnpublishedEvents_PublishesAndMarks(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{
		{ID: "ev-1", AggregateID: "order-1", EventType: r.EventOrderSettled, Payload: []byte(`{"orderId":"order-1"}`)},
	}}
	w := &fakeWriter{}
	p := newTestPoller(repo, &fakeOrders{}, w)

	p.processUnpublishedEvents(context.Background())

	require.Len(t, w.messages, 1)
	assert.Equal(t, "order-1", string(w.messages[0].Key))
	assert.Equal(t, r.EventOrderSettled, string(w.messages[0].Headers[0].Value))
	assert.Equal(t, []string{"ev-1"}, repo.ProcessedIDs)
}

func TestProcessUnpublishedEvents_PublishFailureLeavesEventUnprocessed(t *testing.T) {
	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{{ID: "ev-1", AggregateID: "order-1"}}}
	p := newTestPoller(repo, &fakeOrders{}, &fakeWriter{err: errors.New("broker down")})

	p.processUnpublishedEvents(context.Background())

	assert.Empty(t, repo.ProcessedIDs)
}

func TestProcessUnpublishedEvents_RepositoryError(t *testing.T) {
	repo := &MockRepository{GetEventsErr: errors.New("database connection error")}
	w := &fakeWriter{}
	p := newTestPoller(repo, &fakeOrders{}, w)

	p.processUnpublishedEvents(context.Background())

	assert.Empty(t, w.messages)
}

func unknownAttempt(age time.Duration) *r.PaymentAttempt {
	return &r.PaymentAttempt{
		ID:             "attempt-1",
		IdempotencyKey: "key-1",
		OrderID:        "order-1",
		Method:         "CASH",
		Amount:         decimal.NewFromInt(45),
		Status:         r.AttemptUnknown,
		CreatedAt:      time.Now().Add(-age),
	}
}

func TestReconcile_MatchingPaymentCompletesAttempt(t *testing.T) {
	repo := &MockRepository{UnknownAttempts: []*r.PaymentAttempt{unknownAttempt(time.Minute)}}
	orders := &fakeOrders{order: &d.Order{
		ID:    "order-1",
		State: d.OrderStatePaid,
		Payments: []d.Payment{
			{ID: "pay-other", Metadata: map[string]string{d.MetadataIdempotencyKey: "key-0"}},
			{ID: "pay-7", Amount: decimal.NewFromInt(45), Metadata: map[string]string{d.MetadataIdempotencyKey: "key-1"}},
		},
	}}
	p := newTestPoller(repo, orders, &fakeWriter{})

	p.reconcileUnknownAttempts(context.Background())

	assert.Equal(t, "pay-7", repo.Completed["attempt-1"])
	require.Len(t, repo.CompletedEvents, 1)
	assert.Equal(t, r.EventPaymentReconciled, repo.CompletedEvents[0].EventType)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(repo.CompletedEvents[0].Payload, &payload))
	assert.Equal(t, "pay-7", payload["paymentId"])
	assert.Empty(t, repo.Failed)
}

func TestReconcile_FailedPaymentDoesNotMatch(t *testing.T) {
	repo := &MockRepository{UnknownAttempts: []*r.PaymentAttempt{unknownAttempt(time.Minute)}}
	orders := &fakeOrders{order: &d.Order{
		ID: "order-1",
		Payments: []d.Payment{
			{ID: "pay-7", Status: d.PaymentStatusFailed, Metadata: map[string]string{d.MetadataIdempotencyKey: "key-1"}},
		},
	}}
	p := newTestPoller(repo, orders, &fakeWriter{})

	p.reconcileUnknownAttempts(context.Background())

	assert.Zero(t, repo.CompleteCallCount)
	assert.Empty(t, repo.Failed)
}

func TestReconcile_UnmatchedAttemptFailsAfterWindow(t *testing.T) {
	repo := &MockRepository{UnknownAttempts: []*r.PaymentAttempt{unknownAttempt(time.Hour)}}
	p := newTestPoller(repo, &fakeOrders{order: &d.Order{ID: "order-1", State: d.OrderStateLocked}}, &fakeWriter{})

	p.reconcileUnknownAttempts(context.Background())

	assert.Equal(t, []string{"attempt-1"}, repo.Failed)
}

func TestReconcile_FetchErrorLeavesAttemptUnknown(t *testing.T) {
	repo := &MockRepository{UnknownAttempts: []*r.PaymentAttempt{unknownAttempt(time.Hour)}}
	orders := &fakeOrders{err: errors.New("network")}
	p := newTestPoller(repo, orders, &fakeWriter{})

	p.reconcileUnknownAttempts(context.Background())

	assert.Equal(t, 1, orders.calls)
	assert.Zero(t, repo.CompleteCallCount)
	assert.Empty(t, repo.Failed)
}

func TestReconcile_ListError(t *testing.T) {
	repo := &MockRepository{ListUnknownErr: errors.New("database deadlock")}
	orders := &fakeOrders{}
	p := newTestPoller(repo, orders, &fakeWriter{})

	p.reconcileUnknownAttempts(context.Background())

	assert.Zero(t, orders.calls)
}

func setupKafka(t *testing.T) (string, func()) {
	if testing.Short() {
		t.Skip("skipping kafka integration test in short mode")
	}
	ctx := context.Background()

	kafkaContainer, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err)

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, brokers, "broker address should not be empty")

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate kafka container: %v", err)
		}
	}

	return brokers[0], cleanup
}

func createTopic(t *testing.T, brokerAddr, topic string) {
	conn, err := kafkaGo.Dial("tcp", brokerAddr)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafkaGo.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	require.NoError(t, err)
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafkaGo.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
	if err != nil {
		t.Logf("topic creation error (may already exist): %v", err)
	}
}

func TestOutboxPoller_PublishesEventsToKafka(t *testing.T) {
	brokerAddr, cleanup := setupKafka(t)
	defer cleanup()

	createTopic(t, brokerAddr, Topic)
	time.Sleep(5 * time.Second)

	repo := &MockRepository{OutboxEvents: []*r.OutboxEvent{{
		ID:          "ev-1",
		AggregateID: "order-123",
		EventType:   r.EventOrderSettled,
		Payload:     []byte(`{"orderId":"order-123","paymentId":"pay-1"}`),
		CreatedAt:   time.Now(),
	}}}

	writer := &kafkaGo.Writer{
		Addr:         kafkaGo.TCP(brokerAddr),
		Topic:        Topic,
		Balancer:     &kafkaGo.Hash{},
		WriteTimeout: 10 * time.Second,
		ReadTimeout:  10 * time.Second,
	}
	poller := newTestPoller(repo, &fakeOrders{}, writer)
	defer poller.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	go poller.Run(ctx)

	reader := kafkaGo.NewReader(kafkaGo.ReaderConfig{
		Brokers:  []string{brokerAddr},
		Topic:    Topic,
		GroupID:  "test-consumer",
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, "order-123", string(msg.Key))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, "pay-1", payload["paymentId"])

	assert.Eventually(t, func() bool { return repo.processedCount() == 1 }, 5*time.Second, 100*time.Millisecond)
}
