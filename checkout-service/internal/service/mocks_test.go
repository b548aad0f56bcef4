package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/terminal"
	"github.com/shopspring/decimal"
)

// MockOrders is an in-memory backend holding a single order.
type MockOrders struct {
	mu    sync.Mutex
	order *d.Order

	FetchErr    error
	ModifierErr error
	LockErr     error
	PayErr      error
	SplitErr    error
	// PayGate, when set, blocks ProcessPayment until it is closed or the call's context ends.
	PayGate chan struct{}

	Calls       []string
	Modifiers   []d.OrderModifier
	Payments    []d.PaymentRequest
	Splits      []d.SplitPaymentRequest
	paymentSeq  int
	payEntered  chan struct{}
	enteredOnce sync.Once
}

func NewMockOrders(o *d.Order) *MockOrders {
	return &MockOrders{order: o, payEntered: make(chan struct{})}
}

func (m *MockOrders) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

func (m *MockOrders) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.Calls...)
}

func (m *MockOrders) current() *d.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Clone()
}

func (m *MockOrders) GetOrder(ctx context.Context, orderID string) (*d.Order, error) {
	m.record("get")
	return m.load(orderID)
}

func (m *MockOrders) FetchOrder(ctx context.Context, orderID string) (*d.Order, error) {
	m.record("fetch")
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	return m.load(orderID)
}

func (m *MockOrders) load(orderID string) (*d.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.order == nil || m.order.ID != orderID {
		return nil, fmt.Errorf("order %s not found", orderID)
	}
	return m.order.Clone(), nil
}

func (m *MockOrders) AddOrderModifier(_ context.Context, orderID string, mod d.OrderModifier) (*d.Order, error) {
	m.record("modifier")
	if m.ModifierErr != nil {
		return nil, m.ModifierErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Modifiers = append(m.Modifiers, mod)
	m.order.Modifiers = append(m.order.Modifiers, mod)
	m.order.TotalAmount = pricing.CascadeModifiers(m.order.Subtotal, m.order.Modifiers)
	return m.order.Clone(), nil
}

func (m *MockOrders) UpdateOrderState(_ context.Context, orderID string, state d.OrderState) (*d.Order, error) {
	m.record("lock")
	if m.LockErr != nil {
		return nil, m.LockErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order.State = state
	return m.order.Clone(), nil
}

func (m *MockOrders) ProcessPayment(ctx context.Context, req d.PaymentRequest) (*d.Payment, error) {
	m.record("pay")
	m.enteredOnce.Do(func() { close(m.payEntered) })
	if m.PayGate != nil {
		select {
		case <-m.PayGate:
		case <-ctx.Done():
			return nil, fmt.Errorf("network: %w", ctx.Err())
		}
	}
	if m.PayErr != nil {
		return nil, m.PayErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payments = append(m.Payments, req)
	return m.applyPayment(req.Method, req.Amount, req.TipAmount, req.Metadata), nil
}

func (m *MockOrders) ProcessSplitPayment(_ context.Context, req d.SplitPaymentRequest) (*d.Payment, error) {
	m.record("split")
	if m.SplitErr != nil {
		return nil, m.SplitErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Splits = append(m.Splits, req)
	amount, tip := decimal.Zero, decimal.Zero
	for _, p := range req.Payments {
		amount = amount.Add(p.Amount)
		tip = tip.Add(p.TipAmount)
	}
	return m.applyPayment(d.PaymentMethodCard, amount, tip, map[string]string{d.MetadataIdempotencyKey: req.IdempotencyKey}), nil
}

func (m *MockOrders) applyPayment(method d.PaymentMethod, amount, tip decimal.Decimal, metadata map[string]string) *d.Payment {
	m.paymentSeq++
	p := d.Payment{
		ID:        fmt.Sprintf("pay-%d", m.paymentSeq),
		OrderID:   m.order.ID,
		Amount:    amount,
		TipAmount: tip,
		Method:    method,
		Status:    d.PaymentStatusCompleted,
		Metadata:  metadata,
	}
	m.order.PaidAmount = m.order.PaidAmount.Add(amount).Add(tip)
	m.order.Payments = append(m.order.Payments, p)
	if m.order.PaidAmount.GreaterThanOrEqual(m.order.TotalAmount) {
		m.order.State = d.OrderStatePaid
	}
	return &p
}

type MockSettings struct {
	Value *d.MerchantSettings
	Err   error
}

func (m *MockSettings) Settings(context.Context) (*d.MerchantSettings, error) {
	return m.Value, m.Err
}

// MockJournal is an in-memory settlement journal.
type MockJournal struct {
	r.RepoInterface

	mu       sync.Mutex
	attempts map[string]*r.PaymentAttempt
	Events   []*r.OutboxEvent
	BeginErr error
}

func NewMockJournal() *MockJournal {
	return &MockJournal{attempts: make(map[string]*r.PaymentAttempt)}
}

func (m *MockJournal) BeginAttempt(_ context.Context, a *r.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.BeginErr != nil {
		return m.BeginErr
	}
	for _, existing := range m.attempts {
		if existing.IdempotencyKey == a.IdempotencyKey {
			return r.ErrDuplicateAttempt
		}
	}
	a.Status = r.AttemptPending
	a.CreatedAt = time.Now()
	stored := *a
	if a.Loyalty != nil {
		reward := *a.Loyalty
		stored.Loyalty = &reward
	}
	m.attempts[a.ID] = &stored
	return nil
}

func (m *MockJournal) find(match func(*r.PaymentAttempt) bool) (*r.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if match(a) {
			cp := *a
			return &cp, nil
		}
	}
	return nil, r.ErrAttemptNotFound
}

func (m *MockJournal) GetAttemptByIdempotencyKey(_ context.Context, key string) (*r.PaymentAttempt, error) {
	return m.find(func(a *r.PaymentAttempt) bool { return a.IdempotencyKey == key })
}

func (m *MockJournal) GetAttemptByReference(_ context.Context, reference string) (*r.PaymentAttempt, error) {
	return m.find(func(a *r.PaymentAttempt) bool { return a.TerminalReference == reference })
}

func (m *MockJournal) CompleteAttempt(_ context.Context, id, paymentID string, event *r.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return r.ErrAttemptNotFound
	}
	a.Status = r.AttemptSucceeded
	a.PaymentID = paymentID
	if event != nil {
		m.Events = append(m.Events, event)
	}
	return nil
}

func (m *MockJournal) setStatus(id string, status r.AttemptStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[id]
	if !ok {
		return r.ErrAttemptNotFound
	}
	a.Status = status
	a.Error = reason
	return nil
}

func (m *MockJournal) FailAttempt(_ context.Context, id, reason string) error {
	return m.setStatus(id, r.AttemptFailed, reason)
}

func (m *MockJournal) MarkAttemptUnknown(_ context.Context, id, reason string) error {
	return m.setStatus(id, r.AttemptUnknown, reason)
}

func (m *MockJournal) AddOutboxEvent(_ context.Context, e *r.OutboxEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, e)
	return nil
}

func (m *MockJournal) only() *r.PaymentAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		cp := *a
		return &cp
	}
	return nil
}

func (m *MockJournal) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var types []string
	for _, e := range m.Events {
		types = append(types, e.EventType)
	}
	return types
}

type MockTerminal struct {
	Reference string
	StartErr  error
	CancelErr error
	Starts    []terminal.StartRequest
	Cancelled []string
}

func (m *MockTerminal) Start(_ context.Context, req terminal.StartRequest) (string, error) {
	m.Starts = append(m.Starts, req)
	if m.StartErr != nil {
		return "", m.StartErr
	}
	return m.Reference, nil
}

func (m *MockTerminal) Cancel(_ context.Context, _, reference string) error {
	m.Cancelled = append(m.Cancelled, reference)
	return m.CancelErr
}

type MockLoyalty struct {
	CheckResponse *d.LoyaltyCheckResponse
	CheckErr      error
	Granted       *d.LoyaltyDiscount
	RedeemErr     error
	CheckCalls    int
	RedeemCalls   int
	// Provisional holds what each Redeem call was asked to commit.
	Provisional []*d.LoyaltyDiscount
}

func (m *MockLoyalty) Check(_ context.Context, customerID string, isWalkIn bool) (*d.LoyaltyCheckResponse, error) {
	if d.IsWalkIn(customerID, isWalkIn) {
		return nil, loyalty.ErrWalkInIneligible
	}
	m.CheckCalls++
	return m.CheckResponse, m.CheckErr
}

func (m *MockLoyalty) Redeem(_ context.Context, _ loyalty.Plan, _ string, provisional *d.LoyaltyDiscount) (*d.LoyaltyDiscount, error) {
	m.RedeemCalls++
	m.Provisional = append(m.Provisional, provisional)
	if m.RedeemErr != nil {
		return nil, m.RedeemErr
	}
	if m.Granted != nil {
		return m.Granted, nil
	}
	return provisional, nil
}

type fixture struct {
	seq      *Sequencer
	orders   *MockOrders
	settings *MockSettings
	journal  *MockJournal
	terminal *MockTerminal
	loyalty  *MockLoyalty
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

// tenPercentVisitReward is a visits program with its reward unlocked.
func tenPercentVisitReward() *d.LoyaltyCheckResponse {
	return &d.LoyaltyCheckResponse{
		HasProgram:      true,
		Type:            d.LoyaltyVisits,
		RewardAvailable: true,
		RewardType:      d.RewardPercentageDiscount,
		RewardValue:     dec("10"),
		CurrentVisits:   10,
		VisitsRequired:  10,
	}
}

// draftOrder is the quick-sale order: two services at $50 and $30.
func draftOrder() *d.Order {
	return &d.Order{
		ID:         "order-1",
		CustomerID: "cust-1",
		State:      d.OrderStateDraft,
		Items: []d.OrderItem{
			{ServiceID: "cut", UnitPrice: dec("50"), Quantity: 1},
			{ServiceID: "blow-dry", UnitPrice: dec("30"), Quantity: 1},
		},
		Subtotal:    dec("80"),
		TotalAmount: dec("80"),
	}
}

func newFixture(o *d.Order) *fixture {
	f := &fixture{
		orders: NewMockOrders(o),
		settings: &MockSettings{Value: &d.MerchantSettings{
			TipsEnabled:          true,
			TipPercentages:       []decimal.Decimal{dec("10"), dec("15"), dec("20")},
			LoyaltyEnabled:       true,
			SplitPaymentsEnabled: true,
			Currency:             "AUD",
		}},
		journal:  NewMockJournal(),
		terminal: &MockTerminal{Reference: "ref-1"},
		loyalty:  &MockLoyalty{},
	}
	f.seq = NewSequencer(Dependencies{
		Orders:   f.orders,
		Settings: f.settings,
		Journal:  f.journal,
		Terminal: f.terminal,
		Loyalty:  f.loyalty,
	}, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}
