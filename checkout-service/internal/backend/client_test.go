package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/cache"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const orderJSON = `{
	"id": "order-1",
	"orderNumber": "ORD-0001",
	"status": "draft",
	"items": [
		{"id": "i1", "itemId": "svc-cut", "serviceName": "Cut", "price": "50.00", "quantity": 1},
		{"id": "i2", "serviceId": "svc-dry", "name": "Blow dry", "totalPrice": 60, "quantity": 2}
	],
	"modifiers": [
		{"id": "m1", "type": "discount", "calculation": "PERCENTAGE", "amount": 10, "description": "10% discount"}
	],
	"subtotal": "110.00",
	"total": "99.00",
	"amountPaid": "0"
}`

type fakeTokens struct {
	mu        sync.Mutex
	current   string
	refreshed int
	next      string
}

func (f *fakeTokens) Token(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *fakeTokens) ForceRefresh(context.Context, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
	f.current = f.next
	return f.current, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.Backoff = time.Millisecond
	cfg.HTTPClient = srv.Client()
	cfg.Breaker.ConsecutiveFailures = 100
	return NewClient(cfg, cache.NewMemoryCache(), nil), srv
}

func newTimedClient(t *testing.T, timeout time.Duration, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.Timeout = timeout
	cfg.Backoff = time.Millisecond
	cfg.HTTPClient = srv.Client()
	cfg.Breaker.ConsecutiveFailures = 100
	return NewClient(cfg, cache.NewMemoryCache(), nil)
}

func TestGetOrder_NormalizesAliases(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/orders/order-1", r.URL.Path)
		w.Write([]byte(orderJSON))
	})

	o, err := client.GetOrder(context.Background(), "order-1")

	require.NoError(t, err)
	assert.Equal(t, d.OrderStateDraft, o.State)
	require.Len(t, o.Items, 2)
	assert.Equal(t, "svc-cut", o.Items[0].ServiceID)
	assert.Equal(t, "Cut", o.Items[0].Name)
	assert.True(t, decimal.NewFromInt(50).Equal(o.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(30).Equal(o.Items[1].UnitPrice))
	require.Len(t, o.Modifiers, 1)
	assert.Equal(t, d.ModifierDiscount, o.Modifiers[0].Type)
	assert.True(t, decimal.NewFromInt(10).Equal(o.Modifiers[0].Value))
	assert.True(t, decimal.NewFromInt(99).Equal(o.TotalAmount))
	assert.True(t, o.PaidAmount.IsZero())
}

func TestDecodeOrder_EnvelopeAndPaymentsFallback(t *testing.T) {
	body := []byte(`{"order": {"id": "o-2", "state": "LOCKED", "items": [{"serviceId": "s", "unitPrice": 20, "quantity": 1}],
		"payments": [{"id": "p1", "amount": "5", "method": "cash", "status": "COMPLETED", "metadata": {"cashReceived": 10}},
		             {"id": "p2", "amount": "7", "method": "card", "status": "FAILED"}]}}`)

	o, err := decodeOrder(body)

	require.NoError(t, err)
	assert.Equal(t, d.OrderStateLocked, o.State)
	assert.True(t, decimal.NewFromInt(5).Equal(o.PaidAmount))
	assert.Equal(t, "10", o.Payments[0].Metadata["cashReceived"])
	assert.Equal(t, d.PaymentMethodCash, o.Payments[0].Method)
}

func TestDecodeOrder_MissingID(t *testing.T) {
	_, err := decodeOrder([]byte(`{"items": []}`))
	assert.Error(t, err)
}

func TestGetOrder_CachedUntilMutation(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			hits.Add(1)
		}
		w.Write([]byte(orderJSON))
	})
	ctx := context.Background()

	_, err := client.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	_, err = client.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, hits.Load())

	_, err = client.AddOrderModifier(ctx, "order-1", d.OrderModifier{
		Type: d.ModifierDiscount, Calculation: d.CalculationFixed, Value: decimal.NewFromInt(5), Description: "$5.00 discount",
	})
	require.NoError(t, err)

	_, err = client.GetOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, hits.Load())

	_, err = client.FetchOrder(ctx, "order-1")
	require.NoError(t, err)
	assert.EqualValues(t, 3, hits.Load())
}

func TestUnauthorized_RefreshesOnceAndReplays(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(orderJSON))
	})
	tokens := &fakeTokens{current: "stale", next: "fresh"}
	client.SetTokenProvider(tokens)

	o, err := client.GetOrder(context.Background(), "order-1")

	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
	assert.Equal(t, 1, tokens.refreshed)
	assert.EqualValues(t, 2, calls.Load())
}

func TestUnauthorized_SecondRejectionIsReturned(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	tokens := &fakeTokens{current: "stale", next: "still-bad"}
	client.SetTokenProvider(tokens)

	_, err := client.UpdateOrderState(context.Background(), "order-1", d.OrderStateLocked)

	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 1, tokens.refreshed)
	assert.EqualValues(t, 2, calls.Load())
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantMsg  string
		sentinel error
	}{
		{"server message", http.StatusConflict, `{"message": "Order is locked", "code": "ORDER_LOCKED"}`, "Order is locked", ErrStateConflict},
		{"state code without 409", http.StatusBadRequest, `{"message": "bad state", "code": "INVALID_STATE"}`, "bad state", ErrStateConflict},
		{"error field", http.StatusBadRequest, `{"error": "value must be positive"}`, "value must be positive", ErrValidation},
		{"message list", http.StatusUnprocessableEntity, `{"message": ["a", "b"]}`, "a; b", ErrValidation},
		{"generic 404", http.StatusNotFound, ``, "The requested resource was not found", ErrNotFound},
		{"generic 500", http.StatusInternalServerError, `<html>`, "Server error, please try again", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.UpdateOrderState(context.Background(), "order-1", d.OrderStateLocked)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.wantMsg, Message(err))
			if tt.sentinel != nil {
				assert.ErrorIs(t, err, tt.sentinel)
			}
		})
	}
}

func TestRetry_GetRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(orderJSON))
	})

	_, err := client.GetOrder(context.Background(), "order-1")

	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRetry_MutationsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.ProcessPayment(context.Background(), d.PaymentRequest{
		OrderID: "order-1", Amount: decimal.NewFromInt(10), Method: d.PaymentMethodCash,
	})

	assert.Error(t, err)
	assert.EqualValues(t, 1, calls.Load())
}

func TestProcessPayment_SendsIdempotencyKey(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/payments/process", r.URL.Path)
		assert.Equal(t, "key-123", r.Header.Get("Idempotency-Key"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "CASH", req["method"])
		assert.Equal(t, "12.5", req["amount"])

		w.Write([]byte(`{"payment": {"id": "pay-1", "orderId": "order-1", "amount": 12.5, "method": "CASH", "status": "COMPLETED"}}`))
	})

	p, err := client.ProcessPayment(context.Background(), d.PaymentRequest{
		OrderID: "order-1", Amount: decimal.RequireFromString("12.5"), Method: d.PaymentMethodCash, IdempotencyKey: "key-123",
	})

	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.ID)
	assert.Equal(t, d.PaymentStatusCompleted, p.Status)
}

func TestRequestTimeout_PaymentIsBoundedByCallerOnly(t *testing.T) {
	client := newTimedClient(t, 20*time.Millisecond, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		if r.URL.Path == "/api/v1/payments/process" {
			w.Write([]byte(`{"payment": {"id": "pay-1", "orderId": "order-1", "amount": 80, "method": "CARD", "status": "COMPLETED"}}`))
			return
		}
		w.Write([]byte(orderJSON))
	})

	payCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	p, err := client.ProcessPayment(payCtx, d.PaymentRequest{
		OrderID: "order-1", Amount: decimal.NewFromInt(80), Method: d.PaymentMethodCard, IdempotencyKey: "key-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "pay-1", p.ID)

	_, err = client.UpdateOrderState(context.Background(), "order-1", d.OrderStateLocked)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestTimeout_PaymentStillEndsWithCaller(t *testing.T) {
	client := newTimedClient(t, time.Second, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
	})

	payCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.ProcessPayment(payCtx, d.PaymentRequest{
		OrderID: "order-1", Amount: decimal.NewFromInt(80), Method: d.PaymentMethodCard, IdempotencyKey: "key-1",
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOrder_CancelledCallerDoesNotFailJoinedCallers(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	var hits atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		once.Do(func() { close(entered) })
		<-release
		w.Write([]byte(orderJSON))
	})

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := client.GetOrder(first, "order-1")
		firstErr <- err
	}()
	<-entered

	type result struct {
		order *d.Order
		err   error
	}
	second := make(chan result, 1)
	go func() {
		o, err := client.GetOrder(context.Background(), "order-1")
		second <- result{o, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "order-1", got.order.ID)
	assert.EqualValues(t, 1, hits.Load())
}

func TestPrepareOrder_ValidationNeverReachesNetwork(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.PrepareOrderForPayment(context.Background(), PrepareRequest{
		Items: []PrepareItem{{ServiceID: "svc-1", Quantity: 1}, {Quantity: 1}},
	})

	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, calls.Load())
}

func TestPrepareOrder_UsesV2(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v2/payments/prepare-order", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"isWalkIn":true`)
		w.Write([]byte(`{"order": ` + orderJSON + `}`))
	})

	o, err := client.PrepareOrderForPayment(context.Background(), PrepareRequest{
		Items:    []PrepareItem{{ServiceID: "svc-cut", Quantity: 1, Price: decimal.NewFromInt(50)}},
		IsWalkIn: true,
	})

	require.NoError(t, err)
	assert.Equal(t, "order-1", o.ID)
}

func TestNetworkError(t *testing.T) {
	client, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	_, err := client.UpdateOrderState(context.Background(), "order-1", d.OrderStateLocked)

	assert.ErrorIs(t, err, ErrNetwork)
	assert.Equal(t, "Unable to reach the server, check your connection", Message(err))
}

func TestUpdateOrderState_RejectsClientSideStates(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not be called")
	})

	_, err := client.UpdateOrderState(context.Background(), "order-1", d.OrderStatePaid)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLoyaltyAndSettings(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/loyalty/customers/cust-1/check":
			w.Write([]byte(`{"hasProgram": true, "type": "VISITS", "rewardAvailable": true, "rewardType": "FREE_SERVICE", "rewardValue": null}`))
		case "/api/v1/loyalty/redeem-points":
			w.Write([]byte(`{"data": {"success": true, "dollarValue": "4.50", "remainingPoints": 150}}`))
		case "/api/v1/merchant/settings":
			w.Write([]byte(`{"settings": {"tipsEnabled": true, "loyaltyEnabled": true}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	check, err := client.CheckLoyalty(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, check.RewardAvailable)
	assert.Equal(t, d.RewardFreeService, check.RewardType)

	points, err := client.RedeemPoints(ctx, "cust-1", 50, "order-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("4.50").Equal(points.DollarValue))

	settings, err := client.GetMerchantSettings(ctx)
	require.NoError(t, err)
	assert.True(t, settings.TipsEnabled)
	assert.Len(t, settings.TipPercentages, 3)
	assert.False(t, settings.SplitPaymentsEnabled)
}

func TestRefresh_IsAnonymous(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"accessToken": "a2", "refreshToken": "r2"}`))
	})
	client.SetTokenProvider(&fakeTokens{current: "a1"})

	tokens, err := client.Refresh(context.Background(), "r1")

	require.NoError(t, err)
	assert.Equal(t, "a2", tokens.AccessToken)
	assert.Equal(t, "r2", tokens.RefreshToken)
}
