package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

var (
	ErrDeclined    = errors.New("card declined")
	ErrCancelled   = errors.New("payment cancelled on the terminal")
	ErrTimeout     = errors.New("terminal timed out waiting for the card")
	ErrUnavailable = errors.New("card terminal is unavailable")
	ErrNotPaired   = errors.New("no card terminal is paired with this device")
	ErrRejected    = errors.New("terminal rejected the payment request")
)

// OutcomeError maps a terminal outcome onto the error the operator sees. APPROVED maps
// to nil.
func OutcomeError(o d.TerminalOutcome) error {
	switch o {
	case d.TerminalApproved:
		return nil
	case d.TerminalDeclined:
		return ErrDeclined
	case d.TerminalCancelled:
		return ErrCancelled
	case d.TerminalTimeout:
		return ErrTimeout
	case d.TerminalUnavailable:
		return ErrUnavailable
	case d.TerminalNotPaired:
		return ErrNotPaired
	default:
		return fmt.Errorf("%w: unknown outcome %q", ErrRejected, o)
	}
}

// Alarming reports whether the error should be presented as a failure. A customer
// cancelling on the terminal is routine.
func Alarming(err error) bool {
	return err != nil && !errors.Is(err, ErrCancelled)
}

// UserMessage is the operator-facing text for a terminal error.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return "Payment approved"
	case errors.Is(err, ErrDeclined):
		return "Card was declined. Ask the customer for another payment method."
	case errors.Is(err, ErrCancelled):
		return "Payment was cancelled on the terminal."
	case errors.Is(err, ErrTimeout):
		return "The terminal timed out. The order is still open, you can try again."
	case errors.Is(err, ErrUnavailable):
		return "The card terminal is offline. Check that it is powered on and connected."
	case errors.Is(err, ErrNotPaired):
		return "No card terminal is paired. Pair a terminal in settings first."
	default:
		return "The terminal could not take this payment."
	}
}

// Driver hands payments to the card terminal. It only starts and cancels; the outcome
// arrives later through the results service.
type Driver struct {
	client  *BridgeClient
	timeout time.Duration
	logger  *slog.Logger
}

func NewDriver(client *BridgeClient, timeout time.Duration, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{client: client, timeout: timeout, logger: logger}
}

// Dial connects to the bridge with tracing enabled.
func Dial(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to terminal bridge: %w", err)
	}
	return conn, nil
}

type StartRequest struct {
	TerminalID string
	OrderID    string
	Amount     decimal.Decimal
	TipAmount  decimal.Decimal
}

// Start asks the terminal to collect a payment and returns the reference the result
// will carry.
func (dr *Driver) Start(ctx context.Context, req StartRequest) (string, error) {
	reference := uuid.NewString()

	startCtx, cancel := context.WithTimeout(ctx, dr.timeout)
	defer cancel()
	resp, err := dr.client.StartPayment(startCtx, &StartPaymentRequest{
		TerminalID: req.TerminalID,
		OrderID:    req.OrderID,
		Reference:  reference,
		Amount:     req.Amount,
		TipAmount:  req.TipAmount,
	})
	if err != nil {
		return "", fromStatus(err)
	}
	if !resp.Accepted {
		if outcomeErr := OutcomeError(resp.Outcome); resp.Outcome != "" && outcomeErr != nil {
			return "", outcomeErr
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Message)
	}
	if resp.Reference != "" {
		reference = resp.Reference
	}
	dr.logger.InfoContext(ctx, "terminal payment started",
		"order_id", req.OrderID,
		"terminal_id", req.TerminalID,
		"reference", reference,
		"amount", req.Amount.StringFixed(2))
	return reference, nil
}

func (dr *Driver) Cancel(ctx context.Context, terminalID, reference string) error {
	cancelCtx, cancel := context.WithTimeout(ctx, dr.timeout)
	defer cancel()
	resp, err := dr.client.CancelPayment(cancelCtx, &CancelPaymentRequest{TerminalID: terminalID, Reference: reference})
	if err != nil {
		return fromStatus(err)
	}
	if !resp.Cancelled {
		return fmt.Errorf("%w: payment %s could not be cancelled", ErrRejected, reference)
	}
	return nil
}

func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	switch st.Code() {
	case codes.Unavailable:
		return fmt.Errorf("%w: %s", ErrUnavailable, st.Message())
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: %s", ErrTimeout, st.Message())
	case codes.FailedPrecondition:
		return fmt.Errorf("%w: %s", ErrNotPaired, st.Message())
	case codes.Canceled:
		return fmt.Errorf("%w: %s", ErrCancelled, st.Message())
	default:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	}
}
