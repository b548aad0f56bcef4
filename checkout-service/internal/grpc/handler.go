package grpc

import (
	"context"
	"errors"
	"log/slog"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	s "github.com/nirvana9010/heya-pos/checkout-service/internal/service"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/terminal"
	"github.com/nirvana9010/heya-pos/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// bridgeIDKey is the metadata key a terminal bridge identifies itself with.
const bridgeIDKey = "x-bridge-id"

// TerminalCompleter is the part of the sequencer the results server drives.
type TerminalCompleter interface {
	CompleteTerminal(ctx context.Context, result *d.TerminalResult) (*s.SettlementResult, error)
}

// ResultsServer receives terminal outcomes from the bridge and settles the order.
type ResultsServer struct {
	service TerminalCompleter
	logger  *slog.Logger
}

var _ terminal.ResultServer = (*ResultsServer)(nil)

func NewResultsServer(service TerminalCompleter, log *slog.Logger) *ResultsServer {
	if log == nil {
		log = slog.Default()
	}
	return &ResultsServer{
		service: service,
		logger:  log,
	}
}

func (h *ResultsServer) ReportResult(ctx context.Context, req *d.TerminalResult) (*terminal.ReportResultResponse, error) {
	// Validate
	if req.Reference == "" {
		return nil, status.Error(codes.InvalidArgument, "reference is required")
	}
	if req.Outcome == "" {
		return nil, status.Error(codes.InvalidArgument, "outcome is required")
	}

	h.logger.InfoContext(ctx, "terminal result received",
		"reference", req.Reference,
		"outcome", req.Outcome,
		"bridge_id", bridgeID(ctx))

	res, err := h.service.CompleteTerminal(ctx, req)
	if err != nil {
		// A non-approved outcome was recorded; the bridge has nothing to retry.
		if outcomeErr := terminal.OutcomeError(req.Outcome); outcomeErr != nil && errors.Is(err, outcomeErr) {
			return &terminal.ReportResultResponse{Acknowledged: true, OrderState: string(d.OrderStateLocked)}, nil
		}
		h.logger.Error("failed to apply terminal result",
			"reference", req.Reference,
			"outcome", req.Outcome,
			logger.Err(err))
		return nil, toStatus(err)
	}

	resp := &terminal.ReportResultResponse{Acknowledged: true}
	if res.Order != nil {
		resp.OrderState = string(res.Order.State)
	}
	return resp, nil
}

func bridgeID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(bridgeIDKey); len(values) > 0 {
		return values[0]
	}
	return ""
}

// toStatus maps sequencer and backend errors onto gRPC codes.
func toStatus(err error) error {
	var ve pricing.ValidationError
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Error())
	case errors.Is(err, s.ErrUnknownReference), errors.Is(err, backend.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, s.ErrOperationInFlight), errors.Is(err, s.ErrPaymentPending):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, backend.ErrStateConflict):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, s.ErrPaymentTimeout), errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, backend.ErrNetwork):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, backend.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, err.Error())
	default:
		return status.Errorf(codes.Internal, "terminal result failed: %v", err)
	}
}
