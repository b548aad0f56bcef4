package terminal

import (
	"context"

	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
)

const (
	bridgeServiceName = "heya.terminal.v1.TerminalBridge"
	resultServiceName = "heya.terminal.v1.TerminalResults"

	startPaymentMethod  = "/" + bridgeServiceName + "/StartPayment"
	cancelPaymentMethod = "/" + bridgeServiceName + "/CancelPayment"
	reportResultMethod  = "/" + resultServiceName + "/ReportResult"
)

type StartPaymentRequest struct {
	TerminalID  string          `json:"terminalId"`
	OrderID     string          `json:"orderId"`
	Reference   string          `json:"reference"`
	Amount      decimal.Decimal `json:"amount"`
	TipAmount   decimal.Decimal `json:"tipAmount"`
	CallbackURL string          `json:"callbackUrl,omitempty"`
}

type StartPaymentResponse struct {
	Reference string            `json:"reference"`
	Accepted  bool              `json:"accepted"`
	Outcome   d.TerminalOutcome `json:"outcome,omitempty"`
	Message   string            `json:"message,omitempty"`
}

type CancelPaymentRequest struct {
	TerminalID string `json:"terminalId"`
	Reference  string `json:"reference"`
}

type CancelPaymentResponse struct {
	Cancelled bool `json:"cancelled"`
}

type ReportResultResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	OrderState   string `json:"orderState,omitempty"`
}

// BridgeServer is implemented by the terminal bridge. The checkout service only runs it
// in tests and in the local simulator.
type BridgeServer interface {
	StartPayment(ctx context.Context, req *StartPaymentRequest) (*StartPaymentResponse, error)
	CancelPayment(ctx context.Context, req *CancelPaymentRequest) (*CancelPaymentResponse, error)
}

// ResultServer receives terminal outcomes pushed back by the bridge.
type ResultServer interface {
	ReportResult(ctx context.Context, req *d.TerminalResult) (*ReportResultResponse, error)
}

func unaryHandler[Req any, Resp any, S any](call func(S, context.Context, *Req) (*Resp, error), fullMethod string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: bridgeServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StartPayment",
			Handler:    unaryHandler(BridgeServer.StartPayment, startPaymentMethod),
		},
		{
			MethodName: "CancelPayment",
			Handler:    unaryHandler(BridgeServer.CancelPayment, cancelPaymentMethod),
		},
	},
	Metadata: "terminal_bridge.json",
}

var resultServiceDesc = grpc.ServiceDesc{
	ServiceName: resultServiceName,
	HandlerType: (*ResultServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ReportResult",
			Handler:    unaryHandler(ResultServer.ReportResult, reportResultMethod),
		},
	},
	Metadata: "terminal_bridge.json",
}

func RegisterBridgeServer(s grpc.ServiceRegistrar, srv BridgeServer) {
	s.RegisterService(&bridgeServiceDesc, srv)
}

func RegisterResultServer(s grpc.ServiceRegistrar, srv ResultServer) {
	s.RegisterService(&resultServiceDesc, srv)
}

// BridgeClient calls the bridge over an existing connection. ReportResult targets the
// results service and is what the bridge (or the simulator) calls on us.
type BridgeClient struct {
	cc grpc.ClientConnInterface
}

func NewBridgeClient(cc grpc.ClientConnInterface) *BridgeClient {
	return &BridgeClient{cc: cc}
}

func (c *BridgeClient) StartPayment(ctx context.Context, req *StartPaymentRequest, opts ...grpc.CallOption) (*StartPaymentResponse, error) {
	out := new(StartPaymentResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, startPaymentMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BridgeClient) CancelPayment(ctx context.Context, req *CancelPaymentRequest, opts ...grpc.CallOption) (*CancelPaymentResponse, error) {
	out := new(CancelPaymentResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, cancelPaymentMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BridgeClient) ReportResult(ctx context.Context, req *d.TerminalResult, opts ...grpc.CallOption) (*ReportResultResponse, error) {
	out := new(ReportResultResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
	if err := c.cc.Invoke(ctx, reportResultMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
