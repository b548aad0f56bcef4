package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	r "github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/terminal"
)

// Orders is the slice of the backend client the sequencer drives.
type Orders interface {
	GetOrder(ctx context.Context, orderID string) (*d.Order, error)
	FetchOrder(ctx context.Context, orderID string) (*d.Order, error)
	AddOrderModifier(ctx context.Context, orderID string, m d.OrderModifier) (*d.Order, error)
	UpdateOrderState(ctx context.Context, orderID string, state d.OrderState) (*d.Order, error)
	ProcessPayment(ctx context.Context, req d.PaymentRequest) (*d.Payment, error)
	ProcessSplitPayment(ctx context.Context, req d.SplitPaymentRequest) (*d.Payment, error)
}

type SettingsSource interface {
	Settings(ctx context.Context) (*d.MerchantSettings, error)
}

type TerminalDriver interface {
	Start(ctx context.Context, req terminal.StartRequest) (string, error)
	Cancel(ctx context.Context, terminalID, reference string) error
}

type LoyaltyLedger interface {
	Check(ctx context.Context, customerID string, isWalkIn bool) (*d.LoyaltyCheckResponse, error)
	Redeem(ctx context.Context, plan loyalty.Plan, orderID string, provisional *d.LoyaltyDiscount) (*d.LoyaltyDiscount, error)
}

type Dependencies struct {
	Orders   Orders
	Settings SettingsSource
	Journal  r.RepoInterface
	Terminal TerminalDriver
	Loyalty  LoyaltyLedger
	Resolver *loyalty.Resolver
}

// Sequencer runs the settlement of one order at a time: commit the pending adjustment,
// redeem and commit the loyalty reward, lock, then charge.
type Sequencer struct {
	orders         Orders
	settings       SettingsSource
	journal        r.RepoInterface
	terminal       TerminalDriver
	loyalty        LoyaltyLedger
	resolver       *loyalty.Resolver
	guard          *inflightGuard
	book           *snapshotBook
	awaiting       *terminalRegistry
	paymentTimeout time.Duration
	logger         *slog.Logger
	newKey         func() string
	now            func() time.Time
}

func NewSequencer(deps Dependencies, paymentTimeout time.Duration, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = loyalty.NewResolver(logger)
	}
	return &Sequencer{
		orders:         deps.Orders,
		settings:       deps.Settings,
		journal:        deps.Journal,
		terminal:       deps.Terminal,
		loyalty:        deps.Loyalty,
		resolver:       resolver,
		guard:          newInflightGuard(),
		book:           newSnapshotBook(),
		awaiting:       newTerminalRegistry(),
		paymentTimeout: paymentTimeout,
		logger:         logger,
		newKey:         uuid.NewString,
		now:            time.Now,
	}
}
