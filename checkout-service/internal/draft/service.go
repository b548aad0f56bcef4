package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	d "github.com/nirvana9010/heya-pos/checkout-service/domain"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/catalog"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/pricing"
	"github.com/nirvana9010/heya-pos/pkg/logger"
)

type Catalog interface {
	GetService(ctx context.Context, id string) (*catalog.Service, error)
}

type OrderPreparer interface {
	PrepareOrderForPayment(ctx context.Context, req backend.PrepareRequest) (*d.Order, error)
}

type Service struct {
	store   Store
	catalog Catalog
	orders  OrderPreparer
	logger  *slog.Logger
}

func NewService(store Store, cat Catalog, orders OrderPreparer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		catalog: cat,
		orders:  orders,
		logger:  log,
	}
}

// Create stores a new draft under a fresh id. Line names are filled from the catalog.
func (s *Service) Create(ctx context.Context, in *Draft) (*Draft, error) {
	in.ID = uuid.NewString()
	in.OrderID = ""
	return s.save(ctx, in)
}

// Put replaces the draft with id. An id that does not exist yet is created.
func (s *Service) Put(ctx context.Context, id string, in *Draft) (*Draft, error) {
	if id == "" {
		return nil, pricing.ValidationError{Field: "id", Message: "draft id is required"}
	}
	in.ID = id
	in.OrderID = ""
	if existing, err := s.store.Get(ctx, id); err == nil {
		if existing.CheckedOut() {
			return nil, ErrAlreadyCheckout
		}
		in.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, ErrDraftNotFound) {
		return nil, err
	}
	return s.save(ctx, in)
}

func (s *Service) save(ctx context.Context, in *Draft) (*Draft, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	for i := range in.Lines {
		if in.Lines[i].Name != "" {
			continue
		}
		svc, err := s.catalog.GetService(ctx, in.Lines[i].ServiceID)
		if errors.Is(err, catalog.ErrServiceNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		in.Lines[i].Name = svc.Name
	}
	if err := s.store.Save(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Draft, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

// Checkout prices the draft's lines and asks the backend for an order ready for payment.
// Lines without an explicit price take the catalog price; an unknown service is a
// validation error.
func (s *Service) Checkout(ctx context.Context, id string) (*d.Order, error) {
	dr, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if dr.CheckedOut() {
		return nil, ErrAlreadyCheckout
	}
	if len(dr.Lines) == 0 {
		return nil, pricing.ValidationError{Field: "lines", Message: "a quick sale needs at least one service"}
	}
	if err := dr.Validate(); err != nil {
		return nil, err
	}

	req := backend.PrepareRequest{
		CustomerID: dr.CustomerID,
		IsWalkIn:   d.IsWalkIn(dr.CustomerID, dr.IsWalkIn),
		Items:      make([]backend.PrepareItem, 0, len(dr.Lines)),
	}
	if req.IsWalkIn {
		req.CustomerID = ""
	}
	for i, l := range dr.Lines {
		item := backend.PrepareItem{
			ServiceID: l.ServiceID,
			StaffID:   l.StaffID,
			Quantity:  l.Quantity,
			Discount:  l.Discount,
		}
		if l.Price != nil {
			item.Price = *l.Price
		} else {
			svc, err := s.catalog.GetService(ctx, l.ServiceID)
			if errors.Is(err, catalog.ErrServiceNotFound) {
				return nil, pricing.ValidationError{
					Field:   fmt.Sprintf("lines[%d].serviceId", i),
					Message: fmt.Sprintf("service %s is not in the catalog", l.ServiceID),
				}
			}
			if err != nil {
				return nil, err
			}
			item.Price = svc.Price
		}
		req.Items = append(req.Items, item)
	}

	order, err := s.orders.PrepareOrderForPayment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare order: %w", err)
	}

	if err := s.store.MarkCheckedOut(ctx, dr.ID, order.ID); err != nil {
		s.logger.Error("order prepared but draft not marked",
			"draft_id", dr.ID,
			"order_id", order.ID,
			logger.Err(err))
	}
	s.logger.Info("quick sale sent to checkout", "draft_id", dr.ID, "order_id", order.ID, "lines", len(req.Items))
	return order, nil
}
