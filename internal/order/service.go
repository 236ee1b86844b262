package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/wichananm65/art-market-backend/internal/address"
	"github.com/wichananm65/art-market-backend/internal/apperr"
	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/cart"
	"github.com/wichananm65/art-market-backend/internal/metrics"
)

// totalTolerance absorbs client-side floating point rounding of the
// declared checkout total.
var totalTolerance = decimal.RequireFromString("0.1")

type Catalog interface {
	GetAvailability(ctx context.Context, artworkID int64) (artwork.Availability, error)
}

type AddressChecker interface {
	EnsureOwned(ctx context.Context, customerID, addressID int64) (address.Address, error)
}

// CartInvalidator drops cached cart reads after checkout consumed the cart.
type CartInvalidator interface {
	Invalidate(ctx context.Context, customerID int64)
}

type CheckoutInput struct {
	DeclaredTotal     decimal.Decimal
	ShippingAddressID *int64
}

type Service struct {
	repo      Repository
	catalog   Catalog
	addresses AddressChecker
	carts     CartInvalidator
	currency  string
	metrics   *metrics.Metrics
	log       *zap.Logger
}

type Option func(*Service)

func WithCartInvalidator(c CartInvalidator) Option { return func(s *Service) { s.carts = c } }
func WithMetrics(m *metrics.Metrics) Option        { return func(s *Service) { s.metrics = m } }
func WithLogger(l *zap.Logger) Option              { return func(s *Service) { s.log = l } }

func NewService(repo Repository, catalog Catalog, addresses AddressChecker, currency string, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		catalog:   catalog,
		addresses: addresses,
		currency:  currency,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout freezes the customer's cart into a PENDING order. The cart is
// deleted in the same transaction that creates the order.
func (s *Service) Checkout(ctx context.Context, customerID int64, in CheckoutInput) (Order, error) {
	if in.ShippingAddressID != nil {
		if _, err := s.addresses.EnsureOwned(ctx, customerID, *in.ShippingAddressID); err != nil {
			if errors.Is(err, address.ErrNotFound) || errors.Is(err, address.ErrNotOwner) {
				return Order{}, apperr.Validation("Shipping address not found")
			}
			return Order{}, apperr.Internal(err)
		}
	}

	o, err := s.repo.Checkout(ctx, customerID, func(c cart.Cart) (Order, error) {
		return s.build(ctx, c, in)
	})
	if err != nil {
		s.metrics.Checkout(checkoutResult(err))
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return Order{}, err
		}
		return Order{}, apperr.Internal(err)
	}
	s.metrics.Checkout("created")
	if s.carts != nil {
		s.carts.Invalidate(ctx, customerID)
	}
	s.log.Info("order created",
		zap.Int64("order_id", o.ID),
		zap.Int64("customer_id", customerID),
		zap.String("total", o.TotalAmount.StringFixed(2)),
	)
	return o, nil
}

func (s *Service) build(ctx context.Context, c cart.Cart, in CheckoutInput) (Order, error) {
	if c.IsEmpty() {
		return Order{}, apperr.Validation("Cart is empty")
	}
	total := c.ComputeTotal()
	if total.Sub(in.DeclaredTotal).Abs().GreaterThan(totalTolerance) {
		return Order{}, apperr.Validation("Order total does not match cart total")
	}

	items := make([]Item, 0, len(c.Items))
	for _, line := range c.Items {
		av, err := s.catalog.GetAvailability(ctx, line.ArtworkID)
		if errors.Is(err, artwork.ErrNotFound) {
			return Order{}, apperr.Validation("Artwork is no longer available")
		}
		if err != nil {
			return Order{}, fmt.Errorf("artwork %d availability: %w", line.ArtworkID, err)
		}
		if !av.IsAvailable {
			return Order{}, apperr.Validation("Artwork is no longer available")
		}
		items = append(items, Item{
			ArtworkID: line.ArtworkID,
			Title:     line.Title,
			Quantity:  line.Quantity,
			Price:     line.Price,
		})
	}
	return Order{
		CustomerID:        c.CustomerID,
		ShippingAddressID: in.ShippingAddressID,
		TotalAmount:       total,
		Currency:          s.currency,
		Status:            StatusPending,
		Items:             items,
	}, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID, customerID int64) (Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		return Order{}, apperr.NotFound("Order not found")
	}
	if err != nil {
		return Order{}, apperr.Internal(err)
	}
	if o.CustomerID != customerID {
		return Order{}, apperr.Unauthorized("You do not have permission to view this order")
	}
	return o, nil
}

func (s *Service) ListOrders(ctx context.Context, customerID int64) ([]Order, error) {
	orders, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return orders, nil
}

// CancelOrder cancels a PENDING order owned by the customer.
func (s *Service) CancelOrder(ctx context.Context, orderID, customerID int64) (Order, error) {
	o, err := s.GetOrder(ctx, orderID, customerID)
	if err != nil {
		return Order{}, err
	}
	if o.Status != StatusPending {
		return Order{}, apperr.Conflict("Only pending orders can be cancelled")
	}
	o, err = s.repo.UpdateStatus(ctx, orderID, StatusCancelled)
	if errors.Is(err, ErrInvalidTransition) {
		return Order{}, apperr.Conflict("Only pending orders can be cancelled")
	}
	if err != nil {
		return Order{}, apperr.Internal(err)
	}
	s.log.Info("order cancelled", zap.Int64("order_id", orderID))
	return o, nil
}

func checkoutResult(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return "rejected"
	default:
		return "error"
	}
}
