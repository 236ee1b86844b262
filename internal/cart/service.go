package cart

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wichananm65/art-market-backend/internal/apperr"
	"github.com/wichananm65/art-market-backend/internal/artwork"
)

// Catalog is the artwork lookup the cart depends on.
type Catalog interface {
	GetAvailability(ctx context.Context, artworkID int64) (artwork.Availability, error)
}

// AddItemInput is the customer's add-to-cart request. Price, when present,
// is the price the customer saw and must still match the catalog.
type AddItemInput struct {
	ArtworkID int64
	Quantity  int
	Price     *decimal.Decimal
}

type Service struct {
	repo    Repository
	catalog Catalog
	cache   Cache
	log     *zap.Logger
	sfg     singleflight.Group
}

func NewService(repo Repository, catalog Catalog, cache Cache, logger *zap.Logger) *Service {
	if cache == nil {
		cache = NopCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, catalog: catalog, cache: cache, log: logger}
}

var (
	errNoPermission   = apperr.Unauthorized("You do not have permission to modify this item")
	errUniqueQuantity = apperr.Validation("Unique artwork quantity cannot exceed 1")
)

func (s *Service) AddItem(ctx context.Context, customerID int64, in AddItemInput) (Cart, error) {
	if in.Quantity == 0 {
		in.Quantity = 1
	}
	if in.Quantity < 1 {
		return Cart{}, apperr.Validation("Quantity must be at least 1")
	}

	av, err := s.catalog.GetAvailability(ctx, in.ArtworkID)
	if errors.Is(err, artwork.ErrNotFound) {
		return Cart{}, apperr.NotFound("Artwork not found")
	}
	if err != nil {
		return Cart{}, apperr.Internal(err)
	}
	if !av.IsAvailable {
		return Cart{}, apperr.Validation("Artwork is not available")
	}
	if in.Price != nil && !in.Price.Equal(av.Price) {
		return Cart{}, apperr.Validation("Artwork price has changed")
	}
	if av.IsUnique && in.Quantity > 1 {
		return Cart{}, errUniqueQuantity
	}

	c, err := s.repo.AddItem(ctx, customerID, NewItem{
		ArtworkID: in.ArtworkID,
		Title:     av.Title,
		Quantity:  in.Quantity,
		Price:     av.Price,
		Unique:    av.IsUnique,
	})
	if errors.Is(err, ErrUniqueLimit) {
		return Cart{}, apperr.Validation("Unique artwork is already in the cart")
	}
	if err != nil {
		return Cart{}, apperr.Internal(err)
	}
	s.invalidate(ctx, customerID)
	return c, nil
}

func (s *Service) IncrementItem(ctx context.Context, customerID, itemID int64) (Cart, error) {
	return s.adjust(ctx, customerID, itemID, 1)
}

func (s *Service) DecrementItem(ctx context.Context, customerID, itemID int64) (Cart, error) {
	return s.adjust(ctx, customerID, itemID, -1)
}

func (s *Service) DeleteItem(ctx context.Context, customerID, itemID int64) (Cart, error) {
	c, err := s.repo.DeleteItem(ctx, customerID, itemID)
	if err != nil {
		return Cart{}, mapItemError(err)
	}
	s.invalidate(ctx, customerID)
	return c, nil
}

// GetCart returns the customer's cart, or an empty one when none exists.
// Reads go through the cache and concurrent misses share one load.
func (s *Service) GetCart(ctx context.Context, customerID int64) (Cart, error) {
	v, err, _ := s.sfg.Do(strconv.FormatInt(customerID, 10), func() (interface{}, error) {
		c, err := s.cache.Get(ctx, customerID)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.Warn("cart cache get failed", zap.Int64("customer_id", customerID), zap.Error(err))
		}

		c, err = s.repo.GetCart(ctx, customerID)
		if errors.Is(err, ErrCartNotFound) {
			return emptyCart(customerID), nil
		}
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, c); err != nil {
			s.log.Warn("cart cache set failed", zap.Int64("customer_id", customerID), zap.Error(err))
		}
		return c, nil
	})
	if err != nil {
		return Cart{}, apperr.Internal(err)
	}
	return v.(Cart), nil
}

func (s *Service) GetItems(ctx context.Context, customerID int64) ([]Item, error) {
	c, err := s.GetCart(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return c.Items, nil
}

func (s *Service) adjust(ctx context.Context, customerID, itemID int64, delta int) (Cart, error) {
	c, err := s.repo.AdjustItem(ctx, customerID, itemID, delta)
	if err != nil {
		return Cart{}, mapItemError(err)
	}
	s.invalidate(ctx, customerID)
	return c, nil
}

// Invalidate drops the cached cart. Checkout calls it after consuming a cart.
func (s *Service) Invalidate(ctx context.Context, customerID int64) {
	s.invalidate(ctx, customerID)
}

func (s *Service) invalidate(ctx context.Context, customerID int64) {
	if err := s.cache.Delete(ctx, customerID); err != nil {
		s.log.Warn("cart cache invalidation failed", zap.Int64("customer_id", customerID), zap.Error(err))
	}
}

func mapItemError(err error) error {
	switch {
	case errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrNotOwner):
		return errNoPermission
	case errors.Is(err, ErrUniqueLimit):
		return errUniqueQuantity
	default:
		return apperr.Internal(err)
	}
}
