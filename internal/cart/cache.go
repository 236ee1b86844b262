package cart

import (
	"context"
	"errors"
)

var ErrCacheMiss = errors.New("cart cache miss")

// Cache holds read copies of carts keyed by customer. It is never
// authoritative; mutations invalidate the entry.
type Cache interface {
	Get(ctx context.Context, customerID int64) (Cart, error)
	Set(ctx context.Context, c Cart) error
	Delete(ctx context.Context, customerID int64) error
}

// NopCache always misses. Used when redis is not configured.
type NopCache struct{}

func (NopCache) Get(context.Context, int64) (Cart, error) { return Cart{}, ErrCacheMiss }
func (NopCache) Set(context.Context, Cart) error          { return nil }
func (NopCache) Delete(context.Context, int64) error      { return nil }
