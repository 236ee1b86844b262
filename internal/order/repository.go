package order

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/cart"
)

var (
	ErrNotFound          = errors.New("order not found")
	ErrNotPayable        = errors.New("order is not payable")
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// BuildFunc turns the locked cart into the order to persist. Returning an
// error aborts the checkout and leaves the cart untouched.
type BuildFunc func(c cart.Cart) (Order, error)

// PaymentAttachment records a provider session against a PENDING order and
// reserves its unique artworks until ReserveUntil.
type PaymentAttachment struct {
	OrderID      int64
	Provider     string
	Reference    string
	Status       Status
	ReserveUntil time.Time
}

type Repository interface {
	// Checkout creates the order and deletes the source cart atomically.
	Checkout(ctx context.Context, customerID int64, build BuildFunc) (Order, error)
	GetByID(ctx context.Context, id int64) (Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (Order, error)
	ListByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]Order, error)
	// AttachPayment returns ErrNotPayable unless the order is PENDING and
	// artwork.ErrUnavailable when a unique artwork is held elsewhere.
	AttachPayment(ctx context.Context, p PaymentAttachment) (Order, error)
	// UpdateStatus releases the order's artwork holds when next is
	// CANCELLED or FAILED.
	UpdateStatus(ctx context.Context, id int64, next Status) (Order, error)
}

// InMemoryRepository consumes carts from a cart.InMemoryRepository and
// reserves artworks in an artwork.InMemoryRepository.
type InMemoryRepository struct {
	mu       sync.Mutex
	orders   map[int64]Order
	nextID   int64
	nextItem int64
	carts    *cart.InMemoryRepository
	artworks *artwork.InMemoryRepository
	now      func() time.Time

	// FailBeforeCartDelete, when set, is returned after the order is built
	// and before the cart is removed.
	FailBeforeCartDelete error
}

func NewInMemoryRepository(carts *cart.InMemoryRepository, artworks *artwork.InMemoryRepository) *InMemoryRepository {
	return &InMemoryRepository{
		orders:   make(map[int64]Order),
		carts:    carts,
		artworks: artworks,
		now:      time.Now,
	}
}

func (r *InMemoryRepository) Checkout(_ context.Context, customerID int64, build BuildFunc) (Order, error) {
	var created Order
	err := r.carts.Consume(customerID, func(c cart.Cart) error {
		o, err := build(c)
		if err != nil {
			return err
		}
		if r.FailBeforeCartDelete != nil {
			return r.FailBeforeCartDelete
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		r.nextID++
		now := r.now()
		o.ID = r.nextID
		o.Status = StatusPending
		o.CreatedAt, o.UpdatedAt = now, now
		for i := range o.Items {
			r.nextItem++
			o.Items[i].ID = r.nextItem
			o.Items[i].OrderID = o.ID
		}
		r.orders[o.ID] = o
		created = clone(o)
		return nil
	})
	return created, err
}

func (r *InMemoryRepository) GetByID(_ context.Context, id int64) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return clone(o), nil
}

func (r *InMemoryRepository) GetByPaymentReference(_ context.Context, reference string) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if reference != "" && o.PaymentReference == reference {
			return clone(o), nil
		}
	}
	return Order{}, ErrNotFound
}

func (r *InMemoryRepository) ListByCustomer(_ context.Context, customerID int64) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range r.orders {
		if o.CustomerID == customerID {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *InMemoryRepository) ListAwaitingPayment(_ context.Context, before time.Time, limit int) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Order, 0)
	for _, o := range r.orders {
		if o.PaymentReference == "" || o.UpdatedAt.After(before) {
			continue
		}
		if o.Status == StatusPending || o.Status == StatusProcessing {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *InMemoryRepository) AttachPayment(_ context.Context, p PaymentAttachment) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[p.OrderID]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !o.IsPayable() {
		return Order{}, ErrNotPayable
	}
	if err := r.artworks.Reserve(o.ID, o.ArtworkIDs(), p.ReserveUntil); err != nil {
		return Order{}, err
	}
	o.PaymentReference = p.Reference
	o.PaymentProvider = p.Provider
	if p.Status != "" {
		o.Status = p.Status
	}
	o.UpdatedAt = r.now()
	r.orders[o.ID] = o
	return clone(o), nil
}

func (r *InMemoryRepository) UpdateStatus(_ context.Context, id int64, next Status) (Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	if !o.Status.CanTransitionTo(next) {
		return Order{}, ErrInvalidTransition
	}
	o.Status = next
	o.UpdatedAt = r.now()
	r.orders[id] = o
	if next == StatusCancelled || next == StatusFailed {
		r.artworks.Release(id)
	}
	return clone(o), nil
}

func clone(o Order) Order {
	items := make([]Item, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}
