package cart

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrItemNotFound = errors.New("cart item not found")
	ErrNotOwner     = errors.New("cart item belongs to another customer")
	ErrUniqueLimit  = errors.New("unique artwork quantity cannot exceed 1")
)

// Repository performs each cart mutation atomically, including the total
// recomputation and the ownership and unique-quantity checks. Removing the
// last line deletes the cart; the returned Cart is then empty with a zero ID.
type Repository interface {
	AddItem(ctx context.Context, customerID int64, item NewItem) (Cart, error)
	AdjustItem(ctx context.Context, customerID, itemID int64, delta int) (Cart, error)
	DeleteItem(ctx context.Context, customerID, itemID int64) (Cart, error)
	GetCart(ctx context.Context, customerID int64) (Cart, error)
}

// InMemoryRepository is used for tests and local scenarios.
type InMemoryRepository struct {
	mu         sync.Mutex
	carts      map[int64]*Cart // keyed by customer id
	nextCartID int64
	nextItemID int64
	unique     map[int64]bool // keyed by item id
	now        func() time.Time
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{carts: make(map[int64]*Cart), unique: make(map[int64]bool), now: time.Now}
}

func (r *InMemoryRepository) AddItem(_ context.Context, customerID int64, item NewItem) (Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if item.Unique && item.Quantity > 1 {
		return Cart{}, ErrUniqueLimit
	}
	c, ok := r.carts[customerID]
	if !ok {
		r.nextCartID++
		now := r.now()
		c = &Cart{ID: r.nextCartID, CustomerID: customerID, CreatedAt: now, UpdatedAt: now}
		r.carts[customerID] = c
	}
	found := false
	for i := range c.Items {
		if c.Items[i].ArtworkID == item.ArtworkID {
			if item.Unique {
				return Cart{}, ErrUniqueLimit
			}
			c.Items[i].Quantity += item.Quantity
			c.Items[i].Price = item.Price
			c.Items[i].Title = item.Title
			found = true
			break
		}
	}
	if !found {
		r.nextItemID++
		r.unique[r.nextItemID] = item.Unique
		c.Items = append(c.Items, Item{
			ID:        r.nextItemID,
			CartID:    c.ID,
			ArtworkID: item.ArtworkID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			Price:     item.Price,
		})
	}
	return r.finish(c), nil
}

func (r *InMemoryRepository) AdjustItem(_ context.Context, customerID, itemID int64, delta int) (Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, idx, err := r.locate(customerID, itemID)
	if err != nil {
		return Cart{}, err
	}
	if r.unique[itemID] && c.Items[idx].Quantity+delta > 1 {
		return Cart{}, ErrUniqueLimit
	}
	c.Items[idx].Quantity += delta
	if c.Items[idx].Quantity < 1 {
		c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	}
	return r.finish(c), nil
}

func (r *InMemoryRepository) DeleteItem(_ context.Context, customerID, itemID int64) (Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, idx, err := r.locate(customerID, itemID)
	if err != nil {
		return Cart{}, err
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	return r.finish(c), nil
}

func (r *InMemoryRepository) GetCart(_ context.Context, customerID int64) (Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.carts[customerID]
	if !ok {
		return Cart{}, ErrCartNotFound
	}
	return clone(c), nil
}

// Consume hands the customer's cart to fn while holding the lock and deletes
// the cart only when fn succeeds. A missing cart is passed as an empty one.
func (r *InMemoryRepository) Consume(customerID int64, fn func(Cart) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[customerID]
	snapshot := emptyCart(customerID)
	if ok {
		snapshot = clone(c)
	}
	if err := fn(snapshot); err != nil {
		return err
	}
	delete(r.carts, customerID)
	return nil
}

func (r *InMemoryRepository) locate(customerID, itemID int64) (*Cart, int, error) {
	for owner, c := range r.carts {
		for i, it := range c.Items {
			if it.ID != itemID {
				continue
			}
			if owner != customerID {
				return nil, 0, ErrNotOwner
			}
			return c, i, nil
		}
	}
	return nil, 0, ErrItemNotFound
}

func (r *InMemoryRepository) finish(c *Cart) Cart {
	if len(c.Items) == 0 {
		delete(r.carts, c.CustomerID)
		return emptyCart(c.CustomerID)
	}
	c.TotalAmount = c.ComputeTotal()
	c.UpdatedAt = r.now()
	return clone(c)
}

func clone(c *Cart) Cart {
	out := *c
	out.Items = make([]Item, len(c.Items))
	copy(out.Items, c.Items)
	sort.Slice(out.Items, func(i, j int) bool { return out.Items[i].ID < out.Items[j].ID })
	return out
}
