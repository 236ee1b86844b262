package artwork

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	ErrNotFound    = errors.New("artwork not found")
	ErrUnavailable = errors.New("artwork is no longer available")
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (Artwork, error)
	SetSold(ctx context.Context, id int64) error
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
}

// InMemoryRepository is used for tests and local scenarios. Its Reserve,
// MarkSold and Release methods mirror the transactional helpers the postgres
// repositories of order and payment run.
type InMemoryRepository struct {
	mu       sync.Mutex
	artworks map[int64]Artwork
}

func NewInMemoryRepository(seed []Artwork) *InMemoryRepository {
	r := &InMemoryRepository{artworks: make(map[int64]Artwork, len(seed))}
	for _, a := range seed {
		r.artworks[a.ID] = a
	}
	return r
}

func (r *InMemoryRepository) GetByID(_ context.Context, id int64) (Artwork, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artworks[id]
	if !ok {
		return Artwork{}, ErrNotFound
	}
	return a, nil
}

func (r *InMemoryRepository) SetSold(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.artworks[id]
	if !ok {
		return ErrNotFound
	}
	if a.IsUnique {
		markSold(&a)
		r.artworks[id] = a
	}
	return nil
}

func (r *InMemoryRepository) ReleaseExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, a := range r.artworks {
		if a.IsAvailable || a.ReservedUntil == nil || a.ReservedUntil.After(now) {
			continue
		}
		release(&a)
		r.artworks[id] = a
		n++
	}
	return n, nil
}

// Reserve holds every unique artwork in ids for orderID until the given time.
// Either all of them are reserved or none is.
func (r *InMemoryRepository) Reserve(orderID int64, ids []int64, until time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		a, ok := r.artworks[id]
		if !ok {
			return ErrNotFound
		}
		if a.IsUnique && !a.IsAvailable && !heldBy(a, orderID) {
			return ErrUnavailable
		}
	}
	for _, id := range ids {
		a := r.artworks[id]
		if !a.IsUnique {
			continue
		}
		u := until
		o := orderID
		a.IsAvailable = false
		a.ReservedUntil = &u
		a.ReservedOrderID = &o
		r.artworks[id] = a
	}
	return nil
}

// MarkSold permanently removes the unique artworks in ids from sale.
func (r *InMemoryRepository) MarkSold(ids []int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		a, ok := r.artworks[id]
		if !ok || !a.IsUnique {
			continue
		}
		markSold(&a)
		r.artworks[id] = a
	}
}

// Release makes the artworks still held by orderID available again.
func (r *InMemoryRepository) Release(orderID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.artworks {
		if heldBy(a, orderID) && a.ReservedUntil != nil {
			release(&a)
			r.artworks[id] = a
		}
	}
}

func heldBy(a Artwork, orderID int64) bool {
	return a.ReservedOrderID != nil && *a.ReservedOrderID == orderID
}

func markSold(a *Artwork) {
	a.IsAvailable = false
	a.ReservedUntil = nil
	a.ReservedOrderID = nil
}

func release(a *Artwork) {
	a.IsAvailable = true
	a.ReservedUntil = nil
	a.ReservedOrderID = nil
}
