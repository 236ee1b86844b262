package address

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrNotFound = errors.New("address not found")
	ErrNotOwner = errors.New("address belongs to another customer")
)

type Repository interface {
	GetByID(ctx context.Context, id int64) (Address, error)
}

// InMemoryRepository for tests
type InMemoryRepository struct {
	mu   sync.RWMutex
	data map[int64]Address
}

func NewInMemoryRepository(seed []Address) *InMemoryRepository {
	r := &InMemoryRepository{data: make(map[int64]Address, len(seed))}
	for _, a := range seed {
		r.data[a.ID] = a
	}
	return r
}

func (r *InMemoryRepository) GetByID(_ context.Context, id int64) (Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.data[id]
	if !ok {
		return Address{}, ErrNotFound
	}
	return a, nil
}
