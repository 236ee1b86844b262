package customer

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("customer not found")

type Repository interface {
	GetByID(ctx context.Context, id int64) (Customer, error)
}

// InMemoryRepository is used for tests and local scenarios.
type InMemoryRepository struct {
	mu        sync.RWMutex
	customers map[int64]Customer
}

func NewInMemoryRepository(seed []Customer) *InMemoryRepository {
	r := &InMemoryRepository{customers: make(map[int64]Customer, len(seed))}
	for _, c := range seed {
		r.customers[c.ID] = c
	}
	return r
}

func (r *InMemoryRepository) GetByID(_ context.Context, id int64) (Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.customers[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	return c, nil
}
