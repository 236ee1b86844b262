package payment

import (
	"context"
	"sync"
	"time"

	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/order"
)

type Repository interface {
	GetByReference(ctx context.Context, reference string) (Payment, error)
	// RecordSuccess writes the ledger row, moves the order to PAID and marks
	// its unique artworks sold in one transaction. When the reference is
	// already recorded it returns the existing row and ErrAlreadyReconciled.
	RecordSuccess(ctx context.Context, p Payment) (Payment, order.Order, error)
	// RecordFailure moves the order to FAILED when the state machine allows
	// it, releases its artwork holds and stores the audit attempt.
	RecordFailure(ctx context.Context, a Attempt) (order.Order, error)
	SetReceiptURL(ctx context.Context, id int64, url string) error
}

// InMemoryRepository applies ledger writes to in-memory orders and artworks.
// A single mutex stands in for the database transaction.
type InMemoryRepository struct {
	mu       sync.Mutex
	payments map[string]Payment
	attempts []Attempt
	nextID   int64
	orders   *order.InMemoryRepository
	artworks *artwork.InMemoryRepository
	now      func() time.Time
}

func NewInMemoryRepository(orders *order.InMemoryRepository, artworks *artwork.InMemoryRepository) *InMemoryRepository {
	return &InMemoryRepository{
		payments: make(map[string]Payment),
		orders:   orders,
		artworks: artworks,
		now:      time.Now,
	}
}

func (r *InMemoryRepository) GetByReference(_ context.Context, reference string) (Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.payments[reference]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *InMemoryRepository) RecordSuccess(ctx context.Context, p Payment) (Payment, order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.orders.GetByID(ctx, p.OrderID)
	if err != nil {
		return Payment{}, order.Order{}, err
	}
	if existing, ok := r.payments[p.PaymentReference]; ok {
		return existing, o, ErrAlreadyReconciled
	}
	if o.Status.CanTransitionTo(order.StatusPaid) {
		if o, err = r.orders.UpdateStatus(ctx, o.ID, order.StatusPaid); err != nil {
			return Payment{}, order.Order{}, err
		}
	}
	r.artworks.MarkSold(o.ArtworkIDs())

	r.nextID++
	p.ID = r.nextID
	if p.CreatedAt.IsZero() {
		p.CreatedAt = r.now()
	}
	r.payments[p.PaymentReference] = p
	return p, o, nil
}

func (r *InMemoryRepository) RecordFailure(ctx context.Context, a Attempt) (order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, err := r.orders.GetByID(ctx, a.OrderID)
	if err != nil {
		return order.Order{}, err
	}
	if o.Status.CanTransitionTo(order.StatusFailed) {
		// UpdateStatus releases the holds of a FAILED order.
		if o, err = r.orders.UpdateStatus(ctx, o.ID, order.StatusFailed); err != nil {
			return order.Order{}, err
		}
	}
	a.ID = int64(len(r.attempts) + 1)
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now()
	}
	r.attempts = append(r.attempts, a)
	return o, nil
}

func (r *InMemoryRepository) SetReceiptURL(_ context.Context, id int64, url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for ref, p := range r.payments {
		if p.ID == id {
			p.ReceiptURL = url
			r.payments[ref] = p
			return nil
		}
	}
	return ErrNotFound
}

// Count returns the number of ledger rows.
func (r *InMemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

func (r *InMemoryRepository) Attempts() []Attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Attempt, len(r.attempts))
	copy(out, r.attempts)
	return out
}

var _ Repository = (*InMemoryRepository)(nil)
