package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/database"
	"github.com/wichananm65/art-market-backend/internal/order"
)

type PostgresRepository struct {
	db *sql.DB
}

const (
	getByReferenceQuery = `
		SELECT id, order_id, amount, currency, payment_method, payment_provider,
			transaction_id, payment_reference, status, COALESCE(receipt_url, ''), created_at
		FROM payments
		WHERE payment_reference = $1
	`
	insertPaymentQuery = `
		INSERT INTO payments (order_id, amount, currency, payment_method, payment_provider,
			transaction_id, payment_reference, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (payment_reference) DO NOTHING
		RETURNING id, created_at
	`
	insertAttemptQuery = `
		INSERT INTO payment_attempts (order_id, payment_provider, payment_reference, status, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	setReceiptURLQuery = `UPDATE payments SET receipt_url = $2 WHERE id = $1`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByReference(ctx context.Context, reference string) (Payment, error) {
	return getByReference(ctx, r.db, reference)
}

// RecordSuccess locks the order row first so concurrent deliveries for the
// same order queue behind each other. The unique payment_reference decides
// which one writes the ledger row.
func (r *PostgresRepository) RecordSuccess(ctx context.Context, p Payment) (Payment, order.Order, error) {
	var (
		saved   Payment
		updated order.Order
	)
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		o, err := order.LoadForUpdate(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}
		updated = o

		err = tx.QueryRowContext(ctx, insertPaymentQuery,
			p.OrderID, p.Amount, p.Currency, p.PaymentMethod, p.PaymentProvider,
			p.TransactionID, p.PaymentReference, p.Status,
		).Scan(&p.ID, &p.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) || database.IsUniqueViolation(err) {
			return ErrAlreadyReconciled
		}
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		if o.Status.CanTransitionTo(order.StatusPaid) {
			if err := order.SetStatus(ctx, tx, &o, order.StatusPaid); err != nil {
				return err
			}
		}
		if err := artwork.MarkSold(ctx, tx, o.ArtworkIDs()); err != nil {
			return err
		}
		saved, updated = p, o
		return nil
	})
	if errors.Is(err, ErrAlreadyReconciled) {
		// The conflicting row belongs to another committed transaction, read
		// it outside the rolled back one.
		existing, lookupErr := r.GetByReference(ctx, p.PaymentReference)
		if lookupErr != nil {
			return Payment{}, updated, lookupErr
		}
		return existing, updated, ErrAlreadyReconciled
	}
	return saved, updated, err
}

func (r *PostgresRepository) RecordFailure(ctx context.Context, a Attempt) (order.Order, error) {
	var updated order.Order
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		o, err := order.LoadForUpdate(ctx, tx, a.OrderID)
		if err != nil {
			return err
		}
		if o.Status.CanTransitionTo(order.StatusFailed) {
			if err := order.SetStatus(ctx, tx, &o, order.StatusFailed); err != nil {
				return err
			}
			if err := artwork.Release(ctx, tx, o.ID); err != nil {
				return err
			}
		}
		if err := tx.QueryRowContext(ctx, insertAttemptQuery, a.OrderID, a.Provider, a.Reference, a.Status, a.Detail).
			Scan(&a.ID, &a.CreatedAt); err != nil {
			return fmt.Errorf("insert payment attempt: %w", err)
		}
		updated = o
		return nil
	})
	return updated, err
}

func (r *PostgresRepository) SetReceiptURL(ctx context.Context, id int64, url string) error {
	res, err := r.db.ExecContext(ctx, setReceiptURLQuery, id, url)
	if err != nil {
		return fmt.Errorf("set receipt url: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func getByReference(ctx context.Context, q order.Queryer, reference string) (Payment, error) {
	var p Payment
	err := q.QueryRowContext(ctx, getByReferenceQuery, reference).Scan(
		&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.PaymentMethod, &p.PaymentProvider,
		&p.TransactionID, &p.PaymentReference, &p.Status, &p.ReceiptURL, &p.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}
	return p, nil
}
