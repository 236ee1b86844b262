package order

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/cart"
	"github.com/wichananm65/art-market-backend/internal/database"
)

// Queryer is satisfied by *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresRepository struct {
	db *sql.DB
}

const (
	orderColumns = `
		SELECT id, customer_id, shipping_address_id, total_amount, currency, status,
			COALESCE(payment_reference, ''), COALESCE(payment_provider, ''), created_at, updated_at
		FROM orders`
	getOrderQuery       = orderColumns + ` WHERE id = $1`
	lockOrderQuery      = orderColumns + ` WHERE id = $1 FOR UPDATE`
	getByReferenceQuery = orderColumns + ` WHERE payment_reference = $1`
	listByCustomerQuery = orderColumns + ` WHERE customer_id = $1 ORDER BY id DESC`
	listAwaitingQuery   = orderColumns + `
		WHERE status IN ('PENDING', 'PROCESSING')
			AND payment_reference IS NOT NULL
			AND updated_at <= $1
		ORDER BY updated_at
		LIMIT $2`
	insertOrderQuery = `
		INSERT INTO orders (customer_id, shipping_address_id, total_amount, currency, status)
		VALUES ($1, $2, $3, $4, 'PENDING')
		RETURNING id, status, created_at, updated_at
	`
	insertItemQuery = `
		INSERT INTO order_items (order_id, artwork_id, title, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	listItemsQuery = `
		SELECT id, order_id, artwork_id, title, quantity, price
		FROM order_items
		WHERE order_id = ANY($1::bigint[])
		ORDER BY order_id, id
	`
	attachPaymentQuery = `
		UPDATE orders
		SET payment_reference = $2, payment_provider = $3, status = $4, updated_at = now()
		WHERE id = $1 AND status = 'PENDING' AND payment_reference IS NULL
		RETURNING updated_at
	`
	setStatusQuery = `
		UPDATE orders
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status = ANY($3::text[])
		RETURNING updated_at
	`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Checkout locks the customer's cart, builds the order from it, inserts the
// order with its items and deletes the cart in a single transaction.
func (r *PostgresRepository) Checkout(ctx context.Context, customerID int64, build BuildFunc) (Order, error) {
	var out Order
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		c, err := cart.LoadForUpdate(ctx, tx, customerID)
		if errors.Is(err, cart.ErrCartNotFound) {
			c = cart.Cart{CustomerID: customerID}
		} else if err != nil {
			return fmt.Errorf("load cart: %w", err)
		}

		o, err := build(c)
		if err != nil {
			return err
		}
		err = tx.QueryRowContext(ctx, insertOrderQuery, o.CustomerID, o.ShippingAddressID, o.TotalAmount, o.Currency).
			Scan(&o.ID, &o.Status, &o.CreatedAt, &o.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range o.Items {
			it := &o.Items[i]
			it.OrderID = o.ID
			if err := tx.QueryRowContext(ctx, insertItemQuery, o.ID, it.ArtworkID, it.Title, it.Quantity, it.Price).Scan(&it.ID); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		if err := cart.Delete(ctx, tx, c.ID); err != nil {
			return err
		}
		out = o
		return nil
	})
	return out, err
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (Order, error) {
	return getOne(ctx, r.db, getOrderQuery, id)
}

func (r *PostgresRepository) GetByPaymentReference(ctx context.Context, reference string) (Order, error) {
	return getOne(ctx, r.db, getByReferenceQuery, reference)
}

func (r *PostgresRepository) ListByCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	return list(ctx, r.db, listByCustomerQuery, customerID)
}

func (r *PostgresRepository) ListAwaitingPayment(ctx context.Context, before time.Time, limit int) ([]Order, error) {
	return list(ctx, r.db, listAwaitingQuery, before, limit)
}

func (r *PostgresRepository) AttachPayment(ctx context.Context, p PaymentAttachment) (Order, error) {
	var out Order
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		o, err := LoadForUpdate(ctx, tx, p.OrderID)
		if err != nil {
			return err
		}
		if !o.IsPayable() {
			return ErrNotPayable
		}
		if err := artwork.Reserve(ctx, tx, o.ID, o.ArtworkIDs(), p.ReserveUntil); err != nil {
			return err
		}
		next := p.Status
		if next == "" {
			next = StatusPending
		}
		if err := tx.QueryRowContext(ctx, attachPaymentQuery, o.ID, p.Reference, p.Provider, next).Scan(&o.UpdatedAt); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotPayable
			}
			return fmt.Errorf("attach payment: %w", err)
		}
		o.PaymentReference = p.Reference
		o.PaymentProvider = p.Provider
		o.Status = next
		out = o
		return nil
	})
	return out, err
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, id int64, next Status) (Order, error) {
	var out Order
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		o, err := LoadForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := SetStatus(ctx, tx, &o, next); err != nil {
			return err
		}
		if next == StatusCancelled || next == StatusFailed {
			if err := artwork.Release(ctx, tx, o.ID); err != nil {
				return err
			}
		}
		out = o
		return nil
	})
	return out, err
}

// LoadForUpdate locks the order row and loads its items inside tx.
func LoadForUpdate(ctx context.Context, q Queryer, id int64) (Order, error) {
	return getOne(ctx, q, lockOrderQuery, id)
}

// SetStatus moves o to next when the state machine allows it.
func SetStatus(ctx context.Context, q Queryer, o *Order, next Status) error {
	if !o.Status.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	from := make([]string, 0, 3)
	for _, s := range sourcesOf(next) {
		from = append(from, string(s))
	}
	err := q.QueryRowContext(ctx, setStatusQuery, o.ID, next, pq.Array(from)).Scan(&o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrInvalidTransition
	}
	if err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	o.Status = next
	return nil
}

func getOne(ctx context.Context, q Queryer, query string, arg any) (Order, error) {
	o, err := scanOrder(q.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	orders := []Order{o}
	if err := attachItems(ctx, q, orders); err != nil {
		return Order{}, err
	}
	return orders[0], nil
}

func list(ctx context.Context, q Queryer, query string, args ...any) ([]Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := attachItems(ctx, q, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (Order, error) {
	var (
		o       Order
		address sql.NullInt64
	)
	err := s.Scan(&o.ID, &o.CustomerID, &address, &o.TotalAmount, &o.Currency, &o.Status,
		&o.PaymentReference, &o.PaymentProvider, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if address.Valid {
		id := address.Int64
		o.ShippingAddressID = &id
	}
	return o, nil
}

// attachItems loads the lines of every order in one query.
func attachItems(ctx context.Context, q Queryer, orders []Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = i
		orders[i].Items = make([]Item, 0)
	}
	rows, err := q.QueryContext(ctx, listItemsQuery, pq.Array(ids))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ArtworkID, &it.Title, &it.Quantity, &it.Price); err != nil {
			return err
		}
		if i, ok := index[it.OrderID]; ok {
			orders[i].Items = append(orders[i].Items, it)
		}
	}
	return rows.Err()
}
