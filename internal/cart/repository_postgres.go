package cart

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
	// The upsert takes the row lock on the customer's cart, which serializes
	// concurrent mutations for the same customer.
	upsertCartQuery = `
		INSERT INTO carts (customer_id) VALUES ($1)
		ON CONFLICT (customer_id) DO UPDATE SET updated_at = now()
		RETURNING id
	`
	// A unique artwork already in the cart matches the conflict but not the
	// WHERE, so no row is written.
	upsertItemQuery = `
		INSERT INTO cart_items (cart_id, artwork_id, title, quantity, price)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (cart_id, artwork_id) DO UPDATE
		SET quantity = cart_items.quantity + EXCLUDED.quantity,
			price = EXCLUDED.price,
			title = EXCLUDED.title
		WHERE NOT $6::boolean
	`
	lockItemQuery = `
		SELECT ci.cart_id, ci.quantity, c.customer_id, COALESCE(a.is_unique, false)
		FROM cart_items ci
		JOIN carts c ON c.id = ci.cart_id
		LEFT JOIN artworks a ON a.id = ci.artwork_id
		WHERE ci.id = $1
		FOR UPDATE OF ci, c
	`
	updateQuantityQuery = `UPDATE cart_items SET quantity = $2 WHERE id = $1`
	deleteItemQuery     = `DELETE FROM cart_items WHERE id = $1`
	countItemsQuery     = `SELECT COUNT(*) FROM cart_items WHERE cart_id = $1`
	deleteItemsQuery    = `DELETE FROM cart_items WHERE cart_id = $1`
	deleteCartQuery     = `DELETE FROM carts WHERE id = $1`
	recomputeTotalQuery = `
		UPDATE carts
		SET total_amount = COALESCE((SELECT SUM(price * quantity) FROM cart_items WHERE cart_id = $1), 0),
			updated_at = now()
		WHERE id = $1
	`
	cartColumns         = `SELECT id, customer_id, total_amount, created_at, updated_at FROM carts`
	getCartByIDQuery    = cartColumns + ` WHERE id = $1`
	getCartQuery        = cartColumns + ` WHERE customer_id = $1`
	lockCartQuery       = cartColumns + ` WHERE customer_id = $1 FOR UPDATE`
	listItemsQuery      = `
		SELECT id, cart_id, artwork_id, title, quantity, price
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY id
	`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) AddItem(ctx context.Context, customerID int64, item NewItem) (Cart, error) {
	var out Cart
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var cartID int64
		if err := tx.QueryRowContext(ctx, upsertCartQuery, customerID).Scan(&cartID); err != nil {
			return fmt.Errorf("upsert cart: %w", err)
		}
		if item.Unique && item.Quantity > 1 {
			return ErrUniqueLimit
		}
		res, err := tx.ExecContext(ctx, upsertItemQuery, cartID, item.ArtworkID, item.Title, item.Quantity, item.Price, item.Unique)
		if err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		} else if n == 0 {
			return ErrUniqueLimit
		}
		c, err := finishMutation(ctx, tx, cartID, customerID)
		out = c
		return err
	})
	return out, err
}

func (r *PostgresRepository) AdjustItem(ctx context.Context, customerID, itemID int64, delta int) (Cart, error) {
	var out Cart
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		cartID, qty, unique, err := lockOwnedItem(ctx, tx, customerID, itemID)
		if err != nil {
			return err
		}
		if unique && qty+delta > 1 {
			return ErrUniqueLimit
		}
		if qty+delta < 1 {
			_, err = tx.ExecContext(ctx, deleteItemQuery, itemID)
		} else {
			_, err = tx.ExecContext(ctx, updateQuantityQuery, itemID, qty+delta)
		}
		if err != nil {
			return fmt.Errorf("adjust cart item: %w", err)
		}
		c, err := finishMutation(ctx, tx, cartID, customerID)
		out = c
		return err
	})
	return out, err
}

func (r *PostgresRepository) DeleteItem(ctx context.Context, customerID, itemID int64) (Cart, error) {
	var out Cart
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		cartID, _, _, err := lockOwnedItem(ctx, tx, customerID, itemID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteItemQuery, itemID); err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		c, err := finishMutation(ctx, tx, cartID, customerID)
		out = c
		return err
	})
	return out, err
}

func (r *PostgresRepository) GetCart(ctx context.Context, customerID int64) (Cart, error) {
	return loadCart(ctx, r.db, getCartQuery, customerID)
}

// LoadForUpdate locks and returns the customer's cart inside tx.
func LoadForUpdate(ctx context.Context, tx *sql.Tx, customerID int64) (Cart, error) {
	return loadCart(ctx, tx, lockCartQuery, customerID)
}

// Delete removes the cart's lines and then the cart itself inside tx.
func Delete(ctx context.Context, tx *sql.Tx, cartID int64) error {
	if _, err := tx.ExecContext(ctx, deleteItemsQuery, cartID); err != nil {
		return fmt.Errorf("delete cart items: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteCartQuery, cartID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}
	return nil
}

func lockOwnedItem(ctx context.Context, tx *sql.Tx, customerID, itemID int64) (cartID int64, qty int, unique bool, err error) {
	var owner int64
	err = tx.QueryRowContext(ctx, lockItemQuery, itemID).Scan(&cartID, &qty, &owner, &unique)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, false, ErrItemNotFound
	}
	if err != nil {
		return 0, 0, false, err
	}
	if owner != customerID {
		return 0, 0, false, ErrNotOwner
	}
	return cartID, qty, unique, nil
}

// finishMutation deletes an emptied cart, otherwise recomputes and reloads it.
func finishMutation(ctx context.Context, tx *sql.Tx, cartID, customerID int64) (Cart, error) {
	var n int
	if err := tx.QueryRowContext(ctx, countItemsQuery, cartID).Scan(&n); err != nil {
		return Cart{}, fmt.Errorf("count cart items: %w", err)
	}
	if n == 0 {
		if _, err := tx.ExecContext(ctx, deleteCartQuery, cartID); err != nil {
			return Cart{}, fmt.Errorf("delete empty cart: %w", err)
		}
		return emptyCart(customerID), nil
	}
	if _, err := tx.ExecContext(ctx, recomputeTotalQuery, cartID); err != nil {
		return Cart{}, fmt.Errorf("recompute cart total: %w", err)
	}
	return loadCart(ctx, tx, getCartByIDQuery, cartID)
}

func loadCart(ctx context.Context, q Queryer, query string, arg int64) (Cart, error) {
	var c Cart
	err := q.QueryRowContext(ctx, query, arg).Scan(&c.ID, &c.CustomerID, &c.TotalAmount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Cart{}, ErrCartNotFound
	}
	if err != nil {
		return Cart{}, err
	}

	rows, err := q.QueryContext(ctx, listItemsQuery, c.ID)
	if err != nil {
		return Cart{}, err
	}
	defer rows.Close()

	c.Items = make([]Item, 0)
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.CartID, &it.ArtworkID, &it.Title, &it.Quantity, &it.Price); err != nil {
			return Cart{}, err
		}
		c.Items = append(c.Items, it)
	}
	return c, rows.Err()
}
