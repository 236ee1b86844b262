package artwork

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Execer is satisfied by *sql.DB and *sql.Tx so the flag updates below can
// join a caller's transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type PostgresRepository struct {
	db *sql.DB
}

const (
	getArtworkQuery = `
		SELECT id, title, price, currency, is_unique, is_available, reserved_until, reserved_order_id
		FROM artworks
		WHERE id = $1
	`
	setSoldQuery = `
		UPDATE artworks
		SET is_available = CASE WHEN is_unique THEN false ELSE is_available END,
			reserved_until = NULL,
			reserved_order_id = NULL
		WHERE id = $1
	`
	releaseExpiredQuery = `
		UPDATE artworks
		SET is_available = true, reserved_until = NULL, reserved_order_id = NULL
		WHERE reserved_until <= $1 AND is_available = false
	`
	countUniqueQuery = `SELECT COUNT(*) FROM artworks WHERE id = ANY($1::bigint[]) AND is_unique`
	reserveQuery     = `
		UPDATE artworks
		SET is_available = false, reserved_until = $2, reserved_order_id = $3
		WHERE id = ANY($1::bigint[]) AND is_unique AND (is_available OR reserved_order_id = $3)
	`
	markSoldQuery = `
		UPDATE artworks
		SET is_available = false, reserved_until = NULL, reserved_order_id = NULL
		WHERE id = ANY($1::bigint[]) AND is_unique
	`
	releaseOrderQuery = `
		UPDATE artworks
		SET is_available = true, reserved_until = NULL, reserved_order_id = NULL
		WHERE reserved_order_id = $1 AND reserved_until IS NOT NULL
	`
)

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (Artwork, error) {
	var (
		a        Artwork
		until    sql.NullTime
		holderID sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, getArtworkQuery, id).
		Scan(&a.ID, &a.Title, &a.Price, &a.Currency, &a.IsUnique, &a.IsAvailable, &until, &holderID)
	if errors.Is(err, sql.ErrNoRows) {
		return Artwork{}, ErrNotFound
	}
	if err != nil {
		return Artwork{}, err
	}
	if until.Valid {
		t := until.Time
		a.ReservedUntil = &t
	}
	if holderID.Valid {
		h := holderID.Int64
		a.ReservedOrderID = &h
	}
	return a, nil
}

func (r *PostgresRepository) SetSold(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, setSoldQuery, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReleaseExpired reclaims every lapsed reservation in one predicate-scoped
// update so it never races a concurrent reservation.
func (r *PostgresRepository) ReleaseExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, releaseExpiredQuery, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Reserve holds every unique artwork in ids for orderID. It returns
// ErrUnavailable when any of them is sold or held by another order; the caller
// must roll back its transaction in that case.
func Reserve(ctx context.Context, ex Execer, orderID int64, ids []int64, until time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	var unique int64
	if err := ex.QueryRowContext(ctx, countUniqueQuery, pq.Array(ids)).Scan(&unique); err != nil {
		return fmt.Errorf("count unique artworks: %w", err)
	}
	if unique == 0 {
		return nil
	}
	res, err := ex.ExecContext(ctx, reserveQuery, pq.Array(ids), until, orderID)
	if err != nil {
		return fmt.Errorf("reserve artworks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n < unique {
		return ErrUnavailable
	}
	return nil
}

// MarkSold permanently removes the unique artworks in ids from sale.
func MarkSold(ctx context.Context, ex Execer, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := ex.ExecContext(ctx, markSoldQuery, pq.Array(ids)); err != nil {
		return fmt.Errorf("mark artworks sold: %w", err)
	}
	return nil
}

// Release returns the artworks still held by orderID to the catalog.
func Release(ctx context.Context, ex Execer, orderID int64) error {
	if _, err := ex.ExecContext(ctx, releaseOrderQuery, orderID); err != nil {
		return fmt.Errorf("release artworks: %w", err)
	}
	return nil
}
