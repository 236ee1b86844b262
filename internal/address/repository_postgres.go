package address

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepository struct {
	db *sql.DB
}

const getAddressQuery = `SELECT id, customer_id, label, line, phone FROM addresses WHERE id = $1`

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (Address, error) {
	var a Address
	err := r.db.QueryRowContext(ctx, getAddressQuery, id).Scan(&a.ID, &a.CustomerID, &a.Label, &a.Line, &a.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return Address{}, ErrNotFound
	}
	return a, err
}
