package customer

import (
	"context"
	"database/sql"
	"errors"
)

type PostgresRepository struct {
	db *sql.DB
}

const getCustomerByIDQuery = `
	SELECT id, email, first_name, last_name, phone
	FROM customers
	WHERE id = $1
`

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.db.QueryRowContext(ctx, getCustomerByIDQuery, id).
		Scan(&c.ID, &c.Email, &c.FirstName, &c.LastName, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	if err != nil {
		return Customer{}, err
	}
	return c, nil
}
