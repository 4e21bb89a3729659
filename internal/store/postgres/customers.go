package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-order-ledger/internal/models"
)

type CustomerStore struct {
	db *sql.DB
}

func NewCustomerStore(db *sql.DB) *CustomerStore {
	return &CustomerStore{db: db}
}

const customerColumns = `id, tier, credit_limit, used_credit`

func scanCustomer(row interface{ Scan(...any) error }) (models.Customer, error) {
	var c models.Customer
	err := row.Scan(&c.ID, &c.Tier, &c.CreditLimit, &c.UsedCredit)
	return c, err
}

func (s *CustomerStore) Save(ctx context.Context, c models.Customer) (models.Customer, error) {
	query := `
		INSERT INTO customers (id, tier, credit_limit, used_credit, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET tier = EXCLUDED.tier,
		    credit_limit = EXCLUDED.credit_limit,
		    used_credit = EXCLUDED.used_credit,
		    updated_at = NOW()
		RETURNING ` + customerColumns

	saved, err := scanCustomer(s.db.QueryRowContext(ctx, query, c.ID, c.Tier, c.CreditLimit, c.UsedCredit))
	if err != nil {
		return models.Customer{}, fmt.Errorf("save customer %s: %w", c.ID, err)
	}
	return saved, nil
}

func (s *CustomerStore) FindByID(ctx context.Context, id string) (models.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customers WHERE id = $1`

	c, err := scanCustomer(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Customer{}, models.NotFound("customer", id)
		}
		return models.Customer{}, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (s *CustomerStore) FindAll(ctx context.Context) ([]models.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	defer rows.Close()

	var customers []models.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return customers, nil
}
