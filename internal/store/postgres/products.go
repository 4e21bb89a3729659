package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/safar/go-order-ledger/internal/database"
	"github.com/safar/go-order-ledger/internal/models"
)

type ProductStore struct {
	db *sql.DB
}

func NewProductStore(db *sql.DB) *ProductStore {
	return &ProductStore{db: db}
}

const productColumns = `id, name, price, stock_quantity, active`

func scanProduct(row interface{ Scan(...any) error }) (models.Product, error) {
	var p models.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &p.Active)
	return p, err
}

func (s *ProductStore) Save(ctx context.Context, p models.Product) (models.Product, error) {
	query := `
		INSERT INTO products (id, name, price, stock_quantity, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price = EXCLUDED.price,
		    stock_quantity = EXCLUDED.stock_quantity,
		    active = EXCLUDED.active,
		    updated_at = NOW()
		RETURNING ` + productColumns

	saved, err := scanProduct(s.db.QueryRowContext(ctx, query, p.ID, p.Name, p.Price, p.StockQuantity, p.Active))
	if err != nil {
		return models.Product{}, fmt.Errorf("save product %s: %w", p.ID, err)
	}
	return saved, nil
}

func (s *ProductStore) FindByID(ctx context.Context, id string) (models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	p, err := scanProduct(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Product{}, models.NotFound("product", id)
		}
		return models.Product{}, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (s *ProductStore) FindAll(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return products, nil
}

// DeductStock applies every deduction in one transaction. Rows are updated in
// id order so two confirms touching the same products cannot deadlock.
func (s *ProductStore) DeductStock(ctx context.Context, deductions map[string]int) error {
	ids := make([]string, 0, len(deductions))
	for id := range deductions {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := decrementStock(ctx, tx, id, deductions[id]); err != nil {
				return err
			}
		}
		return nil
	})
}

func decrementStock(ctx context.Context, tx *sql.Tx, productID string, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var stock int
	err = tx.QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return models.NotFound("product", productID)
	}
	if err != nil {
		return fmt.Errorf("get stock: %w", err)
	}
	return &models.StockError{ProductID: productID, Requested: quantity, Available: stock}
}
