package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-order-ledger/internal/database"
	"github.com/safar/go-order-ledger/internal/models"
)

type OrderStore struct {
	db   *sql.DB
	opts database.TxOptions
}

func NewOrderStore(db *sql.DB) *OrderStore {
	return &OrderStore{db: db, opts: database.DefaultTxOptions()}
}

const orderColumns = `id, customer_id, status, total_amount, vat_amount, shipping_address, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.ID,
		&o.CustomerID,
		&o.Status,
		&o.TotalAmount,
		&o.VATAmount,
		&o.ShippingAddress,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	return o, err
}

// Save upserts the order row and writes its lines on first insert. Lines are
// immutable once stored.
func (s *OrderStore) Save(ctx context.Context, o models.Order) (models.Order, error) {
	var saved models.Order

	err := database.WithRetry(ctx, s.db, s.opts, func(tx *sql.Tx) error {
		var inserted bool
		err := tx.QueryRowContext(ctx,
			`INSERT INTO orders (id, customer_id, status, total_amount, vat_amount, shipping_address, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (id) DO UPDATE
			 SET status = EXCLUDED.status,
			     total_amount = EXCLUDED.total_amount,
			     vat_amount = EXCLUDED.vat_amount,
			     updated_at = EXCLUDED.updated_at
			 RETURNING (xmax = 0)`,
			o.ID, o.CustomerID, o.Status, o.TotalAmount, o.VATAmount, o.ShippingAddress,
			o.CreatedAt.UTC(), o.UpdatedAt.UTC()).Scan(&inserted)
		if err != nil {
			return fmt.Errorf("upsert order: %w", err)
		}

		if inserted {
			for i, item := range o.Items {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price, line_price)
					 VALUES ($1, $2, $3, $4, $5, $6)`,
					o.ID, i, item.ProductID, item.Quantity, item.UnitPrice, item.LinePrice)
				if err != nil {
					return fmt.Errorf("create order item: %w", err)
				}
			}
		}

		saved, err = scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1`, o.ID))
		if err != nil {
			return fmt.Errorf("fetch saved order: %w", err)
		}
		items, err := loadItems(ctx, tx, []string{o.ID})
		if err != nil {
			return err
		}
		saved.Items = items[o.ID]
		return nil
	})
	if err != nil {
		return models.Order{}, fmt.Errorf("save order %s: %w", o.ID, err)
	}
	return saved, nil
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (models.Order, error) {
	o, err := scanOrder(s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Order{}, models.NotFound("order", id)
		}
		return models.Order{}, fmt.Errorf("get order: %w", err)
	}

	items, err := loadItems(ctx, s.db, []string{id})
	if err != nil {
		return models.Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func (s *OrderStore) FindAll(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at, id`)
}

func (s *OrderStore) FindByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	return s.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id = $1 ORDER BY created_at, id`, customerID)
}

func (s *OrderStore) list(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	var ids []string
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := loadItems(ctx, s.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func loadItems(ctx context.Context, q querier, orderIDs []string) (map[string][]models.Item, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT order_id, product_id, quantity, unit_price, line_price
		 FROM order_items
		 WHERE order_id = ANY($1)
		 ORDER BY order_id, line_no`,
		pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := make(map[string][]models.Item, len(orderIDs))
	for rows.Next() {
		var orderID string
		var item models.Item
		if err := rows.Scan(&orderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.LinePrice); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}
