package service

import (
	"context"

	"github.com/safar/go-order-ledger/internal/models"
)

type OrderStore interface {
	Save(ctx context.Context, o models.Order) (models.Order, error)
	FindByID(ctx context.Context, id string) (models.Order, error)
	FindByCustomer(ctx context.Context, customerID string) ([]models.Order, error)
}

type CustomerStore interface {
	FindByID(ctx context.Context, id string) (models.Customer, error)
}

type ProductStore interface {
	FindByID(ctx context.Context, id string) (models.Product, error)
}

// StockLedger is the part of inventory.Ledger the orchestrator drives.
type StockLedger interface {
	CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error)
	Reserve(ctx context.Context, orderID string, items []models.Item) error
	Release(ctx context.Context, orderID string) error
	Confirm(ctx context.Context, orderID string) error
}
