package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/safar/go-order-ledger/internal/models"
	"github.com/safar/go-order-ledger/internal/pricing"
	"github.com/shopspring/decimal"
)

const (
	minQuantity = 1
	maxQuantity = 100
)

var minOrderValue = decimal.NewFromInt(100)

type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

func validationOK() ValidationResult { return ValidationResult{Valid: true} }

func validationFailed(format string, args ...any) ValidationResult {
	return ValidationResult{Errors: []string{fmt.Sprintf(format, args...)}}
}

func (r ValidationResult) FirstError() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0]
}

// ValidateOrder runs the business rules against a stored order and stops at
// the first failing rule. A failed rule is reported in the result; the error
// return is reserved for lookups and store failures. Pricing is written back
// onto the order before the credit and minimum value rules run.
func (s *OrderService) ValidateOrder(ctx context.Context, orderID string) (ValidationResult, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate order: %w", err)
	}

	for _, item := range order.Items {
		product, err := s.products.FindByID(ctx, item.ProductID)
		if errors.Is(err, models.ErrResourceNotFound) || (err == nil && !product.Active) {
			return validationFailed("product %s is not available", item.ProductID), nil
		}
		if err != nil {
			return ValidationResult{}, fmt.Errorf("validate order: %w", err)
		}
	}

	for _, item := range order.Items {
		if item.Quantity < minQuantity || item.Quantity > maxQuantity {
			return validationFailed("invalid quantity for product %s", item.ProductID), nil
		}
	}

	for _, item := range order.Items {
		ok, err := s.ledger.CheckAvailability(ctx, item.ProductID, item.Quantity)
		if err != nil {
			return ValidationResult{}, fmt.Errorf("validate order: %w", err)
		}
		if !ok {
			return validationFailed("insufficient stock for product %s", item.ProductID), nil
		}
	}

	customer, err := s.customers.FindByID(ctx, order.CustomerID)
	if errors.Is(err, models.ErrResourceNotFound) {
		return validationFailed("customer not found"), nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("validate order: %w", err)
	}

	priced := pricing.Calculate(order, customer)
	order.TotalAmount = priced.TotalAmount
	order.VATAmount = priced.VATAmount
	if _, err := s.orders.Save(ctx, order); err != nil {
		return ValidationResult{}, fmt.Errorf("save order pricing: %w", err)
	}

	if customer.AvailableCredit().LessThan(order.TotalAmount) {
		return validationFailed("order exceeds customer credit limit"), nil
	}
	if order.TotalAmount.LessThan(minOrderValue) {
		return validationFailed("order total is below minimum value of %s", minOrderValue), nil
	}
	return validationOK(), nil
}
