package models

import (
	"errors"
	"fmt"
)

var (
	ErrResourceNotFound       = errors.New("resource not found")
	ErrOrderValidationFailed  = errors.New("order validation failed")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrLockTimeout            = errors.New("lock timeout")
)

type NotFoundError struct {
	Resource string
	ID       string
}

func NotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrResourceNotFound }

type ValidationError struct {
	OrderID string
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("order %s validation failed: %s", e.OrderID, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrOrderValidationFailed }

type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

type StockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockError) Unwrap() error { return ErrInsufficientStock }
