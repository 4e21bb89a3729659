package models

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusPendingValidation Status = "PENDING_VALIDATION"
	StatusValidated         Status = "VALIDATED"
	StatusPaid              Status = "PAID"
	StatusFulfilled         Status = "FULFILLED"
	StatusCancelled         Status = "CANCELLED"
)

var AllStatuses = []Status{
	StatusCreated,
	StatusPendingValidation,
	StatusValidated,
	StatusPaid,
	StatusFulfilled,
	StatusCancelled,
}

// Every state except FULFILLED may move to CANCELLED.
var validNext = map[Status][]Status{
	StatusCreated:           {StatusPendingValidation, StatusCancelled},
	StatusPendingValidation: {StatusValidated, StatusCancelled},
	StatusValidated:         {StatusPaid, StatusCancelled},
	StatusPaid:              {StatusFulfilled, StatusCancelled},
	StatusFulfilled:         {},
	StatusCancelled:         {StatusCancelled},
}

func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := validNext[status]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

func CanTransition(from, to Status) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TransitionTo moves the order to status to, stamping UpdatedAt with now.
// The order is left untouched when the edge is not legal.
func (o *Order) TransitionTo(to Status, now time.Time) error {
	if !CanTransition(o.Status, to) {
		return &TransitionError{OrderID: o.ID, From: o.Status, To: to}
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}
