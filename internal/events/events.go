package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventStockReserved      = "StockReserved"
	EventStockReleased      = "StockReleased"
	EventStockConfirmed     = "StockConfirmed"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id"`
	Payload       json.RawMessage `json:"payload"`
}

type OrderCreatedPayload struct {
	OrderID    string        `json:"order_id"`
	CustomerID string        `json:"customer_id"`
	Items      []models.Item `json:"items"`
}

type StatusChangedPayload struct {
	OrderID     string          `json:"order_id"`
	From        models.Status   `json:"from"`
	To          models.Status   `json:"to"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Reason      string          `json:"reason,omitempty"`
}

type StockPayload struct {
	OrderID string        `json:"order_id"`
	Items   []models.Item `json:"items,omitempty"`
}

func NewEnvelope(eventType, producer, orderID string, payload any, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    now.UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       raw,
	}, nil
}

type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

type Nop struct{}

func (Nop) Publish(context.Context, Envelope) error { return nil }

// Recorder keeps published envelopes in memory. The demo driver and tests
// use it in place of a broker.
type Recorder struct {
	mu     sync.Mutex
	events []Envelope
}

func (r *Recorder) Publish(_ context.Context, env Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, env)
	return nil
}

func (r *Recorder) Events() []Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Envelope(nil), r.events...)
}

func (r *Recorder) Types(orderID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e.CorrelationID == orderID {
			out = append(out, e.EventType)
		}
	}
	return out
}
