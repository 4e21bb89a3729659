package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safar/go-order-ledger/internal/events"
	"github.com/safar/go-order-ledger/internal/models"
	"go.uber.org/zap"
)

type Option func(*OrderService)

func WithIDGenerator(next func() string) Option {
	return func(s *OrderService) { s.newID = next }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func WithLogger(log *zap.Logger) Option {
	return func(s *OrderService) { s.log = log }
}

func WithPublisher(p events.Publisher) Option {
	return func(s *OrderService) { s.events = p }
}

// WithProducerName sets the producer stamped on every published event.
func WithProducerName(name string) Option {
	return func(s *OrderService) { s.producer = name }
}

type OrderService struct {
	orders    OrderStore
	customers CustomerStore
	products  ProductStore
	ledger    StockLedger

	newID    func() string
	now      func() time.Time
	log      *zap.Logger
	events   events.Publisher
	producer string
}

func NewOrderService(orders OrderStore, customers CustomerStore, products ProductStore, ledger StockLedger, opts ...Option) *OrderService {
	s := &OrderService{
		orders:    orders,
		customers: customers,
		products:  products,
		ledger:    ledger,
		newID:     uuid.NewString,
		now:       time.Now,
		log:       zap.NewNop(),
		events:    events.Nop{},
		producer:  "order-ledger",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder prices each line from the current catalog and stores the order
// as CREATED. Business rules are not checked here.
func (s *OrderService) CreateOrder(ctx context.Context, customerID string, items []models.Item, shippingAddress string) (models.Order, error) {
	lines := make([]models.Item, 0, len(items))
	for _, item := range items {
		product, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			return models.Order{}, fmt.Errorf("create order: %w", err)
		}
		lines = append(lines, models.NewItem(item.ProductID, item.Quantity, product.Price))
	}

	order := models.NewOrder(s.newID(), customerID, lines, shippingAddress, s.now())
	saved, err := s.orders.Save(ctx, order)
	if err != nil {
		return models.Order{}, fmt.Errorf("save order: %w", err)
	}

	s.log.Info("order created",
		zap.String("order_id", saved.ID),
		zap.String("customer_id", customerID),
		zap.Int("items", len(lines)),
	)
	s.publish(ctx, events.EventOrderCreated, saved.ID, events.OrderCreatedPayload{
		OrderID:    saved.ID,
		CustomerID: saved.CustomerID,
		Items:      saved.Items,
	})
	return saved, nil
}

// ProcessOrder moves an order through validation and stock reservation.
// A failed rule cancels the order and returns a *models.ValidationError.
// A stock shortfall found by the ledger after validation passed leaves the
// order in PENDING_VALIDATION and returns the ledger's error.
func (s *OrderService) ProcessOrder(ctx context.Context, orderID string) (models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("process order: %w", err)
	}

	if _, err := s.UpdateOrderStatus(ctx, orderID, models.StatusPendingValidation); err != nil {
		return models.Order{}, err
	}

	result, err := s.ValidateOrder(ctx, orderID)
	if err != nil {
		return models.Order{}, err
	}
	if !result.Valid {
		reason := result.FirstError()
		if _, err := s.transition(ctx, orderID, models.StatusCancelled, reason); err != nil {
			return models.Order{}, err
		}
		s.log.Info("order rejected", zap.String("order_id", orderID), zap.String("reason", reason))
		return models.Order{}, &models.ValidationError{OrderID: orderID, Reason: reason}
	}

	if err := s.ledger.Reserve(ctx, orderID, order.Items); err != nil {
		if errors.Is(err, models.ErrInsufficientStock) {
			s.log.Warn("stock taken between validation and reservation",
				zap.String("order_id", orderID),
				zap.Error(err),
			)
		}
		return models.Order{}, fmt.Errorf("process order %s: %w", orderID, err)
	}
	s.publish(ctx, events.EventStockReserved, orderID, events.StockPayload{OrderID: orderID, Items: order.Items})

	return s.UpdateOrderStatus(ctx, orderID, models.StatusValidated)
}

func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID string, status models.Status) (models.Order, error) {
	return s.transition(ctx, orderID, status, "")
}

// CancelOrder cancels the order and drops any stock it still holds.
func (s *OrderService) CancelOrder(ctx context.Context, orderID string) (models.Order, error) {
	order, err := s.transition(ctx, orderID, models.StatusCancelled, "cancelled by request")
	if err != nil {
		return models.Order{}, err
	}
	if err := s.ledger.Release(ctx, orderID); err != nil {
		return order, fmt.Errorf("release stock: %w", err)
	}
	s.publish(ctx, events.EventStockReleased, orderID, events.StockPayload{OrderID: orderID})
	return order, nil
}

// ConfirmReservation turns the order's stock hold into a permanent deduction.
func (s *OrderService) ConfirmReservation(ctx context.Context, orderID string) error {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return fmt.Errorf("confirm reservation: %w", err)
	}
	if err := s.ledger.Confirm(ctx, orderID); err != nil {
		return fmt.Errorf("confirm reservation %s: %w", orderID, err)
	}
	s.publish(ctx, events.EventStockConfirmed, orderID, events.StockPayload{OrderID: orderID, Items: order.Items})
	return nil
}

func (s *OrderService) FindOrder(ctx context.Context, orderID string) (models.Order, error) {
	return s.orders.FindByID(ctx, orderID)
}

func (s *OrderService) FindOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	return s.orders.FindByCustomer(ctx, customerID)
}

func (s *OrderService) transition(ctx context.Context, orderID string, to models.Status, reason string) (models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return models.Order{}, fmt.Errorf("update order status: %w", err)
	}

	from := order.Status
	if err := order.TransitionTo(to, s.now()); err != nil {
		return models.Order{}, err
	}
	saved, err := s.orders.Save(ctx, order)
	if err != nil {
		return models.Order{}, fmt.Errorf("save order: %w", err)
	}

	s.log.Info("order status changed",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	s.publish(ctx, events.EventOrderStatusChanged, orderID, events.StatusChangedPayload{
		OrderID:     orderID,
		From:        from,
		To:          to,
		TotalAmount: saved.TotalAmount,
		Reason:      reason,
	})
	return saved, nil
}

// publish never fails the caller; the order change is already stored.
func (s *OrderService) publish(ctx context.Context, eventType, orderID string, payload any) {
	env, err := events.NewEnvelope(eventType, s.producer, orderID, payload, s.now())
	if err == nil {
		err = s.events.Publish(ctx, env)
	}
	if err != nil {
		s.log.Error("publish event",
			zap.String("event_type", eventType),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
	}
}
