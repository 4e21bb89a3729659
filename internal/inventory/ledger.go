package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/safar/go-order-ledger/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

type ProductStore interface {
	FindByID(ctx context.Context, id string) (models.Product, error)
	Save(ctx context.Context, p models.Product) (models.Product, error)
	// DeductStock subtracts every quantity in one atomic step, or none of
	// them. Only the stock level is written.
	DeductStock(ctx context.Context, deductions map[string]int) error
}

type Option func(*Ledger)

// WithLockTimeout bounds how long an operation waits for the ledger lock.
// Zero waits until the caller's context is done.
func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.lockTimeout = d }
}

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// Ledger holds provisional stock reservations per order. Every operation runs
// under one ledger-wide lock, so availability checks always see a consistent
// view of all holds and two reservations can never both claim the same unit.
type Ledger struct {
	products    ProductStore
	sem         *semaphore.Weighted
	lockTimeout time.Duration
	holds       map[string]map[string]int
	log         *zap.Logger
}

func NewLedger(products ProductStore, opts ...Option) *Ledger {
	l := &Ledger{
		products: products,
		sem:      semaphore.NewWeighted(1),
		holds:    make(map[string]map[string]int),
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) lock(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if l.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.lockTimeout)
		defer cancel()
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return models.ErrLockTimeout
		}
		return err
	}
	return nil
}

func (l *Ledger) unlock() { l.sem.Release(1) }

func (l *Ledger) CheckAvailability(ctx context.Context, productID string, quantity int) (bool, error) {
	if err := l.lock(ctx); err != nil {
		return false, err
	}
	defer l.unlock()

	available, err := l.available(ctx, productID, "")
	if err != nil {
		return false, err
	}
	return available >= quantity, nil
}

// Reserve holds stock for every item of an order or for none of them.
// Quantities for the same product are summed. Reserving an order that already
// holds stock replaces its previous hold.
func (l *Ledger) Reserve(ctx context.Context, orderID string, items []models.Item) error {
	want := make(map[string]int, len(items))
	var productIDs []string
	for _, item := range items {
		if item.Quantity < 0 {
			return fmt.Errorf("reserve stock: invalid quantity %d for product %s", item.Quantity, item.ProductID)
		}
		held, seen := want[item.ProductID]
		if !seen {
			productIDs = append(productIDs, item.ProductID)
		}
		if item.Quantity > math.MaxInt-held {
			return fmt.Errorf("reserve stock: quantity for product %s overflows", item.ProductID)
		}
		want[item.ProductID] = held + item.Quantity
	}

	if err := l.lock(ctx); err != nil {
		return err
	}
	defer l.unlock()

	for _, productID := range productIDs {
		available, err := l.available(ctx, productID, orderID)
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}
		if available < want[productID] {
			l.log.Info("stock reservation rejected",
				zap.String("order_id", orderID),
				zap.String("product_id", productID),
				zap.Int("requested", want[productID]),
				zap.Int("available", available),
			)
			return &models.StockError{ProductID: productID, Requested: want[productID], Available: available}
		}
	}

	l.holds[orderID] = want
	l.log.Info("stock reserved", zap.String("order_id", orderID), zap.Int("products", len(want)))
	return nil
}

func (l *Ledger) Release(ctx context.Context, orderID string) error {
	if err := l.lock(ctx); err != nil {
		return err
	}
	defer l.unlock()

	if _, ok := l.holds[orderID]; ok {
		delete(l.holds, orderID)
		l.log.Info("stock released", zap.String("order_id", orderID))
	}
	return nil
}

// Confirm turns an order's hold into a permanent stock deduction. The hold
// is dropped only once the store has applied every deduction, so a failed
// confirm can be retried without deducting twice.
func (l *Ledger) Confirm(ctx context.Context, orderID string) error {
	if err := l.lock(ctx); err != nil {
		return err
	}
	defer l.unlock()

	hold, ok := l.holds[orderID]
	if !ok {
		return nil
	}
	if err := l.products.DeductStock(ctx, hold); err != nil {
		return fmt.Errorf("confirm stock: %w", err)
	}

	delete(l.holds, orderID)
	l.log.Info("stock confirmed", zap.String("order_id", orderID), zap.Int("products", len(hold)))
	return nil
}

// SaveProduct writes a catalog record under the ledger lock. A stock level
// below what open reservations already hold is refused.
func (l *Ledger) SaveProduct(ctx context.Context, p models.Product) (models.Product, error) {
	if err := l.lock(ctx); err != nil {
		return models.Product{}, err
	}
	defer l.unlock()

	if held := l.reserved(p.ID, ""); p.StockQuantity < held {
		return models.Product{}, &models.StockError{ProductID: p.ID, Requested: held, Available: p.StockQuantity}
	}
	return l.products.Save(ctx, p)
}

func (l *Ledger) Hold(ctx context.Context, orderID string) (map[string]int, error) {
	if err := l.lock(ctx); err != nil {
		return nil, err
	}
	defer l.unlock()

	hold, ok := l.holds[orderID]
	if !ok {
		return nil, nil
	}
	out := make(map[string]int, len(hold))
	for productID, qty := range hold {
		out[productID] = qty
	}
	return out, nil
}

func (l *Ledger) Reserved(ctx context.Context, productID string) (int, error) {
	if err := l.lock(ctx); err != nil {
		return 0, err
	}
	defer l.unlock()
	return l.reserved(productID, ""), nil
}

func (l *Ledger) available(ctx context.Context, productID, excludeOrder string) (int, error) {
	product, err := l.products.FindByID(ctx, productID)
	if err != nil {
		return 0, err
	}
	return product.StockQuantity - l.reserved(productID, excludeOrder), nil
}

func (l *Ledger) reserved(productID, excludeOrder string) int {
	total := 0
	for orderID, hold := range l.holds {
		if orderID == excludeOrder {
			continue
		}
		total += hold[productID]
	}
	return total
}
