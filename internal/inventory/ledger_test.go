package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/safar/go-order-ledger/internal/models"
	"github.com/safar/go-order-ledger/internal/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func setupLedger(t *testing.T, opts ...Option) (*Ledger, *memory.ProductStore) {
	t.Helper()
	products := memory.NewProductStore()
	_, err := products.Save(context.Background(), models.Product{
		ID: "P001", Name: "Test Product", Price: decimal.NewFromInt(100), StockQuantity: 10, Active: true,
	})
	require.NoError(t, err)
	return NewLedger(products, opts...), products
}

func items(pairs ...any) []models.Item {
	var out []models.Item
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, models.Item{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func mustAvailable(t *testing.T, l *Ledger, productID string, qty int) bool {
	t.Helper()
	ok, err := l.CheckAvailability(context.Background(), productID, qty)
	require.NoError(t, err)
	return ok
}

func TestCheckAvailability(t *testing.T) {
	l, _ := setupLedger(t)

	assert.True(t, mustAvailable(t, l, "P001", 5))
	assert.True(t, mustAvailable(t, l, "P001", 10))
	assert.False(t, mustAvailable(t, l, "P001", 11))

	_, err := l.CheckAvailability(context.Background(), "P404", 1)
	assert.ErrorIs(t, err, models.ErrResourceNotFound)
}

func TestReserveCountsAgainstAvailability(t *testing.T) {
	l, products := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 3)))
	assert.True(t, mustAvailable(t, l, "P001", 7))
	assert.False(t, mustAvailable(t, l, "P001", 8))

	require.NoError(t, l.Reserve(ctx, "O002", items("P001", 4)))
	assert.True(t, mustAvailable(t, l, "P001", 3))
	assert.False(t, mustAvailable(t, l, "P001", 4))

	p, err := products.FindByID(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity, "reservation must not touch real stock")
}

func TestReserveInsufficientStock(t *testing.T) {
	l, _ := setupLedger(t)

	err := l.Reserve(context.Background(), "O001", items("P001", 15))
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	var se *models.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "P001", se.ProductID)
	assert.Equal(t, 15, se.Requested)
	assert.Equal(t, 10, se.Available)
}

func TestReserveIsAllOrNothing(t *testing.T) {
	l, products := setupLedger(t)
	ctx := context.Background()
	_, err := products.Save(ctx, models.Product{ID: "P002", StockQuantity: 2, Active: true})
	require.NoError(t, err)

	err = l.Reserve(ctx, "O001", items("P001", 5, "P002", 3))
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	hold, err := l.Hold(ctx, "O001")
	require.NoError(t, err)
	assert.Nil(t, hold)
	assert.True(t, mustAvailable(t, l, "P001", 10))
}

func TestReserveSumsDuplicateProducts(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	err := l.Reserve(ctx, "O001", items("P001", 6, "P001", 6))
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 4, "P001", 5)))
	reserved, err := l.Reserved(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 9, reserved)
}

func TestReserveReplacesExistingHold(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 8)))
	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 9)))

	reserved, err := l.Reserved(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 9, reserved)
}

func TestReserveUnknownProduct(t *testing.T) {
	l, _ := setupLedger(t)

	err := l.Reserve(context.Background(), "O001", items("P404", 1))
	assert.ErrorIs(t, err, models.ErrResourceNotFound)
}

func TestReleaseStock(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 5)))
	assert.False(t, mustAvailable(t, l, "P001", 6))

	require.NoError(t, l.Release(ctx, "O001"))
	assert.True(t, mustAvailable(t, l, "P001", 10))
}

func TestReleaseIsIdempotent(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	assert.NoError(t, l.Release(ctx, "never-reserved"))
	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 1)))
	assert.NoError(t, l.Release(ctx, "O001"))
	assert.NoError(t, l.Release(ctx, "O001"))
}

func TestConfirmStockDeductsOnce(t *testing.T) {
	l, products := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 3)))

	p, err := products.FindByID(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)

	require.NoError(t, l.Confirm(ctx, "O001"))

	p, err = products.FindByID(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 7, p.StockQuantity)

	hold, err := l.Hold(ctx, "O001")
	require.NoError(t, err)
	assert.Nil(t, hold)

	assert.True(t, mustAvailable(t, l, "P001", 7))
	assert.False(t, mustAvailable(t, l, "P001", 8))

	require.NoError(t, l.Confirm(ctx, "O001"))
	p, err = products.FindByID(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 7, p.StockQuantity)
}

func TestConfirmRefusesToDriveStockNegative(t *testing.T) {
	l, products := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 6)))
	_, err := products.Save(ctx, models.Product{ID: "P001", StockQuantity: 4, Active: true})
	require.NoError(t, err)

	err = l.Confirm(ctx, "O001")
	assert.ErrorIs(t, err, models.ErrInsufficientStock)

	p, err := products.FindByID(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 4, p.StockQuantity)
}

// flakyProducts fails the next failDeducts stock deductions before they reach
// the store.
type flakyProducts struct {
	*memory.ProductStore
	failDeducts int
}

func (f *flakyProducts) DeductStock(ctx context.Context, deductions map[string]int) error {
	if f.failDeducts > 0 {
		f.failDeducts--
		return errors.New("connection reset")
	}
	return f.ProductStore.DeductStock(ctx, deductions)
}

func TestConfirmFailureCanBeRetried(t *testing.T) {
	ctx := context.Background()
	products := &flakyProducts{ProductStore: memory.NewProductStore(), failDeducts: 1}
	for _, id := range []string{"P001", "P002"} {
		_, err := products.Save(ctx, models.Product{ID: id, StockQuantity: 10, Active: true})
		require.NoError(t, err)
	}
	l := NewLedger(products)

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 3, "P002", 3)))
	require.Error(t, l.Confirm(ctx, "O001"))

	hold, err := l.Hold(ctx, "O001")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"P001": 3, "P002": 3}, hold)

	require.NoError(t, l.Confirm(ctx, "O001"))
	for _, id := range []string{"P001", "P002"} {
		p, err := products.FindByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 7, p.StockQuantity, id)
	}
}

func TestConfirmKeepsCatalogChanges(t *testing.T) {
	l, products := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 3)))
	_, err := products.Save(ctx, models.Product{
		ID: "P001", Name: "Test Product", Price: decimal.NewFromInt(999), StockQuantity: 10, Active: false,
	})
	require.NoError(t, err)
	require.NoError(t, l.Confirm(ctx, "O001"))

	p, err := products.FindByID(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 7, p.StockQuantity)
	assert.False(t, p.Active)
	assert.Equal(t, "999", p.Price.String())
}

func TestSaveProductRefusesStockBelowReservations(t *testing.T) {
	l, products := setupLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Reserve(ctx, "O001", items("P001", 6)))

	_, err := l.SaveProduct(ctx, models.Product{ID: "P001", Name: "Test Product", StockQuantity: 5, Active: true})
	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	p, err := products.FindByID(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 10, p.StockQuantity)

	saved, err := l.SaveProduct(ctx, models.Product{ID: "P001", Name: "Restocked", StockQuantity: 20, Active: true})
	require.NoError(t, err)
	assert.Equal(t, 20, saved.StockQuantity)
	assert.True(t, mustAvailable(t, l, "P001", 14))
	assert.False(t, mustAvailable(t, l, "P001", 15))
}

func TestReserveRejectsOverflowingQuantity(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	err := l.Reserve(ctx, "O001", items("P001", math.MaxInt, "P001", 2))
	require.Error(t, err)

	reserved, err := l.Reserved(ctx, "P001")
	require.NoError(t, err)
	assert.Zero(t, reserved)
}

func TestConcurrentReservationsExactlyOneWins(t *testing.T) {
	for round := 0; round < 50; round++ {
		l, products := setupLedger(t)
		ctx := context.Background()

		var successes, failures atomic.Int32
		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, orderID := range []string{"O001", "O002"} {
			wg.Add(1)
			go func(orderID string) {
				defer wg.Done()
				<-start
				err := l.Reserve(ctx, orderID, items("P001", 6))
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, models.ErrInsufficientStock):
					failures.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(orderID)
		}
		close(start)
		wg.Wait()

		require.Equal(t, int32(1), successes.Load())
		require.Equal(t, int32(1), failures.Load())

		p, err := products.FindByID(ctx, "P001")
		require.NoError(t, err)
		require.Equal(t, 10, p.StockQuantity)
	}
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	l, _ := setupLedger(t)
	ctx := context.Background()

	var successes atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := l.Reserve(ctx, fmt.Sprintf("O%03d", i), items("P001", 3)); err == nil {
				successes.Add(1)
			}
			_, _ = l.CheckAvailability(ctx, "P001", 1)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(3), successes.Load())
	reserved, err := l.Reserved(ctx, "P001")
	require.NoError(t, err)
	assert.Equal(t, 9, reserved)
}

func TestLockTimeout(t *testing.T) {
	l, _ := setupLedger(t, WithLockTimeout(20*time.Millisecond))

	require.True(t, l.sem.TryAcquire(1))
	defer l.unlock()

	err := l.Reserve(context.Background(), "O001", items("P001", 1))
	assert.ErrorIs(t, err, models.ErrLockTimeout)
}

func TestLockHonoursCancelledContext(t *testing.T) {
	l, _ := setupLedger(t)

	require.True(t, l.sem.TryAcquire(1))
	defer l.unlock()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := l.CheckAvailability(ctx, "P001", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
