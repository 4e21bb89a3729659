package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/safar/go-order-ledger/internal/models"
)

var errMissingID = errors.New("record id is empty")

type table[T any] struct {
	mu    sync.RWMutex
	rows  map[string]T
	clone func(T) T
}

func newTable[T any](clone func(T) T) *table[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &table[T]{rows: make(map[string]T), clone: clone}
}

func (t *table[T]) put(id string, v T) (T, error) {
	if id == "" {
		var zero T
		return zero, errMissingID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows[id] = t.clone(v)
	return t.clone(v), nil
}

func (t *table[T]) get(id string) (T, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.rows[id]
	if !ok {
		return v, false
	}
	return t.clone(v), true
}

func (t *table[T]) update(fn func(rows map[string]T) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(t.rows)
}

func (t *table[T]) filter(keep func(T) bool) []T {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	for _, id := range ids {
		v := t.rows[id]
		if keep == nil || keep(v) {
			out = append(out, t.clone(v))
		}
	}
	return out
}

type ProductStore struct {
	rows *table[models.Product]
}

func NewProductStore() *ProductStore {
	return &ProductStore{rows: newTable[models.Product](nil)}
}

func (s *ProductStore) Save(ctx context.Context, p models.Product) (models.Product, error) {
	return s.rows.put(p.ID, p)
}

func (s *ProductStore) FindByID(ctx context.Context, id string) (models.Product, error) {
	p, ok := s.rows.get(id)
	if !ok {
		return models.Product{}, models.NotFound("product", id)
	}
	return p, nil
}

func (s *ProductStore) FindAll(ctx context.Context) ([]models.Product, error) {
	return s.rows.filter(nil), nil
}

// DeductStock checks every product before touching any of them.
func (s *ProductStore) DeductStock(ctx context.Context, deductions map[string]int) error {
	return s.rows.update(func(rows map[string]models.Product) error {
		for id, qty := range deductions {
			p, ok := rows[id]
			if !ok {
				return models.NotFound("product", id)
			}
			if p.StockQuantity < qty {
				return &models.StockError{ProductID: id, Requested: qty, Available: p.StockQuantity}
			}
		}
		for id, qty := range deductions {
			p := rows[id]
			p.StockQuantity -= qty
			rows[id] = p
		}
		return nil
	})
}

type CustomerStore struct {
	rows *table[models.Customer]
}

func NewCustomerStore() *CustomerStore {
	return &CustomerStore{rows: newTable[models.Customer](nil)}
}

func (s *CustomerStore) Save(ctx context.Context, c models.Customer) (models.Customer, error) {
	return s.rows.put(c.ID, c)
}

func (s *CustomerStore) FindByID(ctx context.Context, id string) (models.Customer, error) {
	c, ok := s.rows.get(id)
	if !ok {
		return models.Customer{}, models.NotFound("customer", id)
	}
	return c, nil
}

func (s *CustomerStore) FindAll(ctx context.Context) ([]models.Customer, error) {
	return s.rows.filter(nil), nil
}

// OrderStore keeps deep copies so callers never share item slices with the
// stored record.
type OrderStore struct {
	rows *table[models.Order]
}

func NewOrderStore() *OrderStore {
	return &OrderStore{rows: newTable(models.Order.Clone)}
}

func (s *OrderStore) Save(ctx context.Context, o models.Order) (models.Order, error) {
	return s.rows.put(o.ID, o)
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (models.Order, error) {
	o, ok := s.rows.get(id)
	if !ok {
		return models.Order{}, models.NotFound("order", id)
	}
	return o, nil
}

func (s *OrderStore) FindAll(ctx context.Context) ([]models.Order, error) {
	return sortByCreated(s.rows.filter(nil)), nil
}

func (s *OrderStore) FindByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	return sortByCreated(s.rows.filter(func(o models.Order) bool {
		return o.CustomerID == customerID
	})), nil
}

func sortByCreated(orders []models.Order) []models.Order {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}
