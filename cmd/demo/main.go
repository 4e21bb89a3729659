package main

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/safar/go-order-ledger/internal/events"
	"github.com/safar/go-order-ledger/internal/inventory"
	"github.com/safar/go-order-ledger/internal/logging"
	"github.com/safar/go-order-ledger/internal/models"
	"github.com/safar/go-order-ledger/internal/pricing"
	"github.com/safar/go-order-ledger/internal/service"
	"github.com/safar/go-order-ledger/internal/store/memory"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type demo struct {
	svc      *service.OrderService
	products *memory.ProductStore
	events   *events.Recorder
	log      *zap.Logger
}

func main() {
	logger, err := logging.New("info", "console", "order-ledger-demo")
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	products := memory.NewProductStore()
	customers := memory.NewCustomerStore()
	orders := memory.NewOrderStore()
	recorder := &events.Recorder{}

	if err := seed(ctx, products, customers); err != nil {
		logger.Fatal("seed data", zap.Error(err))
	}

	ledger := inventory.NewLedger(products,
		inventory.WithLockTimeout(time.Second),
		inventory.WithLogger(logger.Named("ledger")),
	)
	d := &demo{
		svc: service.NewOrderService(orders, customers, products, ledger,
			service.WithLogger(logger.Named("orders")),
			service.WithPublisher(recorder),
		),
		products: products,
		events:   recorder,
		log:      logger,
	}

	d.successfulOrder(ctx)
	d.insufficientStock(ctx)
	d.creditLimitExceeded(ctx)
	d.pricingComparison(ctx)
	d.concurrentOrders(ctx)

	logger.Info("demo finished", zap.Int("events_published", len(recorder.Events())))
}

func seed(ctx context.Context, products *memory.ProductStore, customers *memory.CustomerStore) error {
	for _, c := range []models.Customer{
		{ID: "C001", Tier: models.TierRegular, CreditLimit: decimal.NewFromInt(10000)},
		{ID: "C002", Tier: models.TierSilver, CreditLimit: decimal.NewFromInt(15000)},
		{ID: "C003", Tier: models.TierGold, CreditLimit: decimal.NewFromInt(20000)},
		{ID: "C004", Tier: models.TierPlatinum, CreditLimit: decimal.NewFromInt(50000)},
		{ID: "C005", Tier: models.TierRegular, CreditLimit: decimal.NewFromInt(500)},
	} {
		if _, err := customers.Save(ctx, c); err != nil {
			return err
		}
	}
	for _, p := range []models.Product{
		{ID: "P001", Name: "Laptop", Price: decimal.NewFromInt(12500), StockQuantity: 10, Active: true},
		{ID: "P002", Name: "Mouse", Price: decimal.NewFromInt(250), StockQuantity: 50, Active: true},
		{ID: "P003", Name: "Keyboard", Price: decimal.NewFromInt(625), StockQuantity: 30, Active: true},
		{ID: "P004", Name: "Monitor", Price: decimal.NewFromInt(3750), StockQuantity: 5, Active: true},
		{ID: "P005", Name: "USB Cable", Price: decimal.NewFromInt(125), StockQuantity: 100, Active: true},
	} {
		if _, err := products.Save(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

func items(pairs ...any) []models.Item {
	var out []models.Item
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, models.Item{ProductID: pairs[i].(string), Quantity: pairs[i+1].(int)})
	}
	return out
}

func (d *demo) createAndProcess(ctx context.Context, scenario, customerID, address string, lines []models.Item) {
	log := d.log.With(zap.String("scenario", scenario))

	order, err := d.svc.CreateOrder(ctx, customerID, lines, address)
	if err != nil {
		log.Error("create order", zap.Error(err))
		return
	}
	log.Info("order created", zap.String("order_id", order.ID))

	processed, err := d.svc.ProcessOrder(ctx, order.ID)
	if err != nil {
		log.Warn("order not processed", zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	log.Info("order validated",
		zap.String("order_id", processed.ID),
		zap.String("status", string(processed.Status)),
		zap.String("total_incl_vat", processed.TotalAmount.StringFixed(2)),
		zap.String("vat", processed.VATAmount.StringFixed(2)),
		zap.Strings("events", d.events.Types(processed.ID)),
	)
}

func (d *demo) successfulOrder(ctx context.Context) {
	d.createAndProcess(ctx, "gold customer", "C003", "123 Main Street", items("P001", 1, "P002", 2))
}

func (d *demo) insufficientStock(ctx context.Context) {
	d.createAndProcess(ctx, "insufficient stock", "C001", "456 Oak Avenue", items("P004", 10))
}

func (d *demo) creditLimitExceeded(ctx context.Context) {
	d.createAndProcess(ctx, "credit limit", "C005", "789 Pine Road", items("P001", 1))
}

func (d *demo) pricingComparison(ctx context.Context) {
	var lines []models.Item
	for _, it := range items("P001", 1, "P003", 2) {
		p, err := d.products.FindByID(ctx, it.ProductID)
		if err != nil {
			d.log.Error("load product", zap.Error(err))
			return
		}
		lines = append(lines, models.NewItem(p.ID, it.Quantity, p.Price))
	}
	order := models.NewOrder("pricing-preview", "C001", lines, "", time.Now())

	for _, tier := range []models.Tier{models.TierRegular, models.TierSilver, models.TierGold, models.TierPlatinum} {
		res := pricing.Calculate(order, models.Customer{ID: "preview", Tier: tier, CreditLimit: decimal.NewFromInt(50000)})
		d.log.Info("tier pricing",
			zap.String("tier", string(tier)),
			zap.String("discount_pct", tier.DiscountRate().Shift(2).String()),
			zap.String("total_incl_vat", res.TotalAmount.StringFixed(2)),
			zap.String("vat", res.VATAmount.StringFixed(2)),
		)
	}
}

func (d *demo) concurrentOrders(ctx context.Context) {
	d.log.Info("two customers race for monitors", zap.Int("stock", 5), zap.Int("each_wants", 3))

	var wg sync.WaitGroup
	for _, c := range []struct{ name, customerID string }{
		{"customer A", "C003"},
		{"customer B", "C004"},
	} {
		wg.Add(1)
		go func(name, customerID string) {
			defer wg.Done()
			log := d.log.With(zap.String("scenario", "concurrent"), zap.String("who", name))

			order, err := d.svc.CreateOrder(ctx, customerID, items("P004", 3), name+" address")
			if err != nil {
				log.Error("create order", zap.Error(err))
				return
			}
			time.Sleep(50 * time.Millisecond)
			if _, err := d.svc.ProcessOrder(ctx, order.ID); err != nil {
				log.Warn("order failed", zap.String("order_id", order.ID), zap.Error(err))
				return
			}
			log.Info("order succeeded", zap.String("order_id", order.ID))
		}(c.name, c.customerID)
	}
	wg.Wait()
}
