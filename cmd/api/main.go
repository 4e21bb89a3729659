package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/safar/go-order-ledger/internal/config"
	"github.com/safar/go-order-ledger/internal/database"
	"github.com/safar/go-order-ledger/internal/events"
	"github.com/safar/go-order-ledger/internal/httpapi"
	"github.com/safar/go-order-ledger/internal/idempotency"
	"github.com/safar/go-order-ledger/internal/inventory"
	"github.com/safar/go-order-ledger/internal/logging"
	"github.com/safar/go-order-ledger/internal/service"
	"github.com/safar/go-order-ledger/internal/store/memory"
	"github.com/safar/go-order-ledger/internal/store/postgres"
	"go.uber.org/zap"
)

type productStore interface {
	httpapi.ProductStore
	inventory.ProductStore
}

type stores struct {
	products  productStore
	customers httpapi.CustomerStore
	orders    service.OrderStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st stores
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		var db *sql.DB
		db, err = database.NewConnection(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connect to database", zap.Error(err))
		}
		defer db.Close()
		st = stores{
			products:  postgres.NewProductStore(db),
			customers: postgres.NewCustomerStore(db),
			orders:    postgres.NewOrderStore(db),
		}
	default:
		st = stores{
			products:  memory.NewProductStore(),
			customers: memory.NewCustomerStore(),
			orders:    memory.NewOrderStore(),
		}
	}
	logger.Info("stores ready", zap.String("driver", cfg.Database.Driver))

	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(
			events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.OrderTopic),
			cfg.Kafka.BufferSize,
			logger.Named("events"),
		)
		defer kp.Close()
		publisher = kp
		logger.Info("publishing order events",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.OrderTopic),
		)
	}

	var idem idempotency.Store = idempotency.NewMemoryStore(cfg.Redis.IdempotencyTTL)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("connect to redis", zap.Error(err))
		}
		idem = idempotency.NewRedisStore(rdb, cfg.Redis.IdempotencyTTL)
	}

	ledger := inventory.NewLedger(st.products,
		inventory.WithLockTimeout(cfg.Ledger.LockTimeout),
		inventory.WithLogger(logger.Named("ledger")),
	)
	svc := service.NewOrderService(st.orders, st.customers, st.products, ledger,
		service.WithLogger(logger.Named("orders")),
		service.WithPublisher(publisher),
		service.WithProducerName(cfg.ServiceName),
	)

	handler := httpapi.NewHandler(svc, st.products, st.customers, ledger, idem, logger.Named("http"))
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      httpapi.NewRouter(handler, logger.Named("http"), cfg.Server.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
}
