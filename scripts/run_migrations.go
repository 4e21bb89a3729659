package main

import (
	"context"
	"log"
	"os"

	"github.com/safar/go-order-ledger/internal/config"
	"github.com/safar/go-order-ledger/internal/database"
	"github.com/safar/go-order-ledger/internal/logging"
	"github.com/safar/go-order-ledger/migrations"
	"go.uber.org/zap"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run scripts/run_migrations.go [up|down]")
	}
	direction := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.ServiceName)
	if err != nil {
		log.Fatalf("Build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	n, err := database.Migrate(ctx, db, migrations.FS, direction, logger)
	if err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}
	logger.Info("migrations complete", zap.Int("count", n), zap.String("direction", direction))
}
