package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, 5*time.Second, cfg.Ledger.LockTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "order-events", cfg.Kafka.OrderTopic)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("LEDGER_LOCK_TIMEOUT", "250ms")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("IDEMPOTENCY_TTL", "not-a-duration")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "7")
	t.Setenv("SERVER_REQUEST_TIMEOUT", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Ledger.LockTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 24*time.Hour, cfg.Redis.IdempotencyTTL)
	assert.Equal(t, 7, cfg.Database.MaxOpenConns)
	assert.Equal(t, 3*time.Second, cfg.Server.RequestTimeout)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")

	_, err := Load()
	assert.Error(t, err)
}
