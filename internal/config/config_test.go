package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crmflow/internal/constants"
)

const minimalYAML = `
database:
  mongodb:
    uri: mongodb://localhost:27017
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, constants.BrokerTypeRedis, cfg.Broker.Type)
	assert.Equal(t, int64(10), cfg.Broker.Redis.Count)
	assert.Equal(t, 2*time.Second, cfg.Broker.Redis.Block)
	assert.Equal(t, time.Second, cfg.Broker.Redis.ErrorBackoff)
	assert.Equal(t, time.Minute, cfg.Broker.Redis.ClaimIdle)
	assert.Equal(t, DefaultConsumerName(), cfg.Broker.Redis.ConsumerName)

	assert.Equal(t, "order-processors", cfg.Pipeline.Order.Group)
	assert.Equal(t, 10, cfg.Pipeline.Order.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Pipeline.Order.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Pipeline.Order.BackoffMax)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.Order.TickInterval)

	assert.Equal(t, 50, cfg.Pipeline.Communication.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Pipeline.Communication.FlushInterval)
	assert.Equal(t, constants.AckModeAfterFlush, cfg.Pipeline.Communication.AckMode)

	assert.Equal(t, 100, cfg.Campaign.InsertBatchSize)
	assert.Equal(t, int64(50), cfg.Campaign.PageSize)
	assert.Equal(t, 200*time.Millisecond, cfg.Campaign.PageDelay)
	assert.Equal(t, 0.1, cfg.Vendor.FailureRate)
	assert.Equal(t, constants.ServiceName, cfg.Tracing.ServiceName)
}

func TestLoadConfigFileAndEnvOverrides(t *testing.T) {
	t.Setenv("PIPELINE_ORDER_MAX_ATTEMPTS", "3")
	t.Setenv("DATABASE_REDIS_HOST", "redis.internal")

	path := writeConfig(t, minimalYAML+`
broker:
  redis:
    consumer_name: worker-a
    block: 500ms
pipeline:
  communication:
    ack_mode: before_flush
    flush_interval: 1s
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "worker-a", cfg.Broker.Redis.ConsumerName)
	assert.Equal(t, 500*time.Millisecond, cfg.Broker.Redis.Block)
	assert.Equal(t, 3, cfg.Pipeline.Order.MaxAttempts)
	assert.Equal(t, "redis.internal", cfg.Database.Redis.Host)
	assert.Equal(t, constants.AckModeBeforeFlush, cfg.Pipeline.Communication.AckMode)
	assert.Equal(t, time.Second, cfg.Pipeline.Communication.FlushInterval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, minimalYAML+`
pipeline:
  communication:
    ack_mode: never
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline.communication.ack_mode")
}

func TestDefaultConsumerNameIsStable(t *testing.T) {
	host, err := os.Hostname()
	require.NoError(t, err)

	assert.Equal(t, host, DefaultConsumerName())
	assert.Equal(t, DefaultConsumerName(), DefaultConsumerName())
}
