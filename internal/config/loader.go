package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"crmflow/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout_seconds", "10s")
	viper.SetDefault("server.write_timeout_seconds", "10s")
	viper.SetDefault("server.swagger_enabled", true)

	viper.SetDefault("database.redis.host", "localhost")
	viper.SetDefault("database.redis.port", 6379)
	viper.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)
	viper.SetDefault("database.run_migrations", true)

	viper.SetDefault("broker.type", constants.BrokerTypeRedis)
	viper.SetDefault("broker.redis.count", constants.DefaultReadCount)
	viper.SetDefault("broker.redis.block", constants.DefaultReadBlock)
	viper.SetDefault("broker.redis.error_backoff", constants.DefaultErrorBackoff)
	viper.SetDefault("broker.redis.claim_idle", constants.DefaultClaimIdle)
	viper.SetDefault("broker.redis.startup.max_attempts", 5)
	viper.SetDefault("broker.redis.startup.initial_interval", "500ms")
	viper.SetDefault("broker.redis.startup.max_interval", "5s")
	viper.SetDefault("broker.redis.startup.multiplier", 2.0)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("pipeline.customer.enabled", true)
	viper.SetDefault("pipeline.customer.group", constants.CustomerGroup)

	viper.SetDefault("pipeline.order.enabled", true)
	viper.SetDefault("pipeline.order.group", constants.OrderGroup)
	viper.SetDefault("pipeline.order.max_attempts", constants.DefaultOrderMaxAttempts)
	viper.SetDefault("pipeline.order.backoff_base", constants.DefaultOrderBackoffBase)
	viper.SetDefault("pipeline.order.backoff_max", constants.DefaultOrderBackoffMax)
	viper.SetDefault("pipeline.order.tick_interval", constants.DefaultOrderTickInterval)
	viper.SetDefault("pipeline.order.pending_scan_count", constants.DefaultOrderPendingScanSize)

	viper.SetDefault("pipeline.communication.enabled", true)
	viper.SetDefault("pipeline.communication.group", constants.CommunicationGroup)
	viper.SetDefault("pipeline.communication.batch_size", constants.DefaultCommunicationBatchSize)
	viper.SetDefault("pipeline.communication.flush_interval", constants.DefaultCommunicationFlushInterval)
	viper.SetDefault("pipeline.communication.flush_timeout", constants.DefaultCommunicationFlushTimeout)
	viper.SetDefault("pipeline.communication.ack_mode", constants.AckModeAfterFlush)

	viper.SetDefault("campaign.insert_batch_size", constants.DefaultCampaignInsertBatchSize)
	viper.SetDefault("campaign.page_size", constants.DefaultCampaignPageSize)
	viper.SetDefault("campaign.page_delay", constants.DefaultCampaignPageDelay)
	viper.SetDefault("campaign.vendor_rps", 0)
	viper.SetDefault("campaign.vendor_burst", 1)
	viper.SetDefault("campaign.preview_sample", constants.DefaultCampaignPreviewSample)

	viper.SetDefault("vendor.min_latency", constants.DefaultVendorMinLatency)
	viper.SetDefault("vendor.max_latency", constants.DefaultVendorMaxLatency)
	viper.SetDefault("vendor.failure_rate", constants.DefaultVendorFailureRate)

	viper.SetDefault("circuit_breaker.max_requests", 1)
	viper.SetDefault("circuit_breaker.interval", "60s")
	viper.SetDefault("circuit_breaker.timeout", "30s")
	viper.SetDefault("circuit_breaker.failure_ratio", 0.6)
	viper.SetDefault("circuit_breaker.min_requests", 10)
}

func bindEnvVariables() {
	viper.BindEnv("broker.type", "BROKER_TYPE")
	viper.BindEnv("broker.redis.consumer_name", "BROKER_REDIS_CONSUMER_NAME")
	viper.BindEnv("broker.redis.count", "BROKER_REDIS_COUNT")
	viper.BindEnv("broker.redis.block", "BROKER_REDIS_BLOCK")
	viper.BindEnv("broker.redis.error_backoff", "BROKER_REDIS_ERROR_BACKOFF")
	viper.BindEnv("broker.redis.claim_idle", "BROKER_REDIS_CLAIM_IDLE")

	viper.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	viper.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	viper.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	viper.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	viper.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	viper.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.read_timeout_seconds", "SERVER_READ_TIMEOUT_SECONDS")
	viper.BindEnv("server.write_timeout_seconds", "SERVER_WRITE_TIMEOUT_SECONDS")
	viper.BindEnv("server.swagger_enabled", "SERVER_SWAGGER_ENABLED")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("pipeline.order.max_attempts", "PIPELINE_ORDER_MAX_ATTEMPTS")
	viper.BindEnv("pipeline.communication.batch_size", "PIPELINE_COMMUNICATION_BATCH_SIZE")
	viper.BindEnv("pipeline.communication.ack_mode", "PIPELINE_COMMUNICATION_ACK_MODE")

	viper.BindEnv("vendor.failure_rate", "VENDOR_FAILURE_RATE")
	viper.BindEnv("campaign.vendor_rps", "CAMPAIGN_VENDOR_RPS")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
}

func applyEnvOverrides(cfg *Config) error {
	if cfg.Broker.Redis.ConsumerName == "" {
		cfg.Broker.Redis.ConsumerName = DefaultConsumerName()
	}

	if otlpEndpoint := viper.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}

	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = constants.ServiceName
	}

	return nil
}

// DefaultConsumerName identifies this instance inside every consumer group.
// It is the host name so a restarted process resumes its own backlog; the
// pid is only used when the host name is unavailable.
func DefaultConsumerName() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fmt.Sprintf("consumer-%d", os.Getpid())
}
