package config

import (
	"fmt"
	"strings"

	"crmflow/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errors []error

	if err := validateServer(cfg.Server); err != nil {
		errors = append(errors, err)
	}

	if err := validateBroker(cfg.Broker); err != nil {
		errors = append(errors, err)
	}

	if err := validateDatabase(cfg.Database); err != nil {
		errors = append(errors, err)
	}

	if err := validatePipeline(cfg.Pipeline); err != nil {
		errors = append(errors, err)
	}

	if err := validateCampaign(cfg.Campaign); err != nil {
		errors = append(errors, err)
	}

	if err := validateVendor(cfg.Vendor); err != nil {
		errors = append(errors, err)
	}

	if err := validateLogging(cfg.Logging); err != nil {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errors)
	}

	return nil
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.read_timeout_seconds",
			Message: "read timeout must be positive",
		}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{
			Field:   "server.write_timeout_seconds",
			Message: "write timeout must be positive",
		}
	}

	return nil
}

func validateBroker(cfg BrokerConfig) error {
	if cfg.Type == "" {
		return &ValidationError{
			Field:   "broker.type",
			Message: "broker type is required",
		}
	}

	switch cfg.Type {
	case constants.BrokerTypeRedis:
		return validateRedisStream(cfg.Redis)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: redis)", cfg.Type),
		}
	}
}

func validateRedisStream(cfg RedisStreamConfig) error {
	if cfg.ConsumerName == "" {
		return &ValidationError{
			Field:   "broker.redis.consumer_name",
			Message: "consumer name is required",
		}
	}

	if cfg.Count <= 0 {
		return &ValidationError{
			Field:   "broker.redis.count",
			Message: "count must be positive",
		}
	}

	if cfg.Block < 0 {
		return &ValidationError{
			Field:   "broker.redis.block",
			Message: "block must be non-negative",
		}
	}

	if cfg.ClaimIdle < 0 {
		return &ValidationError{
			Field:   "broker.redis.claim_idle",
			Message: "claim_idle must be non-negative",
		}
	}

	if cfg.ErrorBackoff <= 0 {
		return &ValidationError{
			Field:   "broker.redis.error_backoff",
			Message: "error_backoff must be positive",
		}
	}

	if cfg.Startup.MaxAttempts < 0 {
		return &ValidationError{
			Field:   "broker.redis.startup.max_attempts",
			Message: "max_attempts must be non-negative",
		}
	}

	if cfg.Startup.MaxInterval > 0 && cfg.Startup.InitialInterval > 0 && cfg.Startup.MaxInterval < cfg.Startup.InitialInterval {
		return &ValidationError{
			Field:   "broker.redis.startup.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if err := validateRedis(cfg.Redis); err != nil {
		return err
	}

	return validateMongoDB(cfg.MongoDB)
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{
			Field:   "database.redis.host",
			Message: "Redis host is required",
		}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI is required",
		}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{
			Field:   "database.mongodb.database",
			Message: "MongoDB database name is required",
		}
	}

	return nil
}

func validatePipeline(cfg PipelineConfig) error {
	if cfg.Customer.Group == "" {
		return &ValidationError{
			Field:   "pipeline.customer.group",
			Message: "consumer group is required",
		}
	}

	if cfg.Order.Group == "" {
		return &ValidationError{
			Field:   "pipeline.order.group",
			Message: "consumer group is required",
		}
	}

	if cfg.Order.MaxAttempts < 1 {
		return &ValidationError{
			Field:   "pipeline.order.max_attempts",
			Message: fmt.Sprintf("max_attempts must be at least 1, got %d", cfg.Order.MaxAttempts),
		}
	}

	if cfg.Order.BackoffBase <= 0 {
		return &ValidationError{
			Field:   "pipeline.order.backoff_base",
			Message: "backoff_base must be positive",
		}
	}

	if cfg.Order.BackoffMax < cfg.Order.BackoffBase {
		return &ValidationError{
			Field:   "pipeline.order.backoff_max",
			Message: "backoff_max must be greater than or equal to backoff_base",
		}
	}

	if cfg.Order.TickInterval <= 0 {
		return &ValidationError{
			Field:   "pipeline.order.tick_interval",
			Message: "tick_interval must be positive",
		}
	}

	if cfg.Communication.Group == "" {
		return &ValidationError{
			Field:   "pipeline.communication.group",
			Message: "consumer group is required",
		}
	}

	if cfg.Communication.BatchSize < 1 {
		return &ValidationError{
			Field:   "pipeline.communication.batch_size",
			Message: fmt.Sprintf("batch_size must be at least 1, got %d", cfg.Communication.BatchSize),
		}
	}

	if cfg.Communication.FlushInterval <= 0 {
		return &ValidationError{
			Field:   "pipeline.communication.flush_interval",
			Message: "flush_interval must be positive",
		}
	}

	switch strings.ToLower(cfg.Communication.AckMode) {
	case constants.AckModeAfterFlush, constants.AckModeBeforeFlush:
	default:
		return &ValidationError{
			Field:   "pipeline.communication.ack_mode",
			Message: fmt.Sprintf("invalid ack_mode: %s (valid: after_flush, before_flush)", cfg.Communication.AckMode),
		}
	}

	return nil
}

func validateCampaign(cfg CampaignConfig) error {
	if cfg.InsertBatchSize < 1 {
		return &ValidationError{
			Field:   "campaign.insert_batch_size",
			Message: "insert_batch_size must be at least 1",
		}
	}

	if cfg.PageSize < 1 {
		return &ValidationError{
			Field:   "campaign.page_size",
			Message: "page_size must be at least 1",
		}
	}

	if cfg.PageDelay < 0 {
		return &ValidationError{
			Field:   "campaign.page_delay",
			Message: "page_delay must be non-negative",
		}
	}

	if cfg.VendorRPS < 0 {
		return &ValidationError{
			Field:   "campaign.vendor_rps",
			Message: "vendor_rps must be non-negative (0 disables limiting)",
		}
	}

	return nil
}

func validateVendor(cfg VendorConfig) error {
	if cfg.FailureRate < 0 || cfg.FailureRate > 1 {
		return &ValidationError{
			Field:   "vendor.failure_rate",
			Message: fmt.Sprintf("failure_rate must be between 0 and 1, got %v", cfg.FailureRate),
		}
	}

	if cfg.MinLatency < 0 || cfg.MaxLatency < cfg.MinLatency {
		return &ValidationError{
			Field:   "vendor.max_latency",
			Message: "latency bounds must satisfy 0 <= min_latency <= max_latency",
		}
	}

	return nil
}

func validateLogging(cfg LoggingConfig) error {
	switch cfg.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return &ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error (got %q)", cfg.Level),
		}
	}
	switch cfg.Format {
	case "", "json", "console":
	default:
		return &ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be json or console (got %q)", cfg.Format),
		}
	}
	return nil
}
