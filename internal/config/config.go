package config

import (
	"time"
)

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	Broker         BrokerConfig
	Logging        LoggingConfig
	Pipeline       PipelineConfig
	Campaign       CampaignConfig
	Vendor         VendorConfig
	API            APIConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port                int           `mapstructure:"port"`
	ReadTimeoutSeconds  time.Duration `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds time.Duration `mapstructure:"write_timeout_seconds"`
	SwaggerEnabled      bool          `mapstructure:"swagger_enabled"`
}

type DatabaseConfig struct {
	Redis         RedisConfig
	MongoDB       MongoDBConfig
	RunMigrations bool `mapstructure:"run_migrations"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MongoDBConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type BrokerConfig struct {
	Type  string            `mapstructure:"type"`
	Redis RedisStreamConfig `mapstructure:"redis"`
}

// RedisStreamConfig tunes the XREADGROUP loop shared by all consumers.
type RedisStreamConfig struct {
	ConsumerName string        `mapstructure:"consumer_name"`
	Count        int64         `mapstructure:"count"`
	Block        time.Duration `mapstructure:"block"`
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`
	// ClaimIdle is how long an entry may sit unacknowledged with another
	// consumer before this one takes it over. Zero disables takeover.
	ClaimIdle time.Duration `mapstructure:"claim_idle"`
	Startup   RetryConfig   `mapstructure:"startup"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type PipelineConfig struct {
	Customer      CustomerConsumerConfig      `mapstructure:"customer"`
	Order         OrderConsumerConfig         `mapstructure:"order"`
	Communication CommunicationConsumerConfig `mapstructure:"communication"`
}

type CustomerConsumerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Group   string `mapstructure:"group"`
}

type OrderConsumerConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Group            string        `mapstructure:"group"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	BackoffBase      time.Duration `mapstructure:"backoff_base"`
	BackoffMax       time.Duration `mapstructure:"backoff_max"`
	TickInterval     time.Duration `mapstructure:"tick_interval"`
	PendingScanCount int64         `mapstructure:"pending_scan_count"`
}

type CommunicationConsumerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Group         string        `mapstructure:"group"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout"`
	AckMode       string        `mapstructure:"ack_mode"` // "after_flush" (default) or "before_flush"
}

type CampaignConfig struct {
	InsertBatchSize int           `mapstructure:"insert_batch_size"`
	PageSize        int64         `mapstructure:"page_size"`
	PageDelay       time.Duration `mapstructure:"page_delay"`
	VendorRPS       float64       `mapstructure:"vendor_rps"`
	VendorBurst     int           `mapstructure:"vendor_burst"`
	PreviewSample   int           `mapstructure:"preview_sample"`
}

type VendorConfig struct {
	MinLatency  time.Duration `mapstructure:"min_latency"`
	MaxLatency  time.Duration `mapstructure:"max_latency"`
	FailureRate float64       `mapstructure:"failure_rate"`
}

type APIConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}
