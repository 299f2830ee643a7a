package constants

import "time"

const (
	CustomerStream      = "customer-events"
	OrderStream         = "order-events"
	CommunicationStream = "communication-events"
)

const (
	CustomerGroup      = "customer-processors"
	OrderGroup         = "order-processors"
	CommunicationGroup = "communication-processors"
)

const (
	PayloadField = "payload"
)

const (
	DefaultReadCount    = 10
	DefaultReadBlock    = 2 * time.Second
	DefaultErrorBackoff = 1 * time.Second
	DefaultClaimIdle    = 1 * time.Minute
	DefaultClaimScan    = 100
)

const (
	DefaultOrderMaxAttempts     = 10
	DefaultOrderBackoffBase     = 100 * time.Millisecond
	DefaultOrderBackoffMax      = 30 * time.Second
	DefaultOrderTickInterval    = 500 * time.Millisecond
	DefaultOrderPendingScanSize = 100
)

const (
	DefaultCommunicationBatchSize     = 50
	DefaultCommunicationFlushInterval = 5 * time.Second
	DefaultCommunicationFlushTimeout  = 10 * time.Second

	AckModeAfterFlush  = "after_flush"
	AckModeBeforeFlush = "before_flush"
)

const (
	DefaultCampaignInsertBatchSize = 100
	DefaultCampaignPageSize        = 50
	DefaultCampaignPageDelay       = 200 * time.Millisecond
	DefaultCampaignPreviewSample   = 5
)

const (
	DefaultVendorMinLatency  = 100 * time.Millisecond
	DefaultVendorMaxLatency  = 300 * time.Millisecond
	DefaultVendorFailureRate = 0.1
)

const (
	RecentOrderWindow = 100
)

const (
	CustomersCollection      = "customers"
	OrdersCollection         = "orders"
	CommunicationsCollection = "communication_logs"
	CampaignsCollection      = "campaigns"
)

const (
	DefaultMongoDBName = "crm"
)

const (
	ServiceName     = "pipeline-service"
	ShutdownTimeout = 5 * time.Second
)

const (
	BrokerTypeRedis = "redis"
)
