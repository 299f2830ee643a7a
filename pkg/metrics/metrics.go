package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreamMessagesPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_published_total",
			Help: "Total number of envelopes appended to a stream (count)",
		},
		[]string{"stream", "operation"},
	)

	StreamMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_read_total",
			Help: "Total number of messages delivered to a consumer group (count)",
		},
		[]string{"stream", "group"},
	)

	StreamMessagesAckedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_acked_total",
			Help: "Total number of messages acknowledged (count)",
		},
		[]string{"stream", "group"},
	)

	StreamMessagesClaimedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_messages_claimed_total",
			Help: "Total number of pending messages claimed for retry (count)",
		},
		[]string{"stream", "group"},
	)

	StreamReadErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_read_errors_total",
			Help: "Total number of failed stream reads (count)",
		},
		[]string{"stream", "group"},
	)

	StreamReadDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_read_duration_ms",
			Help:    "Duration of blocking group reads in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"stream", "group"},
	)

	ConsumerMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consumer_messages_total",
			Help: "Total number of messages handled by a consumer, by outcome (count)",
		},
		[]string{"consumer", "outcome"},
	)

	ConsumerProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consumer_processing_duration_ms",
			Help:    "Time spent applying one message in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"consumer"},
	)

	OrderRetryAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_retry_attempts_total",
			Help: "Total number of order messages claimed and re-processed (count)",
		},
	)

	OrderAbandonedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "order_abandoned_total",
			Help: "Total number of orders dropped after the retry bound (count)",
		},
	)

	CommunicationBatchFlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "communication_batch_flush_total",
			Help: "Total number of status batch flushes (count)",
		},
		[]string{"trigger", "status"},
	)

	CommunicationBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "communication_batch_size",
			Help:    "Number of status updates per bulk write (count)",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		},
	)

	CommunicationPendingUpdates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "communication_pending_updates",
			Help: "Status updates buffered and not yet written (count)",
		},
	)

	CampaignDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "campaign_deliveries_total",
			Help: "Total number of recipient sends, by resulting status (count)",
		},
		[]string{"status"},
	)

	CampaignActiveDeliveries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "campaign_active_deliveries",
			Help: "Number of campaign drain loops currently running (count)",
		},
	)

	VendorSendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vendor_send_duration_ms",
			Help:    "Duration of vendor send calls in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 200, 300, 500, 1000, 2500},
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	DatabaseQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "database_queries_total",
			Help: "Total number of database queries (count)",
		},
		[]string{"collection", "operation", "status"},
	)

	DatabaseQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "database_query_duration_ms",
			Help:    "Duration of database queries in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"collection", "operation"},
	)
)

func RegisterStreamMetrics() {
	prometheus.MustRegister(StreamMessagesPublishedTotal)
	prometheus.MustRegister(StreamMessagesReadTotal)
	prometheus.MustRegister(StreamMessagesAckedTotal)
	prometheus.MustRegister(StreamMessagesClaimedTotal)
	prometheus.MustRegister(StreamReadErrorsTotal)
	prometheus.MustRegister(StreamReadDuration)
}

func RegisterConsumerMetrics() {
	prometheus.MustRegister(ConsumerMessagesTotal)
	prometheus.MustRegister(ConsumerProcessingDuration)
	prometheus.MustRegister(OrderRetryAttemptsTotal)
	prometheus.MustRegister(OrderAbandonedTotal)
	prometheus.MustRegister(CommunicationBatchFlushTotal)
	prometheus.MustRegister(CommunicationBatchSize)
	prometheus.MustRegister(CommunicationPendingUpdates)
}

func RegisterCampaignMetrics() {
	prometheus.MustRegister(CampaignDeliveriesTotal)
	prometheus.MustRegister(CampaignActiveDeliveries)
	prometheus.MustRegister(VendorSendDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
	prometheus.MustRegister(DatabaseQueriesTotal)
	prometheus.MustRegister(DatabaseQueryDuration)
}

func IncPublished(stream, operation string) {
	StreamMessagesPublishedTotal.WithLabelValues(stream, operation).Inc()
}

func AddRead(stream, group string, n int) {
	StreamMessagesReadTotal.WithLabelValues(stream, group).Add(float64(n))
}

func AddAcked(stream, group string, n int) {
	StreamMessagesAckedTotal.WithLabelValues(stream, group).Add(float64(n))
}

func IncClaimed(stream, group string) {
	StreamMessagesClaimedTotal.WithLabelValues(stream, group).Inc()
}

func IncReadError(stream, group string) {
	StreamReadErrorsTotal.WithLabelValues(stream, group).Inc()
}

func ObserveReadDuration(stream, group string, duration time.Duration) {
	StreamReadDuration.WithLabelValues(stream, group).Observe(float64(duration.Milliseconds()))
}

func IncConsumerOutcome(consumer, outcome string) {
	ConsumerMessagesTotal.WithLabelValues(consumer, outcome).Inc()
}

func ObserveProcessingDuration(consumer string, duration time.Duration) {
	ConsumerProcessingDuration.WithLabelValues(consumer).Observe(float64(duration.Milliseconds()))
}

func IncBatchFlush(trigger, status string) {
	CommunicationBatchFlushTotal.WithLabelValues(trigger, status).Inc()
}

func ObserveBatchSize(size int) {
	CommunicationBatchSize.Observe(float64(size))
}

func SetPendingUpdates(n int) {
	CommunicationPendingUpdates.Set(float64(n))
}

func IncCampaignDelivery(status string) {
	CampaignDeliveriesTotal.WithLabelValues(status).Inc()
}

func ObserveVendorSend(status string, duration time.Duration) {
	VendorSendDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func IncDatabaseQuery(collection, operation, status string) {
	DatabaseQueriesTotal.WithLabelValues(collection, operation, status).Inc()
}

func ObserveDatabaseQueryDuration(collection, operation string, duration time.Duration) {
	DatabaseQueryDuration.WithLabelValues(collection, operation).Observe(float64(duration.Milliseconds()))
}
