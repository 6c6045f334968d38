package prometheus

import "github.com/prometheus/client_golang/prometheus"

const (
	deliveryDurationBucketStart  = 0.05
	deliveryDurationBucketFactor = 2.0
	deliveryDurationBucketCount  = 12
)

const (
	analyzeDurationBucketStart  = 0.001
	analyzeDurationBucketFactor = 2.5
	analyzeDurationBucketCount  = 10
)

const (
	storeDurationBucketStart  = 0.001
	storeDurationBucketFactor = 2.0
	storeDurationBucketCount  = 14
)

var CallsStarted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "calls_started_total",
		Help: "Number of call sessions created",
	},
)

var CallsCompleted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "calls_completed_total",
		Help: "Number of call sessions that reached a terminal state",
	},
	[]string{"status"},
)

var RateLimitDenials = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "rate_limit_denials_total",
		Help: "Number of call creation attempts denied by the rate limiter",
	},
)

var DeliveryAttempts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "webhook_delivery_attempts_total",
		Help: "Number of webhook delivery attempts",
	},
)

var DeliverySuccesses = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "webhook_delivery_successes_total",
		Help: "Number of successful webhook deliveries",
	},
)

var DeadLetters = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "webhook_dead_letters_total",
		Help: "Number of webhook events that terminally failed",
	},
	[]string{"reason"},
)

var OutboxDepth = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "outbox_depth",
		Help: "Number of outbox events not yet delivered or dead-lettered",
	},
)

var ActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "active_call_sessions",
		Help: "Number of call sessions in a non-terminal state",
	},
)

var DeliveryDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "webhook_delivery_duration_seconds",
		Help: "Time taken for a single webhook delivery attempt",
		Buckets: prometheus.ExponentialBuckets(
			deliveryDurationBucketStart,
			deliveryDurationBucketFactor,
			deliveryDurationBucketCount,
		),
	},
)

var AnalyzeDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "profile_analyze_duration_seconds",
		Help: "Time taken to run the profile analyzer over a transcript",
		Buckets: prometheus.ExponentialBuckets(
			analyzeDurationBucketStart,
			analyzeDurationBucketFactor,
			analyzeDurationBucketCount,
		),
	},
)

var StoreOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "state_store_operation_duration_seconds",
		Help: "Time taken for a state store operation",
		Buckets: prometheus.ExponentialBuckets(
			storeDurationBucketStart,
			storeDurationBucketFactor,
			storeDurationBucketCount,
		),
	},
	[]string{"operation"},
)

var StorageOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "durable_storage_operation_duration_seconds",
		Help: "Time taken for a durable storage put/get",
		Buckets: prometheus.ExponentialBuckets(
			deliveryDurationBucketStart,
			deliveryDurationBucketFactor,
			deliveryDurationBucketCount,
		),
	},
	[]string{"operation"},
)

func init() {
	prometheus.MustRegister(CallsStarted)
	prometheus.MustRegister(CallsCompleted)
	prometheus.MustRegister(RateLimitDenials)
	prometheus.MustRegister(DeliveryAttempts)
	prometheus.MustRegister(DeliverySuccesses)
	prometheus.MustRegister(DeadLetters)
	prometheus.MustRegister(OutboxDepth)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(AnalyzeDuration)
	prometheus.MustRegister(StoreOperationDuration)
	prometheus.MustRegister(StorageOperationDuration)
}
