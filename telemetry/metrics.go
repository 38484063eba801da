package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// TxnBuckets for whole write transactions (validation + sequential datastore calls)
	TxnBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// ValidationBuckets for the pre-commit validation pass
	ValidationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25}

	// DatastoreCallBuckets for individual datastore round trips
	DatastoreCallBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
)

// Transaction Metrics
var (
	// TxnTotal counts transactions by result (committed, validation_failed, rolled_back, failed)
	TxnTotal CounterVec = noopCounterVec{}

	// TxnDurationSeconds measures end-to-end transaction latency by result
	TxnDurationSeconds HistogramVec = noopHistogramVec{}

	// ActiveTransactions tracks currently executing transactions
	ActiveTransactions Gauge = NoopStat{}

	// OperationsTotal counts executed operations by kind and result
	OperationsTotal CounterVec = noopCounterVec{}

	// CompensationsTotal counts compensating operations by result (success, failed)
	CompensationsTotal CounterVec = noopCounterVec{}
)

// Validation Metrics
var (
	// ValidationDurationSeconds measures the batch validation pass
	ValidationDurationSeconds Histogram = NoopStat{}

	// ValidationErrorsTotal counts blocking validation errors by rule
	ValidationErrorsTotal CounterVec = noopCounterVec{}

	// ValidationWarningsTotal counts non-blocking validation warnings
	ValidationWarningsTotal Counter = NoopStat{}
)

// Datastore Metrics
var (
	// DatastoreCallSeconds measures datastore round trips by call type
	DatastoreCallSeconds HistogramVec = noopHistogramVec{}
)

// Cache Metrics
var (
	// CacheKeysInvalidated counts cache keys removed after commits
	CacheKeysInvalidated Counter = NoopStat{}

	// CacheInvalidationErrors counts failed invalidation attempts (logged only)
	CacheInvalidationErrors Counter = NoopStat{}
)

// Event Publishing Metrics
var (
	// EventsPublishedTotal counts post-commit events by result (success, failed)
	EventsPublishedTotal CounterVec = noopCounterVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	TxnTotal = NewCounterVec(
		"txn_total",
		"Total transactions by result",
		[]string{"result"},
	)
	TxnDurationSeconds = NewHistogramVec(
		"txn_duration_seconds",
		"Transaction duration in seconds",
		[]string{"result"},
		TxnBuckets,
	)
	ActiveTransactions = NewGauge(
		"active_transactions",
		"Number of currently executing transactions",
	)
	OperationsTotal = NewCounterVec(
		"operations_total",
		"Executed operations by kind and result",
		[]string{"kind", "result"},
	)
	CompensationsTotal = NewCounterVec(
		"compensations_total",
		"Compensating operations by result",
		[]string{"result"},
	)

	ValidationDurationSeconds = NewHistogramWithBuckets(
		"validation_duration_seconds",
		"Batch validation pass duration in seconds",
		ValidationBuckets,
	)
	ValidationErrorsTotal = NewCounterVec(
		"validation_errors_total",
		"Blocking validation errors by rule",
		[]string{"rule"},
	)
	ValidationWarningsTotal = NewCounter(
		"validation_warnings_total",
		"Non-blocking validation warnings",
	)

	DatastoreCallSeconds = NewHistogramVec(
		"datastore_call_seconds",
		"Datastore round trip duration by call type",
		[]string{"call"},
		DatastoreCallBuckets,
	)

	CacheKeysInvalidated = NewCounter(
		"cache_keys_invalidated_total",
		"Cache keys removed after committed transactions",
	)
	CacheInvalidationErrors = NewCounter(
		"cache_invalidation_errors_total",
		"Failed cache invalidation attempts",
	)

	EventsPublishedTotal = NewCounterVec(
		"events_published_total",
		"Post-commit events by result",
		[]string{"result"},
	)
}
