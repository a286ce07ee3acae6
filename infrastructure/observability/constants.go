package observability

// Metric name prefixes
const (
	MetricPrefix = "borrowledger"
)

// Metric names
const (
	// Ledger metrics
	LedgerOperationsTotal      = MetricPrefix + ".ledger.operations_total"
	BorrowLimitRejectionsTotal = MetricPrefix + ".ledger.borrow_limit_rejections_total"

	// NATS metrics
	NATSMessagesPublishedTotal = MetricPrefix + ".nats.messages_published_total"

	// Storage metrics
	DatabaseQueriesTotal  = MetricPrefix + ".database.queries_total"
	DatabaseQueryDuration = MetricPrefix + ".database.query_duration"
)

// Label keys
const (
	LabelOperation = "operation"
	LabelOutcome   = "outcome"
	LabelEventType = "event_type"

	// Storage labels
	LabelRepository = "repository"
	LabelMethod     = "method"
)

// Operation outcomes
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)
