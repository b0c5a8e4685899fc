package pkg

const (
	HeaderTraceId   string = "X-Trace-Id"
	HeaderRequestId string = "X-Request-Id"
	HeaderApiKey    string = "X-Api-Key"
)

const (
	TraceId       string = "trace_id"
	RequestId     string = "request_id"
	TransactionId string = "transaction_id"
)

// Kafka message headers used between the API and the settlement worker.
const (
	KafkaHeaderDeliveryCount = "x-delivery-count"
	KafkaHeaderNotBefore     = "x-not-before"
	KafkaHeaderDLQReason     = "x-dlq-reason"
	KafkaHeaderTraceId       = "x-trace-id"
	KafkaHeaderEventType     = "ce_type"
)

// Event types published on the transaction events topic.
const (
	EventTransactionQueued  = "Transaction.Queued"
	EventTransactionSettled = "Transaction.Settled"
	EventTransactionFailed  = "Transaction.Failed"
	EventFraudAlert         = "Fraud.AlertTriggered"

	EventSource = "urn:fintech:transactions"
)

// Dead-letter reasons.
const (
	DeadLetterDeserialization = "DeserializationError"
	DeadLetterValidation      = "ValidationFailed"
	DeadLetterMaxRetries      = "MaxRetriesExceeded"

	// DeadLetterIdempotencyConflict marks a request id reused for a different transfer.
	DeadLetterIdempotencyConflict = "IdempotencyConflict"
)
