package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	eventSpecVersion = "1.0"
	eventContentType = "application/json"
)

// EventEnvelope is the CloudEvents-style document written to the events topic.
type EventEnvelope struct {
	ID              string          `json:"id"`
	SpecVersion     string          `json:"specversion"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

// NewEventEnvelope marshals payload into a fresh envelope.
func NewEventEnvelope(eventType, source, subject string, payload any, now time.Time) (EventEnvelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return EventEnvelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return EventEnvelope{
		ID:              uuid.NewString(),
		SpecVersion:     eventSpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		Time:            now.UTC(),
		DataContentType: eventContentType,
		Data:            data,
	}, nil
}

// TransactionSubject formats the event subject for a transaction id.
func TransactionSubject(transactionID string) string {
	return "transactions/" + transactionID
}

type TransactionQueuedData struct {
	TransactionID  string          `json:"transactionId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	FromCardMasked string          `json:"fromCardMasked"`
	ToCardMasked   string          `json:"toCardMasked"`
	QueuedAtUtc    time.Time       `json:"queuedAtUtc"`
}

type TransactionSettledData struct {
	TransactionID  string          `json:"transactionId"`
	RequestID      string          `json:"requestId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	FromCardMasked string          `json:"fromCardMasked"`
	ToCardMasked   string          `json:"toCardMasked"`
	ProcessedAtUtc time.Time       `json:"processedAtUtc"`
}

type TransactionFailedData struct {
	TransactionID  string          `json:"transactionId"`
	RequestID      string          `json:"requestId"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	FromCardMasked string          `json:"fromCardMasked"`
	ToCardMasked   string          `json:"toCardMasked"`
	Reason         string          `json:"reason"`
	Message        string          `json:"message"`
	FailedAtUtc    time.Time       `json:"failedAtUtc"`
}

type FraudAlertTriggeredData struct {
	TransactionID string          `json:"transactionId"`
	RiskScore     int             `json:"riskScore"`
	Alerts        []string        `json:"alerts"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DetectedAt    time.Time       `json:"detectedAt"`
}

// SettledData builds the Transaction.Settled payload from an outcome.
func (o SettlementOutcome) SettledData() TransactionSettledData {
	return TransactionSettledData{
		TransactionID:  o.TransactionID,
		RequestID:      o.RequestID,
		Amount:         o.Amount,
		Currency:       o.Currency,
		FromCardMasked: o.FromCardMasked,
		ToCardMasked:   o.ToCardMasked,
		ProcessedAtUtc: o.SettledAt.UTC(),
	}
}

// FailedData builds the Transaction.Failed payload from an outcome.
func (o SettlementOutcome) FailedData() TransactionFailedData {
	return TransactionFailedData{
		TransactionID:  o.TransactionID,
		RequestID:      o.RequestID,
		Amount:         o.Amount,
		Currency:       o.Currency,
		FromCardMasked: o.FromCardMasked,
		ToCardMasked:   o.ToCardMasked,
		Reason:         string(o.Status),
		Message:        o.Message,
		FailedAtUtc:    o.SettledAt.UTC(),
	}
}
