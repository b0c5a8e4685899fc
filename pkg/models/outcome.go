package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuthorizationStatus string

const (
	StatusApproved               AuthorizationStatus = "APPROVED"
	StatusInvalidAmount          AuthorizationStatus = "INVALID_AMOUNT"
	StatusInvalidSourceCard      AuthorizationStatus = "INVALID_SOURCE_CARD"
	StatusCardBlocked            AuthorizationStatus = "CARD_BLOCKED"
	StatusExpiredCard            AuthorizationStatus = "EXPIRED_CARD"
	StatusInsufficientFunds      AuthorizationStatus = "INSUFFICIENT_FUNDS"
	StatusInvalidDestinationCard AuthorizationStatus = "INVALID_DESTINATION_CARD"
	StatusDestinationBlocked     AuthorizationStatus = "DESTINATION_BLOCKED"
	StatusInvalidTransfer        AuthorizationStatus = "INVALID_TRANSFER"
	StatusSystemError            AuthorizationStatus = "SYSTEM_ERROR"
)

// OutcomeKind tags a SettlementOutcome as settled, declined or failed by a system fault.
type OutcomeKind int

const (
	OutcomeSettled OutcomeKind = iota
	OutcomeDeclined
	OutcomeSystemError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSettled:
		return "settled"
	case OutcomeDeclined:
		return "declined"
	default:
		return "system_error"
	}
}

// SettlementOutcome is the immutable record of one settlement attempt.
type SettlementOutcome struct {
	TransactionID  string              `json:"transactionId"`
	RequestID      string              `json:"requestId,omitempty"`
	Success        bool                `json:"success"`
	Status         AuthorizationStatus `json:"status"`
	Message        string              `json:"message"`
	FromCardMasked string              `json:"fromCardMasked"`
	ToCardMasked   string              `json:"toCardMasked"`
	Amount         decimal.Decimal     `json:"amount"`
	Currency       string              `json:"currency"`
	FromBalance    *decimal.Decimal    `json:"fromBalance,omitempty"`
	ToBalance      *decimal.Decimal    `json:"toBalance,omitempty"`
	SubmittedAt    time.Time           `json:"submittedAt"`
	SettledAt      time.Time           `json:"settledAt"`
}

// Kind derives the outcome tag from Status.
func (o SettlementOutcome) Kind() OutcomeKind {
	switch o.Status {
	case StatusApproved:
		return OutcomeSettled
	case StatusSystemError:
		return OutcomeSystemError
	default:
		return OutcomeDeclined
	}
}
