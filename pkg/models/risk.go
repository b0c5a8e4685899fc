package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RiskStatus string

const (
	RiskPending   RiskStatus = "Pending"
	RiskHigh      RiskStatus = "HighRisk"
	RiskReviewed  RiskStatus = "Reviewed"
	RiskConfirmed RiskStatus = "Confirmed"
	RiskDismissed RiskStatus = "Dismissed"
)

// RiskAssessment is produced once per scored settled transaction.
type RiskAssessment struct {
	TransactionID string          `json:"transactionId"`
	Score         int             `json:"score"`
	Alerts        []string        `json:"alerts"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	DetectedAt    time.Time       `json:"detectedAt"`
	Status        RiskStatus      `json:"status"`
}
