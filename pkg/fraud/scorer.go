package fraud

import (
	"fmt"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// HighRiskThreshold is the score at which an assessment raises a fraud alert.
const HighRiskThreshold = 50

var (
	largeAmount   = decimal.NewFromInt(10000)
	roundUnit     = decimal.NewFromInt(1000)
	smallAmount   = decimal.NewFromInt(1)
	unusualHourLo = 2
	unusualHourHi = 5
)

type input struct {
	amount      decimal.Decimal
	currency    string
	processedAt time.Time
}

// rule is one independent, additive risk factor.
type rule struct {
	weight   int
	matches  func(in input) bool
	describe func(in input) string
}

// rules run in order and never short-circuit.
var rules = []rule{
	{
		weight:  30,
		matches: func(in input) bool { return in.amount.GreaterThan(largeAmount) },
		describe: func(in input) string {
			return fmt.Sprintf("large amount: %s %s", in.amount.String(), in.currency)
		},
	},
	{
		weight: 20,
		matches: func(in input) bool {
			return in.amount.GreaterThanOrEqual(roundUnit) && in.amount.Mod(roundUnit).IsZero()
		},
		describe: func(in input) string {
			return fmt.Sprintf("round number amount: %s", in.amount.String())
		},
	},
	{
		weight:  15,
		matches: func(in input) bool { return in.amount.LessThan(smallAmount) },
		describe: func(in input) string {
			return fmt.Sprintf("very small amount: %s", in.amount.String())
		},
	},
	{
		weight: 10,
		matches: func(in input) bool {
			h := in.processedAt.UTC().Hour()
			return h >= unusualHourLo && h <= unusualHourHi
		},
		describe: func(in input) string {
			return fmt.Sprintf("unusual time: %s UTC", in.processedAt.UTC().Format("15:04"))
		},
	},
}

// Score sums every matching rule and returns the alerts in rule order.
func Score(amount decimal.Decimal, currency string, processedAt time.Time) (int, []string) {
	in := input{amount: amount, currency: currency, processedAt: processedAt}
	score := 0
	var alerts []string
	for _, r := range rules {
		if r.matches(in) {
			score += r.weight
			alerts = append(alerts, r.describe(in))
		}
	}
	return score, alerts
}

// Classify maps a score to a status. A zero score yields no assessment.
func Classify(score int) (models.RiskStatus, bool) {
	switch {
	case score >= HighRiskThreshold:
		return models.RiskHigh, true
	case score > 0:
		return models.RiskPending, true
	default:
		return "", false
	}
}

// Assess scores a settled transaction. ok is false when nothing should be persisted.
func Assess(event models.TransactionSettledData, detectedAt time.Time) (models.RiskAssessment, bool) {
	score, alerts := Score(event.Amount, event.Currency, event.ProcessedAtUtc)
	status, ok := Classify(score)
	if !ok {
		return models.RiskAssessment{}, false
	}
	return models.RiskAssessment{
		TransactionID: event.TransactionID,
		Score:         score,
		Alerts:        alerts,
		Amount:        event.Amount,
		Currency:      event.Currency,
		DetectedAt:    detectedAt.UTC(),
		Status:        status,
	}, true
}
