package views

import (
	"strings"
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// TransferMessage is the queued form of a transfer request.
type TransferMessage struct {
	ID             string          `json:"id" validate:"required"`
	FromCardNumber string          `json:"fromCardNumber" validate:"cardnumber"`
	ToCardNumber   string          `json:"toCardNumber" validate:"cardnumber"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" validate:"currency"`
	Timestamp      time.Time       `json:"timestamp"`
	TraceID        string          `json:"traceId,omitempty"`
}

// ToRequest converts the message into the engine request with card numbers
// stripped of separators.
func (m TransferMessage) ToRequest() models.TransferRequest {
	return models.TransferRequest{
		ID:             m.ID,
		FromCardNumber: models.NormalizeCardNumber(m.FromCardNumber),
		ToCardNumber:   models.NormalizeCardNumber(m.ToCardNumber),
		Amount:         m.Amount,
		Currency:       strings.ToUpper(m.Currency),
	}
}
