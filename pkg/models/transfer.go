package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/shopspring/decimal"
)

// TransferRequest asks to move Amount from one card to another.
type TransferRequest struct {
	ID             string          `json:"id,omitempty"`
	FromCardNumber string          `json:"fromCardNumber"`
	ToCardNumber   string          `json:"toCardNumber"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// Fingerprint identifies what the request does, ignoring its id. Two requests that
// move the same amount between the same cards share a fingerprint.
func (r TransferRequest) Fingerprint() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		NormalizeCardNumber(r.FromCardNumber),
		NormalizeCardNumber(r.ToCardNumber),
		r.Amount.StringFixed(4),
		strings.ToUpper(strings.TrimSpace(r.Currency)),
	}, "|")))
	return hex.EncodeToString(sum[:])
}
