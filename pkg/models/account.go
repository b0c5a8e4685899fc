package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a stored-value card. CardNumber is the opaque identifier.
type Account struct {
	CardNumber string          `json:"cardNumber"`
	HolderName string          `json:"holderName"`
	Balance    decimal.Decimal `json:"balance"`
	IsActive   bool            `json:"isActive"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
	// Version is bumped by every write. Batch writes only apply when it still matches the stored row.
	Version int64 `json:"-"`
}

// Masked returns the display form of the card number.
func (a Account) Masked() string {
	return MaskCardNumber(a.CardNumber)
}

// IsExpired reports whether the card expiry is at or before now.
func (a Account) IsExpired(now time.Time) bool {
	return !a.ExpiresAt.After(now)
}

var cardSeparators = strings.NewReplacer(" ", "", "-", "")

// NormalizeCardNumber removes spaces and dashes.
func NormalizeCardNumber(card string) string {
	return cardSeparators.Replace(strings.TrimSpace(card))
}

// MaskCardNumber keeps only the last four digits, e.g. ****-****-****-1111.
func MaskCardNumber(card string) string {
	clean := NormalizeCardNumber(card)
	if len(clean) < 4 {
		return "****-****-****-****"
	}
	return "****-****-****-" + clean[len(clean)-4:]
}
