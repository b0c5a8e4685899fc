package dtos

import (
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// CardDto is the public view of a card. The full card number is never returned.
type CardDto struct {
	CardNumberMasked string          `json:"cardNumberMasked"`
	CardHolderName   string          `json:"cardHolderName"`
	Balance          decimal.Decimal `json:"balance"`
	ExpiryDate       string          `json:"expiryDate"` // MM/yy
	IsActive         bool            `json:"isActive"`
}

type CardListDto struct {
	Count int       `json:"count"`
	Cards []CardDto `json:"cards"`
}

func ToCardDto(a models.Account) CardDto {
	return CardDto{
		CardNumberMasked: a.Masked(),
		CardHolderName:   a.HolderName,
		Balance:          a.Balance,
		ExpiryDate:       a.ExpiresAt.Format("01/06"),
		IsActive:         a.IsActive,
	}
}

type TransactionListDto struct {
	Count        int                        `json:"count"`
	Transactions []models.SettlementOutcome `json:"transactions"`
}
