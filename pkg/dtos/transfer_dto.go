package dtos

import "github.com/shopspring/decimal"

// TransferRequestDto is the POST /api/v1/transfers body.
type TransferRequestDto struct {
	ID             string          `json:"id" binding:"omitempty,uuid"`
	FromCardNumber string          `json:"fromCardNumber" binding:"required"`
	ToCardNumber   string          `json:"toCardNumber" binding:"required"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency" binding:"required"`
}

// TransferAcceptedDto is returned once a transfer is queued.
type TransferAcceptedDto struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
}
