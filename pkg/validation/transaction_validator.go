package validation

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/views"
)

// MaxClockSkew is how far in the future a request timestamp may be.
const MaxClockSkew = 5 * time.Minute

const cardNumberLength = 16

var allowedCurrencies = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "CAD": {}, "AUD": {}, "CHF": {}, "CNY": {},
	"SEK": {}, "NOK": {}, "DKK": {}, "PLN": {}, "CZK": {}, "HUF": {}, "RON": {}, "BGN": {},
	"HRK": {}, "RUB": {}, "TRY": {}, "BRL": {}, "MXN": {}, "INR": {}, "KRW": {}, "SGD": {},
	"HKD": {}, "NZD": {}, "ZAR": {}, "THB": {}, "MYR": {}, "IDR": {}, "PHP": {}, "VND": {},
}

const (
	msgSourceCard  = "source card number must be exactly 16 digits (4x4 format)"
	msgDestCard    = "destination card number must be exactly 16 digits (4x4 format)"
	msgAmount      = "amount must be greater than 0"
	msgCurrency    = "currency must be a valid 3-letter code (e.g., USD, EUR, GBP)"
	msgEmptyID     = "transaction ID cannot be empty"
	msgFutureStamp = "transaction timestamp cannot be in the future"
)

// ValidationResult collects every rule a message violates.
type ValidationResult struct {
	Errors []string
}

func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Error joins the collected messages with "; ".
func (r ValidationResult) Error() string {
	return strings.Join(r.Errors, "; ")
}

type TransactionValidator struct {
	validate *validator.Validate
	now      func() time.Time
}

type Option func(*TransactionValidator)

// WithClock overrides the time source used for the future-timestamp rule.
func WithClock(now func() time.Time) Option {
	return func(v *TransactionValidator) { v.now = now }
}

func NewTransactionValidator(opts ...Option) *TransactionValidator {
	validate := validator.New()
	// Registration only fails on an empty tag or nil func.
	_ = validate.RegisterValidation("cardnumber", func(fl validator.FieldLevel) bool {
		return ValidCardNumber(fl.Field().String())
	})
	_ = validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		return ValidCurrency(fl.Field().String())
	})

	v := &TransactionValidator{validate: validate, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks the message shape. It never stops at the first failure.
func (v *TransactionValidator) Validate(msg views.TransferMessage) ValidationResult {
	failed := make(map[string]bool)
	var result ValidationResult

	if err := v.validate.Struct(msg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return ValidationResult{Errors: []string{err.Error()}}
		}
		for _, fe := range fieldErrs {
			failed[fe.StructField()] = true
		}
	}

	if failed["FromCardNumber"] {
		result.Errors = append(result.Errors, msgSourceCard)
	}
	if failed["ToCardNumber"] {
		result.Errors = append(result.Errors, msgDestCard)
	}
	if !msg.Amount.IsPositive() {
		result.Errors = append(result.Errors, msgAmount)
	}
	if failed["Currency"] {
		result.Errors = append(result.Errors, msgCurrency)
	}
	if failed["ID"] || strings.TrimSpace(msg.ID) == "" {
		result.Errors = append(result.Errors, msgEmptyID)
	}
	if msg.Timestamp.After(v.now().Add(MaxClockSkew)) {
		result.Errors = append(result.Errors, msgFutureStamp)
	}
	return result
}

// ValidCardNumber accepts exactly 16 digits once spaces and dashes are removed.
func ValidCardNumber(card string) bool {
	clean := models.NormalizeCardNumber(card)
	if len(clean) != cardNumberLength {
		return false
	}
	for _, r := range clean {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ValidCurrency accepts a supported three-letter code in any case.
func ValidCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	_, ok := allowedCurrencies[strings.ToUpper(currency)]
	return ok
}
