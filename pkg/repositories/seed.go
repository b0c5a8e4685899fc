package repositories

import (
	"time"

	"github.com/nimeshabuddhika/resilient-card-settlement/pkg/models"
	"github.com/shopspring/decimal"
)

// SeedAccounts returns the demo card set with expiries relative to now.
func SeedAccounts(now time.Time) []models.Account {
	card := func(number, holder, balance string, active bool, expires time.Time) models.Account {
		return models.Account{
			CardNumber: number,
			HolderName: holder,
			Balance:    decimal.RequireFromString(balance),
			IsActive:   active,
			ExpiresAt:  expires.UTC(),
			UpdatedAt:  now.UTC(),
		}
	}
	return []models.Account{
		card("4111111111111111", "John Doe", "5000.00", true, now.AddDate(2, 0, 0)),
		card("5555555555554444", "Jane Smith", "3500.00", true, now.AddDate(3, 0, 0)),
		card("378282246310005", "Bob Johnson", "10000.00", true, now.AddDate(1, 0, 0)),
		card("5105105105105100", "Charlie Wilson", "750.00", true, now.AddDate(1, 0, 0)),
		card("4000000000000010", "David Lee", "25.00", true, now.AddDate(2, 0, 0)),
		card("4000000000000051", "Emma Davis", "10.50", true, now.AddDate(1, 0, 0)),
		// Declined fixtures.
		card("4000000000000002", "Frank Miller", "1000.00", false, now.AddDate(2, 0, 0)),
		card("4000000000000069", "Grace Taylor", "500.00", true, now.AddDate(0, -6, 0)),
	}
}
