package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Statistics is the official, periodically recomputed portfolio summary published by the
// marketplace. It lags behind the transactions and blocked amounts.
type Statistics struct {
	Timestamp time.Time                  `json:"timestamp"`
	Invested  map[Rating]decimal.Decimal `json:"invested"`
}

// Overview is the portfolio as the investor should see it: official statistics corrected by
// everything observed since they were computed.
type Overview struct {
	Timestamp time.Time                  `json:"timestamp"`
	Invested  map[Rating]decimal.Decimal `json:"invested"`
	AtRisk    map[Rating]decimal.Decimal `json:"atRisk"`
}

// NewOverview folds adjustments into stats. Ratings whose sum is zero are left out.
func NewOverview(stats Statistics, adjustments, atRisk map[Rating]decimal.Decimal, now time.Time) Overview {
	invested := make(map[Rating]decimal.Decimal, len(stats.Invested))
	for r, amount := range stats.Invested {
		invested[r] = amount
	}
	for r, amount := range adjustments {
		invested[r] = invested[r].Add(amount)
	}
	for r, amount := range invested {
		if amount.IsZero() {
			delete(invested, r)
		}
	}
	risk := make(map[Rating]decimal.Decimal, len(atRisk))
	for r, amount := range atRisk {
		if !amount.IsZero() {
			risk[r] = amount
		}
	}
	return Overview{Timestamp: now, Invested: invested, AtRisk: risk}
}

func (o Overview) TotalInvested() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range o.Invested {
		total = total.Add(amount)
	}
	return total
}

func (o Overview) TotalAtRisk() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range o.AtRisk {
		total = total.Add(amount)
	}
	return total
}
