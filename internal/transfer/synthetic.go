package transfer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendwatch/reconciler/internal/domain"
)

// Synthetic is an investment we made which the official statistics do not show yet.
// ConfirmedAt is the date of the investment transaction that confirmed it, if one was seen.
type Synthetic struct {
	LoanID      int             `json:"loanId"`
	Amount      decimal.Decimal `json:"amount"`
	ConfirmedAt *time.Time      `json:"confirmedAt,omitempty"`
}

func (s Synthetic) Confirmed() bool { return s.ConfirmedAt != nil }

func (s Synthetic) matches(loanID int, amount decimal.Decimal) bool {
	return s.LoanID == loanID && s.Amount.Abs().Equal(amount.Abs())
}

// Equal ignores the sign of the amounts.
func (s Synthetic) Equal(o Synthetic) bool { return s.matches(o.LoanID, o.Amount) }

// MatchesBlockedAmount ignores category and sign.
func (s Synthetic) MatchesBlockedAmount(b domain.BlockedAmount) bool {
	return s.matches(b.LoanID, b.Amount)
}

// MatchesTransaction ignores category, orientation and sign.
func (s Synthetic) MatchesTransaction(t domain.Transaction) bool {
	return s.matches(t.LoanID, t.Amount)
}
