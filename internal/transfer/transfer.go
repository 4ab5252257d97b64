// Package transfer models money movements observed from sources of differing certainty and
// merges them into one deduplicated store.
package transfer

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendwatch/reconciler/internal/domain"
)

var ErrInvalidPromotion = errors.New("invalid certainty promotion")

// Certainty orders the sources a transfer may have been observed from.
type Certainty int

const (
	// CertaintySynthetic marks a transfer inferred locally, e.g. right after an investment.
	CertaintySynthetic Certainty = iota + 1
	// CertaintyBlockedAmount marks a pending reservation reported by the marketplace.
	CertaintyBlockedAmount
	// CertaintyReal marks a final ledger transaction.
	CertaintyReal
)

func (c Certainty) String() string {
	switch c {
	case CertaintySynthetic:
		return "SYNTHETIC"
	case CertaintyBlockedAmount:
		return "BLOCKED_AMOUNT"
	case CertaintyReal:
		return "REAL"
	default:
		return fmt.Sprintf("Certainty(%d)", int(c))
	}
}

// ParseCertainty is the inverse of Certainty.String.
func ParseCertainty(s string) (Certainty, error) {
	for _, c := range []Certainty{CertaintySynthetic, CertaintyBlockedAmount, CertaintyReal} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown certainty %q", s)
}

// RatingFunc resolves the rating of a loan, usually through the marketplace.
type RatingFunc func(loanID int) (domain.Rating, error)

// Key is the identity of a transfer. Timestamp and certainty are not part of it, so a
// transfer keeps its identity when promoted.
type Key struct {
	LoanID      int
	Orientation domain.Orientation
	Category    domain.TransactionCategory
	Amount      string
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s:%s", k.LoanID, k.Orientation, k.Category, k.Amount)
}

// Transfer is one money movement for one loan. Amount is negative for outgoing transfers.
type Transfer struct {
	LoanID      int
	Orientation domain.Orientation
	Category    domain.TransactionCategory
	Amount      decimal.Decimal
	Rating      domain.Rating
	Timestamp   time.Time
	certainty   Certainty
}

func newTransfer(ts time.Time, loanID int, o domain.Orientation, c domain.TransactionCategory,
	amount decimal.Decimal, rating domain.Rating, certainty Certainty) *Transfer {
	signed := amount.Abs()
	if o == domain.OrientationOut {
		signed = signed.Neg()
	}
	return &Transfer{
		LoanID:      loanID,
		Orientation: o,
		Category:    c,
		Amount:      signed,
		Rating:      rating,
		Timestamp:   ts,
		certainty:   certainty,
	}
}

// NewSynthetic creates a transfer nobody but us knows about yet.
func NewSynthetic(ts time.Time, loanID int, o domain.Orientation, c domain.TransactionCategory,
	amount decimal.Decimal, rating domain.Rating) *Transfer {
	return newTransfer(ts, loanID, o, c, amount, rating, CertaintySynthetic)
}

// FromBlockedAmount creates a transfer for a blocked amount observed at ts.
func FromBlockedAmount(b domain.BlockedAmount, ts time.Time, ratings RatingFunc) (*Transfer, error) {
	rating, err := ratings(b.LoanID)
	if err != nil {
		return nil, fmt.Errorf("rating of loan %d: %w", b.LoanID, err)
	}
	return newBlocked(b, ts, rating), nil
}

func newBlocked(b domain.BlockedAmount, ts time.Time, rating domain.Rating) *Transfer {
	return newTransfer(ts, b.LoanID, domain.OrientationOut, b.Category, b.Amount, rating, CertaintyBlockedAmount)
}

// FromTransaction creates a transfer for a ledger transaction.
func FromTransaction(t domain.Transaction, ratings RatingFunc) (*Transfer, error) {
	rating, err := ratings(t.LoanID)
	if err != nil {
		return nil, fmt.Errorf("rating of loan %d: %w", t.LoanID, err)
	}
	return newReal(t, rating), nil
}

func newReal(t domain.Transaction, rating domain.Rating) *Transfer {
	return newTransfer(t.TransactionDate, t.LoanID, t.Orientation, t.Category, t.Amount, rating, CertaintyReal)
}

func (t *Transfer) Certainty() Certainty { return t.certainty }

func (t *Transfer) Key() Key {
	return Key{
		LoanID:      t.LoanID,
		Orientation: t.Orientation,
		Category:    t.Category,
		Amount:      t.Amount.String(),
	}
}

// Equal compares identities only.
func (t *Transfer) Equal(o *Transfer) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Key() == o.Key()
}

// Promote raises the certainty in place. It fails unless target is strictly higher.
func (t *Transfer) Promote(target Certainty) error {
	if target <= t.certainty || target > CertaintyReal {
		return fmt.Errorf("%w: %s to %s for %s", ErrInvalidPromotion, t.certainty, target, t.Key())
	}
	t.certainty = target
	return nil
}

func (t *Transfer) clone() *Transfer {
	c := *t
	return &c
}

func (t *Transfer) String() string {
	return fmt.Sprintf("%s[%s]", t.Key(), t.certainty)
}

// Record is the persisted form of a Transfer.
type Record struct {
	LoanID      int                        `json:"loanId"`
	Orientation domain.Orientation         `json:"orientation"`
	Category    domain.TransactionCategory `json:"category"`
	Amount      decimal.Decimal            `json:"amount"`
	Rating      domain.Rating              `json:"rating"`
	Timestamp   time.Time                  `json:"timestamp"`
	Certainty   string                     `json:"certainty"`
}

func (t *Transfer) Record() Record {
	return Record{
		LoanID:      t.LoanID,
		Orientation: t.Orientation,
		Category:    t.Category,
		Amount:      t.Amount,
		Rating:      t.Rating,
		Timestamp:   t.Timestamp,
		Certainty:   t.certainty.String(),
	}
}

func FromRecord(r Record) (*Transfer, error) {
	c, err := ParseCertainty(r.Certainty)
	if err != nil {
		return nil, err
	}
	return newTransfer(r.Timestamp, r.LoanID, r.Orientation, r.Category, r.Amount, r.Rating, c), nil
}
