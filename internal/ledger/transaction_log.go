// Package ledger tracks rating-bucketed corrections which the marketplace's official portfolio
// statistics do not reflect yet.
package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/portfolio"
	"github.com/lendwatch/reconciler/internal/transfer"
)

type pending struct {
	synthetic transfer.Synthetic
	rating    domain.Rating
}

// TransactionLog is not safe for concurrent use; readers go through committed snapshots.
type TransactionLog struct {
	adjustments map[domain.Rating]decimal.Decimal
	synthetics  []pending
	logger      *zap.Logger
}

func New(logger *zap.Logger) *TransactionLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionLog{
		adjustments: make(map[domain.Rating]decimal.Decimal),
		logger:      logger.With(zap.String("component", "ledger")),
	}
}

// Seeded restores a log from synthetics persisted by a previous run. Each one counts towards
// its loan's rating straight away.
func Seeded(logger *zap.Logger, synthetics []transfer.Synthetic, ratings transfer.RatingFunc) (*TransactionLog, error) {
	l := New(logger)
	for _, s := range synthetics {
		rating, err := ratings(s.LoanID)
		if err != nil {
			return nil, fmt.Errorf("rating of loan %d: %w", s.LoanID, err)
		}
		l.add(s, rating)
	}
	return l, nil
}

// AddSynthetic records an investment made locally.
func (l *TransactionLog) AddSynthetic(s transfer.Synthetic, rating domain.Rating) {
	l.add(s, rating)
}

func (l *TransactionLog) add(s transfer.Synthetic, rating domain.Rating) {
	l.synthetics = append(l.synthetics, pending{synthetic: s, rating: rating})
	addTo(l.adjustments, rating, s.Amount.Abs())
}

// Adjustments returns a copy holding non-zero buckets only.
func (l *TransactionLog) Adjustments() map[domain.Rating]decimal.Decimal {
	out := make(map[domain.Rating]decimal.Decimal, len(l.adjustments))
	for r, a := range l.adjustments {
		out[r] = a
	}
	return out
}

// Clone returns an independent copy.
func (l *TransactionLog) Clone() *TransactionLog {
	c := &TransactionLog{
		adjustments: l.Adjustments(),
		synthetics:  append([]pending(nil), l.synthetics...),
		logger:      l.logger,
	}
	return c
}

func (l *TransactionLog) Synthetics() []transfer.Synthetic {
	out := make([]transfer.Synthetic, 0, len(l.synthetics))
	for _, p := range l.synthetics {
		out = append(out, p.synthetic)
	}
	return out
}

// Observed is what one polling cycle read from the marketplace wallet.
type Observed struct {
	Transactions []domain.Transaction
	Blocked      []domain.BlockedAmount
}

// Update recomputes the adjustments against stats, from the outstanding synthetics, every
// observed transaction dated since stats were computed and every blocked amount. Secondary
// market purchases and investment reservations add to their rating; a matching synthetic is
// absorbed so it is not counted twice. An investment transaction confirms a matching
// synthetic, which keeps counting until stats newer than the transaction arrive. Secondary
// market sales subtract and are reported in sold. Everything else is handled elsewhere and
// ignored here. The new state replaces the old one when tx commits; the adjustments it will
// hold are returned right away so that the caller can stage an overview.
func (l *TransactionLog) Update(tx *portfolio.Transactional, stats domain.Statistics, seen Observed, ratingOf transfer.RatingFunc) (sold []int, adjustments map[domain.Rating]decimal.Decimal, err error) {
	outstanding := make([]pending, 0, len(l.synthetics))
	for _, p := range l.synthetics {
		if p.synthetic.Confirmed() && p.synthetic.ConfirmedAt.Before(stats.Timestamp) {
			continue // included in stats
		}
		outstanding = append(outstanding, p)
	}
	retired := len(l.synthetics) - len(outstanding)

	find := func(matches func(transfer.Synthetic) bool) int {
		for i, p := range outstanding {
			if !p.synthetic.Confirmed() && matches(p.synthetic) {
				return i
			}
		}
		return -1
	}
	absorbed := 0
	absorb := func(matches func(transfer.Synthetic) bool) {
		if i := find(matches); i >= 0 {
			outstanding = append(outstanding[:i], outstanding[i+1:]...)
			absorbed++
		}
	}
	confirmed := 0

	adjustments = make(map[domain.Rating]decimal.Decimal)
	soldSet := map[int]struct{}{}

	for _, t := range seen.Transactions {
		if t.TransactionDate.Before(stats.Timestamp) {
			continue
		}
		switch t.Category {
		case domain.CategorySmpBuy:
			rating, err := ratingOf(t.LoanID)
			if err != nil {
				return nil, nil, err
			}
			addTo(adjustments, rating, t.Amount.Abs())
			absorb(func(s transfer.Synthetic) bool { return s.MatchesTransaction(t) })
		case domain.CategoryInvestment:
			if confirmedBy(outstanding, t) {
				continue
			}
			if i := find(func(s transfer.Synthetic) bool { return s.MatchesTransaction(t) }); i >= 0 {
				at := t.TransactionDate
				outstanding[i].synthetic.ConfirmedAt = &at
				confirmed++
			}
		case domain.CategorySmpSell:
			rating, err := ratingOf(t.LoanID)
			if err != nil {
				return nil, nil, err
			}
			addTo(adjustments, rating, t.Amount.Abs().Neg())
			if _, ok := soldSet[t.LoanID]; !ok {
				soldSet[t.LoanID] = struct{}{}
				sold = append(sold, t.LoanID)
			}
		}
	}
	for _, b := range seen.Blocked {
		if !b.Category.IsInvestment() {
			continue
		}
		rating, err := ratingOf(b.LoanID)
		if err != nil {
			return nil, nil, err
		}
		addTo(adjustments, rating, b.Amount.Abs())
		absorb(func(s transfer.Synthetic) bool { return s.MatchesBlockedAmount(b) })
	}
	for _, p := range outstanding {
		addTo(adjustments, p.rating, p.synthetic.Amount.Abs())
	}
	sort.Ints(sold)

	next := make(map[domain.Rating]decimal.Decimal, len(adjustments))
	for r, a := range adjustments {
		next[r] = a
	}
	tx.Defer(func() {
		l.adjustments = next
		l.synthetics = outstanding
		if absorbed+confirmed+retired > 0 {
			l.logger.Info("synthetics confirmed",
				zap.Int("absorbed", absorbed),
				zap.Int("confirmed", confirmed),
				zap.Int("retired", retired),
				zap.Int("outstanding", len(outstanding)))
		}
	})
	return sold, adjustments, nil
}

// confirmedBy reports whether t already confirmed one of outstanding in an earlier cycle.
func confirmedBy(outstanding []pending, t domain.Transaction) bool {
	for _, p := range outstanding {
		if p.synthetic.Confirmed() && p.synthetic.ConfirmedAt.Equal(t.TransactionDate) && p.synthetic.MatchesTransaction(t) {
			return true
		}
	}
	return false
}

func addTo(m map[domain.Rating]decimal.Decimal, r domain.Rating, amount decimal.Decimal) {
	sum := m[r].Add(amount)
	if sum.IsZero() {
		delete(m, r)
		return
	}
	m[r] = sum
}
