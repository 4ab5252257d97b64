package delinquency

import (
	"fmt"
	"sort"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/portfolio"
)

// Category is a delinquency threshold, in days.
type Category int

const (
	CategoryNew      Category = 0
	CategoryMild     Category = 10
	CategoryModerate Category = 30
	CategorySevere   Category = 60
	CategoryCritical Category = 90
)

// Categories lists every category by ascending threshold.
var Categories = []Category{CategoryNew, CategoryMild, CategoryModerate, CategorySevere, CategoryCritical}

func (c Category) Threshold() int { return int(c) }

func (c Category) String() string {
	switch c {
	case CategoryNew:
		return "NEW"
	case CategoryMild:
		return "MILD"
	case CategoryModerate:
		return "MODERATE"
	case CategorySevere:
		return "SEVERE"
	case CategoryCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown delinquency category %q", s)
}

// Records remembers which investments have already been reported at which category.
type Records map[Category]map[int64]struct{}

func (r Records) Has(c Category, investmentID int64) bool {
	_, ok := r[c][investmentID]
	return ok
}

func (r Records) add(c Category, investmentID int64) {
	if r[c] == nil {
		r[c] = make(map[int64]struct{})
	}
	r[c][investmentID] = struct{}{}
}

func (r Records) purge(investmentID int64) {
	for c, ids := range r {
		delete(ids, investmentID)
		if len(ids) == 0 {
			delete(r, c)
		}
	}
}

// IDs returns the investments recorded at c in ascending order.
func (r Records) IDs(c Category) []int64 {
	ids := make([]int64, 0, len(r[c]))
	for id := range r[c] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r Records) clone() Records {
	c := make(Records, len(r))
	for cat, ids := range r {
		m := make(map[int64]struct{}, len(ids))
		for id := range ids {
			m[id] = struct{}{}
		}
		c[cat] = m
	}
	return c
}

// Update records every delinquent whose open episode has reached the threshold and fires an
// event for each one not recorded before. It returns the loans which crossed the threshold.
func (c Category) Update(tx *portfolio.Transactional, records Records, delinquents []*Delinquent) []int {
	today := tx.Today()
	var crossed []int
	for _, d := range delinquents {
		episode := d.Active()
		if episode == nil || records.Has(c, d.InvestmentID()) {
			continue
		}
		if episode.Days(today) < c.Threshold() {
			continue
		}
		records.add(c, d.InvestmentID())
		crossed = append(crossed, d.LoanID())
		tx.Fire(c.event(d, episode, tx.Overview()))
	}
	return crossed
}

func (c Category) event(d *Delinquent, episode *Delinquency, o domain.Overview) event.Event {
	if c == CategoryNew {
		return event.NewLoanNowDelinquent(d.Investment, d.Loan, episode.PaymentMissed, o)
	}
	return event.NewLoanDelinquent(c.Threshold(), d.Investment, d.Loan, episode.PaymentMissed, o)
}
