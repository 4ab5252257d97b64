package delinquency

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/portfolio"
)

// Registry holds every tracked Delinquent, keyed by investment id.
type Registry struct {
	delinquents map[int64]*Delinquent
	records     Records
	logger      *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		delinquents: make(map[int64]*Delinquent),
		records:     make(Records),
		logger:      logger.With(zap.String("component", "delinquency")),
	}
}

// Update reconciles the registry with the investments currently overdue.
//
// Investments not tracked yet, or tracked with no open episode, get a new episode. Every
// category then reports the episodes which reached its threshold, in ascending order. Tracked
// investments in repaid which are no longer overdue have their episode closed; those in
// defaulted are closed and forgotten. The new state replaces the old one when tx commits.
func (r *Registry) Update(ctx context.Context, tx *portfolio.Transactional, current []domain.Investment, repaid, defaulted []int64) error {
	tenant := tx.Tenant()
	today := tx.Today()
	next := r.clone()

	overdue := make(map[int64]struct{}, len(current))
	for _, inv := range current {
		overdue[inv.ID] = struct{}{}
		d, ok := next.delinquents[inv.ID]
		if !ok {
			loan, err := tenant.Loan(ctx, inv.LoanID)
			if err != nil {
				return fmt.Errorf("fetch loan %d: %w", inv.LoanID, err)
			}
			d = NewDelinquent(inv, loan)
			next.delinquents[inv.ID] = d
		}
		d.Investment = inv
		d.AddDelinquency(today.AddDays(-inv.LegalDpd))
	}

	active := next.active()
	for _, c := range Categories {
		if crossed := c.Update(tx, next.records, active); len(crossed) > 0 {
			r.logger.Debug("threshold crossed", zap.Stringer("category", c), zap.Ints("loans", crossed))
		}
	}

	for _, id := range repaid {
		if _, ok := overdue[id]; ok {
			continue
		}
		d, ok := next.delinquents[id]
		if !ok {
			continue
		}
		episode := d.Active()
		if episode == nil {
			continue
		}
		if err := episode.SetFixedOn(today); err != nil {
			return err
		}
		devs, err := developmentsSince(ctx, tx, d.LoanID(), episode.PaymentMissed)
		if err != nil {
			return err
		}
		next.records.purge(id)
		tx.Fire(event.NewLoanNoLongerDelinquent(d.Investment, d.Loan, devs, tx.Overview()))
	}

	for _, id := range defaulted {
		d, ok := next.delinquents[id]
		if !ok {
			continue
		}
		since := today
		if latest := d.Latest(); latest != nil {
			since = latest.PaymentMissed
		}
		if episode := d.Active(); episode != nil {
			if err := episode.SetFixedOn(today); err != nil {
				return err
			}
		}
		devs, err := developmentsSince(ctx, tx, d.LoanID(), since)
		if err != nil {
			return err
		}
		d.Investment.PaymentStatus = domain.PaymentWrittenOff
		next.records.purge(id)
		delete(next.delinquents, id)
		tx.Fire(event.NewLoanDefaulted(d.Investment, d.Loan, since, devs, tx.Overview()))
	}

	tx.Defer(func() {
		r.delinquents = next.delinquents
		r.records = next.records
	})
	return nil
}

// developmentsSince returns the developments of a loan which started after the given date,
// newest first.
func developmentsSince(ctx context.Context, tx *portfolio.Transactional, loanID int, since civil.Date) ([]domain.Development, error) {
	all, err := tx.Tenant().Developments(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("fetch developments of loan %d: %w", loanID, err)
	}
	var out []domain.Development
	for _, dev := range all {
		if civil.DateOf(dev.DateFrom).After(since) {
			out = append(out, dev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateFrom.After(out[j].DateFrom) })
	return out, nil
}

// Delinquents returns copies of every tracked delinquent ordered by investment id.
func (r *Registry) Delinquents() []*Delinquent {
	out := make([]*Delinquent, 0, len(r.delinquents))
	for _, d := range r.sorted() {
		out = append(out, d.clone())
	}
	return out
}

// Active returns the ids of the investments with an open episode, ascending.
func (r *Registry) Active() []int64 {
	var ids []int64
	for _, d := range r.active() {
		ids = append(ids, d.InvestmentID())
	}
	return ids
}

// AmountsAtRisk sums the remaining principal of investments with an open episode per rating.
func (r *Registry) AmountsAtRisk() map[domain.Rating]decimal.Decimal {
	out := make(map[domain.Rating]decimal.Decimal)
	for _, d := range r.active() {
		rating := d.Rating()
		sum := out[rating].Add(d.Investment.RemainingPrincipal)
		if sum.IsZero() {
			delete(out, rating)
			continue
		}
		out[rating] = sum
	}
	return out
}

// Records returns a copy of the category records.
func (r *Registry) Records() Records { return r.records.clone() }

func (r *Registry) sorted() []*Delinquent {
	out := make([]*Delinquent, 0, len(r.delinquents))
	for _, d := range r.delinquents {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvestmentID() < out[j].InvestmentID() })
	return out
}

func (r *Registry) active() []*Delinquent {
	var out []*Delinquent
	for _, d := range r.sorted() {
		if d.Active() != nil {
			out = append(out, d)
		}
	}
	return out
}

func (r *Registry) clone() *Registry {
	c := &Registry{
		delinquents: make(map[int64]*Delinquent, len(r.delinquents)),
		records:     r.records.clone(),
		logger:      r.logger,
	}
	for id, d := range r.delinquents {
		c.delinquents[id] = d.clone()
	}
	return c
}
