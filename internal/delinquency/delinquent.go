// Package delinquency follows overdue investments through their delinquency episodes and
// raises the matching events as episodes start, age, close or end in default.
package delinquency

import (
	"errors"
	"fmt"

	"cloud.google.com/go/civil"

	"github.com/lendwatch/reconciler/internal/domain"
)

var ErrAlreadyFixed = errors.New("delinquency already fixed")

// Delinquency is one episode. It refers to its Delinquent by investment id only.
type Delinquency struct {
	investmentID  int64
	PaymentMissed civil.Date
	fixedOn       *civil.Date
}

func (d *Delinquency) InvestmentID() int64 { return d.investmentID }

// FixedOn returns the date the episode closed, if it has.
func (d *Delinquency) FixedOn() (civil.Date, bool) {
	if d.fixedOn == nil {
		return civil.Date{}, false
	}
	return *d.fixedOn, true
}

func (d *Delinquency) Active() bool { return d.fixedOn == nil }

// SetFixedOn closes the episode. It can be called only once.
func (d *Delinquency) SetFixedOn(date civil.Date) error {
	if d.fixedOn != nil {
		return fmt.Errorf("investment %d missed %s: %w", d.investmentID, d.PaymentMissed, ErrAlreadyFixed)
	}
	d.fixedOn = &date
	return nil
}

// Days is the length of the episode, counting up to today while it is active.
func (d *Delinquency) Days(today civil.Date) int {
	end := today
	if d.fixedOn != nil {
		end = *d.fixedOn
	}
	return end.DaysSince(d.PaymentMissed)
}

func (d *Delinquency) Equal(o *Delinquency) bool {
	if d == nil || o == nil {
		return d == o
	}
	if d.investmentID != o.investmentID || d.PaymentMissed != o.PaymentMissed {
		return false
	}
	if d.fixedOn == nil || o.fixedOn == nil {
		return d.fixedOn == nil && o.fixedOn == nil
	}
	return *d.fixedOn == *o.fixedOn
}

func (d *Delinquency) clone() *Delinquency {
	c := *d
	if d.fixedOn != nil {
		f := *d.fixedOn
		c.fixedOn = &f
	}
	return &c
}

// Delinquent is an investment which has been overdue at least once. At most one of its
// episodes is active at any time.
type Delinquent struct {
	Investment domain.Investment
	Loan       domain.Loan
	episodes   []*Delinquency
}

func NewDelinquent(inv domain.Investment, loan domain.Loan) *Delinquent {
	return &Delinquent{Investment: inv, Loan: loan}
}

func (d *Delinquent) InvestmentID() int64 { return d.Investment.ID }

func (d *Delinquent) LoanID() int { return d.Investment.LoanID }

func (d *Delinquent) Rating() domain.Rating {
	if d.Investment.Rating != "" {
		return d.Investment.Rating
	}
	return d.Loan.Rating
}

// Episodes returns the episodes oldest first.
func (d *Delinquent) Episodes() []*Delinquency {
	out := make([]*Delinquency, len(d.episodes))
	for i, e := range d.episodes {
		out[i] = e.clone()
	}
	return out
}

// Active returns the open episode, or nil.
func (d *Delinquent) Active() *Delinquency {
	for i := len(d.episodes) - 1; i >= 0; i-- {
		if d.episodes[i].Active() {
			return d.episodes[i]
		}
	}
	return nil
}

// Latest returns the most recent episode, or nil.
func (d *Delinquent) Latest() *Delinquency {
	if n := len(d.episodes); n > 0 {
		return d.episodes[n-1]
	}
	return nil
}

// AddDelinquency opens a new episode. An episode already open is returned unchanged.
func (d *Delinquent) AddDelinquency(missed civil.Date) *Delinquency {
	if active := d.Active(); active != nil {
		return active
	}
	e := &Delinquency{investmentID: d.Investment.ID, PaymentMissed: missed}
	d.episodes = append(d.episodes, e)
	return e
}

// AddFixedDelinquency records an episode which has already closed. When the open episode
// started on missed it is fixed in place instead.
func (d *Delinquent) AddFixedDelinquency(missed, fixed civil.Date) *Delinquency {
	if latest := d.Latest(); latest != nil && latest.Active() && latest.PaymentMissed == missed {
		latest.fixedOn = &fixed
		return latest
	}
	e := &Delinquency{investmentID: d.Investment.ID, PaymentMissed: missed, fixedOn: &fixed}
	d.episodes = append(d.episodes, e)
	return e
}

func (d *Delinquent) clone() *Delinquent {
	c := &Delinquent{Investment: d.Investment, Loan: d.Loan, episodes: make([]*Delinquency, len(d.episodes))}
	for i, e := range d.episodes {
		c.episodes[i] = e.clone()
	}
	return c
}
