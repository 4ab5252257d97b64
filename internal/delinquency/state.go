package delinquency

import (
	"cloud.google.com/go/civil"

	"github.com/lendwatch/reconciler/internal/domain"
)

type EpisodeRecord struct {
	PaymentMissed civil.Date  `json:"paymentMissed"`
	FixedOn       *civil.Date `json:"fixedOn,omitempty"`
}

// Record is the persisted form of a Delinquent.
type Record struct {
	Investment domain.Investment `json:"investment"`
	Loan       domain.Loan       `json:"loan"`
	Episodes   []EpisodeRecord   `json:"episodes"`
}

func (d *Delinquent) Record() Record {
	r := Record{Investment: d.Investment, Loan: d.Loan, Episodes: make([]EpisodeRecord, 0, len(d.episodes))}
	for _, e := range d.episodes {
		er := EpisodeRecord{PaymentMissed: e.PaymentMissed}
		if fixed, ok := e.FixedOn(); ok {
			er.FixedOn = &fixed
		}
		r.Episodes = append(r.Episodes, er)
	}
	return r
}

func fromRecord(r Record) *Delinquent {
	d := NewDelinquent(r.Investment, r.Loan)
	for _, er := range r.Episodes {
		e := &Delinquency{investmentID: r.Investment.ID, PaymentMissed: er.PaymentMissed}
		if er.FixedOn != nil {
			f := *er.FixedOn
			e.fixedOn = &f
		}
		d.episodes = append(d.episodes, e)
	}
	return d
}

// State returns everything the registry needs to be restored.
func (r *Registry) State() ([]Record, map[Category][]int64) {
	delinquents := make([]Record, 0, len(r.delinquents))
	for _, d := range r.sorted() {
		delinquents = append(delinquents, d.Record())
	}
	categories := make(map[Category][]int64, len(r.records))
	for c := range r.records {
		categories[c] = r.records.IDs(c)
	}
	return delinquents, categories
}

// Restore replaces the registry's content. Category records of untracked investments are
// dropped.
func (r *Registry) Restore(delinquents []Record, categories map[Category][]int64) {
	r.delinquents = make(map[int64]*Delinquent, len(delinquents))
	for _, rec := range delinquents {
		r.delinquents[rec.Investment.ID] = fromRecord(rec)
	}
	r.records = make(Records)
	for c, ids := range categories {
		for _, id := range ids {
			if _, ok := r.delinquents[id]; ok {
				r.records.add(c, id)
			}
		}
	}
}
