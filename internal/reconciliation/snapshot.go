package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendwatch/reconciler/internal/delinquency"
	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/transfer"
)

// Snapshot is an immutable view of the committed state. Readers must not modify it.
type Snapshot struct {
	Epoch       time.Time                         `json:"epoch"`
	Transfers   []transfer.Record                 `json:"transfers"`
	Adjustments map[domain.Rating]decimal.Decimal `json:"adjustments"`
	Synthetics  []transfer.Synthetic              `json:"synthetics"`
	Delinquents []delinquency.Record              `json:"delinquents"`
	AtRisk      map[domain.Rating]decimal.Decimal `json:"atRisk"`
	Overview    domain.Overview                   `json:"overview"`
	LastCycle   *CycleResult                      `json:"lastCycle,omitempty"`
}

// ActiveDelinquents returns the delinquents with an open episode.
func (s *Snapshot) ActiveDelinquents() []delinquency.Record {
	var out []delinquency.Record
	for _, d := range s.Delinquents {
		for _, e := range d.Episodes {
			if e.FixedOn == nil {
				out = append(out, d)
				break
			}
		}
	}
	return out
}

func (s *Service) Snapshot() *Snapshot { return s.snapshot.Load() }

func (s *Service) publish(last *CycleResult, overview domain.Overview) {
	delinquents, _ := s.delinquents.State()
	if last == nil {
		if prev := s.snapshot.Load(); prev != nil {
			last = prev.LastCycle
		}
	}
	s.snapshot.Store(&Snapshot{
		Epoch:       s.transfers.Epoch(),
		Transfers:   s.transfers.Records(),
		Adjustments: s.ledger.Adjustments(),
		Synthetics:  s.ledger.Synthetics(),
		Delinquents: delinquents,
		AtRisk:      s.delinquents.AmountsAtRisk(),
		Overview:    overview,
		LastCycle:   last,
	})
}
