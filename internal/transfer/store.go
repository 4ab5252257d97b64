package transfer

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendwatch/reconciler/internal/domain"
)

// Transfers holds the transfers observed within the current epoch, at most one per Key.
// It is not safe for concurrent use.
type Transfers struct {
	epoch   time.Time
	entries map[Key]*Transfer
	order   []Key
}

func New(epoch time.Time) *Transfers {
	return &Transfers{epoch: epoch, entries: make(map[Key]*Transfer)}
}

func (s *Transfers) Epoch() time.Time { return s.epoch }

func (s *Transfers) Len() int { return len(s.order) }

// FromInvestment records an investment of amount into the loan as a synthetic outgoing
// transfer. It reports whether anything was added.
func (s *Transfers) FromInvestment(loanID int, rating domain.Rating, amount decimal.Decimal, ts time.Time) bool {
	added, _ := s.observe(NewSynthetic(ts, loanID, domain.OrientationOut, domain.CategoryInvestment, amount, rating), nil)
	return added
}

// FromBlockedAmount inserts b, or promotes a matching synthetic entry in place. Promotions
// are not additions. ratings is only consulted when a new entry is inserted.
func (s *Transfers) FromBlockedAmount(b domain.BlockedAmount, ts time.Time, ratings RatingFunc) (bool, error) {
	return s.observe(newBlocked(b, ts, ""), ratings)
}

// FromTransaction inserts t, or promotes a matching lower-certainty entry in place.
func (s *Transfers) FromTransaction(t domain.Transaction, ratings RatingFunc) (bool, error) {
	return s.observe(newReal(t, ""), ratings)
}

func (s *Transfers) observe(candidate *Transfer, ratings RatingFunc) (bool, error) {
	key := candidate.Key()
	if existing, ok := s.entries[key]; ok {
		if candidate.certainty <= existing.certainty {
			return false, nil
		}
		if err := existing.Promote(candidate.certainty); err != nil {
			return false, err
		}
		existing.Timestamp = candidate.Timestamp
		return false, nil
	}
	if candidate.Rating == "" && ratings != nil {
		rating, err := ratings(candidate.LoanID)
		if err != nil {
			return false, err
		}
		candidate.Rating = rating
	}
	s.entries[key] = candidate
	s.order = append(s.order, key)
	return true, nil
}

// Get returns a copy of the entry with the given identity.
func (s *Transfers) Get(key Key) (*Transfer, bool) {
	t, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

func (s *Transfers) Contains(key Key) bool {
	_, ok := s.entries[key]
	return ok
}

// Unprocessed returns copies of all entries in arrival order.
func (s *Transfers) Unprocessed() []*Transfer {
	out := make([]*Transfer, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k].clone())
	}
	return out
}

// Clone returns a deep copy, so that a failed cycle can be thrown away.
func (s *Transfers) Clone() *Transfers {
	c := &Transfers{
		epoch:   s.epoch,
		entries: make(map[Key]*Transfer, len(s.entries)),
		order:   append([]Key(nil), s.order...),
	}
	for k, t := range s.entries {
		c.entries[k] = t.clone()
	}
	return c
}

// Rebase returns the store for the next cycle. Synthetic and blocked entries are carried over
// since the transactions endpoint will never return them. Real entries older than epoch are
// dropped; the endpoint no longer returns them either, or they have been superseded.
func (s *Transfers) Rebase(epoch time.Time) *Transfers {
	next := New(epoch)
	for _, k := range s.order {
		t := s.entries[k]
		if t.certainty == CertaintyReal && t.Timestamp.Before(epoch) {
			continue
		}
		next.entries[k] = t.clone()
		next.order = append(next.order, k)
	}
	return next
}

func (s *Transfers) Records() []Record {
	out := make([]Record, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.entries[k].Record())
	}
	return out
}

// Restore rebuilds a store from persisted records. Duplicate identities keep the higher
// certainty.
func Restore(epoch time.Time, records []Record) (*Transfers, error) {
	s := New(epoch)
	for _, r := range records {
		t, err := FromRecord(r)
		if err != nil {
			return nil, err
		}
		if _, err := s.observe(t, nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}
