// Package processing turns reconciled transfers into portfolio side effects.
package processing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lendwatch/reconciler/internal/portfolio"
	"github.com/lendwatch/reconciler/internal/transfer"
)

// Processor handles one category of transfers.
type Processor interface {
	Name() string
	Applicable(t *transfer.Transfer) bool
	Process(ctx context.Context, tx *portfolio.Transactional, t *transfer.Transfer) error
}

// Dispatcher feeds each batch of transfers to its processors, in registration order.
type Dispatcher struct {
	processors []Processor
	history    *History
	logger     *zap.Logger
}

func NewDispatcher(logger *zap.Logger, history *History, processors ...Processor) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if history == nil {
		history = NewHistory()
	}
	return &Dispatcher{
		processors: processors,
		history:    history,
		logger:     logger.With(zap.String("component", "processing")),
	}
}

func (d *Dispatcher) History() *History { return d.history }

// Retain bounds the history by the rebased store; see History.Retain.
func (d *Dispatcher) Retain(store *transfer.Transfers) int { return d.history.Retain(store) }

// Restore replaces the history, e.g. with one loaded from the state store.
func (d *Dispatcher) Restore(h *History) { d.history = h }

// Run dispatches batch. Every processor handles at most one applicable transfer per loan:
// loans it has handled in earlier cycles are skipped, and within the batch the first arrival
// wins. Handled loans are remembered once tx commits. The first processing error aborts the
// batch.
func (d *Dispatcher) Run(ctx context.Context, tx *portfolio.Transactional, batch []*transfer.Transfer) (int, error) {
	type handled struct {
		processor string
		loanID    int
	}
	var done []handled

	for _, p := range d.processors {
		loans := make(map[int]struct{})
		for _, t := range batch {
			if !p.Applicable(t) {
				continue
			}
			if d.history.Seen(p.Name(), t.LoanID) {
				continue
			}
			key := t.Key()
			if _, dup := loans[t.LoanID]; dup {
				d.logger.Debug("skipping duplicate loan within batch",
					zap.String("processor", p.Name()), zap.Stringer("transfer", key))
				continue
			}
			loans[t.LoanID] = struct{}{}

			if err := p.Process(ctx, tx, t); err != nil {
				return 0, fmt.Errorf("%s: process %s: %w", p.Name(), key, err)
			}
			done = append(done, handled{p.Name(), t.LoanID})
		}
	}

	if len(done) > 0 {
		at := tx.Now()
		next := d.history.clone()
		for _, h := range done {
			next.mark(h.processor, h.loanID, at)
		}
		tx.Defer(func() { d.history = next })
	}
	d.logger.Debug("batch dispatched", zap.Int("transfers", len(batch)), zap.Int("processed", len(done)))
	return len(done), nil
}
