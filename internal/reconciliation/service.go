package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendwatch/reconciler/internal/delinquency"
	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/ledger"
	"github.com/lendwatch/reconciler/internal/portfolio"
	"github.com/lendwatch/reconciler/internal/processing"
	"github.com/lendwatch/reconciler/internal/repository"
	"github.com/lendwatch/reconciler/internal/transfer"
)

var ErrInvalidInvestment = errors.New("invalid investment")

// CycleResult summarises one committed polling cycle.
type CycleResult struct {
	ID         uuid.UUID `json:"id"`
	StartedAt  time.Time `json:"startedAt"`
	Epoch      time.Time `json:"epoch"`
	Added      int       `json:"added"`
	Processed  int       `json:"processed"`
	Sold       []int     `json:"sold"`
	Delinquent int       `json:"delinquent"`
	Repaid     int       `json:"repaid"`
	Defaulted  int       `json:"defaulted"`
	Events     int       `json:"events"`
}

type Options struct {
	// EpochMargin is subtracted from the polling time to get the next epoch, so that
	// transactions the marketplace publishes late are still picked up.
	EpochMargin time.Duration
	Processors  []processing.Processor
	Logger      *zap.Logger
}

type queuedInvestment struct {
	loanID int
	amount decimal.Decimal
}

// Service drives polling cycles. Cycle must not be called concurrently; everything else is
// safe for concurrent use.
type Service struct {
	portfolio   *portfolio.Portfolio
	state       *repository.StateRepo
	margin      time.Duration
	base        *zap.Logger
	logger      *zap.Logger
	transfers   *transfer.Transfers
	ledger      *ledger.TransactionLog
	delinquents *delinquency.Registry
	dispatcher  *processing.Dispatcher

	mu     sync.Mutex
	queued []queuedInvestment

	snapshot atomic.Pointer[Snapshot]
}

// NewService creates a service with empty state. state may be nil, in which case nothing is
// persisted.
func NewService(p *portfolio.Portfolio, state *repository.StateRepo, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	processors := opts.Processors
	if processors == nil {
		processors = processing.Defaults()
	}
	s := &Service{
		portfolio:   p,
		state:       state,
		margin:      opts.EpochMargin,
		base:        logger,
		logger:      logger.With(zap.String("component", "reconciliation")),
		transfers:   transfer.New(p.Now().Add(-opts.EpochMargin)),
		ledger:      ledger.New(logger),
		delinquents: delinquency.NewRegistry(logger),
		dispatcher:  processing.NewDispatcher(logger, processing.NewHistory(), processors...),
	}
	s.publish(nil, p.Overview())
	return s
}

// Restore loads the state persisted by a previous run, if any.
func (s *Service) Restore(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	st, found, err := s.state.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	if !found {
		s.logger.Info("no persisted state, starting fresh", zap.Time("epoch", s.transfers.Epoch()))
		return nil
	}

	transfers, err := transfer.Restore(st.Epoch, st.Transfers)
	if err != nil {
		return fmt.Errorf("restore transfers: %w", err)
	}
	history, err := processing.RestoreHistory(st.Seen)
	if err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	tenant := s.portfolio.Tenant()
	log, err := ledger.Seeded(s.base, st.Synthetics, func(loanID int) (domain.Rating, error) {
		loan, err := tenant.Loan(ctx, loanID)
		return loan.Rating, err
	})
	if err != nil {
		return fmt.Errorf("restore synthetics: %w", err)
	}
	s.delinquents.Restore(st.Delinquents, st.Categories)
	s.transfers = transfers
	s.ledger = log
	s.dispatcher.Restore(history)
	s.publish(nil, s.portfolio.Overview())

	s.logger.Info("state restored",
		zap.Time("epoch", st.Epoch),
		zap.Int("transfers", transfers.Len()),
		zap.Int("synthetics", len(st.Synthetics)),
		zap.Int("delinquents", len(st.Delinquents)))
	return nil
}

// RecordInvestment queues an investment made locally. It enters the books on the next cycle.
func (s *Service) RecordInvestment(loanID int, amount decimal.Decimal) error {
	if loanID <= 0 {
		return fmt.Errorf("%w: loan id %d", ErrInvalidInvestment, loanID)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount %s", ErrInvalidInvestment, amount)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, queuedInvestment{loanID: loanID, amount: amount})
	return nil
}

func (s *Service) drain() []queuedInvestment {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queued
	s.queued = nil
	return q
}

func (s *Service) requeue(q []queuedInvestment) {
	if len(q) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(q, s.queued...)
}

// Cycle runs one polling cycle. Either everything it observed is committed and its events
// fired, or nothing is and the epoch stays where it was.
func (s *Service) Cycle(ctx context.Context) (res *CycleResult, err error) {
	queued := s.drain()
	defer func() {
		if err != nil {
			s.requeue(queued)
		}
	}()

	tx := s.portfolio.Begin()
	tenant := tx.Tenant()
	now := tx.Now()
	res = &CycleResult{ID: uuid.New(), StartedAt: now}

	ratings := map[int]domain.Rating{}
	ratingOf := func(loanID int) (domain.Rating, error) {
		if r, ok := ratings[loanID]; ok {
			return r, nil
		}
		loan, err := tenant.Loan(ctx, loanID)
		if err != nil {
			return "", fmt.Errorf("fetch loan %d: %w", loanID, err)
		}
		ratings[loanID] = loan.Rating
		return loan.Rating, nil
	}

	stats, err := tenant.Statistics(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch statistics: %w", err)
	}

	next := s.transfers.Clone()
	nextLog := s.ledger.Clone()
	for _, q := range queued {
		rating, err := ratingOf(q.loanID)
		if err != nil {
			return nil, err
		}
		if next.FromInvestment(q.loanID, rating, q.amount, now) {
			res.Added++
		}
		nextLog.AddSynthetic(transfer.Synthetic{LoanID: q.loanID, Amount: q.amount}, rating)
	}

	blocked, err := tenant.BlockedAmounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch blocked amounts: %w", err)
	}
	for _, b := range blocked {
		added, err := next.FromBlockedAmount(b, now, ratingOf)
		if err != nil {
			return nil, err
		}
		if added {
			res.Added++
		}
	}
	// one read serves both the store, from the epoch, and the ledger, from the statistics
	since := next.Epoch()
	if stats.Timestamp.Before(since) {
		since = stats.Timestamp
	}
	transactions, err := tenant.Transactions(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("fetch transactions: %w", err)
	}
	for _, t := range transactions {
		if t.TransactionDate.Before(next.Epoch()) {
			continue
		}
		added, err := next.FromTransaction(t, ratingOf)
		if err != nil {
			return nil, err
		}
		if added {
			res.Added++
		}
	}

	sold, adjustments, err := nextLog.Update(tx, stats, ledger.Observed{Transactions: transactions, Blocked: blocked}, ratingOf)
	if err != nil {
		return nil, fmt.Errorf("update ledger: %w", err)
	}
	res.Sold = sold
	tx.SetOverview(domain.NewOverview(stats, adjustments, s.delinquents.AmountsAtRisk(), now))

	if res.Processed, err = s.dispatcher.Run(ctx, tx, next.Unprocessed()); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}

	current, err := tenant.DelinquentInvestments(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch delinquent investments: %w", err)
	}
	repaid, defaulted, err := s.resolved(ctx, tx, current)
	if err != nil {
		return nil, err
	}
	if err := s.delinquents.Update(ctx, tx, current, repaid, defaulted); err != nil {
		return nil, fmt.Errorf("update delinquents: %w", err)
	}
	res.Delinquent, res.Repaid, res.Defaulted = len(current), len(repaid), len(defaulted)

	rebased := next.Rebase(now.Add(-s.margin))
	res.Epoch = rebased.Epoch()
	_, res.Events = tx.Pending()
	tx.Defer(func() {
		s.transfers = rebased
		s.ledger = nextLog
		if dropped := s.dispatcher.Retain(rebased); dropped > 0 {
			s.logger.Debug("history trimmed", zap.Int("dropped", dropped))
		}
		overview := domain.NewOverview(stats, nextLog.Adjustments(), s.delinquents.AmountsAtRisk(), now)
		tx.SetOverview(overview)
		s.publish(res, overview)
	})

	if err := tx.Run(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	queued = nil

	s.logger.Info("cycle committed",
		zap.Stringer("cycle", res.ID),
		zap.Time("epoch", res.Epoch),
		zap.Int("added", res.Added),
		zap.Int("processed", res.Processed),
		zap.Int("delinquent", res.Delinquent),
		zap.Int("events", res.Events))

	if err := s.persist(ctx); err != nil {
		// the cycle is committed, the next successful save catches up
		s.logger.Error("persist state", zap.Error(err))
	}
	return res, nil
}

// resolved sorts the tracked investments which are no longer overdue into repaid and
// defaulted ones by looking up their current status.
func (s *Service) resolved(ctx context.Context, tx *portfolio.Transactional, current []domain.Investment) (repaid, defaulted []int64, err error) {
	overdue := make(map[int64]struct{}, len(current))
	for _, inv := range current {
		overdue[inv.ID] = struct{}{}
	}
	for _, d := range s.delinquents.Delinquents() {
		if d.Active() == nil {
			continue
		}
		if _, ok := overdue[d.InvestmentID()]; ok {
			continue
		}
		inv, found, err := tx.Tenant().Investment(ctx, d.LoanID())
		if err != nil {
			return nil, nil, fmt.Errorf("fetch investment in loan %d: %w", d.LoanID(), err)
		}
		if found && inv.PaymentStatus.Defaulted() {
			defaulted = append(defaulted, d.InvestmentID())
			continue
		}
		repaid = append(repaid, d.InvestmentID())
	}
	return repaid, defaulted, nil
}

func (s *Service) persist(ctx context.Context) error {
	if s.state == nil {
		return nil
	}
	delinquents, categories := s.delinquents.State()
	return s.state.Save(ctx, repository.State{
		Epoch:       s.transfers.Epoch(),
		Transfers:   s.transfers.Records(),
		Seen:        s.dispatcher.History().Entries(),
		Synthetics:  s.ledger.Synthetics(),
		Delinquents: delinquents,
		Categories:  categories,
	})
}

// Epoch is the watermark of the last committed cycle.
func (s *Service) Epoch() time.Time { return s.Snapshot().Epoch }
