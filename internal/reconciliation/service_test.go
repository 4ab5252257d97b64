package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/portfolio"
	"github.com/lendwatch/reconciler/internal/processing"
	"github.com/lendwatch/reconciler/internal/remote"
	"github.com/lendwatch/reconciler/internal/repository"
)

const margin = 5 * time.Minute

type fixture struct {
	tenant   *remote.Memory
	recorder *event.Recorder
	now      time.Time
	p        *portfolio.Portfolio
}

func newFixture() *fixture {
	f := &fixture{
		tenant:   remote.NewMemory(),
		recorder: &event.Recorder{},
		now:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
	f.tenant.PutLoan(domain.Loan{ID: 1, Rating: domain.RatingB})
	f.tenant.PutLoan(domain.Loan{ID: 5, Rating: domain.RatingA})
	f.tenant.PutLoan(domain.Loan{ID: 11, Rating: domain.RatingC})
	f.tenant.SetStatistics(domain.Statistics{
		Timestamp: f.now.Add(-time.Hour),
		Invested:  map[domain.Rating]decimal.Decimal{domain.RatingA: decimal.NewFromInt(1000)},
	})
	f.p = f.portfolio()
	return f
}

func (f *fixture) portfolio() *portfolio.Portfolio {
	bus := event.NewBus(nil)
	bus.Subscribe(f.recorder)
	return portfolio.New(f.tenant, bus, portfolio.WithClock(func() time.Time { return f.now }))
}

func (f *fixture) service(state *repository.StateRepo) *Service {
	return NewService(f.p, state, Options{EpochMargin: margin})
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func cycle(t *testing.T, s *Service) *CycleResult {
	t.Helper()
	res, err := s.Cycle(context.Background())
	require.NoError(t, err)
	return res
}

func amount(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestCycle_LocalInvestmentIsPromotedNotDuplicated(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	require.NoError(t, s.RecordInvestment(11, amount(10)))

	res := cycle(t, s)
	snap := s.Snapshot()
	assert.Equal(t, 1, res.Added)
	require.Len(t, snap.Transfers, 1)
	assert.Equal(t, "SYNTHETIC", snap.Transfers[0].Certainty)
	assert.True(t, amount(10).Equal(snap.Adjustments[domain.RatingC]))
	assert.True(t, amount(10).Equal(snap.Overview.Invested[domain.RatingC]))
	assert.True(t, amount(1000).Equal(snap.Overview.Invested[domain.RatingA]))

	f.advance(time.Minute)
	f.tenant.SetBlockedAmounts(domain.BlockedAmount{LoanID: 11, Amount: amount(10), Category: domain.CategoryInvestment})
	res = cycle(t, s)
	snap = s.Snapshot()
	assert.Zero(t, res.Added)
	require.Len(t, snap.Transfers, 1)
	assert.Equal(t, "BLOCKED_AMOUNT", snap.Transfers[0].Certainty)
	assert.Empty(t, snap.Synthetics)
	assert.True(t, amount(10).Equal(snap.Adjustments[domain.RatingC]))

	f.advance(time.Minute)
	f.tenant.SetBlockedAmounts()
	f.tenant.SetTransactions(domain.Transaction{
		ID: 1, LoanID: 11, Amount: amount(10), Category: domain.CategoryInvestment,
		Orientation: domain.OrientationOut, TransactionDate: f.now,
	})
	res = cycle(t, s)
	snap = s.Snapshot()
	assert.Zero(t, res.Added)
	require.Len(t, snap.Transfers, 1)
	assert.Equal(t, "REAL", snap.Transfers[0].Certainty)
	assert.Empty(t, f.recorder.Events())
}

func TestCycle_EpochAdvancesAndRealTransfersAge(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	f.tenant.SetTransactions(domain.Transaction{
		ID: 1, LoanID: 5, Amount: amount(3), Category: domain.CategoryInvestmentFee,
		Orientation: domain.OrientationOut, TransactionDate: f.now.Add(-time.Minute),
	})

	cycle(t, s)
	assert.Equal(t, f.now.Add(-margin), s.Epoch())
	assert.Len(t, s.Snapshot().Transfers, 1)

	f.advance(time.Hour)
	cycle(t, s)
	assert.Equal(t, f.now.Add(-margin), s.Epoch())
	assert.Empty(t, s.Snapshot().Transfers)
}

func TestCycle_FailureLeavesNoTrace(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	cycle(t, s)
	before := s.Snapshot()

	require.NoError(t, s.RecordInvestment(11, amount(25)))
	f.advance(time.Hour)
	f.tenant.SetTransactions(domain.Transaction{
		ID: 2, LoanID: 1, Amount: amount(5), Category: domain.CategoryPayment,
		Orientation: domain.OrientationIn, TransactionDate: f.now,
	})

	_, err := s.Cycle(context.Background())
	require.ErrorIs(t, err, processing.ErrMissingInvestment)
	assert.Same(t, before, s.Snapshot())
	assert.Empty(t, f.recorder.Events())

	f.tenant.PutInvestment(domain.Investment{ID: 10, LoanID: 1, PaymentStatus: domain.PaymentOK})
	cycle(t, s)
	assert.Len(t, s.Snapshot().Synthetics, 1)
	assert.Equal(t, f.now.Add(-margin), s.Epoch())
}

func TestCycle_RemoteFailureAborts(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	epoch := s.Epoch()
	f.tenant.Err = errors.New("timeout")

	_, err := s.Cycle(context.Background())

	assert.ErrorIs(t, err, f.tenant.Err)
	assert.Equal(t, epoch, s.Epoch())
	assert.Nil(t, s.Snapshot().LastCycle)
}

func TestCycle_RepaymentReportedOnce(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	f.tenant.PutInvestment(domain.Investment{ID: 50, LoanID: 5, PaymentStatus: domain.PaymentPaid})
	f.tenant.SetTransactions(domain.Transaction{
		ID: 3, LoanID: 5, Amount: amount(200), Category: domain.CategoryPayment,
		Orientation: domain.OrientationIn, TransactionDate: f.now,
	})

	cycle(t, s)
	f.advance(time.Minute)
	cycle(t, s)

	assert.Equal(t, []string{"LoanRepaidEvent"}, f.recorder.Names())
}

func TestCycle_RepaymentWithSeveralPaymentsReportedOnce(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	f.tenant.PutInvestment(domain.Investment{ID: 50, LoanID: 5, PaymentStatus: domain.PaymentPaid})
	f.tenant.SetTransactions(
		domain.Transaction{
			ID: 3, LoanID: 5, Amount: amount(200), Category: domain.CategoryPayment,
			Orientation: domain.OrientationIn, TransactionDate: f.now,
		},
		domain.Transaction{
			ID: 4, LoanID: 5, Amount: amount(7), Category: domain.CategoryPayment,
			Orientation: domain.OrientationIn, TransactionDate: f.now,
		},
	)

	cycle(t, s)
	f.advance(time.Minute)
	cycle(t, s)

	assert.Equal(t, []string{"LoanRepaidEvent"}, f.recorder.Names())
}

func TestCycle_InvestmentTransactionRetiresSynthetic(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	require.NoError(t, s.RecordInvestment(11, amount(10)))
	cycle(t, s)

	// the reservation came and went between two polls
	f.advance(time.Minute)
	f.tenant.SetTransactions(domain.Transaction{
		ID: 1, LoanID: 11, Amount: amount(10), Category: domain.CategoryInvestment,
		Orientation: domain.OrientationOut, TransactionDate: f.now,
	})
	cycle(t, s)
	assert.True(t, amount(10).Equal(s.Snapshot().Overview.Invested[domain.RatingC]))

	f.advance(time.Minute)
	f.tenant.SetStatistics(domain.Statistics{
		Timestamp: f.now,
		Invested: map[domain.Rating]decimal.Decimal{
			domain.RatingA: amount(1000),
			domain.RatingC: amount(10),
		},
	})
	cycle(t, s)

	snap := s.Snapshot()
	assert.Empty(t, snap.Synthetics)
	assert.NotContains(t, snap.Adjustments, domain.RatingC)
	assert.True(t, amount(10).Equal(snap.Overview.Invested[domain.RatingC]))
}

type countingTenant struct {
	*remote.Memory
	transactions, blocked int
}

func (c *countingTenant) Transactions(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	c.transactions++
	return c.Memory.Transactions(ctx, since)
}

func (c *countingTenant) BlockedAmounts(ctx context.Context) ([]domain.BlockedAmount, error) {
	c.blocked++
	return c.Memory.BlockedAmounts(ctx)
}

func TestCycle_ReadsWalletOnce(t *testing.T) {
	f := newFixture()
	tenant := &countingTenant{Memory: f.tenant}
	p := portfolio.New(tenant, event.NewBus(nil), portfolio.WithClock(func() time.Time { return f.now }))
	s := NewService(p, nil, Options{EpochMargin: margin})
	f.tenant.SetTransactions(domain.Transaction{
		ID: 7, LoanID: 1, Amount: amount(30), Category: domain.CategorySmpBuy,
		Orientation: domain.OrientationOut, TransactionDate: f.now.Add(-30 * time.Minute),
	})

	cycle(t, s)

	assert.Equal(t, 1, tenant.transactions)
	assert.Equal(t, 1, tenant.blocked)
	// older than the epoch, newer than the statistics
	assert.Empty(t, s.Snapshot().Transfers)
	assert.True(t, amount(30).Equal(s.Snapshot().Adjustments[domain.RatingB]))
}

func TestCycle_DelinquencyLifecycle(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	f.tenant.PutInvestment(domain.Investment{
		ID: 10, LoanID: 1, PaymentStatus: domain.PaymentDue, LegalDpd: 40,
		RemainingPrincipal: amount(180),
	})

	res := cycle(t, s)
	assert.Equal(t, 1, res.Delinquent)
	assert.Equal(t, []string{
		"LoanNowDelinquentEvent",
		"LoanDelinquent10DaysOrMoreEvent",
		"LoanDelinquent30DaysOrMoreEvent",
	}, f.recorder.Names())
	snap := s.Snapshot()
	assert.True(t, amount(180).Equal(snap.AtRisk[domain.RatingB]))
	assert.True(t, amount(180).Equal(snap.Overview.AtRisk[domain.RatingB]))
	assert.Len(t, snap.ActiveDelinquents(), 1)

	f.recorder.Reset()
	f.advance(24 * time.Hour)
	f.tenant.PutInvestment(domain.Investment{ID: 10, LoanID: 1, PaymentStatus: domain.PaymentOK})
	res = cycle(t, s)

	assert.Equal(t, 1, res.Repaid)
	assert.Equal(t, []string{"LoanNoLongerDelinquentEvent"}, f.recorder.Names())
	assert.Empty(t, s.Snapshot().AtRisk)
	assert.Empty(t, s.Snapshot().ActiveDelinquents())
}

func TestCycle_PaidNeverDelinquentIsQuiet(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	f.tenant.PutInvestment(domain.Investment{ID: 10, LoanID: 1, PaymentStatus: domain.PaymentPaid})

	cycle(t, s)

	assert.Empty(t, f.recorder.Events())
}

func TestCycle_Default(t *testing.T) {
	f := newFixture()
	s := f.service(nil)
	f.tenant.PutInvestment(domain.Investment{ID: 10, LoanID: 1, PaymentStatus: domain.PaymentDue, LegalDpd: 3})
	cycle(t, s)
	f.recorder.Reset()

	f.tenant.PutInvestment(domain.Investment{ID: 10, LoanID: 1, PaymentStatus: domain.PaymentWrittenOff, LegalDpd: 120})
	res := cycle(t, s)

	assert.Equal(t, 1, res.Defaulted)
	assert.Equal(t, []string{"LoanDefaultedEvent"}, f.recorder.Names())
	assert.Empty(t, s.Snapshot().Delinquents)
}

func TestService_RestoreResumesWithoutDuplicateEvents(t *testing.T) {
	f := newFixture()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	store := repository.NewSQLStore(db, repository.DialectSQLite)
	t.Cleanup(func() { store.Close() })
	state := repository.NewStateRepo(store)

	first := f.service(state)
	f.tenant.PutInvestment(domain.Investment{ID: 10, LoanID: 1, PaymentStatus: domain.PaymentDue, LegalDpd: 12})
	require.NoError(t, first.RecordInvestment(11, amount(10)))
	cycle(t, first)
	want := first.Snapshot()

	f.recorder.Reset()
	f.advance(time.Minute)
	f.p = f.portfolio()
	second := f.service(state)
	require.NoError(t, second.Restore(context.Background()))

	got := second.Snapshot()
	assert.Equal(t, want.Epoch, got.Epoch)
	assert.Len(t, got.Transfers, 1)
	assert.Len(t, got.Synthetics, 1)
	assert.True(t, amount(10).Equal(got.Adjustments[domain.RatingC]))
	assert.Len(t, got.ActiveDelinquents(), 1)

	cycle(t, second)
	assert.Empty(t, f.recorder.Names())
}

func TestRecordInvestment_Validation(t *testing.T) {
	s := newFixture().service(nil)

	assert.ErrorIs(t, s.RecordInvestment(0, amount(10)), ErrInvalidInvestment)
	assert.ErrorIs(t, s.RecordInvestment(1, amount(0)), ErrInvalidInvestment)
	assert.ErrorIs(t, s.RecordInvestment(1, amount(-5)), ErrInvalidInvestment)
	assert.NoError(t, s.RecordInvestment(1, amount(5)))
}

func TestRun_StopsWhenCancelled(t *testing.T) {
	s := newFixture().service(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	require.Eventually(t, func() bool { return s.Snapshot().LastCycle != nil }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
