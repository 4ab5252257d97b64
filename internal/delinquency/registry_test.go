package delinquency

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/portfolio"
	"github.com/lendwatch/reconciler/internal/remote"
)

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
	bus := event.NewBus(nil)
	bus.Subscribe(f.recorder)
	f.p = portfolio.New(f.tenant, bus, portfolio.WithClock(func() time.Time { return f.now }))
	f.tenant.PutLoan(domain.Loan{ID: 1, Rating: domain.RatingB})
	f.tenant.PutLoan(domain.Loan{ID: 2, Rating: domain.RatingC})
	return f
}

func (f *fixture) update(t *testing.T, r *Registry, current []domain.Investment, repaid, defaulted []int64) {
	t.Helper()
	tx := f.p.Begin()
	require.NoError(t, r.Update(context.Background(), tx, current, repaid, defaulted))
	require.NoError(t, tx.Run(context.Background()))
}

func overdue(id int64, loanID, dpd int) domain.Investment {
	return domain.Investment{
		ID:                 id,
		LoanID:             loanID,
		RemainingPrincipal: decimal.NewFromInt(150),
		PaymentStatus:      domain.PaymentDue,
		LegalDpd:           dpd,
	}
}

func TestRegistry_NewlyDelinquentCrossesThresholdsInOrder(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)

	f.update(t, r, []domain.Investment{overdue(100, 1, 40)}, nil, nil)

	assert.Equal(t, []string{
		"LoanNowDelinquentEvent",
		"LoanDelinquent10DaysOrMoreEvent",
		"LoanDelinquent30DaysOrMoreEvent",
	}, f.recorder.Names())
	now := f.recorder.Events()[0].(event.LoanNowDelinquentEvent)
	assert.Equal(t, date("2024-03-22"), now.Since)
	assert.Equal(t, domain.RatingB, now.Loan.Rating)
}

func TestRegistry_SecondPassIsQuiet(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)
	current := []domain.Investment{overdue(100, 1, 12)}

	f.update(t, r, current, nil, nil)
	f.recorder.Reset()
	f.update(t, r, current, nil, nil)
	assert.Empty(t, f.recorder.Names())

	f.now = f.now.AddDate(0, 0, 20)
	current[0].LegalDpd = 32
	f.update(t, r, current, nil, nil)
	assert.Equal(t, []string{"LoanDelinquent30DaysOrMoreEvent"}, f.recorder.Names())
}

func TestRegistry_PaidNeverDelinquentRaisesNothing(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)

	f.update(t, r, nil, []int64{100}, nil)

	assert.Empty(t, f.recorder.Events())
	assert.Empty(t, r.Delinquents())
}

func TestRegistry_RepaidClosesEpisode(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)
	f.update(t, r, []domain.Investment{overdue(100, 1, 5)}, nil, nil)
	f.tenant.SetDevelopments(1,
		domain.Development{LoanID: 1, Type: "OTHER", DateFrom: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)},
		domain.Development{LoanID: 1, Type: "PAYMENT_DELAY", DateFrom: time.Date(2024, 4, 28, 0, 0, 0, 0, time.UTC)},
		domain.Development{LoanID: 1, Type: "PAYMENT_RECEIVED", DateFrom: time.Date(2024, 4, 30, 0, 0, 0, 0, time.UTC)},
	)
	f.recorder.Reset()

	f.update(t, r, nil, []int64{100}, nil)

	require.Equal(t, []string{"LoanNoLongerDelinquentEvent"}, f.recorder.Names())
	e := f.recorder.Events()[0].(event.LoanNoLongerDelinquentEvent)
	require.Len(t, e.Developments, 2)
	assert.Equal(t, "PAYMENT_RECEIVED", e.Developments[0].Type)
	assert.Equal(t, "PAYMENT_DELAY", e.Developments[1].Type)

	assert.Empty(t, r.Active())
	assert.Empty(t, r.AmountsAtRisk())
	assert.Empty(t, r.Records())
	require.Len(t, r.Delinquents(), 1)
	on, ok := r.Delinquents()[0].Episodes()[0].FixedOn()
	require.True(t, ok)
	assert.Equal(t, date("2024-05-01"), on)
}

func TestRegistry_RepaidButStillOverdueIsIgnored(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)
	current := []domain.Investment{overdue(100, 1, 5)}
	f.update(t, r, current, nil, nil)
	f.recorder.Reset()

	f.update(t, r, current, []int64{100}, nil)

	assert.Empty(t, f.recorder.Names())
	assert.Equal(t, []int64{100}, r.Active())
}

func TestRegistry_DelinquentAgainAfterRepayment(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)
	f.update(t, r, []domain.Investment{overdue(100, 1, 3)}, nil, nil)
	f.update(t, r, nil, []int64{100}, nil)
	f.recorder.Reset()

	f.now = f.now.AddDate(0, 1, 0)
	f.update(t, r, []domain.Investment{overdue(100, 1, 1)}, nil, nil)

	assert.Equal(t, []string{"LoanNowDelinquentEvent"}, f.recorder.Names())
	assert.Len(t, r.Delinquents()[0].Episodes(), 2)
}

func TestRegistry_DefaultedIsDropped(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)
	f.update(t, r, []domain.Investment{overdue(100, 1, 95), overdue(200, 2, 3)}, nil, nil)
	f.recorder.Reset()

	f.update(t, r, []domain.Investment{overdue(200, 2, 4)}, nil, []int64{100})

	require.Equal(t, []string{"LoanDefaultedEvent"}, f.recorder.Names())
	e := f.recorder.Events()[0].(event.LoanDefaultedEvent)
	assert.Equal(t, int64(100), e.Investment.ID)
	assert.Equal(t, domain.PaymentWrittenOff, e.Investment.PaymentStatus)
	assert.Equal(t, []int64{200}, r.Active())
	assert.Len(t, r.Delinquents(), 1)
	assert.NotContains(t, r.Records()[CategoryCritical], int64(100))
}

func TestRegistry_AmountsAtRisk(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)
	a := overdue(100, 1, 5)
	b := overdue(200, 2, 5)
	b.Rating = domain.RatingC
	b.RemainingPrincipal = decimal.RequireFromString("99.5")

	f.update(t, r, []domain.Investment{a, b}, nil, nil)

	risk := r.AmountsAtRisk()
	assert.True(t, decimal.NewFromInt(150).Equal(risk[domain.RatingB]))
	assert.True(t, decimal.RequireFromString("99.5").Equal(risk[domain.RatingC]))
}

func TestRegistry_DiscardedCycleLeavesNoTrace(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)

	tx := f.p.Begin()
	require.NoError(t, r.Update(context.Background(), tx, []domain.Investment{overdue(100, 1, 40)}, nil, nil))

	assert.Empty(t, r.Delinquents())
	assert.Empty(t, r.Records())
	assert.Empty(t, f.recorder.Events())
}

func TestRegistry_UnknownLoanFails(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)

	err := r.Update(context.Background(), f.p.Begin(), []domain.Investment{overdue(100, 77, 1)}, nil, nil)
	assert.Error(t, err)
}

func TestRegistry_StateRoundTrip(t *testing.T) {
	f := newFixture()
	r := NewRegistry(nil)
	f.update(t, r, []domain.Investment{overdue(100, 1, 35)}, nil, nil)
	f.update(t, r, []domain.Investment{overdue(200, 2, 3)}, []int64{100}, nil)

	delinquents, categories := r.State()
	restored := NewRegistry(nil)
	restored.Restore(delinquents, categories)

	assert.Equal(t, r.Active(), restored.Active())
	assert.Equal(t, r.Records(), restored.Records())
	require.Len(t, restored.Delinquents(), 2)
	assert.True(t, r.Delinquents()[0].Episodes()[0].Equal(restored.Delinquents()[0].Episodes()[0]))

	f.recorder.Reset()
	tx := f.p.Begin()
	require.NoError(t, restored.Update(context.Background(), tx, []domain.Investment{overdue(200, 2, 4)}, nil, nil))
	require.NoError(t, tx.Run(context.Background()))
	assert.Empty(t, f.recorder.Names())
}
