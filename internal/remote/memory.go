package remote

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lendwatch/reconciler/internal/domain"
)

// Memory is a Tenant serving whatever was last put into it.
type Memory struct {
	mu           sync.RWMutex
	blocked      []domain.BlockedAmount
	transactions []domain.Transaction
	loans        map[int]domain.Loan
	investments  map[int]domain.Investment
	developments map[int][]domain.Development
	stats        domain.Statistics
	// Err, when set, is returned by every call.
	Err error
}

func NewMemory() *Memory {
	return &Memory{
		loans:        make(map[int]domain.Loan),
		investments:  make(map[int]domain.Investment),
		developments: make(map[int][]domain.Development),
	}
}

func (m *Memory) SetBlockedAmounts(b ...domain.BlockedAmount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = append([]domain.BlockedAmount(nil), b...)
}

func (m *Memory) SetTransactions(t ...domain.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = append([]domain.Transaction(nil), t...)
}

func (m *Memory) PutLoan(l domain.Loan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loans[l.ID] = l
}

func (m *Memory) PutInvestment(i domain.Investment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.investments[i.LoanID] = i
}

func (m *Memory) RemoveInvestment(loanID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.investments, loanID)
}

func (m *Memory) SetDevelopments(loanID int, d ...domain.Development) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.developments[loanID] = append([]domain.Development(nil), d...)
}

func (m *Memory) SetStatistics(s domain.Statistics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = s
}

func (m *Memory) BlockedAmounts(ctx context.Context) ([]domain.BlockedAmount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]domain.BlockedAmount(nil), m.blocked...), nil
}

func (m *Memory) Transactions(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []domain.Transaction
	for _, t := range m.transactions {
		if !t.TransactionDate.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *Memory) Loan(ctx context.Context, loanID int) (domain.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return domain.Loan{}, m.Err
	}
	l, ok := m.loans[loanID]
	if !ok {
		return domain.Loan{}, fmt.Errorf("loan %d not found", loanID)
	}
	return l, nil
}

func (m *Memory) Investment(ctx context.Context, loanID int) (domain.Investment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return domain.Investment{}, false, m.Err
	}
	i, ok := m.investments[loanID]
	return i, ok, nil
}

func (m *Memory) Developments(ctx context.Context, loanID int) ([]domain.Development, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return append([]domain.Development(nil), m.developments[loanID]...), nil
}

// DelinquentInvestments returns every known investment with at least one day past due.
func (m *Memory) DelinquentInvestments(ctx context.Context) ([]domain.Investment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var out []domain.Investment
	for _, i := range m.investments {
		if i.LegalDpd > 0 && i.PaymentStatus == domain.PaymentDue {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].LoanID < out[b].LoanID })
	return out, nil
}

func (m *Memory) Statistics(ctx context.Context) (domain.Statistics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Err != nil {
		return domain.Statistics{}, m.Err
	}
	return m.stats, nil
}

var _ Tenant = (*Memory)(nil)
