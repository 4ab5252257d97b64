// Package remote describes the marketplace API as consumed by the reconciliation engine.
package remote

import (
	"context"
	"time"

	"github.com/lendwatch/reconciler/internal/domain"
)

// Tenant is the investor's authenticated view of the marketplace. Every call may block on the
// network and every error is treated as fatal to the current polling cycle.
type Tenant interface {
	BlockedAmounts(ctx context.Context) ([]domain.BlockedAmount, error)
	// Transactions returns ledger entries dated on or after since.
	Transactions(ctx context.Context, since time.Time) ([]domain.Transaction, error)
	Loan(ctx context.Context, loanID int) (domain.Loan, error)
	// Investment returns found=false when the investor holds no investment in the loan.
	Investment(ctx context.Context, loanID int) (inv domain.Investment, found bool, err error)
	Developments(ctx context.Context, loanID int) ([]domain.Development, error)
	DelinquentInvestments(ctx context.Context) ([]domain.Investment, error)
	Statistics(ctx context.Context) (domain.Statistics, error)
}
