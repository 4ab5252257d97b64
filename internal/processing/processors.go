package processing

import (
	"context"
	"errors"
	"fmt"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/event"
	"github.com/lendwatch/reconciler/internal/portfolio"
	"github.com/lendwatch/reconciler/internal/transfer"
)

var ErrMissingInvestment = errors.New("investment not found")

// investmentOf resolves the investment behind loanID; a missing one is an error.
func investmentOf(ctx context.Context, tx *portfolio.Transactional, loanID int) (domain.Investment, domain.Loan, error) {
	inv, found, err := tx.Tenant().Investment(ctx, loanID)
	if err != nil {
		return domain.Investment{}, domain.Loan{}, fmt.Errorf("fetch investment: %w", err)
	}
	if !found {
		return domain.Investment{}, domain.Loan{}, fmt.Errorf("%w: loan %d", ErrMissingInvestment, loanID)
	}
	loan, err := tx.Tenant().Loan(ctx, loanID)
	if err != nil {
		return domain.Investment{}, domain.Loan{}, fmt.Errorf("fetch loan: %w", err)
	}
	return inv, loan, nil
}

// LoanRepaid raises LoanRepaidEvent when an incoming payment leaves the investment fully repaid.
type LoanRepaid struct{}

func (LoanRepaid) Name() string { return "loan-repaid" }

func (LoanRepaid) Applicable(t *transfer.Transfer) bool {
	return t.Category == domain.CategoryPayment && t.Orientation == domain.OrientationIn
}

func (LoanRepaid) Process(ctx context.Context, tx *portfolio.Transactional, t *transfer.Transfer) error {
	inv, loan, err := investmentOf(ctx, tx, t.LoanID)
	if err != nil {
		return err
	}
	if inv.PaymentStatus != domain.PaymentPaid {
		return nil
	}
	tx.Fire(event.NewLoanRepaid(inv, loan, tx.Overview()))
	return nil
}

// ParticipationSold raises InvestmentSoldEvent for proceeds of a secondary market sale.
type ParticipationSold struct{}

func (ParticipationSold) Name() string { return "participation-sold" }

func (ParticipationSold) Applicable(t *transfer.Transfer) bool {
	return t.Category == domain.CategorySmpSell && t.Orientation == domain.OrientationIn
}

func (ParticipationSold) Process(ctx context.Context, tx *portfolio.Transactional, t *transfer.Transfer) error {
	inv, loan, err := investmentOf(ctx, tx, t.LoanID)
	if err != nil {
		return err
	}
	tx.Fire(event.NewInvestmentSold(inv, loan, tx.Overview()))
	return nil
}

// Defaults returns the processors every engine runs.
func Defaults() []Processor {
	return []Processor{LoanRepaid{}, ParticipationSold{}}
}
