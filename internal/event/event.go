// Package event defines the notifications raised once a polling cycle commits.
package event

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"

	"github.com/lendwatch/reconciler/internal/domain"
)

type Event interface {
	Name() string
	Header() Meta
}

// Meta is shared by every event.
type Meta struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func (m Meta) Header() Meta { return m }

func newMeta() Meta {
	return Meta{ID: uuid.New(), CreatedAt: time.Now().UTC()}
}

// LoanNowDelinquentEvent is raised when an investment enters a new delinquency episode.
type LoanNowDelinquentEvent struct {
	Meta
	Investment domain.Investment `json:"investment"`
	Loan       domain.Loan       `json:"loan"`
	Since      civil.Date        `json:"since"`
	Overview   domain.Overview   `json:"overview"`
}

func NewLoanNowDelinquent(inv domain.Investment, loan domain.Loan, since civil.Date, o domain.Overview) LoanNowDelinquentEvent {
	return LoanNowDelinquentEvent{Meta: newMeta(), Investment: inv, Loan: loan, Since: since, Overview: o}
}

func (LoanNowDelinquentEvent) Name() string { return "LoanNowDelinquentEvent" }

// LoanDelinquentEvent is raised once per episode when it has lasted at least ThresholdInDays.
type LoanDelinquentEvent struct {
	Meta
	ThresholdInDays int               `json:"thresholdInDays"`
	Investment      domain.Investment `json:"investment"`
	Loan            domain.Loan       `json:"loan"`
	Since           civil.Date        `json:"since"`
	Overview        domain.Overview   `json:"overview"`
}

func NewLoanDelinquent(threshold int, inv domain.Investment, loan domain.Loan, since civil.Date, o domain.Overview) LoanDelinquentEvent {
	return LoanDelinquentEvent{
		Meta:            newMeta(),
		ThresholdInDays: threshold,
		Investment:      inv,
		Loan:            loan,
		Since:           since,
		Overview:        o,
	}
}

func (e LoanDelinquentEvent) Name() string {
	return fmt.Sprintf("LoanDelinquent%dDaysOrMoreEvent", e.ThresholdInDays)
}

// LoanNoLongerDelinquentEvent carries the developments published since the episode began,
// newest first.
type LoanNoLongerDelinquentEvent struct {
	Meta
	Investment   domain.Investment    `json:"investment"`
	Loan         domain.Loan          `json:"loan"`
	Developments []domain.Development `json:"developments"`
	Overview     domain.Overview      `json:"overview"`
}

func NewLoanNoLongerDelinquent(inv domain.Investment, loan domain.Loan, devs []domain.Development, o domain.Overview) LoanNoLongerDelinquentEvent {
	return LoanNoLongerDelinquentEvent{Meta: newMeta(), Investment: inv, Loan: loan, Developments: devs, Overview: o}
}

func (LoanNoLongerDelinquentEvent) Name() string { return "LoanNoLongerDelinquentEvent" }

type LoanDefaultedEvent struct {
	Meta
	Investment   domain.Investment    `json:"investment"`
	Loan         domain.Loan          `json:"loan"`
	Since        civil.Date           `json:"since"`
	Developments []domain.Development `json:"developments"`
	Overview     domain.Overview      `json:"overview"`
}

func NewLoanDefaulted(inv domain.Investment, loan domain.Loan, since civil.Date, devs []domain.Development, o domain.Overview) LoanDefaultedEvent {
	return LoanDefaultedEvent{Meta: newMeta(), Investment: inv, Loan: loan, Since: since, Developments: devs, Overview: o}
}

func (LoanDefaultedEvent) Name() string { return "LoanDefaultedEvent" }

type LoanRepaidEvent struct {
	Meta
	Investment domain.Investment `json:"investment"`
	Loan       domain.Loan       `json:"loan"`
	Overview   domain.Overview   `json:"overview"`
}

func NewLoanRepaid(inv domain.Investment, loan domain.Loan, o domain.Overview) LoanRepaidEvent {
	return LoanRepaidEvent{Meta: newMeta(), Investment: inv, Loan: loan, Overview: o}
}

func (LoanRepaidEvent) Name() string { return "LoanRepaidEvent" }

type InvestmentSoldEvent struct {
	Meta
	Investment domain.Investment `json:"investment"`
	Loan       domain.Loan       `json:"loan"`
	Overview   domain.Overview   `json:"overview"`
}

func NewInvestmentSold(inv domain.Investment, loan domain.Loan, o domain.Overview) InvestmentSoldEvent {
	return InvestmentSoldEvent{Meta: newMeta(), Investment: inv, Loan: loan, Overview: o}
}

func (InvestmentSoldEvent) Name() string { return "InvestmentSoldEvent" }
