package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentOK         PaymentStatus = "OK"
	PaymentDue        PaymentStatus = "DUE"
	PaymentPaid       PaymentStatus = "PAID"
	PaymentPaidOff    PaymentStatus = "PAID_OFF"
	PaymentWrittenOff PaymentStatus = "WRITTEN_OFF"
	PaymentSold       PaymentStatus = "SOLD"
)

// Defaulted reports whether the investment will no longer be repaid by the borrower.
func (s PaymentStatus) Defaulted() bool {
	return s == PaymentWrittenOff
}

type Loan struct {
	ID     int             `json:"id"`
	Name   string          `json:"name"`
	Rating Rating          `json:"rating"`
	Amount decimal.Decimal `json:"amount"`
	URL    string          `json:"url,omitempty"`
}

type Investment struct {
	ID                 int64           `json:"id"`
	LoanID             int             `json:"loanId"`
	Rating             Rating          `json:"rating"`
	Amount             decimal.Decimal `json:"amount"`
	RemainingPrincipal decimal.Decimal `json:"remainingPrincipal"`
	PaymentStatus      PaymentStatus   `json:"paymentStatus"`
	// LegalDpd is the number of days the oldest unpaid instalment is overdue.
	LegalDpd int `json:"legalDpd"`
}

// Development is a note published by the marketplace about the collection of a loan.
type Development struct {
	LoanID   int        `json:"loanId"`
	Type     string     `json:"type"`
	DateFrom time.Time  `json:"dateFrom"`
	DateTo   *time.Time `json:"dateTo,omitempty"`
	Note     string     `json:"note,omitempty"`
}
