package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionCategory classifies a money movement as reported by the marketplace.
type TransactionCategory string

const (
	CategoryInvestment    TransactionCategory = "INVESTMENT"
	CategoryPayment       TransactionCategory = "PAYMENT"
	CategorySmpBuy        TransactionCategory = "SMP_BUY"
	CategorySmpSell       TransactionCategory = "SMP_SELL"
	CategorySmpSaleFee    TransactionCategory = "SMP_SALE_FEE"
	CategoryInvestmentFee TransactionCategory = "INVESTMENT_FEE"
	CategoryWithdraw      TransactionCategory = "WITHDRAW"
	CategoryDeposit       TransactionCategory = "DEPOSIT"
)

// IsInvestment reports whether money in this category ends up invested in a loan.
func (c TransactionCategory) IsInvestment() bool {
	return c == CategoryInvestment || c == CategorySmpBuy
}

type Orientation string

const (
	OrientationIn  Orientation = "IN"
	OrientationOut Orientation = "OUT"
)

// Transaction is a final ledger entry returned by the transactions endpoint.
type Transaction struct {
	ID              int64               `json:"id"`
	LoanID          int                 `json:"loanId"`
	Amount          decimal.Decimal     `json:"amount"`
	Category        TransactionCategory `json:"category"`
	Orientation     Orientation         `json:"orientation"`
	TransactionDate time.Time           `json:"transactionDate"`
}

// BlockedAmount is a pending reservation of funds which has not yet become a Transaction.
// Blocked amounts always leave the investor's wallet.
type BlockedAmount struct {
	LoanID   int                 `json:"loanId"`
	Amount   decimal.Decimal     `json:"amount"`
	Category TransactionCategory `json:"category"`
}
