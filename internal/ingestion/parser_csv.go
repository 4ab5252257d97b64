package ingestion

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendwatch/reconciler/internal/domain"
)

// ParseTransactionsCSV parses the wallet export of the marketplace.
//
// Expected header:
//
//	id,loan_id,category,orientation,amount,transaction_date
func ParseTransactionsCSV(data []byte) ([]domain.Transaction, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 6 {
		return nil, fmt.Errorf("expected 6 columns, got %d", len(header))
	}

	var txns []domain.Transaction
	lineNum := 1

	for {
		lineNum++
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		if len(row) < 6 {
			continue
		}

		id, err := strconv.ParseInt(strings.TrimSpace(row[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d id: %w", lineNum, err)
		}
		loanID := 0
		if s := strings.TrimSpace(row[1]); s != "" {
			if loanID, err = strconv.Atoi(s); err != nil {
				return nil, fmt.Errorf("line %d loan id: %w", lineNum, err)
			}
		}
		orientation := domain.Orientation(strings.ToUpper(strings.TrimSpace(row[3])))
		if orientation != domain.OrientationIn && orientation != domain.OrientationOut {
			return nil, fmt.Errorf("line %d: unknown orientation %q", lineNum, row[3])
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(row[4]))
		if err != nil {
			return nil, fmt.Errorf("line %d amount: %w", lineNum, err)
		}
		date, err := parseTime(strings.TrimSpace(row[5]))
		if err != nil {
			return nil, fmt.Errorf("line %d date: %w", lineNum, err)
		}

		txns = append(txns, domain.Transaction{
			ID:              id,
			LoanID:          loanID,
			Category:        domain.TransactionCategory(strings.ToUpper(strings.TrimSpace(row[2]))),
			Orientation:     orientation,
			Amount:          amount,
			TransactionDate: date,
		})
	}

	return txns, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err == nil {
		return t.UTC(), nil
	}
	// Date-only exports are midnight UTC.
	if t, err2 := time.Parse("2006-01-02", s); err2 == nil {
		return t, nil
	}
	return time.Time{}, err
}
