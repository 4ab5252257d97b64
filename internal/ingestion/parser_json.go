package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/lendwatch/reconciler/internal/domain"
)

func parseJSON[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("unmarshal: %w", err)
	}
	return v, nil
}

func ParseBlockedAmountsJSON(data []byte) ([]domain.BlockedAmount, error) {
	return parseJSON[[]domain.BlockedAmount](data)
}

func ParseTransactionsJSON(data []byte) ([]domain.Transaction, error) {
	return parseJSON[[]domain.Transaction](data)
}

func ParseLoansJSON(data []byte) ([]domain.Loan, error) {
	loans, err := parseJSON[[]domain.Loan](data)
	if err != nil {
		return nil, err
	}
	for i, l := range loans {
		if l.ID <= 0 {
			return nil, fmt.Errorf("loan %d: missing id", i)
		}
		if l.Rating != "" && !l.Rating.Valid() {
			return nil, fmt.Errorf("loan %d: unknown rating %q", l.ID, l.Rating)
		}
	}
	return loans, nil
}

func ParseInvestmentsJSON(data []byte) ([]domain.Investment, error) {
	return parseJSON[[]domain.Investment](data)
}

func ParseDevelopmentsJSON(data []byte) ([]domain.Development, error) {
	return parseJSON[[]domain.Development](data)
}

func ParseStatisticsJSON(data []byte) (domain.Statistics, error) {
	return parseJSON[domain.Statistics](data)
}
