package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/ingestion"
)

// Generates a deterministic set of tenant dumps for the file-backed tenant.
//
//	go run ./testdata/generate [dir]
func main() {
	rng := rand.New(rand.NewSource(42))
	baseDir := "data"
	if len(os.Args) > 1 {
		baseDir = os.Args[1]
	} else if v := os.Getenv("DATA_DIR"); v != "" {
		baseDir = v
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		panic(err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	statsAt := now.Add(-6 * time.Hour)

	// 40 loans spread over all ratings.
	loans := make([]domain.Loan, 40)
	for i := range loans {
		id := 1000 + i
		loans[i] = domain.Loan{
			ID:     id,
			Name:   fmt.Sprintf("Loan #%d", id),
			Rating: domain.Ratings[rng.Intn(len(domain.Ratings))],
			Amount: decimal.NewFromInt(int64(20+rng.Intn(180)) * 1000),
		}
	}

	// One investment per loan. Status distribution: 75% OK, 15% DUE, 5% PAID, 5% WRITTEN_OFF.
	invested := make(map[domain.Rating]decimal.Decimal)
	var investments []domain.Investment
	var developments []domain.Development
	for i, l := range loans {
		amount := decimal.NewFromInt(int64(200 + rng.Intn(16)*50))
		inv := domain.Investment{
			ID:                 int64(50000 + i),
			LoanID:             l.ID,
			Rating:             l.Rating,
			Amount:             amount,
			RemainingPrincipal: amount.Mul(decimal.NewFromFloat(0.2 + rng.Float64()*0.8)).Round(2),
			PaymentStatus:      domain.PaymentOK,
		}
		roll := rng.Float64()
		switch {
		case roll < 0.75:
		case roll < 0.90:
			inv.PaymentStatus = domain.PaymentDue
			inv.LegalDpd = 1 + rng.Intn(120)
			developments = append(developments, domain.Development{
				LoanID:   l.ID,
				Type:     "PAYMENT_REMINDER",
				DateFrom: now.AddDate(0, 0, -inv.LegalDpd/2),
				Note:     "Borrower contacted",
			})
		case roll < 0.95:
			inv.PaymentStatus = domain.PaymentPaid
			inv.RemainingPrincipal = decimal.Zero
		default:
			inv.PaymentStatus = domain.PaymentWrittenOff
		}
		investments = append(investments, inv)
		invested[l.Rating] = invested[l.Rating].Add(amount)
	}

	// Wallet history around the statistics timestamp.
	var txns []domain.Transaction
	nextID := int64(1)
	for _, inv := range investments {
		if inv.PaymentStatus != domain.PaymentPaid && rng.Float64() > 0.2 {
			continue
		}
		txns = append(txns, domain.Transaction{
			ID:              nextID,
			LoanID:          inv.LoanID,
			Amount:          inv.Amount,
			Category:        domain.CategoryPayment,
			Orientation:     domain.OrientationIn,
			TransactionDate: statsAt.Add(time.Duration(rng.Intn(360)) * time.Minute),
		})
		nextID++
	}
	for i := 0; i < 3; i++ {
		l := loans[rng.Intn(len(loans))]
		txns = append(txns, domain.Transaction{
			ID:              nextID,
			LoanID:          l.ID,
			Amount:          decimal.NewFromInt(int64(100 + rng.Intn(10)*25)),
			Category:        domain.CategorySmpBuy,
			Orientation:     domain.OrientationOut,
			TransactionDate: statsAt.Add(time.Duration(rng.Intn(360)) * time.Minute),
		})
		nextID++
	}

	// Pending reservations: a couple of fresh investments and a withdrawal.
	var blocked []domain.BlockedAmount
	for i := 0; i < 2; i++ {
		l := loans[rng.Intn(len(loans))]
		blocked = append(blocked, domain.BlockedAmount{
			LoanID:   l.ID,
			Amount:   decimal.NewFromInt(int64(200 + rng.Intn(6)*100)),
			Category: domain.CategoryInvestment,
		})
	}
	blocked = append(blocked, domain.BlockedAmount{Amount: decimal.NewFromInt(1500), Category: domain.CategoryWithdraw})

	writeJSONFile(filepath.Join(baseDir, ingestion.FileLoans), loans)
	writeJSONFile(filepath.Join(baseDir, ingestion.FileInvestments), investments)
	writeJSONFile(filepath.Join(baseDir, ingestion.FileDevelopments), developments)
	writeJSONFile(filepath.Join(baseDir, ingestion.FileBlocked), blocked)
	writeJSONFile(filepath.Join(baseDir, ingestion.FileStatistics), domain.Statistics{Timestamp: statsAt, Invested: invested})
	writeTransactionsCSV(filepath.Join(baseDir, ingestion.FileTransactionsCSV), txns)

	fmt.Printf("Generated %d loans, %d investments, %d transactions, %d blocked amounts -> %s\n",
		len(loans), len(investments), len(txns), len(blocked), baseDir)
}

func writeTransactionsCSV(path string, txns []domain.Transaction) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	w.Write([]string{"id", "loan_id", "category", "orientation", "amount", "transaction_date"})
	for _, t := range txns {
		w.Write([]string{
			strconv.FormatInt(t.ID, 10),
			strconv.Itoa(t.LoanID),
			string(t.Category),
			string(t.Orientation),
			t.Amount.StringFixed(2),
			t.TransactionDate.Format(time.RFC3339),
		})
	}
}

func writeJSONFile(path string, v any) {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		panic(err)
	}
}
