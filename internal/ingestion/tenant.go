package ingestion

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lendwatch/reconciler/internal/domain"
	"github.com/lendwatch/reconciler/internal/remote"
)

// Dump file names inside the data directory.
const (
	FileBlocked         = "blocked.json"
	FileTransactions    = "transactions.json"
	FileTransactionsCSV = "transactions.csv"
	FileLoans           = "loans.json"
	FileInvestments     = "investments.json"
	FileDevelopments    = "developments.json"
	FileStatistics      = "statistics.json"
)

var ErrLoanNotFound = errors.New("loan not found")

type cachedFile struct {
	hash  [32]byte
	value any
}

// FileTenant serves the marketplace API from JSON dumps in a directory. Files are re-read on
// every call and parsed again only when their content changed. A missing file reads as empty.
type FileTenant struct {
	dir string

	mu    sync.Mutex
	cache map[string]cachedFile
}

var _ remote.Tenant = (*FileTenant)(nil)

func NewFileTenant(dir string) *FileTenant {
	return &FileTenant{dir: dir, cache: make(map[string]cachedFile)}
}

func (f *FileTenant) Dir() string { return f.dir }

func load[T any](f *FileTenant, name string, parse func([]byte) (T, error)) (T, error) {
	var zero T
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("read %s: %w", name, err)
	}
	hash := sha256.Sum256(data)

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.cache[name]; ok && c.hash == hash {
		return c.value.(T), nil
	}
	v, err := parse(data)
	if err != nil {
		return zero, fmt.Errorf("parse %s: %w", name, err)
	}
	f.cache[name] = cachedFile{hash: hash, value: v}
	return v, nil
}

func (f *FileTenant) exists(name string) bool {
	_, err := os.Stat(filepath.Join(f.dir, name))
	return err == nil
}

func (f *FileTenant) BlockedAmounts(ctx context.Context) ([]domain.BlockedAmount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return load(f, FileBlocked, ParseBlockedAmountsJSON)
}

// Transactions prefers the CSV export over the JSON dump when both are present.
func (f *FileTenant) Transactions(ctx context.Context, since time.Time) ([]domain.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var all []domain.Transaction
	var err error
	if f.exists(FileTransactionsCSV) {
		all, err = load(f, FileTransactionsCSV, ParseTransactionsCSV)
	} else {
		all, err = load(f, FileTransactions, ParseTransactionsJSON)
	}
	if err != nil {
		return nil, err
	}
	var out []domain.Transaction
	for _, t := range all {
		if !t.TransactionDate.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *FileTenant) Loan(ctx context.Context, loanID int) (domain.Loan, error) {
	if err := ctx.Err(); err != nil {
		return domain.Loan{}, err
	}
	loans, err := load(f, FileLoans, ParseLoansJSON)
	if err != nil {
		return domain.Loan{}, err
	}
	for _, l := range loans {
		if l.ID == loanID {
			return l, nil
		}
	}
	return domain.Loan{}, fmt.Errorf("%w: %d", ErrLoanNotFound, loanID)
}

func (f *FileTenant) Investment(ctx context.Context, loanID int) (domain.Investment, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Investment{}, false, err
	}
	investments, err := load(f, FileInvestments, ParseInvestmentsJSON)
	if err != nil {
		return domain.Investment{}, false, err
	}
	for _, inv := range investments {
		if inv.LoanID == loanID {
			return inv, true, nil
		}
	}
	return domain.Investment{}, false, nil
}

func (f *FileTenant) Developments(ctx context.Context, loanID int) ([]domain.Development, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := load(f, FileDevelopments, ParseDevelopmentsJSON)
	if err != nil {
		return nil, err
	}
	var out []domain.Development
	for _, d := range all {
		if d.LoanID == loanID {
			out = append(out, d)
		}
	}
	return out, nil
}

// DelinquentInvestments returns the investments which are due and overdue, by loan id.
func (f *FileTenant) DelinquentInvestments(ctx context.Context) ([]domain.Investment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	investments, err := load(f, FileInvestments, ParseInvestmentsJSON)
	if err != nil {
		return nil, err
	}
	var out []domain.Investment
	for _, inv := range investments {
		if inv.PaymentStatus == domain.PaymentDue && inv.LegalDpd > 0 {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoanID < out[j].LoanID })
	return out, nil
}

func (f *FileTenant) Statistics(ctx context.Context) (domain.Statistics, error) {
	if err := ctx.Err(); err != nil {
		return domain.Statistics{}, err
	}
	return load(f, FileStatistics, ParseStatisticsJSON)
}
