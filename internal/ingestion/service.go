package ingestion

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

var ErrUnsupportedFile = errors.New("unsupported dump file")

// IngestResult is returned from a successful ingestion.
type IngestResult struct {
	File      string `json:"file"`
	Records   int    `json:"records"`
	Hash      string `json:"hash"`
	Unchanged bool   `json:"unchanged"`
}

// Service accepts fresh dumps of the marketplace API and stores them where FileTenant reads
// them on the next polling cycle.
type Service struct {
	dir    string
	logger *zap.Logger
}

func NewService(dir string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{dir: dir, logger: logger.With(zap.String("component", "ingestion"))}
}

// Ingest validates data as the named dump and replaces the stored file. Uploading the content
// already stored is a no-op.
func (s *Service) Ingest(name string, data []byte) (*IngestResult, error) {
	records, err := validate(name, data)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(data)
	res := &IngestResult{File: name, Records: records, Hash: fmt.Sprintf("%x", hash)}

	path := filepath.Join(s.dir, name)
	if existing, err := os.ReadFile(path); err == nil && sha256.Sum256(existing) == hash {
		res.Unchanged = true
		return res, nil
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, "."+name+"-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("replace %s: %w", name, err)
	}

	s.logger.Info("dump ingested", zap.String("file", name), zap.Int("records", records))
	return res, nil
}

func validate(name string, data []byte) (int, error) {
	n, err := parseDump(name, data)
	if err != nil {
		if errors.Is(err, ErrUnsupportedFile) {
			return 0, err
		}
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return n, nil
}

func parseDump(name string, data []byte) (int, error) {
	switch name {
	case FileBlocked:
		v, err := ParseBlockedAmountsJSON(data)
		return len(v), err
	case FileTransactions:
		v, err := ParseTransactionsJSON(data)
		return len(v), err
	case FileTransactionsCSV:
		v, err := ParseTransactionsCSV(data)
		return len(v), err
	case FileLoans:
		v, err := ParseLoansJSON(data)
		return len(v), err
	case FileInvestments:
		v, err := ParseInvestmentsJSON(data)
		return len(v), err
	case FileDevelopments:
		v, err := ParseDevelopmentsJSON(data)
		return len(v), err
	case FileStatistics:
		_, err := ParseStatisticsJSON(data)
		return 1, err
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFile, name)
}
