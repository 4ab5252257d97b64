package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
)

// Store is a key-value store partitioned in sections. Saving a section replaces it entirely.
type Store interface {
	Load(ctx context.Context, section string) (map[string]string, error)
	Save(ctx context.Context, sections map[string]map[string]string) error
	Close() error
}

// SQLStore keeps every section in the engine_state table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

func (s *SQLStore) bind(n int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (s *SQLStore) Load(ctx context.Context, section string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM engine_state WHERE section = `+s.bind(1), section)
	if err != nil {
		return nil, fmt.Errorf("query section %s: %w", section, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan section %s: %w", section, err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// Save writes all sections in one database transaction.
func (s *SQLStore) Save(ctx context.Context, sections map[string]map[string]string) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback()

	stmt, err := sqlTx.PrepareContext(ctx,
		`INSERT INTO engine_state (section, key, value) VALUES (`+s.bind(1)+`,`+s.bind(2)+`,`+s.bind(3)+`)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, section := range sortedSections(sections) {
		if _, err := sqlTx.ExecContext(ctx,
			`DELETE FROM engine_state WHERE section = `+s.bind(1), section); err != nil {
			return fmt.Errorf("clear section %s: %w", section, err)
		}
		for k, v := range sections[section] {
			if _, err := stmt.ExecContext(ctx, section, k, v); err != nil {
				return fmt.Errorf("insert %s/%s: %w", section, k, err)
			}
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func sortedSections(sections map[string]map[string]string) []string {
	names := make([]string, 0, len(sections))
	for name := range sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
