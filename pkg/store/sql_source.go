package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and the database/sql driver name.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case DialectSQLite, DialectPostgres:
		return d, nil
	}
	return "", fmt.Errorf("store: unknown database driver %q", s)
}

// ProgramRecord is one published routing program.
type ProgramRecord struct {
	ID         string
	ProfileID  string
	Version    string
	Data       []byte
	Active     bool
	ModifiedAt time.Time
}

// SQLProgramSource reads routing programs published to the
// routing_algorithm table by the dashboard. It never writes. The active
// program of a profile is the most recently modified active row.
type SQLProgramSource struct {
	db      *sql.DB
	dialect Dialect
}

func NewSQLProgramSource(db *sql.DB, dialect Dialect) *SQLProgramSource {
	return &SQLProgramSource{db: db, dialect: dialect}
}

// OpenSQLProgramSource opens a connection pool for driver and dsn.
func OpenSQLProgramSource(driver, dsn string) (*SQLProgramSource, error) {
	d, err := ParseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(string(d), dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", d, err)
	}
	return NewSQLProgramSource(db, d), nil
}

func (s *SQLProgramSource) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLProgramSource) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const selectProgram = `
	SELECT algorithm_id, profile_id, version, algorithm_data, active, modified_at
	FROM routing_algorithm`

// Active returns the program currently active for profileID, or ErrNotFound.
func (s *SQLProgramSource) Active(ctx context.Context, profileID string) (*ProgramRecord, error) {
	query := s.rebind(selectProgram + `
	WHERE profile_id = ? AND active
	ORDER BY modified_at DESC
	LIMIT 1`)
	rec, err := scanProgram(s.db.QueryRowContext(ctx, query, profileID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no active program for profile %q", ErrNotFound, profileID)
	}
	return rec, err
}

// List returns up to limit programs of profileID, newest first.
func (s *SQLProgramSource) List(ctx context.Context, profileID string, limit int) ([]*ProgramRecord, error) {
	query := s.rebind(selectProgram + `
	WHERE profile_id = ?
	ORDER BY modified_at DESC
	LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, profileID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []*ProgramRecord
	for rows.Next() {
		rec, err := scanProgram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgram(row scanner) (*ProgramRecord, error) {
	var rec ProgramRecord
	if err := row.Scan(&rec.ID, &rec.ProfileID, &rec.Version, &rec.Data, &rec.Active, &rec.ModifiedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
