package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // Postgres driver
	_ "modernc.org/sqlite" // SQLite driver
)

// Dialect selects placeholder style and catalog queries for the backing database.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name onto a supported dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", driver)
	}
}

func (d Dialect) builder() sq.StatementBuilderType {
	if d == DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (d Dialect) columnsQuery() string {
	if d == DialectPostgres {
		return `SELECT column_name FROM information_schema.columns WHERE table_name = 'items'`
	}
	return `SELECT name FROM pragma_table_info('items')`
}

// Open connects to the configured database. SQLite paths get WAL and a busy timeout.
func Open(driver, dsn string) (*sqlx.DB, Dialect, error) {
	dialect, err := ParseDialect(driver)
	if err != nil {
		return nil, "", err
	}

	if dialect == DialectPostgres {
		db, err := sqlx.Open("postgres", dsn)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		return db, dialect, nil
	}

	if dsn == "" {
		dsn = filepath.Join("data", "aiflash.db")
	}
	if !strings.HasPrefix(dsn, "file:") && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, "", fmt.Errorf("create data directory: %w", err)
		}
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, "", fmt.Errorf("open sqlite: %w", err)
	}
	return db, dialect, nil
}

// The base table holds the columns every store has had since its first release.
const createItemsTable = `CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	raw_title TEXT NOT NULL DEFAULT '',
	raw_summary TEXT NOT NULL DEFAULT '',
	raw_body TEXT NOT NULL DEFAULT '',
	raw_link TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	published_at BIGINT NOT NULL DEFAULT 0,
	ingested_at BIGINT NOT NULL DEFAULT 0,
	content_type TEXT NOT NULL DEFAULT 'blog',
	relevance_checked BOOLEAN NOT NULL DEFAULT FALSE,
	is_relevant BOOLEAN,
	relevance_score DOUBLE PRECISION,
	summarized BOOLEAN NOT NULL DEFAULT FALSE,
	failure_count INTEGER NOT NULL DEFAULT 0
)`

var coreColumns = []string{
	"id", "raw_title", "raw_summary", "raw_body", "raw_link", "source",
	"published_at", "ingested_at", "content_type",
	"relevance_checked", "is_relevant", "relevance_score", "summarized", "failure_count",
}

type optionalColumn struct {
	name       string
	definition string
}

// optionalColumns are added in place on stores created before they existed.
var optionalColumns = []optionalColumn{
	{name: "display_title", definition: "TEXT NOT NULL DEFAULT ''"},
	{name: "tl_dr", definition: "TEXT NOT NULL DEFAULT ''"},
	{name: "summary", definition: "TEXT NOT NULL DEFAULT ''"},
	{name: "why_it_matters", definition: "TEXT NOT NULL DEFAULT ''"},
	{name: "tags", definition: "TEXT NOT NULL DEFAULT '[]'"},
	{name: "badges", definition: "TEXT NOT NULL DEFAULT '[]'"},
	{name: "refs", definition: "TEXT NOT NULL DEFAULT '[]'"},
	{name: "snippet", definition: "TEXT NOT NULL DEFAULT ''"},
	{name: "synthesis_failed", definition: "BOOLEAN NOT NULL DEFAULT FALSE"},
	{name: "summarized_at", definition: "BIGINT"},
	{name: "embedding", definition: "TEXT"},
}

var itemIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_items_published ON items (published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_items_stage ON items (relevance_checked, summarized)`,
}

// Migrate creates the items table, then adds any missing optional column.
// A column that fails to migrate is logged and skipped; the rest of the store keeps working.
func (s *ItemStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createItemsTable); err != nil {
		return fmt.Errorf("create items table: %w", err)
	}

	existing, err := s.existingColumns(ctx)
	if err != nil {
		return fmt.Errorf("inspect items columns: %w", err)
	}

	for _, col := range optionalColumns {
		if existing[col.name] {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE items ADD COLUMN %s %s", col.name, col.definition)
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.warn("column migration failed", "column", col.name, "error", err)
			continue
		}
		s.debug("column added", "column", col.name)
		existing[col.name] = true
	}

	for _, stmt := range itemIndexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.warn("index creation failed", "statement", stmt, "error", err)
		}
	}

	s.setColumns(existing)
	return nil
}

func (s *ItemStore) existingColumns(ctx context.Context) (map[string]bool, error) {
	var names []string
	if err := s.db.SelectContext(ctx, &names, s.dialect.columnsQuery()); err != nil {
		return nil, err
	}

	existing := make(map[string]bool, len(names))
	for _, name := range names {
		existing[strings.ToLower(name)] = true
	}
	return existing, nil
}
