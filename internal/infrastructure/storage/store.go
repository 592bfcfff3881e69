// Package storage is the relational gateway for facts, the canonical
// vocabulary, learning suggestions, and the crawl-run ledger. SQL is built
// with squirrel and kept portable across the postgres and sqlite drivers so
// deployments and tests share one schema.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"EpiScanner/internal/retry"
)

const schema = `
CREATE TABLE IF NOT EXISTS canonical_entities (
	id         TEXT PRIMARY KEY,
	name_en    TEXT NOT NULL,
	name_local TEXT NOT NULL DEFAULT '',
	category   TEXT NOT NULL DEFAULT '',
	icd10      TEXT NOT NULL DEFAULT '',
	icd11      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS local_mappings (
	scope        TEXT NOT NULL,
	local_name   TEXT NOT NULL,
	entity_id    TEXT NOT NULL,
	is_primary   BOOLEAN NOT NULL DEFAULT TRUE,
	is_alias     BOOLEAN NOT NULL DEFAULT FALSE,
	priority     INTEGER NOT NULL DEFAULT 0,
	usage_count  INTEGER NOT NULL DEFAULT 0,
	last_used_at TIMESTAMP,
	PRIMARY KEY (scope, local_name)
);

CREATE TABLE IF NOT EXISTS mapping_suggestions (
	scope            TEXT NOT NULL,
	local_name       TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 1,
	first_seen_at    TIMESTAMP NOT NULL,
	last_seen_at     TIMESTAMP NOT NULL,
	status           TEXT NOT NULL DEFAULT 'pending',
	PRIMARY KEY (scope, local_name)
);

CREATE TABLE IF NOT EXISTS facts (
	time         TIMESTAMP NOT NULL,
	entity_id    TEXT NOT NULL CHECK (entity_id <> ''),
	country      TEXT NOT NULL,
	region       TEXT NOT NULL DEFAULT '',
	cases        BIGINT,
	deaths       BIGINT,
	incidence    DOUBLE PRECISION,
	mortality    DOUBLE PRECISION,
	source_url   TEXT NOT NULL DEFAULT '',
	source_label TEXT NOT NULL DEFAULT '',
	raw_row_ref  TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (time, entity_id, country, region)
);

CREATE INDEX IF NOT EXISTS idx_facts_country_time ON facts (country, time);

CREATE TABLE IF NOT EXISTS crawl_runs (
	id            TEXT PRIMARY KEY,
	country       TEXT NOT NULL,
	source        TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMP NOT NULL,
	finished_at   TIMESTAMP,
	discovered    INTEGER NOT NULL DEFAULT 0,
	new_items     INTEGER NOT NULL DEFAULT 0,
	facts_written INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT ''
);
`

// Store wraps a sql.DB with the builders and policies every gateway shares.
type Store struct {
	db     *sql.DB
	sb     sq.StatementBuilderType
	retry  retry.Policy
	logger *slog.Logger
	now    func() time.Time
}

// Open connects to the configured database. Driver is "postgres" or
// "sqlite3"; sqlite is serialized to a single connection since it allows
// only one writer anyway.
func Open(driver, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	return NewStore(db, driver, logger), nil
}

// NewStore wraps an existing connection pool.
func NewStore(db *sql.DB, driver string, logger *slog.Logger) *Store {
	placeholder := sq.PlaceholderFormat(sq.Dollar)
	if driver == "sqlite3" {
		placeholder = sq.Question
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		db:     db,
		sb:     sq.StatementBuilder.PlaceholderFormat(placeholder),
		retry:  retry.Policy{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond},
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates the schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}
