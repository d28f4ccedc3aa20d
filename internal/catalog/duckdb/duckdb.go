// Package duckdb is the embedded catalog backend.
//
// The catalog lives in a single DuckDB file next to the data directory.
// Only one process may open the file for writing at a time; use the
// postgres backend when several machines write runs.
package duckdb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/runstore/internal/catalog/sqlstore"
	"github.com/xtxerr/runstore/internal/errors"
)

// Open opens (and creates, when missing) the DuckDB catalog at cfg.DSN.
// An empty DSN or ":memory:" opens a private in-memory database.
func Open(ctx context.Context, cfg sqlstore.Config) (*sqlstore.Store, error) {
	if cfg.DSN != "" && cfg.DSN != ":memory:" {
		path := cfg.DSN
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, errors.Unavailable(fmt.Errorf("create catalog directory: %w", err))
		}
	}
	return sqlstore.Open(ctx, Dialect{}, cfg)
}

// Dialect is the DuckDB SQL dialect.
type Dialect struct{}

func (Dialect) Name() string       { return "duckdb" }
func (Dialect) DriverName() string { return "duckdb" }

func (Dialect) Schema(t sqlstore.Tables) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, t.Schema),
		fmt.Sprintf(`CREATE SEQUENCE IF NOT EXISTS %s`, t.Sequence),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq      BIGINT DEFAULT nextval('%s'),
			id       VARCHAR PRIMARY KEY,
			number   VARCHAR UNIQUE,
			utc_time TIMESTAMP,
			device   VARCHAR,
			"filter" VARCHAR,
			notes    VARCHAR,
			"type"   VARCHAR,
			file     VARCHAR,
			doc      JSON NOT NULL
		)`, t.Documents, t.Sequence),
		// No key on name: DuckDB rejects UPDATE ... RETURNING on a keyed
		// row with a duplicate key error. SeedCounter keeps one row per name.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name  VARCHAR NOT NULL,
			value BIGINT NOT NULL
		)`, t.Counters),
	}
}

func (Dialect) NextNumber(t sqlstore.Tables) string {
	return fmt.Sprintf(`UPDATE %s SET value = greatest(value, (
			SELECT coalesce(max(TRY_CAST(number AS BIGINT)), 0) FROM %s
			WHERE regexp_full_match(number, '[0-9]{1,12}')
		)) + 1
		WHERE name = $1
		RETURNING value`, t.Counters, t.Documents)
}

func (Dialect) SeedCounter(t sqlstore.Tables) string {
	return fmt.Sprintf(`INSERT INTO %s (name, value)
		SELECT $1, 0 WHERE NOT EXISTS (SELECT 1 FROM %s WHERE name = $1)`, t.Counters, t.Counters)
}

func (Dialect) JSONParam(ph string) string { return "CAST(" + ph + " AS JSON)" }

func (Dialect) DocText() string { return "CAST(doc AS VARCHAR)" }

func path(field string) string { return `'$."` + field + `"'` }

func (Dialect) FieldText(field string) string {
	return "json_extract_string(doc, " + path(field) + ")"
}

func (Dialect) FieldIsString(field string) string {
	return "json_type(doc, " + path(field) + ") = 'VARCHAR'"
}

func (Dialect) FieldNumber(field string) string {
	return "CASE WHEN json_type(doc, " + path(field) + ") IN ('DOUBLE', 'BIGINT', 'UBIGINT') " +
		"THEN TRY_CAST(json_extract_string(doc, " + path(field) + ") AS DOUBLE) END"
}

func (Dialect) Regex(expr, ph string) string { return "regexp_matches(" + expr + ", " + ph + ")" }

// Classify maps DuckDB errors. DuckDB reports constraint and transaction
// failures only through the message text.
func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint"):
		return fmt.Errorf("%w: %v", errors.ErrAlreadyExists, err)
	case strings.Contains(msg, "conflict"):
		return fmt.Errorf("%w: %v", errors.ErrCounterConflict, err)
	}
	return errors.Unavailable(err)
}
