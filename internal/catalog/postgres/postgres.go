// Package postgres is the shared-server catalog backend.
//
// Several machines can write runs to one PostgreSQL catalog; the counter
// row serialises number allocation across all of them.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/xtxerr/runstore/internal/catalog/sqlstore"
	"github.com/xtxerr/runstore/internal/errors"
)

// SQLSTATE codes.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Open connects to the PostgreSQL catalog at cfg.DSN.
func Open(ctx context.Context, cfg sqlstore.Config) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, Dialect{}, cfg)
}

// Dialect is the PostgreSQL SQL dialect.
type Dialect struct{}

func (Dialect) Name() string       { return "postgres" }
func (Dialect) DriverName() string { return "pgx" }

func (Dialect) Schema(t sqlstore.Tables) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, t.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			seq      BIGSERIAL,
			id       TEXT PRIMARY KEY,
			number   TEXT UNIQUE,
			utc_time TIMESTAMPTZ,
			device   TEXT,
			"filter" TEXT,
			notes    TEXT,
			"type"   TEXT,
			file     TEXT,
			doc      JSONB NOT NULL
		)`, t.Documents),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (device)`, t.IndexNames[0], t.Documents),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (utc_time)`, t.IndexNames[1], t.Documents),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			name  TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`, t.Counters),
	}
}

func (Dialect) NextNumber(t sqlstore.Tables) string {
	return fmt.Sprintf(`UPDATE %s AS c SET value = GREATEST(c.value, (
			SELECT COALESCE(MAX(number::bigint), 0) FROM %s
			WHERE number ~ '^[0-9]{1,12}$'
		)) + 1
		WHERE c.name = $1
		RETURNING c.value`, t.Counters, t.Documents)
}

func (Dialect) SeedCounter(t sqlstore.Tables) string {
	return fmt.Sprintf(`INSERT INTO %s (name, value) VALUES ($1, 0) ON CONFLICT (name) DO NOTHING`, t.Counters)
}

func (Dialect) JSONParam(ph string) string { return ph + "::jsonb" }

func (Dialect) DocText() string { return "doc::text" }

func key(field string) string { return "'" + field + "'" }

func (Dialect) FieldText(field string) string { return "doc->>" + key(field) }

func (Dialect) FieldIsString(field string) string {
	return "jsonb_typeof(doc->" + key(field) + ") = 'string'"
}

func (Dialect) FieldNumber(field string) string {
	return "CASE WHEN jsonb_typeof(doc->" + key(field) + ") = 'number' " +
		"THEN (doc->>" + key(field) + ")::float8 END"
}

func (Dialect) Regex(expr, ph string) string { return expr + " ~ " + ph }

// Classify maps PostgreSQL errors by SQLSTATE.
func (Dialect) Classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%w: %v", errors.ErrAlreadyExists, err)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %v", errors.ErrCounterConflict, err)
		}
	}
	return errors.Unavailable(err)
}
