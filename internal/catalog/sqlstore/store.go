// Package sqlstore implements the catalog on a SQL database.
//
// Each document is one row: the id, the always-present fields as columns,
// and the whole body as a JSON column. Conditions on columns and on string
// JSON fields run in SQL; anything else is evaluated in process on the
// fetched rows. A counter table holds the run number sequence.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/validation"
)

var log = logging.Component("catalog.sql")

// =============================================================================
// Store Configuration
// =============================================================================

// Config holds store configuration options.
type Config struct {
	// DSN is the database connection string.
	DSN string

	// Schema and Collection name the document table.
	Schema     string
	Collection string

	// MaxOpenConns is the maximum number of open connections.
	MaxOpenConns int

	// ConnMaxLifetime is the maximum lifetime of a connection.
	ConnMaxLifetime time.Duration

	// CounterRetries bounds NextNumber attempts on write conflicts.
	CounterRetries int
}

// =============================================================================
// Store
// =============================================================================

// Store is a catalog on a SQL database.
//
// Store is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
	tables  Tables
	config  Config

	mu     sync.RWMutex
	closed bool
}

// Open connects to the database, verifies the connection and creates the
// schema when missing. Failures to reach the database are reported as
// catalog unavailable.
func Open(ctx context.Context, d Dialect, cfg Config) (*Store, error) {
	if err := validation.ValidateIdentifier(cfg.Schema); err != nil {
		return nil, errors.NewValidation("catalog.database", err.Error())
	}
	if err := validation.ValidateIdentifier(cfg.Collection); err != nil {
		return nil, errors.NewValidation("catalog.collection", err.Error())
	}

	db, err := sql.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, errors.Unavailable(fmt.Errorf("open database: %w", err))
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Unavailable(fmt.Errorf("ping database: %w", err))
	}

	s := &Store{
		db:      db,
		dialect: d,
		tables:  NewTables(cfg.Schema, cfg.Collection),
		config:  cfg,
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug("catalog opened", "dialect", d.Name(), "table", s.tables.Documents)
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.Schema(s.tables) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Unavailable(fmt.Errorf("create schema: %w", err))
		}
	}
	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.ErrCatalogClosed
	}
	return nil
}

// Ping implements catalog.Catalog.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Unavailable(err)
	}
	return nil
}

// =============================================================================
// Documents
// =============================================================================

// Insert implements catalog.Catalog.
func (s *Store) Insert(ctx context.Context, doc catalog.Document) (string, error) {
	if err := s.check(); err != nil {
		return "", err
	}

	body, err := catalog.Marshal(doc)
	if err != nil {
		return "", err
	}
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, number, utc_time, device, "filter", notes, "type", file, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, %s)`, s.tables.Documents, s.dialect.JSONParam("$9"))

	_, err = s.db.ExecContext(ctx, query,
		id,
		textColumn(doc[constants.DocNumber]),
		timeColumn(doc[constants.DocUTCTime]),
		textColumn(doc[constants.DocDevice]),
		textColumn(doc[constants.DocFilter]),
		textColumn(doc[constants.DocNotes]),
		textColumn(doc[constants.DocType]),
		textColumn(doc[constants.DocFile]),
		string(body),
	)
	if err != nil {
		err = s.dialect.Classify(err)
		if errors.IsAlreadyExists(err) {
			return "", fmt.Errorf("document %s number %v: %w", id, doc[constants.DocNumber], err)
		}
		return "", err
	}
	return id, nil
}

// FindMax implements catalog.Catalog.
func (s *Store) FindMax(ctx context.Context, field string) (catalog.Document, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	if err := validation.ValidateFieldName(field); err != nil {
		return nil, false, errors.NewInvalidFilter(field, err.Error())
	}

	col, ok := columns[field]
	if !ok || field == constants.DocUTCTime {
		docs, err := s.fetch(ctx, nil, nil, "", 0)
		if err != nil {
			return nil, false, err
		}
		best, found := catalog.MaxBy(docs, field)
		return best, found, nil
	}

	docs, err := s.fetch(ctx, []string{col + " IS NOT NULL"}, nil, col+" DESC, seq", 1)
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	return docs[0], true, nil
}

// Find implements catalog.Catalog.
func (s *Store) Find(ctx context.Context, q catalog.Query) ([]catalog.Document, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}

	b := newBuilder(s.dialect)
	b.conditions(q.Conditions)
	order, sorted := b.order(q.Sort)

	limit := 0
	if len(b.residual) == 0 && sorted {
		limit = q.Limit
	}

	docs, err := s.fetch(ctx, b.where, b.args, order, limit)
	if err != nil {
		return nil, err
	}
	if len(b.residual) == 0 && sorted {
		return docs, nil
	}
	return catalog.Apply(docs, catalog.Query{Conditions: b.residual, Sort: q.Sort, Limit: q.Limit})
}

// Aggregate implements catalog.Catalog.
func (s *Store) Aggregate(ctx context.Context, p catalog.Pipeline) ([]catalog.Document, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	b := newBuilder(s.dialect)
	b.conditions(p.Match)

	var col string
	grouped := false
	if p.Group != nil && p.Group.Field != constants.DocUTCTime {
		col, grouped = columns[p.Group.Field]
	}

	var out []catalog.Document
	if grouped && len(b.residual) == 0 {
		docs, err := s.groupCount(ctx, b, col, *p.Group)
		if err != nil {
			return nil, err
		}
		out = docs
	} else {
		docs, err := s.fetch(ctx, b.where, b.args, "seq", 0)
		if err != nil {
			return nil, err
		}
		docs, err = catalog.Apply(docs, catalog.Query{Conditions: b.residual})
		if err != nil {
			return nil, err
		}
		out = docs
		if p.Group != nil {
			out, err = catalog.Evaluate(docs, catalog.Pipeline{Group: p.Group})
			if err != nil {
				return nil, err
			}
		}
	}

	catalog.SortDocuments(out, p.Sort)
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

func (s *Store) groupCount(ctx context.Context, b *builder, col string, g catalog.Group) ([]catalog.Document, error) {
	query := fmt.Sprintf("SELECT %s, COUNT(*) FROM %s%s GROUP BY %s ORDER BY MIN(seq)",
		col, s.tables.Documents, b.whereClause(), col)

	rows, err := s.db.QueryContext(ctx, query, b.args...)
	if err != nil {
		return nil, s.dialect.Classify(err)
	}
	defer rows.Close()

	var out []catalog.Document
	for rows.Next() {
		var key sql.NullString
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return nil, s.dialect.Classify(err)
		}
		var value any
		if key.Valid {
			value = key.String
		}
		out = append(out, catalog.Document{g.Field: value, g.CountAs: count})
	}
	if err := rows.Err(); err != nil {
		return nil, s.dialect.Classify(err)
	}
	return out, nil
}

// fetch selects and decodes documents.
func (s *Store) fetch(ctx context.Context, where []string, args []any, order string, limit int) ([]catalog.Document, error) {
	b := &builder{where: where}
	query := fmt.Sprintf("SELECT id, %s FROM %s%s", s.dialect.DocText(), s.tables.Documents, b.whereClause())
	if order == "" {
		order = "seq"
	}
	query += " ORDER BY " + order
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.dialect.Classify(err)
	}
	defer rows.Close()

	docs := []catalog.Document{}
	for rows.Next() {
		var id, body string
		if err := rows.Scan(&id, &body); err != nil {
			return nil, s.dialect.Classify(err)
		}
		doc, err := catalog.Unmarshal([]byte(body))
		if err != nil {
			log.Warn("skipping undecodable document", "id", id, "error", err)
			continue
		}
		doc[constants.DocID] = id
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, s.dialect.Classify(err)
	}
	return docs, nil
}

// =============================================================================
// Run Number Counter
// =============================================================================

// NextNumber implements catalog.Catalog.
//
// The counter advances in one UPDATE ... RETURNING statement, so
// concurrent writers, in this process or others, never receive the same
// number. Write conflicts are retried.
func (s *Store) NextNumber(ctx context.Context) (int64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}

	attempts := s.config.CounterRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, errors.Unavailable(ctx.Err())
			case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
			}
		}

		n, err := s.advance(ctx)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, errors.ErrCounterConflict) {
			return 0, err
		}
		lastErr = err
		log.Debug("counter conflict, retrying", "attempt", attempt+1, "error", err)
	}
	return 0, errors.Unavailable(lastErr)
}

func (s *Store) advance(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, s.dialect.NextNumber(s.tables), constants.CounterName).Scan(&n)
	if err == nil {
		return n, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, s.dialect.Classify(err)
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.SeedCounter(s.tables), constants.CounterName); err != nil {
		return 0, s.dialect.Classify(err)
	}
	err = s.db.QueryRowContext(ctx, s.dialect.NextNumber(s.tables), constants.CounterName).Scan(&n)
	if err != nil {
		return 0, s.dialect.Classify(err)
	}
	return n, nil
}

// =============================================================================
// Column values
// =============================================================================

func textColumn(v any) any {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	return s
}

func timeColumn(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		return parsed.UTC()
	}
	return nil
}
