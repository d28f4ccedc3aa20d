// Package driver opens the configured catalog backend.
package driver

import (
	"context"
	"fmt"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/catalog/duckdb"
	"github.com/xtxerr/runstore/internal/catalog/memory"
	"github.com/xtxerr/runstore/internal/catalog/postgres"
	"github.com/xtxerr/runstore/internal/catalog/sqlstore"
	"github.com/xtxerr/runstore/internal/config"
	"github.com/xtxerr/runstore/internal/errors"
)

// Driver names.
const (
	DuckDB   = "duckdb"
	Postgres = "postgres"
	Memory   = "memory"
	None     = "none"
)

// Opener returns the connect function of the configured backend.
func Opener(cfg config.CatalogConfig) (catalog.Opener, error) {
	sc := sqlstore.Config{
		DSN:            cfg.ConnString(),
		Schema:         cfg.Database,
		Collection:     cfg.Collection,
		MaxOpenConns:   cfg.MaxOpenConns,
		CounterRetries: cfg.CounterRetries,
	}

	switch cfg.Driver {
	case DuckDB:
		return func(ctx context.Context) (catalog.Catalog, error) {
			return duckdb.Open(ctx, sc)
		}, nil
	case Postgres:
		return func(ctx context.Context) (catalog.Catalog, error) {
			return postgres.Open(ctx, sc)
		}, nil
	case Memory:
		store := memory.New()
		return func(context.Context) (catalog.Catalog, error) {
			return store, nil
		}, nil
	}
	return nil, fmt.Errorf("catalog driver %q: %w", cfg.Driver, errors.ErrInvalidConfig)
}

// Open returns the catalog described by cfg. The backend connects on
// first use; an unreachable catalog surfaces as errors.ErrCatalogUnavailable
// from the first call, not from Open. A disabled catalog refuses every call
// with errors.ErrCatalogDisabled.
func Open(cfg config.CatalogConfig) (catalog.Catalog, error) {
	if !cfg.Enabled() {
		return catalog.Disabled{}, nil
	}
	open, err := Opener(cfg)
	if err != nil {
		return nil, err
	}
	return catalog.NewLazy(open, catalog.LazyOptions{
		ConnectTimeout: cfg.ConnectTimeout,
		OpTimeout:      cfg.OpTimeout,
		RetryAfter:     cfg.RetryAfter,
	}), nil
}
