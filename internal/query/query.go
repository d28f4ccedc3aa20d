// Package query answers questions about stored runs.
//
// The engine translates filters into catalog conditions and returns
// tabular results ordered by utc_time, then run number.
package query

import (
	"context"
	"fmt"
	"time"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/metrics"
)

var log = logging.Component("query")

// Engine runs queries against a catalog.
type Engine struct {
	catalog catalog.Catalog
	timeout time.Duration
	maxRows int
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds every query. Zero leaves queries unbounded.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithMaxRows caps the rows returned by SelectRuns. Zero means no cap.
func WithMaxRows(n int) Option {
	return func(e *Engine) {
		e.maxRows = n
	}
}

// New creates an Engine over c.
func New(c catalog.Catalog, opts ...Option) *Engine {
	e := &Engine{catalog: c}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return ctx, func() {}
}

// SelectRuns returns the documents matching f. No match yields an empty
// table, never nil.
func (e *Engine) SelectRuns(ctx context.Context, f Filters) (*Table, error) {
	defer metrics.ObserveSince(metrics.QueryDuration.WithLabelValues("select_runs"), time.Now())

	conds, err := f.Conditions()
	if err != nil {
		return nil, err
	}

	ctx, cancel := e.bound(ctx)
	defer cancel()

	docs, err := e.catalog.Find(ctx, catalog.Query{
		Conditions: conds,
		Sort: []catalog.SortKey{
			{Field: constants.DocUTCTime},
			{Field: constants.DocNumber},
		},
		Limit: e.maxRows,
	})
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}

	log.Debug("runs selected", "conditions", len(conds), "rows", len(docs))
	return NewTable(docs, constants.DocumentColumns), nil
}

// SelectRunsMap is SelectRuns with filters decoded from a map.
func (e *Engine) SelectRunsMap(ctx context.Context, m map[string]any) (*Table, error) {
	f, err := DecodeFilters(m)
	if err != nil {
		return nil, err
	}
	return e.SelectRuns(ctx, f)
}

// ListDevices counts runs per device. Documents without a device are not
// counted. Rows are sorted by count descending, then device name.
func (e *Engine) ListDevices(ctx context.Context) (*Table, error) {
	defer metrics.ObserveSince(metrics.QueryDuration.WithLabelValues("list_devices"), time.Now())

	ctx, cancel := e.bound(ctx)
	defer cancel()

	docs, err := e.catalog.Aggregate(ctx, catalog.Pipeline{
		Match: []catalog.Condition{catalog.NotEmpty(constants.DocDevice)},
		Group: &catalog.Group{Field: constants.DocDevice, CountAs: constants.CountColumn},
		Sort: []catalog.SortKey{
			{Field: constants.CountColumn, Desc: true},
			{Field: constants.DocDevice},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}

	t := &Table{
		Columns: []string{constants.DocDevice, constants.CountColumn},
		Rows:    make([][]any, 0, len(docs)),
	}
	for _, d := range docs {
		t.Rows = append(t.Rows, []any{d[constants.DocDevice], count(d[constants.CountColumn])})
	}
	return t, nil
}

// Last returns the document with the highest run number.
func (e *Engine) Last(ctx context.Context) (catalog.Document, bool, error) {
	ctx, cancel := e.bound(ctx)
	defer cancel()

	doc, ok, err := e.catalog.FindMax(ctx, constants.DocNumber)
	if err != nil {
		return nil, false, fmt.Errorf("last run: %w", err)
	}
	return doc, ok, nil
}

func count(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
