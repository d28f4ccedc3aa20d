package query

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/catalog/catalogtest"
	"github.com/xtxerr/runstore/internal/catalog/memory"
	"github.com/xtxerr/runstore/internal/errors"
)

func seed(t *testing.T, docs ...catalog.Document) *Engine {
	t.Helper()
	store := memory.New()
	for _, d := range docs {
		_, err := store.Insert(context.Background(), d)
		require.NoError(t, err)
	}
	return New(store, WithTimeout(time.Second))
}

func numbers(t *testing.T, table *Table) []any {
	t.Helper()
	return table.Column("number")
}

func TestSelectRunsNoFilters(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000003", "Fridge1", 30, nil),
		catalogtest.Doc("00000001", "Fridge1", 10, nil),
		catalogtest.Doc("00000002", "Fridge2", 20, nil),
	)

	table, err := e.SelectRuns(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Equal(t, 3, table.Len())
	assert.Equal(t, []any{"00000001", "00000002", "00000003"}, numbers(t, table))
	assert.Equal(t, []string{"number", "utc_time", "device", "type", "filter", "notes", "file"}, table.Columns)
}

func TestSelectRunsOrderTiesByNumber(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000002", "A", 5, nil),
		catalogtest.Doc("00000001", "A", 5, nil),
		catalogtest.Doc("00000003", "A", 0, nil),
	)

	table, err := e.SelectRuns(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Equal(t, []any{"00000003", "00000001", "00000002"}, numbers(t, table))
}

func TestSelectRunsDeviceSubset(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000001", "Fridge1", 1, nil),
		catalogtest.Doc("00000002", "Fridge1b", 2, nil),
		catalogtest.Doc("00000003", "Fridge2", 3, nil),
	)

	t.Run("exact", func(t *testing.T) {
		table, err := e.SelectRuns(context.Background(), Filters{Device: "Fridge1"})
		require.NoError(t, err)
		assert.Equal(t, []any{"00000001"}, numbers(t, table))
	})

	t.Run("pattern", func(t *testing.T) {
		table, err := e.SelectRuns(context.Background(), Filters{Device: "Fridge1", MatchMode: "pattern"})
		require.NoError(t, err)
		assert.Equal(t, []any{"00000001", "00000002"}, numbers(t, table))
	})

	t.Run("pattern is case-insensitive", func(t *testing.T) {
		table, err := e.SelectRuns(context.Background(), Filters{Device: "fridge2", MatchMode: "pattern"})
		require.NoError(t, err)
		assert.Equal(t, []any{"00000003"}, numbers(t, table))
	})
}

func TestSelectRunsEmptyResult(t *testing.T) {
	e := seed(t, catalogtest.Doc("00000001", "Fridge1", 1, nil))

	table, err := e.SelectRuns(context.Background(), Filters{Device: "nope"})
	require.NoError(t, err)
	require.NotNil(t, table)
	assert.Equal(t, 0, table.Len())
	assert.NotNil(t, table.Rows)

	table, err = seed(t).SelectRuns(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Equal(t, 0, table.Len())
	assert.Empty(t, table.Columns)
}

func TestSelectRunsTimeRange(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000001", "A", 0, nil),  // 12:00
		catalogtest.Doc("00000002", "A", 30, nil), // 12:30
		catalogtest.Doc("00000003", "A", 90, nil), // 13:30
	)

	tests := []struct {
		name  string
		start any
		end   any
		want  []any
	}{
		{"inclusive strings with Z", "2026-03-01T12:00:00Z", "2026-03-01T12:30:00Z", []any{"00000001", "00000002"}},
		{"naive string is UTC", "2026-03-01T12:30:00", nil, []any{"00000002", "00000003"}},
		{"offset string", nil, "2026-03-01T13:30:00+01:00", []any{"00000001", "00000002"}},
		{"time value", time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), nil, []any{"00000003"}},
		{"date only", "2026-03-01", "2026-03-02", []any{"00000001", "00000002", "00000003"}},
		{"empty range", "2026-03-02", nil, []any{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := e.SelectRuns(context.Background(), Filters{Start: tt.start, End: tt.end})
			require.NoError(t, err)
			got := numbers(t, table)
			if len(tt.want) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectRunsSubsecondBound(t *testing.T) {
	captured := time.Date(2026, 3, 1, 12, 0, 0, 250000000, time.UTC)
	early := catalogtest.Doc("00000001", "A", 0, nil)
	run := catalogtest.Doc("00000002", "A", 0, map[string]any{
		"utc_time": captured.Format(time.RFC3339Nano),
	})
	e := seed(t, early, run)

	table, err := e.SelectRuns(context.Background(), Filters{Start: captured})
	require.NoError(t, err)
	assert.Equal(t, []any{"00000002"}, numbers(t, table))

	table, err = e.SelectRuns(context.Background(), Filters{End: "2026-03-01T12:00:00.25Z"})
	require.NoError(t, err)
	assert.Equal(t, []any{"00000001", "00000002"}, numbers(t, table))
}

func TestSelectRunsExtraFields(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000001", "A", 1, map[string]any{"power": -30.0, "operator": "Ana"}),
		catalogtest.Doc("00000002", "A", 2, map[string]any{"power": -20.0, "operator": "Ben"}),
		catalogtest.Doc("00000003", "A", 3, map[string]any{"power": -30, "operator": "anabel"}),
	)

	t.Run("numeric equality", func(t *testing.T) {
		table, err := e.SelectRuns(context.Background(), Filters{Extra: map[string]any{"power": -30}})
		require.NoError(t, err)
		assert.Equal(t, []any{"00000001", "00000003"}, numbers(t, table))
	})

	t.Run("string follows match mode", func(t *testing.T) {
		table, err := e.SelectRuns(context.Background(), Filters{Extra: map[string]any{"operator": "Ana"}})
		require.NoError(t, err)
		assert.Equal(t, []any{"00000001"}, numbers(t, table))

		table, err = e.SelectRuns(context.Background(), Filters{
			Extra:     map[string]any{"operator": "ana"},
			MatchMode: "pattern",
		})
		require.NoError(t, err)
		assert.Equal(t, []any{"00000001", "00000003"}, numbers(t, table))
	})

	t.Run("extra columns sorted after fixed ones", func(t *testing.T) {
		table, err := e.SelectRuns(context.Background(), Filters{})
		require.NoError(t, err)
		assert.Equal(t, []string{"number", "utc_time", "device", "type", "filter", "notes", "file", "operator", "power"}, table.Columns)
	})
}

func TestSelectRunsMap(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000001", "Fridge1", 1, map[string]any{"power": -30.0}),
		catalogtest.Doc("00000002", "Fridge1b", 2, map[string]any{"power": -20.0}),
	)

	table, err := e.SelectRunsMap(context.Background(), map[string]any{
		"device":     "fridge1",
		"match_mode": "pattern",
		"power":      -20.0,
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"00000002"}, numbers(t, table))

	_, err = e.SelectRunsMap(context.Background(), map[string]any{"device": 42})
	assert.ErrorIs(t, err, errors.ErrInvalidFilter)
}

func TestSelectRunsValidatesBeforeCatalog(t *testing.T) {
	// A disabled catalog fails every call, so any error other than
	// ErrInvalidFilter means the catalog was asked.
	e := New(catalog.Disabled{})

	tests := []struct {
		name    string
		filters Filters
	}{
		{"bad pattern", Filters{Device: "([", MatchMode: "pattern"}},
		{"bad mode", Filters{MatchMode: "fuzzy"}},
		{"bad start", Filters{Start: "yesterday"}},
		{"bad end type", Filters{End: 42}},
		{"bad extra name", Filters{Extra: map[string]any{"a'b": 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.SelectRuns(context.Background(), tt.filters)
			assert.ErrorIs(t, err, errors.ErrInvalidFilter)
			assert.NotErrorIs(t, err, errors.ErrCatalogDisabled)
		})
	}

	_, err := e.SelectRuns(context.Background(), Filters{})
	assert.ErrorIs(t, err, errors.ErrCatalogDisabled)
}

func TestListDevices(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000001", "A", 1, nil),
		catalogtest.Doc("00000002", "B", 2, nil),
		catalogtest.Doc("00000003", "A", 3, nil),
		catalogtest.Doc("00000004", "A", 4, nil),
		catalogtest.Doc("00000005", "", 5, nil),
		catalogtest.Doc("00000006", "", 6, map[string]any{"device": nil}),
	)

	table, err := e.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"device", "count"}, table.Columns)
	assert.Equal(t, [][]any{{"A", int64(3)}, {"B", int64(1)}}, table.Rows)
}

func TestListDevicesTiesByName(t *testing.T) {
	e := seed(t,
		catalogtest.Doc("00000001", "Zeta", 1, nil),
		catalogtest.Doc("00000002", "Alpha", 2, nil),
	)

	table, err := e.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"Alpha", "Zeta"}, table.Column("device"))
}

func TestLast(t *testing.T) {
	e := seed(t)
	_, ok, err := e.Last(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	e = seed(t,
		catalogtest.Doc("00000002", "A", 1, nil),
		catalogtest.Doc("00000007", "A", 2, nil),
		catalogtest.Doc("00000005", "A", 3, nil),
	)
	doc, ok, err := e.Last(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	number, _ := doc.String("number")
	assert.Equal(t, "00000007", number)
}

func TestMaxRows(t *testing.T) {
	store := memory.New()
	for i, n := range []string{"00000001", "00000002", "00000003"} {
		_, err := store.Insert(context.Background(), catalogtest.Doc(n, "A", i, nil))
		require.NoError(t, err)
	}

	table, err := New(store, WithMaxRows(2)).SelectRuns(context.Background(), Filters{})
	require.NoError(t, err)
	assert.Equal(t, []any{"00000001", "00000002"}, table.Column("number"))
}

func TestParseTime(t *testing.T) {
	utc := func(h, m, s int) time.Time { return time.Date(2026, 3, 1, h, m, s, 0, time.UTC) }

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2026-03-01T12:30:00Z", utc(12, 30, 0)},
		{"2026-03-01T12:30:00+00:00", utc(12, 30, 0)},
		{"2026-03-01T13:30:00+01:00", utc(12, 30, 0)},
		{"2026-03-01T12:30:00", utc(12, 30, 0)},
		{"2026-03-01 12:30:00", utc(12, 30, 0)},
		{"2026-03-01T12:30", utc(12, 30, 0)},
		{"2026-03-01", utc(0, 0, 0)},
		{" 2026-03-01T12:30:00.5Z ", utc(12, 30, 0).Add(500 * time.Millisecond)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v, want %v", got, tt.want)
		})
	}

	_, err := ParseTime("01/03/2026")
	assert.Error(t, err)
}

func TestTableRecords(t *testing.T) {
	table := NewTable([]catalog.Document{
		{"_id": "x", "number": "00000001", "power": -30.0, "notes": nil},
	}, []string{"number", "notes"})

	assert.Equal(t, []string{"number", "notes", "power"}, table.Columns)
	assert.Equal(t, []map[string]any{{"number": "00000001", "power": -30.0}}, table.Records())
	assert.Nil(t, table.Column("missing"))
	assert.Equal(t, -1, table.Index("_id"))
}
