package query

import (
	"sort"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
)

// Table is a tabular query result. Rows hold one value per column; a nil
// value means the document has no such field.
type Table struct {
	Columns []string
	Rows    [][]any
}

// NewTable builds a table from documents. The leading columns come first
// when any document has them, followed by every other key in sorted order.
// Document ids are not included.
func NewTable(docs []catalog.Document, leading []string) *Table {
	seen := make(map[string]bool)
	for _, d := range docs {
		for k := range d {
			seen[k] = true
		}
	}
	delete(seen, constants.DocID)

	columns := make([]string, 0, len(seen))
	for _, c := range leading {
		if seen[c] {
			columns = append(columns, c)
			delete(seen, c)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	columns = append(columns, rest...)

	t := &Table{Columns: columns, Rows: make([][]any, 0, len(docs))}
	for _, d := range docs {
		row := make([]any, len(columns))
		for i, c := range columns {
			row[i] = d[c]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of a column or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of a column, or nil if there is no such column.
func (t *Table) Column(name string) []any {
	i := t.Index(name)
	if i < 0 {
		return nil
	}
	out := make([]any, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[i]
	}
	return out
}

// Records returns the rows as maps keyed by column. Missing fields are
// left out.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		m := make(map[string]any, len(t.Columns))
		for i, c := range t.Columns {
			if row[i] != nil {
				m[c] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}
