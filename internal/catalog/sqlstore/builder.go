package sqlstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
)

// columns maps document fields kept as table columns.
var columns = map[string]string{
	constants.DocID:      "id",
	constants.DocNumber:  "number",
	constants.DocUTCTime: "utc_time",
	constants.DocDevice:  "device",
	constants.DocFilter:  `"filter"`,
	constants.DocNotes:   "notes",
	constants.DocType:    `"type"`,
	constants.DocFile:    "file",
}

// builder translates conditions into a WHERE clause. Conditions it cannot
// express are kept in residual for in-process evaluation.
type builder struct {
	d        Dialect
	where    []string
	args     []any
	residual []catalog.Condition
}

func newBuilder(d Dialect) *builder {
	return &builder{d: d}
}

func (b *builder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

// pattern binds a case-insensitive regular expression.
func (b *builder) pattern(v any) string {
	s, _ := v.(string)
	return b.arg("(?i)" + s)
}

func (b *builder) whereClause() string {
	if len(b.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.where, " AND ")
}

func (b *builder) conditions(conds []catalog.Condition) {
	for _, c := range conds {
		var clause string
		if col, ok := columns[c.Field]; ok {
			clause = b.column(col, c)
		} else {
			clause = b.field(c)
		}
		if clause == "" {
			b.residual = append(b.residual, c)
			continue
		}
		b.where = append(b.where, clause)
	}
}

// column translates a condition on a table column.
func (b *builder) column(col string, c catalog.Condition) string {
	if c.Field == constants.DocUTCTime {
		t, ok := c.Value.(time.Time)
		switch {
		case c.Op == catalog.OpNotEmpty:
			return col + " IS NOT NULL"
		case c.Op == catalog.OpEq && c.Value == nil:
			return col + " IS NULL"
		case !ok:
			return ""
		case c.Op == catalog.OpEq:
			return col + " = " + b.arg(t.UTC())
		case c.Op == catalog.OpGte:
			return col + " >= " + b.arg(t.UTC())
		case c.Op == catalog.OpLte:
			return col + " <= " + b.arg(t.UTC())
		}
		return ""
	}

	switch c.Op {
	case catalog.OpEq:
		if c.Value == nil {
			return col + " IS NULL"
		}
		if s, ok := c.Value.(string); ok {
			return col + " = " + b.arg(s)
		}
	case catalog.OpRegex:
		return col + " IS NOT NULL AND " + b.d.Regex(col, b.pattern(c.Value))
	case catalog.OpNotEmpty:
		return col + " IS NOT NULL AND " + col + " <> ''"
	}
	return ""
}

// field translates a condition on a field inside the JSON body.
func (b *builder) field(c catalog.Condition) string {
	switch c.Op {
	case catalog.OpEq:
		if s, ok := c.Value.(string); ok {
			return b.d.FieldIsString(c.Field) + " AND " + b.d.FieldText(c.Field) + " = " + b.arg(s)
		}
	case catalog.OpRegex:
		return b.d.FieldIsString(c.Field) + " AND " + b.d.Regex(b.d.FieldText(c.Field), b.pattern(c.Value))
	case catalog.OpGte, catalog.OpLte:
		if _, ok := c.Value.(time.Time); ok {
			return ""
		}
		bound, ok := toFloat(c.Value)
		if !ok {
			return ""
		}
		op := " >= "
		if c.Op == catalog.OpLte {
			op = " <= "
		}
		return b.d.FieldNumber(c.Field) + op + b.arg(bound)
	}
	return ""
}

// order translates sort keys. It reports false when a key is not a column;
// the caller then sorts in process.
func (b *builder) order(keys []catalog.SortKey) (string, bool) {
	if len(keys) == 0 {
		return "seq", true
	}
	parts := make([]string, 0, len(keys)+1)
	for _, k := range keys {
		col, ok := columns[k.Field]
		if !ok {
			return "seq", false
		}
		if k.Desc {
			parts = append(parts, col+" DESC NULLS LAST")
		} else {
			parts = append(parts, col+" ASC NULLS FIRST")
		}
	}
	parts = append(parts, "seq")
	return strings.Join(parts, ", "), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
