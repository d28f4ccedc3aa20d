// Package catalog defines the document catalog that indexes persisted runs.
//
// A catalog stores one schema-less Document per run and answers simple
// conjunctive queries, max lookups and group/count pipelines. Backends live
// in subpackages (memory, duckdb, postgres); driver.Open selects one from
// configuration.
package catalog

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/validation"
)

// =============================================================================
// Catalog
// =============================================================================

// Catalog is a document catalog.
//
// Connectivity and server-side failures are reported wrapped in
// errors.ErrCatalogUnavailable so callers can degrade instead of abort.
type Catalog interface {
	// Insert stores doc and returns its id. Documents carrying an "_id"
	// keep it; otherwise one is generated. A duplicate id or run number
	// yields an already-exists error.
	Insert(ctx context.Context, doc Document) (string, error)

	// FindMax returns the document with the greatest value of field.
	// The boolean is false when no document has the field.
	FindMax(ctx context.Context, field string) (Document, bool, error)

	// Find returns the documents matching q.
	Find(ctx context.Context, q Query) ([]Document, error)

	// Aggregate runs a match/group/sort/limit pipeline.
	Aggregate(ctx context.Context, p Pipeline) ([]Document, error)

	// NextNumber atomically advances the run number counter and returns
	// the new value. The counter never falls behind the greatest numeric
	// run number already stored.
	NextNumber(ctx context.Context) (int64, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// =============================================================================
// Document
// =============================================================================

// Document is one catalog entry.
type Document map[string]any

// ID returns the document id, or "" when it has none.
func (d Document) ID() string {
	id, _ := d[constants.DocID].(string)
	return id
}

// String returns the string value of key.
func (d Document) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// Clone returns a shallow copy of d.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// =============================================================================
// Queries
// =============================================================================

// Op is a condition operator.
type Op int

const (
	// OpEq matches values equal to the condition value. A nil value
	// matches documents where the field is absent or null.
	OpEq Op = iota

	// OpRegex matches string values against a case-insensitive,
	// unanchored regular expression.
	OpRegex

	// OpGte and OpLte are inclusive bounds. On utc_time the value must be
	// a time.Time; other fields compare numerically.
	OpGte
	OpLte

	// OpNotEmpty matches present, non-null, non-empty values.
	OpNotEmpty
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "eq"
	case OpRegex:
		return "regex"
	case OpGte:
		return "gte"
	case OpLte:
		return "lte"
	case OpNotEmpty:
		return "not_empty"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Condition is one predicate on a document field.
type Condition struct {
	Field string
	Op    Op
	Value any
}

// Eq matches field == value.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// Regex matches field against a case-insensitive pattern.
func Regex(field, pattern string) Condition {
	return Condition{Field: field, Op: OpRegex, Value: pattern}
}

// Gte matches field >= value.
func Gte(field string, value any) Condition {
	return Condition{Field: field, Op: OpGte, Value: value}
}

// Lte matches field <= value.
func Lte(field string, value any) Condition {
	return Condition{Field: field, Op: OpLte, Value: value}
}

// NotEmpty matches documents where field holds a non-empty value.
func NotEmpty(field string) Condition {
	return Condition{Field: field, Op: OpNotEmpty}
}

// SortKey orders results by one field.
type SortKey struct {
	Field string
	Desc  bool
}

// Query is a conjunction of conditions with optional ordering and limit.
// Without Sort, results come back in insertion order.
type Query struct {
	Conditions []Condition
	Sort       []SortKey
	Limit      int
}

// Group counts documents per distinct value of Field. The result documents
// hold the value under Field and the count under CountAs.
type Group struct {
	Field   string
	CountAs string
}

// Pipeline is match, then optional group, then sort and limit.
type Pipeline struct {
	Match []Condition
	Group *Group
	Sort  []SortKey
	Limit int
}

// Validate checks field names, patterns and range values.
func (q Query) Validate() error {
	for _, c := range q.Conditions {
		if err := c.Validate(); err != nil {
			return err
		}
	}
	for _, s := range q.Sort {
		if err := validation.ValidateFieldName(s.Field); err != nil {
			return errors.NewInvalidFilter(s.Field, err.Error())
		}
	}
	if q.Limit < 0 {
		return errors.NewInvalidFilter("limit", "must not be negative")
	}
	return nil
}

// Validate checks the condition.
func (c Condition) Validate() error {
	if err := validation.ValidateFieldName(c.Field); err != nil {
		return errors.NewInvalidFilter(c.Field, err.Error())
	}

	switch c.Op {
	case OpEq, OpNotEmpty:
	case OpRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return errors.NewInvalidFilter(c.Field, "regex value must be a string")
		}
		if _, err := validation.CompilePattern(pattern); err != nil {
			return errors.NewInvalidFilter(c.Field, err.Error())
		}
	case OpGte, OpLte:
		if _, ok := c.Value.(time.Time); ok {
			return nil
		}
		if c.Field == constants.DocUTCTime {
			return errors.NewInvalidFilter(c.Field, "range bound must be a time")
		}
		if _, ok := number(c.Value); !ok {
			return errors.NewInvalidFilter(c.Field, "range bound must be numeric or a time")
		}
	default:
		return errors.NewInvalidFilter(c.Field, "unknown operator "+c.Op.String())
	}
	return nil
}

// Validate checks the pipeline.
func (p Pipeline) Validate() error {
	if err := (Query{Conditions: p.Match, Sort: p.Sort, Limit: p.Limit}).Validate(); err != nil {
		return err
	}
	if p.Group != nil {
		if err := validation.ValidateFieldName(p.Group.Field); err != nil {
			return fmt.Errorf("group field: %w: %v", errors.ErrInvalidPipeline, err)
		}
		if p.Group.CountAs == "" || p.Group.CountAs == p.Group.Field {
			return fmt.Errorf("group count name %q: %w", p.Group.CountAs, errors.ErrInvalidPipeline)
		}
	}
	return nil
}

// compile returns the compiled regex of an OpRegex condition.
func (c Condition) compile() (*regexp.Regexp, error) {
	pattern, _ := c.Value.(string)
	re, err := validation.CompilePattern(pattern)
	if err != nil {
		return nil, errors.NewInvalidFilter(c.Field, err.Error())
	}
	return re, nil
}
