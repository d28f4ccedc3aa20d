package catalog

import (
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// In-process evaluation
// =============================================================================

// Matcher evaluates conditions against documents in process. The memory
// backend uses it for everything; SQL backends use it for conditions they
// cannot push down.
type Matcher struct {
	conds []Condition
	res   []*regexp.Regexp
}

// NewMatcher compiles conds.
func NewMatcher(conds []Condition) (*Matcher, error) {
	m := &Matcher{conds: conds, res: make([]*regexp.Regexp, len(conds))}
	for i, c := range conds {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if c.Op == OpRegex {
			re, err := c.compile()
			if err != nil {
				return nil, err
			}
			m.res[i] = re
		}
	}
	return m, nil
}

// Match reports whether doc satisfies every condition.
func (m *Matcher) Match(doc Document) bool {
	for i, c := range m.conds {
		if !matchOne(c, m.res[i], doc) {
			return false
		}
	}
	return true
}

// Filter returns the documents of docs that match.
func (m *Matcher) Filter(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if m.Match(d) {
			out = append(out, d)
		}
	}
	return out
}

func matchOne(c Condition, re *regexp.Regexp, doc Document) bool {
	v, present := doc[c.Field]

	switch c.Op {
	case OpEq:
		if c.Value == nil {
			return !present || v == nil
		}
		return present && Equal(v, c.Value)

	case OpRegex:
		s, ok := v.(string)
		return ok && re.MatchString(s)

	case OpNotEmpty:
		if !present || v == nil {
			return false
		}
		if s, ok := v.(string); ok {
			return s != ""
		}
		return true

	case OpGte, OpLte:
		if !present || v == nil {
			return false
		}
		cmp, ok := compareBound(v, c.Value)
		if !ok {
			return false
		}
		if c.Op == OpGte {
			return cmp >= 0
		}
		return cmp <= 0
	}
	return false
}

// compareBound compares a document value with a range bound.
func compareBound(v, bound any) (int, bool) {
	if t, ok := bound.(time.Time); ok {
		dt, ok := asTime(v)
		if !ok {
			return 0, false
		}
		return dt.Compare(t), true
	}
	a, ok := number(v)
	if !ok {
		return 0, false
	}
	b, ok := number(bound)
	if !ok {
		return 0, false
	}
	return compareFloat(a, b), true
}

// Equal compares a document value with a condition value. Numbers compare
// by value regardless of their Go type; times compare as instants and
// match RFC 3339 strings.
func Equal(a, b any) bool {
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	if t, ok := b.(time.Time); ok {
		dt, ok := asTime(a)
		return ok && dt.Equal(t)
	}
	if s, ok := a.(string); ok {
		t, ok := b.(string)
		return ok && s == t
	}
	return reflect.DeepEqual(a, b)
}

// number returns v as float64 when it is a Go number. Strings are never
// numbers here.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	}
	return time.Time{}, false
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// =============================================================================
// Ordering
// =============================================================================

// rank orders values of different kinds: missing/null, numbers, strings,
// booleans, everything else.
func rank(v any) int {
	if v == nil {
		return 0
	}
	if _, ok := number(v); ok {
		return 1
	}
	switch v.(type) {
	case string:
		return 2
	case time.Time:
		return 2
	case bool:
		return 3
	}
	return 4
}

// Compare orders two document values. Values of different kinds order by
// kind; within a kind numbers, strings and booleans compare naturally.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch ra {
	case 0:
		return 0
	case 1:
		x, _ := number(a)
		y, _ := number(b)
		if math.IsNaN(x) || math.IsNaN(y) {
			return 0
		}
		return compareFloat(x, y)
	case 2:
		// RFC 3339 strings with fractional seconds do not sort lexically.
		if x, ok := asTime(a); ok {
			if y, ok := asTime(b); ok {
				return x.Compare(y)
			}
		}
		return strings.Compare(sortString(a), sortString(b))
	case 3:
		x, y := a.(bool), b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func sortString(v any) string {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v.(string)
}

// SortDocuments orders docs in place by keys. The sort is stable so equal
// documents keep their previous order.
func SortDocuments(docs []Document, keys []SortKey) {
	if len(keys) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, k := range keys {
			c := Compare(docs[i][k.Field], docs[j][k.Field])
			if c == 0 {
				continue
			}
			if k.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// Apply evaluates a query over docs in process.
func Apply(docs []Document, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	m, err := NewMatcher(q.Conditions)
	if err != nil {
		return nil, err
	}
	out := m.Filter(docs)
	SortDocuments(out, q.Sort)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Evaluate runs a pipeline over docs in process.
func Evaluate(docs []Document, p Pipeline) ([]Document, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m, err := NewMatcher(p.Match)
	if err != nil {
		return nil, err
	}
	out := m.Filter(docs)

	if p.Group != nil {
		out = group(out, *p.Group)
	}

	SortDocuments(out, p.Sort)
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// group counts documents per value of g.Field in first-seen order.
// Documents without the field form the null group.
func group(docs []Document, g Group) []Document {
	type bucket struct {
		value any
		count int64
	}
	var buckets []*bucket
	index := make(map[string]*bucket)

	for _, d := range docs {
		v := d[g.Field]
		key := groupKey(v)
		b, ok := index[key]
		if !ok {
			b = &bucket{value: v}
			index[key] = b
			buckets = append(buckets, b)
		}
		b.count++
	}

	out := make([]Document, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, Document{g.Field: b.value, g.CountAs: b.count})
	}
	return out
}

func groupKey(v any) string {
	if v == nil {
		return "n:"
	}
	if f, ok := number(v); ok {
		return fmt.Sprintf("f:%v", f)
	}
	if s, ok := v.(string); ok {
		return "s:" + s
	}
	return fmt.Sprintf("o:%T:%v", v, v)
}

// MaxBy returns the document with the greatest value of field, ignoring
// documents where the field is missing or null.
func MaxBy(docs []Document, field string) (Document, bool) {
	var best Document
	for _, d := range docs {
		v, ok := d[field]
		if !ok || v == nil {
			continue
		}
		if best == nil || Compare(v, best[field]) > 0 {
			best = d
		}
	}
	return best, best != nil
}
