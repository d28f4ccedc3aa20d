package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/validation"
)

// Filters selects runs. Empty strings and nil bounds do not filter.
type Filters struct {
	Device string `mapstructure:"device"`
	Filter string `mapstructure:"filter"`
	Notes  string `mapstructure:"notes"`
	Type   string `mapstructure:"type"`

	// Start and End bound utc_time inclusively. They accept time.Time or
	// ISO-8601 strings.
	Start any `mapstructure:"start"`
	End   any `mapstructure:"end"`

	// MatchMode is constants.MatchExact (default) or constants.MatchPattern.
	MatchMode string `mapstructure:"match_mode"`

	// Extra filters on any other document field. String values follow the
	// match mode; other values are equality filters.
	Extra map[string]any `mapstructure:",remain"`
}

// DecodeFilters reads filters from an ad hoc map. Keys that are not known
// filter names become extra field filters.
func DecodeFilters(m map[string]any) (Filters, error) {
	var f Filters
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &f,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return Filters{}, fmt.Errorf("create decoder: %w", err)
	}
	if err := dec.Decode(m); err != nil {
		return Filters{}, fmt.Errorf("decode filters: %v: %w", err, errors.ErrInvalidFilter)
	}
	return f, nil
}

func (f Filters) pattern() (bool, error) {
	switch strings.ToLower(f.MatchMode) {
	case "", constants.MatchExact:
		return false, nil
	case constants.MatchPattern:
		return true, nil
	}
	return false, errors.NewInvalidFilter("match_mode", fmt.Sprintf("unknown mode %q", f.MatchMode))
}

// Conditions translates f into catalog conditions. Patterns and bounds are
// validated here so bad input never reaches the catalog.
func (f Filters) Conditions() ([]catalog.Condition, error) {
	pattern, err := f.pattern()
	if err != nil {
		return nil, err
	}

	var conds []catalog.Condition
	text := func(field, value string) error {
		if !pattern {
			conds = append(conds, catalog.Eq(field, value))
			return nil
		}
		if _, err := validation.CompilePattern(value); err != nil {
			return errors.NewInvalidFilter(field, err.Error())
		}
		conds = append(conds, catalog.Regex(field, value))
		return nil
	}

	for _, kv := range []struct{ field, value string }{
		{constants.DocDevice, f.Device},
		{constants.DocFilter, f.Filter},
		{constants.DocNotes, f.Notes},
		{constants.DocType, f.Type},
	} {
		if kv.value == "" {
			continue
		}
		if err := text(kv.field, kv.value); err != nil {
			return nil, err
		}
	}

	if f.Start != nil {
		t, err := ParseTime(f.Start)
		if err != nil {
			return nil, errors.NewInvalidFilter("start", err.Error())
		}
		conds = append(conds, catalog.Gte(constants.DocUTCTime, t))
	}
	if f.End != nil {
		t, err := ParseTime(f.End)
		if err != nil {
			return nil, errors.NewInvalidFilter("end", err.Error())
		}
		conds = append(conds, catalog.Lte(constants.DocUTCTime, t))
	}

	keys := make([]string, 0, len(f.Extra))
	for k := range f.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := validation.ValidateFieldName(k); err != nil {
			return nil, errors.NewInvalidFilter(k, err.Error())
		}
		if s, ok := f.Extra[k].(string); ok {
			if err := text(k, s); err != nil {
				return nil, err
			}
			continue
		}
		conds = append(conds, catalog.Eq(k, f.Extra[k]))
	}
	return conds, nil
}

// =============================================================================
// Time Bounds
// =============================================================================

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseTime reads a time bound. Strings are ISO-8601; a trailing Z is read
// as +00:00 and strings without an offset are UTC.
func ParseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return time.Time{}, fmt.Errorf("nil time")
		}
		return *t, nil
	case string:
		s := strings.TrimSpace(t)
		if strings.HasSuffix(s, "Z") || strings.HasSuffix(s, "z") {
			s = s[:len(s)-1] + "+00:00"
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("%q is not an ISO-8601 time", t)
	}
	return time.Time{}, fmt.Errorf("unsupported time bound %T", v)
}
