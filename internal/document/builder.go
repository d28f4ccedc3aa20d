// Package document builds the catalog document of a run.
//
// A document carries the always-present identity fields, the scalar fit
// metrics extracted from the fit-result mapping and a flattened copy of
// every other persistable field. Large arrays never enter the catalog;
// optionally they are replaced by a small statistical summary.
package document

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/config"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/metrics"
	"github.com/xtxerr/runstore/internal/record"
)

var log = logging.Component("document")

// Input carries the values of a document that do not come from the record.
type Input struct {
	// Number is the run number.
	Number string

	// Type is the measurement type.
	Type string

	// File is the path of the container file.
	File string

	// Time is the build time. Zero means now.
	Time time.Time
}

// Options configures a Builder.
type Options struct {
	// ExcludedFields never enter the document. constants.LargeArrays are
	// always excluded as well.
	ExcludedFields []string

	// ArraySummaries adds summary keys for excluded arrays.
	ArraySummaries bool

	// SummaryAccuracy is the relative accuracy of summary quantiles.
	SummaryAccuracy float64

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// OptionsFromConfig returns the options described by cfg.
func OptionsFromConfig(cfg config.DocumentConfig) Options {
	return Options{
		ExcludedFields:  cfg.ExcludedFields,
		ArraySummaries:  cfg.ArraySummaries,
		SummaryAccuracy: cfg.SummaryAccuracy,
	}
}

// Builder turns records into catalog documents. It holds no mutable state
// and is safe for concurrent use.
type Builder struct {
	opts     Options
	excluded map[string]struct{}
}

// New creates a Builder.
func New(opts Options) (*Builder, error) {
	if opts.ArraySummaries && (opts.SummaryAccuracy <= 0 || opts.SummaryAccuracy >= 1) {
		return nil, fmt.Errorf("summary accuracy %v must be in (0, 1): %w", opts.SummaryAccuracy, errors.ErrInvalidConfig)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	excluded := make(map[string]struct{}, len(constants.LargeArrays)+len(opts.ExcludedFields))
	for _, name := range constants.LargeArrays {
		excluded[name] = struct{}{}
	}
	for _, name := range opts.ExcludedFields {
		excluded[name] = struct{}{}
	}
	return &Builder{opts: opts, excluded: excluded}, nil
}

// Excluded reports whether name is kept out of documents.
func (b *Builder) Excluded(name string) bool {
	_, ok := b.excluded[name]
	return ok
}

// Build produces the document of rec. It never fails: every field that
// cannot be represented is skipped or degraded and reported in the
// returned warnings.
func (b *Builder) Build(rec *record.Record, in Input) (catalog.Document, []record.FieldWarning) {
	ts := in.Time
	if ts.IsZero() {
		ts = b.opts.Now()
	}

	doc := catalog.Document{
		constants.DocUTCTime: ts.UTC().Format(time.RFC3339Nano),
		constants.DocNumber:  in.Number,
		constants.DocType:    in.Type,
		constants.DocFile:    in.File,
		constants.DocFilter:  nil,
		constants.DocNotes:   nil,
	}
	if device, ok := rec.StringField(constants.FieldDevice); ok {
		doc[constants.DocDevice] = device
	} else {
		doc[constants.DocDevice] = nil
	}
	for _, name := range []string{constants.FieldFilter, constants.FieldNotes} {
		if f, ok := rec.Get(name); ok && f.Value != nil {
			doc[name] = optionalText(f.Value)
		}
	}

	var warnings []record.FieldWarning
	warn := func(field, reason string, err error) {
		warnings = append(warnings, record.FieldWarning{Field: field, Reason: reason, Err: err})
		metrics.FieldWarnings.WithLabelValues("document", reason).Inc()
		log.Warn("unable to add field to document", "field", field, "reason", reason, "error", err)
	}

	if f, ok := rec.Get(constants.FieldFitResults); ok {
		b.addFit(doc, f.Value, warn)
	}

	for _, f := range rec.Fields() {
		switch {
		case f.Internal(), constants.IsReserved(f.Name):
			continue
		case b.Excluded(f.Name):
			if b.opts.ArraySummaries {
				b.addSummary(doc, f, warn)
			}
			continue
		}
		if _, taken := doc[f.Name]; taken {
			warn(f.Name, record.ReasonShadowed,
				fmt.Errorf("%q is a document field: %w", f.Name, errors.ErrInvalidName))
			continue
		}
		b.addField(doc, f, warn)
	}

	return doc, warnings
}

type warnFunc func(field, reason string, err error)

func optionalText(v any) any {
	if s, ok := v.(string); ok {
		return s
	}
	if s, err := record.Text(v); err == nil {
		return s
	}
	return nil
}

// =============================================================================
// Flattening
// =============================================================================

func (b *Builder) addField(doc catalog.Document, f record.Field, warn warnFunc) {
	if f.Kind == record.KindText {
		b.addText(doc, f.Name, f.Value, warn)
		return
	}

	v, err := record.Encode(f.Value)
	if err != nil {
		if errors.Is(err, errors.ErrUnsupportedType) {
			b.addText(doc, f.Name, f.Value, warn)
			return
		}
		warn(f.Name, record.ReasonConversion, err)
		return
	}
	if v.DType.IsComplex() {
		b.addText(doc, f.Name, f.Value, warn)
		return
	}

	elems, nonFinite := elements(v)
	if v.IsScalar() {
		if nonFinite > 0 {
			warn(f.Name, record.ReasonNonFinite, fmt.Errorf("value is not finite: %w", errors.ErrFieldConversion))
			doc[f.Name] = nil
			return
		}
		doc[f.Name] = elems[0]
		return
	}
	if nonFinite > 0 {
		warn(f.Name, record.ReasonNonFinite,
			fmt.Errorf("%d non-finite elements stored as null: %w", nonFinite, errors.ErrFieldConversion))
	}
	doc[f.Name] = nest(elems, v.Shape)
}

func (b *Builder) addText(doc catalog.Document, name string, value any, warn warnFunc) {
	s, err := record.Text(value)
	if err != nil {
		warn(name, record.ReasonConversion, err)
		return
	}
	doc[name] = s
}

// elements returns the elements of v as JSON-native values. Non-finite
// floats become nil and are counted.
func elements(v record.Value) ([]any, int) {
	nonFinite := 0
	out := make([]any, 0, v.Len())
	switch {
	case v.DType.IsFloat():
		for _, x := range v.Floats {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				nonFinite++
				out = append(out, nil)
				continue
			}
			out = append(out, x)
		}
	case v.DType.IsInteger():
		for _, x := range v.Ints {
			out = append(out, x)
		}
	case v.DType.IsUnsigned():
		for _, x := range v.Uints {
			out = append(out, x)
		}
	case v.DType == record.DTypeBool:
		for _, x := range v.Bools {
			out = append(out, x)
		}
	case v.DType == record.DTypeString:
		for _, x := range v.Strings {
			out = append(out, x)
		}
	}
	return out, nonFinite
}

// nest rebuilds nested lists from row-major elements.
func nest(elems []any, shape []int) []any {
	if len(shape) <= 1 {
		return elems
	}
	rows := shape[0]
	size := 1
	for _, n := range shape[1:] {
		size *= n
	}
	out := make([]any, rows)
	for i := 0; i < rows; i++ {
		out[i] = nest(elems[i*size:(i+1)*size], shape[1:])
	}
	return out
}

// =============================================================================
// Fit Metrics
// =============================================================================

type fitKey struct {
	doc  string
	keys []string
}

var fitKeys = []fitKey{
	{constants.FitFr, []string{constants.FitKeyFr}},
	{constants.FitFrErr, []string{constants.FitKeyFrErr}},
	{constants.FitQi, []string{constants.FitKeyQi}},
	{constants.FitQiErr, []string{constants.FitKeyQiErr}},
	{constants.FitQc, []string{constants.FitKeyQc}},
	{constants.FitQcErr, []string{constants.FitKeyQcErr, constants.FitKeyAbsQcErr}},
	{constants.FitQl, []string{constants.FitKeyQl}},
	{constants.FitQlErr, []string{constants.FitKeyQlErr}},
}

func (b *Builder) addFit(doc catalog.Document, value any, warn warnFunc) {
	fit, err := fitMap(value)
	if err != nil {
		warn(constants.FieldFitResults, record.ReasonExtraction, err)
		return
	}
	if fit == nil {
		return
	}

	for _, fk := range fitKeys {
		raw, key, ok := lookup(fit, fk.keys)
		if !ok || raw == nil {
			continue
		}
		x, err := record.ToFloat64(raw)
		if err != nil {
			warn(fk.doc, record.ReasonExtraction, fmt.Errorf("fit key %q: %w", key, err))
			continue
		}
		if math.IsNaN(x) || math.IsInf(x, 0) {
			warn(fk.doc, record.ReasonNonFinite, fmt.Errorf("fit key %q is %v: %w", key, x, errors.ErrFieldConversion))
			continue
		}
		doc[fk.doc] = x
	}

	fr, hasFr := doc[constants.FitFr].(float64)
	qc, hasQc := doc[constants.FitQc].(float64)
	if hasFr && hasQc && qc != 0 {
		doc[constants.FitKappa] = fr / qc
	}
}

func lookup(fit map[string]any, keys []string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := fit[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// fitMap reads the fit-result mapping. A nil value means no fit. Text
// values are accepted when they hold a JSON object, which is how fit
// results come back from a container file.
func fitMap(value any) (map[string]any, error) {
	switch m := value.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return m, nil
	case map[string]float64:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out, nil
	case string:
		if strings.TrimSpace(m) == "" || strings.TrimSpace(m) == "null" {
			return nil, nil
		}
		var out map[string]any
		if err := json.Unmarshal([]byte(m), &out); err != nil {
			return nil, fmt.Errorf("fit results are not a mapping: %v: %w", err, errors.ErrFieldConversion)
		}
		return out, nil
	}

	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		return fitMap(rv.Elem().Interface())
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = iter.Value().Interface()
		}
		return out, nil
	}
	return nil, fmt.Errorf("fit results are %T, not a mapping: %w", value, errors.ErrUnsupportedType)
}
