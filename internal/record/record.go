// Package record models a measurement record: an ordered set of named,
// explicitly tagged fields handed over by the acquisition code once a run
// is finished.
//
// Every field declares how it is persisted:
//
//	KindScalar  numeric, bool or string value, stored as a file attribute
//	KindArray   1-D or rectangular 2-D slice, stored as a dataset
//	KindText    anything else (fit results, parameter structs), stored as text
//
// Fields whose name starts with "_" are internal and never persisted.
package record

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
)

// Kind tags how a field is persisted.
type Kind uint8

const (
	KindScalar Kind = iota + 1
	KindArray
	KindText
)

// String returns the manifest name of the kind.
func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindArray:
		return "array"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("Kind(%d)", k)
	}
}

// ParseKind parses a manifest kind name.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalar":
		return KindScalar, nil
	case "array":
		return KindArray, nil
	case "text":
		return KindText, nil
	default:
		return 0, fmt.Errorf("unknown field kind %q: %w", s, errors.ErrUnsupportedType)
	}
}

// Field is one named entry of a record.
type Field struct {
	Name  string
	Kind  Kind
	Value any
}

// Internal reports whether the field is excluded from persistence.
func (f Field) Internal() bool {
	return IsInternal(f.Name)
}

// IsInternal reports whether a field name marks internal state.
func IsInternal(name string) bool {
	return strings.HasPrefix(name, constants.InternalPrefix)
}

// Record is an ordered mapping from field name to tagged value.
// A Record is not safe for concurrent mutation.
type Record struct {
	fields []Field
	index  map[string]int
}

// New creates an empty record.
func New() *Record {
	return &Record{index: make(map[string]int)}
}

// Set stores a field, replacing an existing field of the same name in place
// so the original order is kept.
func (r *Record) Set(name string, kind Kind, value any) *Record {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	f := Field{Name: name, Kind: kind, Value: value}
	if i, ok := r.index[name]; ok {
		r.fields[i] = f
		return r
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, f)
	return r
}

// SetScalar stores a scalar field.
func (r *Record) SetScalar(name string, value any) *Record {
	return r.Set(name, KindScalar, value)
}

// SetArray stores an array field.
func (r *Record) SetArray(name string, value any) *Record {
	return r.Set(name, KindArray, value)
}

// SetText stores a field persisted by its text representation.
func (r *Record) SetText(name string, value any) *Record {
	return r.Set(name, KindText, value)
}

// Get returns the named field.
func (r *Record) Get(name string) (Field, bool) {
	if r == nil {
		return Field{}, false
	}
	i, ok := r.index[name]
	if !ok {
		return Field{}, false
	}
	return r.fields[i], true
}

// Delete removes the named field.
func (r *Record) Delete(name string) {
	i, ok := r.index[name]
	if !ok {
		return
	}
	r.fields = append(r.fields[:i], r.fields[i+1:]...)
	delete(r.index, name)
	for j := i; j < len(r.fields); j++ {
		r.index[r.fields[j].Name] = j
	}
}

// Fields returns the fields in insertion order.
func (r *Record) Fields() []Field {
	if r == nil {
		return nil
	}
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Len returns the number of fields.
func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.fields)
}

// StringField returns the named field as a string if it is one.
func (r *Record) StringField(name string) (string, bool) {
	f, ok := r.Get(name)
	if !ok {
		return "", false
	}
	s, ok := f.Value.(string)
	return s, ok
}

// Device returns the device under test.
func (r *Record) Device() (string, bool) {
	s, ok := r.StringField(constants.FieldDevice)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// Validate checks the invariants every persisted record must satisfy.
func (r *Record) Validate() error {
	if r == nil {
		return errors.NewMissingField(constants.FieldDevice)
	}
	f, ok := r.Get(constants.FieldDevice)
	if !ok || f.Value == nil {
		return errors.NewMissingField(constants.FieldDevice)
	}
	s, isString := f.Value.(string)
	if !isString {
		return fmt.Errorf("%s must be a string, got %T: %w", constants.FieldDevice, f.Value, errors.ErrMissingField)
	}
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is empty: %w", constants.FieldDevice, errors.ErrMissingField)
	}
	return nil
}

// TypeFromSource derives the measurement type from the path of the
// procedure that produced the run: the file name without its extension.
func TypeFromSource(path string) string {
	base := filepath.Base(path)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}
