package record

import (
	"fmt"
	"reflect"
	"time"

	"github.com/goccy/go-json"

	"github.com/xtxerr/runstore/internal/errors"
)

// Text returns the text representation of a value that has no native
// scalar or array encoding. Mappings, slices and structs are rendered as
// JSON; values JSON cannot express fall back to their Go syntax. Functions,
// channels and unsafe pointers have no meaningful text and are rejected.
func Text(value any) (text string, err error) {
	defer func() {
		// String and MarshalJSON implementations are user code.
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("text representation panicked: %v: %w", r, errors.ErrFieldConversion)
		}
	}()

	switch x := value.(type) {
	case nil:
		return "null", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case error:
		return x.Error(), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	}

	switch reflect.ValueOf(value).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return "", fmt.Errorf("%T has no text representation: %w", value, errors.ErrUnsupportedType)
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		if b, jerr := json.Marshal(value); jerr == nil {
			return string(b), nil
		}
	}

	return fmt.Sprintf("%v", value), nil
}
