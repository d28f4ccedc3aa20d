package record

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"
	"strings"

	"github.com/xtxerr/runstore/internal/errors"
)

// DType names the element type of an encoded value. The names follow the
// numpy convention so files stay readable from analysis tooling.
type DType string

const (
	DTypeBool       DType = "bool"
	DTypeString     DType = "string"
	DTypeInt        DType = "int"
	DTypeInt8       DType = "int8"
	DTypeInt16      DType = "int16"
	DTypeInt32      DType = "int32"
	DTypeInt64      DType = "int64"
	DTypeUint       DType = "uint"
	DTypeUint8      DType = "uint8"
	DTypeUint16     DType = "uint16"
	DTypeUint32     DType = "uint32"
	DTypeUint64     DType = "uint64"
	DTypeFloat32    DType = "float32"
	DTypeFloat64    DType = "float64"
	DTypeComplex64  DType = "complex64"
	DTypeComplex128 DType = "complex128"
)

// IsInteger reports whether d is a signed integer type.
func (d DType) IsInteger() bool {
	switch d {
	case DTypeInt, DTypeInt8, DTypeInt16, DTypeInt32, DTypeInt64:
		return true
	}
	return false
}

// IsUnsigned reports whether d is an unsigned integer type.
func (d DType) IsUnsigned() bool {
	switch d {
	case DTypeUint, DTypeUint8, DTypeUint16, DTypeUint32, DTypeUint64:
		return true
	}
	return false
}

// IsFloat reports whether d is a real floating point type.
func (d DType) IsFloat() bool {
	return d == DTypeFloat32 || d == DTypeFloat64
}

// IsComplex reports whether d is a complex type.
func (d DType) IsComplex() bool {
	return d == DTypeComplex64 || d == DTypeComplex128
}

// IsReal reports whether d is a real numeric type.
func (d DType) IsReal() bool {
	return d.IsInteger() || d.IsUnsigned() || d.IsFloat()
}

// Value is the canonical, type-erased form of a scalar or array.
// Elements are stored row-major in the slice matching the dtype family;
// complex values keep real parts in Floats and imaginary parts in Imags.
type Value struct {
	DType DType
	// Shape is nil for scalars, [n] for 1-D and [rows, cols] for 2-D arrays.
	Shape   []int
	Floats  []float64
	Imags   []float64
	Ints    []int64
	Uints   []uint64
	Bools   []bool
	Strings []string
}

// IsScalar reports whether v holds a single scalar.
func (v Value) IsScalar() bool {
	return len(v.Shape) == 0
}

// Len returns the number of stored elements.
func (v Value) Len() int {
	switch {
	case v.DType.IsFloat(), v.DType.IsComplex():
		return len(v.Floats)
	case v.DType.IsInteger():
		return len(v.Ints)
	case v.DType.IsUnsigned():
		return len(v.Uints)
	case v.DType == DTypeBool:
		return len(v.Bools)
	case v.DType == DTypeString:
		return len(v.Strings)
	}
	return 0
}

// Reals returns the elements of a real numeric value as float64.
func (v Value) Reals() ([]float64, bool) {
	switch {
	case v.DType.IsFloat():
		return v.Floats, true
	case v.DType.IsInteger():
		out := make([]float64, len(v.Ints))
		for i, x := range v.Ints {
			out[i] = float64(x)
		}
		return out, true
	case v.DType.IsUnsigned():
		out := make([]float64, len(v.Uints))
		for i, x := range v.Uints {
			out[i] = float64(x)
		}
		return out, true
	}
	return nil, false
}

// Complexes returns the elements of a complex value.
func (v Value) Complexes() ([]complex128, bool) {
	if !v.DType.IsComplex() || len(v.Floats) != len(v.Imags) {
		return nil, false
	}
	out := make([]complex128, len(v.Floats))
	for i := range v.Floats {
		out[i] = complex(v.Floats[i], v.Imags[i])
	}
	return out, true
}

// Magnitudes returns |x| for every numeric element.
func (v Value) Magnitudes() ([]float64, bool) {
	if cs, ok := v.Complexes(); ok {
		out := make([]float64, len(cs))
		for i, c := range cs {
			out[i] = cmplx.Abs(c)
		}
		return out, true
	}
	return v.Reals()
}

// =============================================================================
// Encoding
// =============================================================================

// Encode converts a scalar or array field value into its canonical form.
// Unsupported types and ragged 2-D arrays are reported as errors.
func Encode(value any) (Value, error) {
	if v, ok, err := encodeScalar(value); ok {
		return v, err
	}
	if v, ok, err := encodeArray(value); ok {
		return v, err
	}
	return Value{}, fmt.Errorf("%T: %w", value, errors.ErrUnsupportedType)
}

// EncodeScalar is Encode restricted to scalars.
func EncodeScalar(value any) (Value, error) {
	v, ok, err := encodeScalar(value)
	if !ok {
		return Value{}, fmt.Errorf("%T is not a scalar: %w", value, errors.ErrUnsupportedType)
	}
	return v, err
}

// EncodeArray is Encode restricted to arrays.
func EncodeArray(value any) (Value, error) {
	v, ok, err := encodeArray(value)
	if !ok {
		return Value{}, fmt.Errorf("%T is not an array: %w", value, errors.ErrUnsupportedType)
	}
	return v, err
}

func encodeScalar(value any) (Value, bool, error) {
	var v Value
	switch x := value.(type) {
	case bool:
		v = Value{DType: DTypeBool, Bools: []bool{x}}
	case string:
		v = Value{DType: DTypeString, Strings: []string{x}}
	case int:
		v = Value{DType: DTypeInt, Ints: []int64{int64(x)}}
	case int8:
		v = Value{DType: DTypeInt8, Ints: []int64{int64(x)}}
	case int16:
		v = Value{DType: DTypeInt16, Ints: []int64{int64(x)}}
	case int32:
		v = Value{DType: DTypeInt32, Ints: []int64{int64(x)}}
	case int64:
		v = Value{DType: DTypeInt64, Ints: []int64{x}}
	case uint:
		v = Value{DType: DTypeUint, Uints: []uint64{uint64(x)}}
	case uint8:
		v = Value{DType: DTypeUint8, Uints: []uint64{uint64(x)}}
	case uint16:
		v = Value{DType: DTypeUint16, Uints: []uint64{uint64(x)}}
	case uint32:
		v = Value{DType: DTypeUint32, Uints: []uint64{uint64(x)}}
	case uint64:
		v = Value{DType: DTypeUint64, Uints: []uint64{x}}
	case float32:
		v = Value{DType: DTypeFloat32, Floats: []float64{float64(x)}}
	case float64:
		v = Value{DType: DTypeFloat64, Floats: []float64{x}}
	case complex64:
		v = Value{DType: DTypeComplex64, Floats: []float64{float64(real(x))}, Imags: []float64{float64(imag(x))}}
	case complex128:
		v = Value{DType: DTypeComplex128, Floats: []float64{real(x)}, Imags: []float64{imag(x)}}
	default:
		return Value{}, false, nil
	}
	return v, true, nil
}

func encodeArray(value any) (Value, bool, error) {
	var (
		v   Value
		err error
	)
	switch x := value.(type) {
	case []bool:
		v = encodeSlice(x, DTypeBool, putBool)
	case []string:
		v = encodeSlice(x, DTypeString, putString)
	case []int:
		v = encodeSlice(x, DTypeInt, putInt[int])
	case []int8:
		v = encodeSlice(x, DTypeInt8, putInt[int8])
	case []int16:
		v = encodeSlice(x, DTypeInt16, putInt[int16])
	case []int32:
		v = encodeSlice(x, DTypeInt32, putInt[int32])
	case []int64:
		v = encodeSlice(x, DTypeInt64, putInt[int64])
	case []uint:
		v = encodeSlice(x, DTypeUint, putUint[uint])
	case []uint8:
		v = encodeSlice(x, DTypeUint8, putUint[uint8])
	case []uint16:
		v = encodeSlice(x, DTypeUint16, putUint[uint16])
	case []uint32:
		v = encodeSlice(x, DTypeUint32, putUint[uint32])
	case []uint64:
		v = encodeSlice(x, DTypeUint64, putUint[uint64])
	case []float32:
		v = encodeSlice(x, DTypeFloat32, putFloat[float32])
	case []float64:
		v = encodeSlice(x, DTypeFloat64, putFloat[float64])
	case []complex64:
		v = encodeSlice(x, DTypeComplex64, putComplex[complex64])
	case []complex128:
		v = encodeSlice(x, DTypeComplex128, putComplex[complex128])
	case [][]bool:
		v, err = encodeMatrix(x, DTypeBool, putBool)
	case [][]string:
		v, err = encodeMatrix(x, DTypeString, putString)
	case [][]int:
		v, err = encodeMatrix(x, DTypeInt, putInt[int])
	case [][]int32:
		v, err = encodeMatrix(x, DTypeInt32, putInt[int32])
	case [][]int64:
		v, err = encodeMatrix(x, DTypeInt64, putInt[int64])
	case [][]uint16:
		v, err = encodeMatrix(x, DTypeUint16, putUint[uint16])
	case [][]uint64:
		v, err = encodeMatrix(x, DTypeUint64, putUint[uint64])
	case [][]float32:
		v, err = encodeMatrix(x, DTypeFloat32, putFloat[float32])
	case [][]float64:
		v, err = encodeMatrix(x, DTypeFloat64, putFloat[float64])
	case [][]complex64:
		v, err = encodeMatrix(x, DTypeComplex64, putComplex[complex64])
	case [][]complex128:
		v, err = encodeMatrix(x, DTypeComplex128, putComplex[complex128])
	case []any:
		v, err = encodeAnySlice(x)
	default:
		return Value{}, false, nil
	}
	return v, true, err
}

type signed interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64
}

type unsigned interface {
	~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

type float interface {
	~float32 | ~float64
}

type complexNum interface {
	~complex64 | ~complex128
}

func putBool(v *Value, x bool)          { v.Bools = append(v.Bools, x) }
func putString(v *Value, x string)      { v.Strings = append(v.Strings, x) }
func putInt[T signed](v *Value, x T)    { v.Ints = append(v.Ints, int64(x)) }
func putUint[T unsigned](v *Value, x T) { v.Uints = append(v.Uints, uint64(x)) }
func putFloat[T float](v *Value, x T)   { v.Floats = append(v.Floats, float64(x)) }

func putComplex[T complexNum](v *Value, x T) {
	c := complex128(x)
	v.Floats = append(v.Floats, real(c))
	v.Imags = append(v.Imags, imag(c))
}

func encodeSlice[T any](xs []T, dt DType, put func(*Value, T)) Value {
	v := Value{DType: dt, Shape: []int{len(xs)}}
	for _, x := range xs {
		put(&v, x)
	}
	return v
}

func encodeMatrix[T any](rows [][]T, dt DType, put func(*Value, T)) (Value, error) {
	cols := 0
	if len(rows) > 0 {
		cols = len(rows[0])
	}
	v := Value{DType: dt, Shape: []int{len(rows), cols}}
	for i, row := range rows {
		if len(row) != cols {
			return Value{}, fmt.Errorf("row %d has %d elements, want %d: %w", i, len(row), cols, errors.ErrRaggedArray)
		}
		for _, x := range row {
			put(&v, x)
		}
	}
	return v, nil
}

// encodeAnySlice infers a common element type for decoded, untyped lists.
// Integers promote to float64 when mixed with floats, reals promote to
// complex128 when mixed with complex values.
func encodeAnySlice(xs []any) (Value, error) {
	if len(xs) == 0 {
		return Value{DType: DTypeFloat64, Shape: []int{0}}, nil
	}

	if _, nested := xs[0].([]any); nested {
		rows := make([]Value, len(xs))
		for i, x := range xs {
			row, ok := x.([]any)
			if !ok {
				return Value{}, fmt.Errorf("element %d is %T, want a list: %w", i, x, errors.ErrRaggedArray)
			}
			rv, err := encodeAnySlice(row)
			if err != nil {
				return Value{}, fmt.Errorf("row %d: %w", i, err)
			}
			if len(rv.Shape) != 1 {
				return Value{}, fmt.Errorf("row %d: more than two dimensions: %w", i, errors.ErrUnsupportedType)
			}
			rows[i] = rv
		}
		return joinRows(rows)
	}

	scalars := make([]Value, len(xs))
	for i, x := range xs {
		sv, ok, _ := encodeScalar(x)
		if !ok {
			return Value{}, fmt.Errorf("element %d: %T: %w", i, x, errors.ErrUnsupportedType)
		}
		scalars[i] = sv
	}

	dt, err := commonDType(scalars)
	if err != nil {
		return Value{}, err
	}

	out := Value{DType: dt, Shape: []int{len(xs)}}
	for _, sv := range scalars {
		appendAs(&out, sv)
	}
	return out, nil
}

func joinRows(rows []Value) (Value, error) {
	cols := rows[0].Shape[0]
	dts := make([]Value, len(rows))
	for i, r := range rows {
		if r.Shape[0] != cols {
			return Value{}, fmt.Errorf("row %d has %d elements, want %d: %w", i, r.Shape[0], cols, errors.ErrRaggedArray)
		}
		dts[i] = Value{DType: r.DType}
	}
	dt, err := commonDType(dts)
	if err != nil {
		return Value{}, err
	}
	out := Value{DType: dt, Shape: []int{len(rows), cols}}
	for _, r := range rows {
		appendAs(&out, r)
	}
	return out, nil
}

func commonDType(vals []Value) (DType, error) {
	var hasBool, hasString, hasFloat, hasComplex, hasInt bool
	for _, v := range vals {
		switch {
		case v.DType == DTypeBool:
			hasBool = true
		case v.DType == DTypeString:
			hasString = true
		case v.DType.IsComplex():
			hasComplex = true
		case v.DType.IsFloat():
			hasFloat = true
		default:
			hasInt = true
		}
	}
	numeric := hasInt || hasFloat || hasComplex
	switch {
	case hasBool && !hasString && !numeric:
		return DTypeBool, nil
	case hasString && !hasBool && !numeric:
		return DTypeString, nil
	case hasComplex && !hasBool && !hasString:
		return DTypeComplex128, nil
	case hasFloat && !hasBool && !hasString:
		return DTypeFloat64, nil
	case hasInt && !hasBool && !hasString:
		return DTypeInt64, nil
	}
	return "", fmt.Errorf("mixed element types: %w", errors.ErrUnsupportedType)
}

// appendAs appends the elements of src to dst, converting to dst.DType,
// which commonDType guarantees is at least as wide.
func appendAs(dst *Value, src Value) {
	switch dst.DType {
	case DTypeBool:
		dst.Bools = append(dst.Bools, src.Bools...)
	case DTypeString:
		dst.Strings = append(dst.Strings, src.Strings...)
	case DTypeInt64:
		dst.Ints = append(dst.Ints, src.Ints...)
		for _, u := range src.Uints {
			dst.Ints = append(dst.Ints, int64(u))
		}
	case DTypeFloat64:
		reals, _ := src.Reals()
		dst.Floats = append(dst.Floats, reals...)
	case DTypeComplex128:
		if cs, ok := src.Complexes(); ok {
			for _, c := range cs {
				dst.Floats = append(dst.Floats, real(c))
				dst.Imags = append(dst.Imags, imag(c))
			}
			return
		}
		reals, _ := src.Reals()
		dst.Floats = append(dst.Floats, reals...)
		dst.Imags = append(dst.Imags, make([]float64, len(reals))...)
	}
}

// =============================================================================
// Decoding
// =============================================================================

// Any rebuilds the Go value that was encoded, with its original element
// type and shape.
func (v Value) Any() (any, error) {
	switch v.DType {
	case DTypeBool:
		return reshape(v, v.Bools, same[bool])
	case DTypeString:
		return reshape(v, v.Strings, same[string])
	case DTypeInt:
		return reshape(v, v.Ints, func(x int64) int { return int(x) })
	case DTypeInt8:
		return reshape(v, v.Ints, func(x int64) int8 { return int8(x) })
	case DTypeInt16:
		return reshape(v, v.Ints, func(x int64) int16 { return int16(x) })
	case DTypeInt32:
		return reshape(v, v.Ints, func(x int64) int32 { return int32(x) })
	case DTypeInt64:
		return reshape(v, v.Ints, same[int64])
	case DTypeUint:
		return reshape(v, v.Uints, func(x uint64) uint { return uint(x) })
	case DTypeUint8:
		return reshape(v, v.Uints, func(x uint64) uint8 { return uint8(x) })
	case DTypeUint16:
		return reshape(v, v.Uints, func(x uint64) uint16 { return uint16(x) })
	case DTypeUint32:
		return reshape(v, v.Uints, func(x uint64) uint32 { return uint32(x) })
	case DTypeUint64:
		return reshape(v, v.Uints, same[uint64])
	case DTypeFloat32:
		return reshape(v, v.Floats, func(x float64) float32 { return float32(x) })
	case DTypeFloat64:
		return reshape(v, v.Floats, same[float64])
	case DTypeComplex64, DTypeComplex128:
		cs, ok := v.Complexes()
		if !ok {
			return nil, fmt.Errorf("complex value with %d real and %d imaginary parts: %w",
				len(v.Floats), len(v.Imags), errors.ErrInvalidFormat)
		}
		if v.DType == DTypeComplex64 {
			return reshape(v, cs, func(c complex128) complex64 { return complex64(c) })
		}
		return reshape(v, cs, same[complex128])
	}
	return nil, fmt.Errorf("dtype %q: %w", v.DType, errors.ErrUnsupportedType)
}

func same[T any](x T) T { return x }

func reshape[S, T any](v Value, src []S, conv func(S) T) (any, error) {
	switch len(v.Shape) {
	case 0:
		if len(src) != 1 {
			return nil, fmt.Errorf("scalar with %d elements: %w", len(src), errors.ErrInvalidFormat)
		}
		return conv(src[0]), nil
	case 1:
		if len(src) != v.Shape[0] {
			return nil, fmt.Errorf("shape %v with %d elements: %w", v.Shape, len(src), errors.ErrInvalidFormat)
		}
		out := make([]T, len(src))
		for i, x := range src {
			out[i] = conv(x)
		}
		return out, nil
	case 2:
		rows, cols := v.Shape[0], v.Shape[1]
		if rows*cols != len(src) {
			return nil, fmt.Errorf("shape %v with %d elements: %w", v.Shape, len(src), errors.ErrInvalidFormat)
		}
		out := make([][]T, rows)
		for r := 0; r < rows; r++ {
			row := make([]T, cols)
			for c := 0; c < cols; c++ {
				row[c] = conv(src[r*cols+c])
			}
			out[r] = row
		}
		return out, nil
	}
	return nil, fmt.Errorf("%d dimensions: %w", len(v.Shape), errors.ErrUnsupportedType)
}

// =============================================================================
// Conversion
// =============================================================================

// Convert returns v with its elements converted to dt. Only conversions
// between real numeric types, and from real to complex, are supported;
// float to integer conversions require integral values in range.
func (v Value) Convert(dt DType) (Value, error) {
	if dt == v.DType {
		return v, nil
	}
	out := Value{DType: dt, Shape: v.Shape}

	if dt.IsComplex() {
		if v.DType.IsComplex() {
			out.Floats, out.Imags = v.Floats, v.Imags
			return out, nil
		}
		reals, ok := v.Reals()
		if !ok {
			return Value{}, fmt.Errorf("%s to %s: %w", v.DType, dt, errors.ErrUnsupportedType)
		}
		out.Floats = reals
		out.Imags = make([]float64, len(reals))
		return out, nil
	}

	reals, ok := v.Reals()
	if !ok || !dt.IsReal() {
		return Value{}, fmt.Errorf("%s to %s: %w", v.DType, dt, errors.ErrUnsupportedType)
	}

	switch {
	case dt.IsFloat():
		out.Floats = reals
	case dt.IsInteger() && v.DType.IsInteger():
		out.Ints = v.Ints
	case dt.IsInteger():
		out.Ints = make([]int64, len(reals))
		for i, x := range reals {
			if x != math.Trunc(x) || x < math.MinInt64 || x >= math.MaxInt64 {
				return Value{}, fmt.Errorf("element %d (%v) is not a %s: %w", i, x, dt, errors.ErrFieldConversion)
			}
			out.Ints[i] = int64(x)
		}
	case dt.IsUnsigned() && v.DType.IsUnsigned():
		out.Uints = v.Uints
	case dt.IsUnsigned():
		out.Uints = make([]uint64, len(reals))
		for i, x := range reals {
			if x != math.Trunc(x) || x < 0 || x >= math.MaxUint64 {
				return Value{}, fmt.Errorf("element %d (%v) is not a %s: %w", i, x, dt, errors.ErrFieldConversion)
			}
			out.Uints[i] = uint64(x)
		}
	}
	return out, nil
}

// ToFloat64 converts a numeric scalar to float64. Numeric strings are
// parsed; anything else is an error.
func ToFloat64(value any) (float64, error) {
	if s, ok := value.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("parse %q: %w", s, errors.ErrFieldConversion)
		}
		return f, nil
	}
	v, ok, _ := encodeScalar(value)
	if !ok {
		return 0, fmt.Errorf("%T: %w", value, errors.ErrUnsupportedType)
	}
	reals, ok := v.Reals()
	if !ok || len(reals) != 1 {
		return 0, fmt.Errorf("%s is not real: %w", v.DType, errors.ErrFieldConversion)
	}
	return reals[0], nil
}
