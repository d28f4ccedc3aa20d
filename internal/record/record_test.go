package record

import (
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/xtxerr/runstore/internal/errors"
)

func TestRecordOrderAndReplace(t *testing.T) {
	rec := New().
		SetScalar("device", "Fridge1").
		SetArray("freq_arr", []float64{1, 2}).
		SetScalar("power", -30.0)

	rec.SetScalar("device", "Fridge2")

	fields := rec.Fields()
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	names := []string{fields[0].Name, fields[1].Name, fields[2].Name}
	if !reflect.DeepEqual(names, []string{"device", "freq_arr", "power"}) {
		t.Errorf("unexpected order %v", names)
	}
	if d, _ := rec.Device(); d != "Fridge2" {
		t.Errorf("expected replaced device, got %q", d)
	}

	rec.Delete("freq_arr")
	if _, ok := rec.Get("freq_arr"); ok {
		t.Error("freq_arr should be deleted")
	}
	if f, ok := rec.Get("power"); !ok || f.Value != -30.0 {
		t.Errorf("index not rebuilt after delete: %+v %v", f, ok)
	}
}

func TestValidateDevice(t *testing.T) {
	tests := []struct {
		name    string
		rec     *Record
		wantErr bool
	}{
		{"present", New().SetScalar("device", "Fridge1"), false},
		{"missing", New().SetScalar("power", 1.0), true},
		{"empty", New().SetScalar("device", "  "), true},
		{"not a string", New().SetScalar("device", 3), true},
		{"nil record", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errors.ErrMissingField) {
				t.Errorf("expected ErrMissingField, got %v", err)
			}
		})
	}
}

func TestIsInternal(t *testing.T) {
	if !IsInternal("_instrument") {
		t.Error("_instrument should be internal")
	}
	if IsInternal("freq_center") {
		t.Error("freq_center should not be internal")
	}
}

func TestTypeFromSource(t *testing.T) {
	tests := map[string]string{
		"/lab/procedures/sweep.py": "sweep",
		"two_tone.py":              "two_tone",
		"noext":                    "noext",
		"":                         "",
	}
	for in, want := range tests {
		if got := TypeFromSource(in); got != want {
			t.Errorf("TypeFromSource(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEncodeRoundTripKeepsType(t *testing.T) {
	values := []any{
		int8(-3),
		uint16(7),
		float32(1.5),
		complex64(complex(1, -2)),
		true,
		"Fridge1",
		[]float32{1, 2.5},
		[]int64{1, -2},
		[]uint8{0, 255},
		[]complex128{1 + 2i, -3i},
		[]string{"a", "b"},
		[][]float64{{1, 2}, {3, 4}, {5, 6}},
		[][]complex64{{1i}, {2}},
		[]float64{},
	}

	for _, in := range values {
		v, err := Encode(in)
		if err != nil {
			t.Fatalf("Encode(%T): %v", in, err)
		}
		out, err := v.Any()
		if err != nil {
			t.Fatalf("Any(%T): %v", in, err)
		}
		if !reflect.DeepEqual(in, out) {
			t.Errorf("round trip %T: got %#v, want %#v", in, out, in)
		}
	}
}

func TestEncodeShapes(t *testing.T) {
	v, err := Encode(3.0)
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsScalar() {
		t.Error("float64 should encode as scalar")
	}

	v, err = Encode([][]float64{{1, 2, 3}, {4, 5, 6}})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v.Shape, []int{2, 3}) {
		t.Errorf("unexpected shape %v", v.Shape)
	}
	if !reflect.DeepEqual(v.Floats, []float64{1, 2, 3, 4, 5, 6}) {
		t.Errorf("expected row-major order, got %v", v.Floats)
	}
}

func TestEncodeErrors(t *testing.T) {
	if _, err := Encode([][]float64{{1, 2}, {3}}); !errors.Is(err, errors.ErrRaggedArray) {
		t.Errorf("expected ErrRaggedArray, got %v", err)
	}
	if _, err := Encode(map[string]float64{"fr": 1}); !errors.Is(err, errors.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for map, got %v", err)
	}
	if _, err := EncodeScalar([]float64{1}); err == nil {
		t.Error("EncodeScalar should reject arrays")
	}
	if _, err := EncodeArray(1.0); err == nil {
		t.Error("EncodeArray should reject scalars")
	}
	if _, err := Encode([]any{1, "a"}); !errors.Is(err, errors.ErrUnsupportedType) {
		t.Errorf("expected mixed element error, got %v", err)
	}
}

func TestEncodeAnySliceInference(t *testing.T) {
	tests := []struct {
		name string
		in   []any
		want any
	}{
		{"ints", []any{1, 2, 3}, []int64{1, 2, 3}},
		{"promote to float", []any{1, 2.5}, []float64{1, 2.5}},
		{"bools", []any{true, false}, []bool{true, false}},
		{"strings", []any{"a", "b"}, []string{"a", "b"}},
		{"complex", []any{1.0, 2i}, []complex128{1, 2i}},
		{"matrix", []any{[]any{1, 2}, []any{3.5, 4}}, [][]float64{{1, 2}, {3.5, 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Encode(tt.in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := v.Any()
			if err != nil {
				t.Fatalf("Any: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}

	if _, err := Encode([]any{[]any{1, 2}, []any{3}}); !errors.Is(err, errors.ErrRaggedArray) {
		t.Errorf("expected ErrRaggedArray, got %v", err)
	}
}

func TestConvert(t *testing.T) {
	v, _ := Encode([]float64{1, 2})
	c, err := v.Convert(DTypeInt32)
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got, _ := c.Any()
	if !reflect.DeepEqual(got, []int32{1, 2}) {
		t.Errorf("got %#v", got)
	}

	v, _ = Encode([]float64{1.5})
	if _, err := v.Convert(DTypeInt64); !errors.Is(err, errors.ErrFieldConversion) {
		t.Errorf("expected conversion error for non-integral value, got %v", err)
	}

	v, _ = Encode([]float64{1, 2})
	c, err = v.Convert(DTypeComplex128)
	if err != nil {
		t.Fatal(err)
	}
	got, _ = c.Any()
	if !reflect.DeepEqual(got, []complex128{1, 2}) {
		t.Errorf("got %#v", got)
	}

	v, _ = Encode([]string{"a"})
	if _, err := v.Convert(DTypeFloat64); err == nil {
		t.Error("expected error converting strings")
	}
}

func TestMagnitudes(t *testing.T) {
	v, _ := Encode([]complex128{3 + 4i})
	mags, ok := v.Magnitudes()
	if !ok || mags[0] != 5 {
		t.Errorf("expected |3+4i| = 5, got %v %v", mags, ok)
	}
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		in      any
		want    float64
		wantErr bool
	}{
		{5.1e9, 5.1e9, false},
		{float32(2), 2, false},
		{int64(7), 7, false},
		{uint8(3), 3, false},
		{" 1.5e3 ", 1500, false},
		{"abc", 0, true},
		{1 + 2i, 0, true},
		{[]float64{1}, 0, true},
	}
	for _, tt := range tests {
		got, err := ToFloat64(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ToFloat64(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ToFloat64(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

type stringer struct{}

func (stringer) String() string { return "jpa(pump=7.2GHz)" }

type panicker struct{}

func (panicker) String() string { panic("boom") }

func TestText(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "abc", "abc"},
		{"map", map[string]float64{"fr": 5}, `{"fr":5}`},
		{"stringer", stringer{}, "jpa(pump=7.2GHz)"},
		{"nil", nil, "null"},
		{"nan map", map[string]float64{"fr": math.NaN()}, "map[fr:NaN]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Text(tt.in)
			if err != nil {
				t.Fatalf("Text: %v", err)
			}
			if got != tt.want {
				t.Errorf("Text(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if _, err := Text(func() {}); !errors.Is(err, errors.ErrUnsupportedType) {
		t.Errorf("expected ErrUnsupportedType for func, got %v", err)
	}
	if _, err := Text(panicker{}); !errors.Is(err, errors.ErrFieldConversion) {
		t.Errorf("expected ErrFieldConversion for panicking Stringer, got %v", err)
	}
}

func TestDecodeManifest(t *testing.T) {
	src := `
type: sweep
fields:
  - {name: device, kind: scalar, value: Fridge1}
  - {name: power, kind: scalar, value: -30}
  - {name: freq_arr, kind: array, value: [1.0, 2.0, 3.0]}
  - {name: pixel_counts, kind: array, dtype: uint16, value: [1, 2]}
  - {name: fit_results, kind: text, value: {fr: 5.1e9, Qc_dia_corr: 1.0e5}}
`
	m, rec, err := Decode(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Type != "sweep" {
		t.Errorf("type = %q", m.Type)
	}
	if rec.Len() != 5 {
		t.Fatalf("expected 5 fields, got %d", rec.Len())
	}

	f, _ := rec.Get("freq_arr")
	if !reflect.DeepEqual(f.Value, []float64{1, 2, 3}) {
		t.Errorf("freq_arr = %#v", f.Value)
	}
	f, _ = rec.Get("pixel_counts")
	if !reflect.DeepEqual(f.Value, []uint16{1, 2}) {
		t.Errorf("pixel_counts = %#v", f.Value)
	}
	f, _ = rec.Get("power")
	if f.Value != -30 {
		t.Errorf("power = %#v", f.Value)
	}
	f, _ = rec.Get("fit_results")
	if f.Kind != KindText {
		t.Errorf("fit_results kind = %v", f.Kind)
	}
	if _, ok := f.Value.(map[string]any); !ok {
		t.Errorf("fit_results should stay a mapping, got %T", f.Value)
	}
}

func TestDecodeManifestErrors(t *testing.T) {
	tests := map[string]string{
		"bad kind":    "fields:\n  - {name: a, kind: blob, value: 1}\n",
		"no name":     "fields:\n  - {kind: scalar, value: 1}\n",
		"bad array":   "fields:\n  - {name: a, kind: array, value: [[1, 2], [3]]}\n",
		"bad dtype":   "fields:\n  - {name: a, kind: array, dtype: int8, value: [1.5]}\n",
		"unknown key": "fields:\n  - {name: a, kind: scalar, value: 1, unit: Hz}\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Decode(strings.NewReader(src)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSourceLines(t *testing.T) {
	lines, err := SourceLines(strings.NewReader("import numpy\n\ndef run():\n    pass\n"))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"import numpy", "", "def run():", "    pass"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("got %q", lines)
	}
}
