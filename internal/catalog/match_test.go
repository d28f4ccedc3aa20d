package catalog

import (
	"testing"
	"time"

	"github.com/xtxerr/runstore/internal/errors"
)

func TestEqual(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"float and int", 16.0, 16, true},
		{"int64 and float32", int64(3), float32(3), true},
		{"different numbers", 1.5, 2, false},
		{"number and string", 1.0, "1", false},
		{"strings", "a", "a", true},
		{"string case", "a", "A", false},
		{"time and rfc3339", "2026-03-01T12:00:00Z", ts, true},
		{"time and offset", "2026-03-01T13:00:00+01:00", ts, true},
		{"bools", true, true, true},
		{"slices", []any{1.0, 2.0}, []any{1.0, 2.0}, true},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("%s: Equal(%v, %v) = %v", tt.name, tt.a, tt.b, got)
		}
	}
}

func TestCompareOrdersKinds(t *testing.T) {
	values := []any{"b", 2.0, nil, true, "a", 1}
	docs := make([]Document, len(values))
	for i, v := range values {
		docs[i] = Document{"v": v}
	}
	SortDocuments(docs, []SortKey{{Field: "v"}})

	want := []any{nil, 1, 2.0, "a", "b", true}
	for i, w := range want {
		if docs[i]["v"] != w {
			t.Fatalf("position %d = %#v, want %#v", i, docs[i]["v"], w)
		}
	}
}

func TestCompareFractionalTimes(t *testing.T) {
	docs := []Document{
		{"utc_time": "2026-03-01T12:00:00.5Z"},
		{"utc_time": "2026-03-01T12:00:00Z"},
		{"utc_time": "2026-03-01T12:00:00.123456Z"},
	}
	SortDocuments(docs, []SortKey{{Field: "utc_time"}})

	want := []string{"2026-03-01T12:00:00Z", "2026-03-01T12:00:00.123456Z", "2026-03-01T12:00:00.5Z"}
	for i, w := range want {
		if docs[i]["utc_time"] != w {
			t.Errorf("position %d = %v, want %s", i, docs[i]["utc_time"], w)
		}
	}
}

func TestSortIsStable(t *testing.T) {
	docs := []Document{
		{"device": "A", "n": 1},
		{"device": "B", "n": 2},
		{"device": "A", "n": 3},
	}
	SortDocuments(docs, []SortKey{{Field: "device", Desc: true}})
	if docs[0]["n"] != 2 || docs[1]["n"] != 1 || docs[2]["n"] != 3 {
		t.Errorf("unexpected order %v", docs)
	}
}

func TestEvaluateGroup(t *testing.T) {
	docs := []Document{
		{"device": "A"}, {"device": "B"}, {"device": "A"}, {"other": 1},
	}
	out, err := Evaluate(docs, Pipeline{
		Group: &Group{Field: "device", CountAs: "count"},
		Sort:  []SortKey{{Field: "count", Desc: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 groups, got %v", out)
	}
	if out[0]["device"] != "A" || out[0]["count"] != int64(2) {
		t.Errorf("first group = %v", out[0])
	}
	if out[2]["device"] != nil {
		t.Errorf("documents without the field form the null group, got %v", out[2])
	}
}

func TestMaxBy(t *testing.T) {
	docs := []Document{
		{"number": "00000002"},
		{"other": 1},
		{"number": "00000010"},
		{"number": nil},
	}
	best, ok := MaxBy(docs, "number")
	if !ok || best["number"] != "00000010" {
		t.Errorf("MaxBy = %v, %v", best, ok)
	}
	if _, ok := MaxBy(docs[1:2], "number"); ok {
		t.Error("MaxBy without the field must report false")
	}
}

func TestConditionValidate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"eq", Eq("device", "A"), false},
		{"regex", Regex("device", "^fr.*"), false},
		{"bad regex", Regex("device", "(["), true},
		{"regex non string", Condition{Field: "device", Op: OpRegex, Value: 1}, true},
		{"time range", Gte("utc_time", time.Now()), false},
		{"string time bound", Gte("utc_time", "2026-01-01"), true},
		{"numeric range", Lte("power", -10), false},
		{"string range", Lte("power", "x"), true},
		{"quoted field", Eq(`a"b`, 1), true},
		{"empty field", Eq("", 1), true},
		{"unknown op", Condition{Field: "a", Op: Op(42)}, true},
	}
	for _, tt := range tests {
		err := tt.cond.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.IsValidation(err) {
			t.Errorf("%s: expected validation error, got %v", tt.name, err)
		}
	}
}

func TestApplyNotEmpty(t *testing.T) {
	docs := []Document{
		{"filter": "LPF"}, {"filter": ""}, {"filter": nil}, {}, {"filter": 0.0},
	}
	out, err := Apply(docs, Query{Conditions: []Condition{NotEmpty("filter")}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("expected 2 matches, got %v", out)
	}
}

func TestNormalize(t *testing.T) {
	doc := Document{
		"_id":    "x",
		"count":  int64(3),
		"values": []float32{1.5},
		"nested": map[string]int{"a": 1},
	}
	out, err := Normalize(doc)
	if err != nil {
		t.Fatal(err)
	}
	if out["_id"] != "x" || out["count"] != 3.0 {
		t.Errorf("unexpected normalised document %v", out)
	}
	if v, ok := out["values"].([]any); !ok || v[0] != 1.5 {
		t.Errorf("values = %#v", out["values"])
	}
	if m, ok := out["nested"].(map[string]any); !ok || m["a"] != 1.0 {
		t.Errorf("nested = %#v", out["nested"])
	}

	data, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) == "" || containsID(data) {
		t.Errorf("marshalled body must not carry _id: %s", data)
	}
}

func containsID(data []byte) bool {
	for i := 0; i+5 <= len(data); i++ {
		if string(data[i:i+5]) == `"_id"` {
			return true
		}
	}
	return false
}
