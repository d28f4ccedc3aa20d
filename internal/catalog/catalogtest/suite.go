// Package catalogtest holds the behaviour every catalog backend must share.
package catalogtest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/errors"
	testutil "github.com/xtxerr/runstore/internal/testing"
)

// Factory returns a new, empty catalog. The suite closes it.
type Factory func(t *testing.T) catalog.Catalog

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Doc builds a catalog document in the shape the document builder emits.
func Doc(number, device string, minute int, extra map[string]any) catalog.Document {
	doc := catalog.Document{
		"utc_time": base.Add(time.Duration(minute) * time.Minute).Format(time.RFC3339),
		"number":   number,
		"type":     "sweep",
		"file":     fmt.Sprintf("/data/%s-%s-sweep.parquet", number, device),
		"device":   device,
		"filter":   nil,
		"notes":    nil,
	}
	for k, v := range extra {
		doc[k] = v
	}
	return doc
}

// Run runs the suite.
func Run(t *testing.T, newCatalog Factory) {
	tests := []struct {
		name string
		fn   func(*testing.T, catalog.Catalog)
	}{
		{"InsertAndFind", testInsertAndFind},
		{"Conditions", testConditions},
		{"DuplicateNumber", testDuplicateNumber},
		{"FindMax", testFindMax},
		{"Aggregate", testAggregate},
		{"NextNumberFollowsDocuments", testNextNumberFollowsDocuments},
		{"NextNumberConcurrent", testNextNumberConcurrent},
		{"InvalidFilter", testInvalidFilter},
		{"Closed", testClosed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCatalog(t)
			defer c.Close()
			tt.fn(t, c)
		})
	}
}

func insert(t *testing.T, c catalog.Catalog, docs ...catalog.Document) []string {
	t.Helper()
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		id, err := c.Insert(context.Background(), d)
		if err != nil {
			t.Fatalf("Insert(%v) failed: %v", d["number"], err)
		}
		ids = append(ids, id)
	}
	return ids
}

func numbers(docs []catalog.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		s, _ := d.String("number")
		out = append(out, s)
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func testInsertAndFind(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	ids := insert(t, c,
		Doc("00000001", "Fridge1", 0, map[string]any{"power": -30.0, "freqs": []float64{1, 2}}),
		Doc("00000002", "Fridge2", 1, nil),
		Doc("00000003", "Fridge1", 2, nil),
	)
	if ids[0] == "" || ids[0] == ids[1] {
		t.Fatalf("expected distinct ids, got %v", ids)
	}

	docs, err := c.Find(ctx, catalog.Query{})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if got := numbers(docs); !equalStrings(got, []string{"00000001", "00000002", "00000003"}) {
		t.Errorf("expected insertion order, got %v", got)
	}
	if docs[0].ID() != ids[0] {
		t.Errorf("expected _id %s, got %s", ids[0], docs[0].ID())
	}
	if docs[0]["power"] != -30.0 {
		t.Errorf("power = %#v", docs[0]["power"])
	}
	if arr, ok := docs[0]["freqs"].([]any); !ok || len(arr) != 2 || arr[1] != 2.0 {
		t.Errorf("freqs = %#v", docs[0]["freqs"])
	}
	if v, ok := docs[0]["filter"]; !ok || v != nil {
		t.Errorf("filter should be present and null, got %#v", v)
	}

	// Keeps a caller supplied id.
	doc := Doc("00000004", "Fridge3", 3, nil)
	doc["_id"] = "fixed-id"
	id, err := c.Insert(ctx, doc)
	if err != nil || id != "fixed-id" {
		t.Fatalf("Insert with id = %q, %v", id, err)
	}
	if _, err := c.Insert(ctx, catalog.Document{"_id": "fixed-id", "device": "x"}); !errors.IsAlreadyExists(err) {
		t.Errorf("expected already exists for duplicate id, got %v", err)
	}
}

func testConditions(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	insert(t, c,
		Doc("00000001", "Fridge1", 0, map[string]any{"power": -30.0, "mode": "cw", "averages": 16}),
		Doc("00000002", "fridge2", 10, map[string]any{"power": -20.0, "mode": "pulsed"}),
		Doc("00000003", "Chip-A", 20, map[string]any{"power": -10.0, "mode": "CW", "filter": "LPF"}),
	)

	tests := []struct {
		name  string
		conds []catalog.Condition
		want  []string
	}{
		{"device exact", []catalog.Condition{catalog.Eq("device", "Fridge1")}, []string{"00000001"}},
		{"device exact is case sensitive", []catalog.Condition{catalog.Eq("device", "fridge1")}, nil},
		{"device pattern", []catalog.Condition{catalog.Regex("device", "FRIDGE")}, []string{"00000001", "00000002"}},
		{"pattern unanchored", []catalog.Condition{catalog.Regex("device", "ip-")}, []string{"00000003"}},
		{"time range inclusive", []catalog.Condition{
			catalog.Gte("utc_time", base.Add(10*time.Minute)),
			catalog.Lte("utc_time", base.Add(20*time.Minute)),
		}, []string{"00000002", "00000003"}},
		{"time lower bound", []catalog.Condition{catalog.Gte("utc_time", base.Add(11*time.Minute))}, []string{"00000003"}},
		{"extra string", []catalog.Condition{catalog.Eq("mode", "cw")}, []string{"00000001"}},
		{"extra pattern", []catalog.Condition{catalog.Regex("mode", "^cw$")}, []string{"00000001", "00000003"}},
		{"extra number", []catalog.Condition{catalog.Eq("power", -20)}, []string{"00000002"}},
		{"extra int", []catalog.Condition{catalog.Eq("averages", int64(16))}, []string{"00000001"}},
		{"extra numeric range", []catalog.Condition{catalog.Gte("power", -20.0)}, []string{"00000002", "00000003"}},
		{"not empty", []catalog.Condition{catalog.NotEmpty("filter")}, []string{"00000003"}},
		{"null equality", []catalog.Condition{catalog.Eq("filter", nil)}, []string{"00000001", "00000002"}},
		{"missing field", []catalog.Condition{catalog.Eq("nonexistent", "x")}, nil},
		{"conjunction", []catalog.Condition{
			catalog.Regex("device", "fridge"),
			catalog.Eq("power", -30.0),
		}, []string{"00000001"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := c.Find(ctx, catalog.Query{Conditions: tt.conds, Sort: []catalog.SortKey{{Field: "number"}}})
			if err != nil {
				t.Fatalf("Find failed: %v", err)
			}
			if docs == nil {
				t.Fatal("Find must return a non-nil slice")
			}
			got := numbers(docs)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !equalStrings(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	docs, err := c.Find(ctx, catalog.Query{Sort: []catalog.SortKey{{Field: "power", Desc: true}}, Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if got := numbers(docs); !equalStrings(got, []string{"00000003", "00000002"}) {
		t.Errorf("sort by power desc with limit = %v", got)
	}
}

func testDuplicateNumber(t *testing.T, c catalog.Catalog) {
	insert(t, c, Doc("00000001", "Fridge1", 0, nil))
	_, err := c.Insert(context.Background(), Doc("00000001", "Fridge2", 1, nil))
	if !errors.IsAlreadyExists(err) {
		t.Errorf("expected already exists, got %v", err)
	}
}

func testFindMax(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	if _, ok, err := c.FindMax(ctx, "number"); err != nil || ok {
		t.Fatalf("FindMax on empty catalog = %v, %v", ok, err)
	}

	insert(t, c,
		Doc("00000007", "Fridge1", 0, map[string]any{"power": -5.0}),
		Doc("00000041", "Fridge1", 1, map[string]any{"power": -50.0}),
		Doc("00000009", "Fridge1", 2, nil),
	)

	doc, ok, err := c.FindMax(ctx, "number")
	if err != nil || !ok {
		t.Fatalf("FindMax failed: %v %v", ok, err)
	}
	if doc["number"] != "00000041" {
		t.Errorf("expected 00000041, got %v", doc["number"])
	}

	doc, ok, err = c.FindMax(ctx, "power")
	if err != nil || !ok {
		t.Fatalf("FindMax(power) failed: %v %v", ok, err)
	}
	if doc["number"] != "00000007" {
		t.Errorf("expected 00000007 for max power, got %v", doc["number"])
	}
}

func testAggregate(t *testing.T, c catalog.Catalog) {
	insert(t, c,
		Doc("00000001", "A", 0, nil),
		Doc("00000002", "B", 1, nil),
		Doc("00000003", "A", 2, nil),
		Doc("00000004", "", 3, nil),
		Doc("00000005", "C", 4, nil),
		Doc("00000006", "B", 5, nil),
		Doc("00000007", "A", 6, nil),
	)

	docs, err := c.Aggregate(context.Background(), catalog.Pipeline{
		Match: []catalog.Condition{catalog.NotEmpty("device")},
		Group: &catalog.Group{Field: "device", CountAs: "count"},
		Sort:  []catalog.SortKey{{Field: "count", Desc: true}, {Field: "device"}},
	})
	if err != nil {
		t.Fatalf("Aggregate failed: %v", err)
	}

	want := []struct {
		device string
		count  int64
	}{{"A", 3}, {"B", 2}, {"C", 1}}
	if len(docs) != len(want) {
		t.Fatalf("expected %d groups, got %v", len(want), docs)
	}
	for i, w := range want {
		if docs[i]["device"] != w.device || docs[i]["count"] != w.count {
			t.Errorf("group %d = %v, want %s:%d", i, docs[i], w.device, w.count)
		}
	}

	docs, err = c.Aggregate(context.Background(), catalog.Pipeline{
		Group: &catalog.Group{Field: "device", CountAs: "count"},
		Sort:  []catalog.SortKey{{Field: "count", Desc: true}},
		Limit: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0]["device"] != "A" {
		t.Errorf("limit 1 = %v", docs)
	}
}

func testNextNumberFollowsDocuments(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	n, err := c.NextNumber(ctx)
	if err != nil || n != 1 {
		t.Fatalf("first NextNumber = %d, %v", n, err)
	}

	insert(t, c,
		Doc("00000041", "Fridge1", 0, nil),
		Doc("20260301120000", "Fridge1", 1, nil),
	)

	n, err = c.NextNumber(ctx)
	if err != nil || n != 42 {
		t.Fatalf("NextNumber after 00000041 = %d, %v", n, err)
	}
	n, err = c.NextNumber(ctx)
	if err != nil || n != 43 {
		t.Fatalf("NextNumber = %d, %v", n, err)
	}
}

func testNextNumberConcurrent(t *testing.T, c catalog.Catalog) {
	const workers = 16
	ctx := context.Background()

	var mu sync.Mutex
	var got []int64
	h := testutil.NewTestHelper(t)

	for i := 0; i < workers; i++ {
		h.Add(1)
		go func() {
			defer h.Done()
			n, err := c.NextNumber(ctx)
			if err != nil {
				h.Errorf("NextNumber failed: %v", err)
				return
			}
			mu.Lock()
			got = append(got, n)
			mu.Unlock()
		}()
	}
	h.Wait()

	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if len(got) != workers {
		t.Fatalf("expected %d numbers, got %v", workers, got)
	}
	for i, n := range got {
		if n != int64(i+1) {
			t.Fatalf("expected exactly 1..%d, got %v", workers, got)
		}
	}
}

func testInvalidFilter(t *testing.T, c catalog.Catalog) {
	ctx := context.Background()

	_, err := c.Find(ctx, catalog.Query{Conditions: []catalog.Condition{catalog.Regex("device", "([")}})
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for bad pattern, got %v", err)
	}
	_, err = c.Find(ctx, catalog.Query{Conditions: []catalog.Condition{catalog.Eq(`bad"field`, 1)}})
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for bad field, got %v", err)
	}
	_, err = c.Aggregate(ctx, catalog.Pipeline{Group: &catalog.Group{Field: "device"}})
	if !errors.IsValidation(err) {
		t.Errorf("expected validation error for group without count name, got %v", err)
	}
}

func testClosed(t *testing.T, c catalog.Catalog) {
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	_, err := c.Find(context.Background(), catalog.Query{})
	if !errors.IsCatalogUnavailable(err) {
		t.Errorf("expected unavailable after close, got %v", err)
	}
}
