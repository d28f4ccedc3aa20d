package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/catalog/catalogtest"
	"github.com/xtxerr/runstore/internal/errors"
)

func TestSuite(t *testing.T) {
	catalogtest.Run(t, func(t *testing.T) catalog.Catalog {
		return New()
	})
}

func TestSetFailure(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.SetFailure(fmt.Errorf("connection refused"))
	if _, err := s.Insert(ctx, catalogtest.Doc("00000001", "Fridge1", 0, nil)); !errors.IsCatalogUnavailable(err) {
		t.Errorf("expected unavailable, got %v", err)
	}
	if _, err := s.NextNumber(ctx); !errors.IsCatalogUnavailable(err) {
		t.Errorf("expected unavailable, got %v", err)
	}
	if s.Len() != 0 {
		t.Errorf("nothing may be stored while failing, got %d", s.Len())
	}

	s.SetFailure(nil)
	if _, err := s.Insert(ctx, catalogtest.Doc("00000001", "Fridge1", 0, nil)); err != nil {
		t.Errorf("Insert after recovery failed: %v", err)
	}
}

func TestReturnedDocumentsAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Insert(ctx, catalogtest.Doc("00000001", "Fridge1", 0, nil)); err != nil {
		t.Fatal(err)
	}
	docs, err := s.Find(ctx, catalog.Query{})
	if err != nil {
		t.Fatal(err)
	}
	docs[0]["device"] = "mutated"

	docs, _ = s.Find(ctx, catalog.Query{})
	if docs[0]["device"] != "Fridge1" {
		t.Errorf("stored document was modified through a result: %v", docs[0]["device"])
	}
}

func TestCounterValue(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"00000042", 42, true},
		{"000000000001", 1, true},
		{"20260301120000", 0, false},
		{"abc", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := counterValue(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("counterValue(%q) = %d, %v; want %d, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
