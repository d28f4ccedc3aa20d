package errors

import (
	"fmt"
	"testing"
)

func TestCategories(t *testing.T) {
	tests := []struct {
		err         error
		validation  bool
		conversion  bool
		unavailable bool
		exists      bool
	}{
		{err: NewMissingField("device"), validation: true},
		{err: NewInvalidFilter("start", "bad time"), validation: true},
		{err: NewValidation("file.extension", "must start with a dot"), validation: true},
		{err: fmt.Errorf("field %q: %w", "x", ErrRaggedArray), conversion: true},
		{err: Unavailable(fmt.Errorf("dial tcp: refused")), unavailable: true},
		{err: ErrCatalogDisabled, unavailable: true},
		{err: NewAlreadyExists("document", "00000001"), exists: true},
		{err: Wrapf(ErrDuplicateNumber, "insert %s", "00000001"), exists: true},
	}
	for _, tt := range tests {
		if got := IsValidation(tt.err); got != tt.validation {
			t.Errorf("IsValidation(%v) = %v", tt.err, got)
		}
		if got := IsConversion(tt.err); got != tt.conversion {
			t.Errorf("IsConversion(%v) = %v", tt.err, got)
		}
		if got := IsCatalogUnavailable(tt.err); got != tt.unavailable {
			t.Errorf("IsCatalogUnavailable(%v) = %v", tt.err, got)
		}
		if got := IsAlreadyExists(tt.err); got != tt.exists {
			t.Errorf("IsAlreadyExists(%v) = %v", tt.err, got)
		}
	}
}

func TestUnavailableKeepsCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Unavailable(cause)
	if !Is(err, cause) || !Is(err, ErrCatalogUnavailable) {
		t.Fatalf("expected both sentinel and cause in chain: %v", err)
	}
	if again := Unavailable(err); again != err {
		t.Error("wrapping twice must be a no-op")
	}
	if Unavailable(nil) != nil {
		t.Error("nil must stay nil")
	}
}

func TestValidationErrors(t *testing.T) {
	v := NewValidationErrors()
	if v.Err() != nil {
		t.Fatal("empty collector must return nil")
	}
	v.AddMissing("catalog.dsn")
	v.AddField("file.collision_attempts", "must be positive")
	v.Add(nil)

	err := v.Err()
	if err == nil || len(v.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", v.Errors)
	}
	if !Is(err, ErrMissingField) || !Is(err, ErrInvalidConfig) {
		t.Errorf("collected errors must unwrap: %v", err)
	}
}
