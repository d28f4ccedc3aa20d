package validation

import (
	"strings"
	"testing"
)

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple", "measurement", false},
		{"underscore", "_runs_2024", false},
		{"empty", "", true},
		{"leading digit", "1runs", true},
		{"hyphen", "my-runs", true},
		{"quote", `runs"; DROP TABLE x; --`, true},
		{"space", "my runs", true},
		{"too long", strings.Repeat("a", 64), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentifier(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateIdentifier(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateFieldName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"plain", "freq_center", false},
		{"mixed case", "Qi_dia_corr", false},
		{"dotted", "jpa.pump", false},
		{"space", "power dbm", false},
		{"empty", "", true},
		{"quote", `a"b`, true},
		{"backslash", `a\b`, true},
		{"control", "a\x00b", true},
		{"slash", "a/b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateFieldName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFieldName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestFileComponent(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Fridge1", "Fridge1"},
		{"  Fridge1 ", "Fridge1"},
		{"chip/A", "chip_A"},
		{`chip\A`, "chip_A"},
		{"a:b", "a_b"},
		{"tab\there", "tab_here"},
		{"", "unknown"},
		{"..", "unknown"},
		{"résonateur", "résonateur"},
	}

	for _, tt := range tests {
		if got := FileComponent(tt.input); got != tt.want {
			t.Errorf("FileComponent(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCompilePattern(t *testing.T) {
	re, err := CompilePattern("frid")
	if err != nil {
		t.Fatalf("CompilePattern: %v", err)
	}
	if !re.MatchString("Fridge1") {
		t.Error("pattern should match case-insensitively and unanchored")
	}

	if _, err := CompilePattern("(unclosed"); err == nil {
		t.Error("expected error for invalid pattern")
	}
}
