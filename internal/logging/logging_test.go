package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestComponentFollowsInit(t *testing.T) {
	log := Component("container")

	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, false)

	log.Warn("field skipped", "field", "freq_arr")

	out := buf.String()
	if !strings.Contains(out, "component=container") {
		t.Errorf("expected component attribute, got %q", out)
	}
	if !strings.Contains(out, "field=freq_arr") {
		t.Errorf("expected field attribute, got %q", out)
	}
}

func TestComponentRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelWarn, false)

	Component("query").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestWithContext(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf, slog.LevelInfo, true)

	ctx := ContextWithRunNumber(context.Background(), "00000042")
	ctx = ContextWithDevice(ctx, "Fridge1")
	WithContext(ctx).Info("saved")

	out := buf.String()
	for _, want := range []string{`"run_number":"00000042"`, `"device":"Fridge1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %s in %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", slog.LevelInfo, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
