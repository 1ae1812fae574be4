package handler

import (
	"testing"
	"time"
)

func TestAtoiDefault(t *testing.T) {
	tests := []struct {
		input    string
		def      int
		expected int
	}{
		{"10", 5, 10},
		{"1", 0, 1},
		{"999", 0, 999},
		{"", 5, 5},
		{"abc", 10, 10},
		{"-1", 5, 5},
		{"0", 5, 5},
		{"12.5", 5, 5},
		{"12abc", 5, 5},
	}

	for _, tt := range tests {
		if got := atoiDefault(tt.input, tt.def); got != tt.expected {
			t.Errorf("atoiDefault(%q, %d) = %d, expected %d", tt.input, tt.def, got, tt.expected)
		}
	}
}

func TestParseDate(t *testing.T) {
	got := parseDate("2025-06-15")
	want := time.Date(2025, 6, 15, 0, 0, 0, 0, time.Local)
	if !got.Equal(want) {
		t.Errorf("parseDate = %v, expected %v", got, want)
	}

	for _, bad := range []string{"", "15-06-2025", "yesterday"} {
		if d := parseDate(bad); !d.IsZero() {
			t.Errorf("parseDate(%q) = %v, expected zero time", bad, d)
		}
	}
}

func TestEndOfDay(t *testing.T) {
	if !endOfDay(time.Time{}).IsZero() {
		t.Error("endOfDay of zero time should stay zero")
	}

	day := time.Date(2025, 6, 15, 0, 0, 0, 0, time.Local)
	end := endOfDay(day)
	if end.Day() != 15 || end.Hour() != 23 || end.Minute() != 59 {
		t.Errorf("endOfDay = %v, expected last millisecond of 15th", end)
	}
}

func TestRelativeImage(t *testing.T) {
	tests := []struct {
		root, path, expected string
	}{
		{"/storage", "/storage/cam1/1700000000000.jpg", "cam1/1700000000000.jpg"},
		{"/storage", "/elsewhere/cam1/1.jpg", "1.jpg"},
	}

	for _, tt := range tests {
		if got := relativeImage(tt.root, tt.path); got != tt.expected {
			t.Errorf("relativeImage(%q, %q) = %q, expected %q", tt.root, tt.path, got, tt.expected)
		}
	}
}
