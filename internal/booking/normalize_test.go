package booking

import (
	"testing"
	"time"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"john doe", "John Doe"},
		{"JOHN DOE", "John Doe"},
		{"  maría   lópez  ", "María López"},
		{"anne-marie smith-jones", "Anne-Marie Smith-Jones"},
		{"John Doe", "John Doe"},
	}

	for _, tt := range tests {
		if got := NormalizeName(tt.input); got != tt.want {
			t.Errorf("NormalizeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeEmail(t *testing.T) {
	if got := NormalizeEmail("  Jane.Doe@Example.COM "); got != "jane.doe@example.com" {
		t.Errorf("got %q", got)
	}
}

func TestNormalizationIsIdempotent(t *testing.T) {
	names := []string{"john doe", "ANNE-MARIE o'neil", "x"}
	for _, n := range names {
		once := NormalizeName(n)
		if twice := NormalizeName(once); twice != once {
			t.Errorf("NormalizeName not idempotent: %q -> %q -> %q", n, once, twice)
		}
	}

	emails := []string{"A@B.COM", "a@b.com"}
	for _, e := range emails {
		once := NormalizeEmail(e)
		if twice := NormalizeEmail(once); twice != once {
			t.Errorf("NormalizeEmail not idempotent: %q", e)
		}
	}
}

func TestResolveDateExplicitYear(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	got, err := ResolveDate("2026-02-01", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveDateYearlessRollsForward(t *testing.T) {
	// Spoken in December: "January 20th" means the coming January.
	now := time.Date(2026, 12, 10, 9, 0, 0, 0, time.UTC)

	got, err := ResolveDate("January 20th", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2027, 1, 20, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveDateYearlessFutureStaysThisYear(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	got, err := ResolveDate("June 5", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 6, 5, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResolveDateTodayIsNotPast(t *testing.T) {
	now := time.Date(2026, 6, 5, 23, 0, 0, 0, time.UTC)

	got, err := ResolveDate("June 5", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Year() != 2026 {
		t.Errorf("same-day booking should stay in the current year, got %v", got)
	}
}

func TestResolveDateRejectsGarbage(t *testing.T) {
	if _, err := ResolveDate("whenever works", time.Now()); err == nil {
		t.Error("expected error for unparseable date")
	}
}

func TestResolveTime(t *testing.T) {
	tests := []struct {
		input      string
		hour, min  int
	}{
		{"15:00", 15, 0},
		{"3:30 PM", 15, 30},
		{"3pm", 15, 0},
		{"09:15", 9, 15},
	}

	for _, tt := range tests {
		h, m, err := ResolveTime(tt.input)
		if err != nil {
			t.Errorf("ResolveTime(%q): %v", tt.input, err)
			continue
		}
		if h != tt.hour || m != tt.min {
			t.Errorf("ResolveTime(%q) = %d:%02d, want %d:%02d", tt.input, h, m, tt.hour, tt.min)
		}
	}
}

func TestResolveSlot(t *testing.T) {
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)

	got, err := ResolveSlot("2026-02-01", "15:00", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 2, 1, 15, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}
