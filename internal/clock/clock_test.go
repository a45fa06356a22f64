package clock

import (
	"testing"
	"time"
)

func TestFormatIsCanonical(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	got := Format(at)
	want := "2026-02-28T00:00:00.000Z"
	if got != want {
		t.Errorf("Format() = %q, want %q", got, want)
	}
}

func TestFixedClockIsStable(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 28, 12, 30, 0, 0, time.UTC)
	c := NewFixed(at)
	if got := c.NowISO(); got != c.NowISO() {
		t.Errorf("fixed clock returned different values: %q vs %q", got, c.NowISO())
	}
}

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC)
	iso := Format(at)

	got, err := Parse(iso)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.Equal(at) {
		t.Errorf("Parse(%q) = %v, want %v", iso, got, at)
	}
}

func TestCanonicalOrderingMatchesChronological(t *testing.T) {
	t.Parallel()

	earlier := Format(time.Date(2026, 2, 27, 22, 0, 0, 0, time.UTC))
	later := Format(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC))

	if !(earlier < later) {
		t.Errorf("expected %q < %q lexicographically", earlier, later)
	}
}

func TestAddMinutes(t *testing.T) {
	t.Parallel()

	start := Format(time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC))
	got, err := AddMinutes(start, 90)
	if err != nil {
		t.Fatalf("AddMinutes: %v", err)
	}
	want := Format(time.Date(2026, 2, 28, 1, 30, 0, 0, time.UTC))
	if got != want {
		t.Errorf("AddMinutes() = %q, want %q", got, want)
	}
}
