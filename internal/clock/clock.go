// Package clock provides the single canonical time source the autopilot
// depends on. Every operation that reasons about "now" goes through a
// Clock so tests can inject a fixed instant instead of depending on the
// wall clock, and so every timestamp the autopilot ever produces or
// compares is in the same lexicographically sortable form.
package clock

import "time"

// layout is ISO-8601, UTC, millisecond precision, trailing Z — chosen so
// that string comparison of two timestamps agrees with chronological order.
const layout = "2006-01-02T15:04:05.000Z"

// Clock produces the current instant in canonical serialized form.
type Clock interface {
	NowISO() string
}

// Real is a Clock backed by the system wall clock.
type Real struct{}

// NewReal creates a Clock backed by time.Now, initialized once per process
// and passed down to every component that needs "now".
func NewReal() Real { return Real{} }

// NowISO returns the current UTC instant as a canonical ISO-8601 string.
func (Real) NowISO() string {
	return Format(time.Now())
}

// Fixed is a Clock that always returns the same instant — for deterministic
// tests and for the simulator, which takes its "now" from its input rather
// than the wall clock.
type Fixed struct {
	At time.Time
}

// NewFixed creates a Clock pinned to the given instant.
func NewFixed(at time.Time) Fixed { return Fixed{At: at} }

// NowISO returns the pinned instant in canonical form.
func (f Fixed) NowISO() string {
	return Format(f.At)
}

// Format renders t in the autopilot's canonical timestamp form.
func Format(t time.Time) string {
	return t.UTC().Format(layout)
}

// Parse parses a canonical timestamp. It also accepts any other
// RFC3339-compatible string, since the marketplace's own timestamps (job
// updatedAt) may arrive with a different precision or offset.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(layout, s); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// AddMinutes returns the canonical string for t plus the given number of
// minutes — a convenience for the retry/backoff and stale-bid arithmetic,
// which all operate on canonical strings rather than time.Time directly.
func AddMinutes(iso string, minutes float64) (string, error) {
	t, err := Parse(iso)
	if err != nil {
		return "", err
	}
	return Format(t.Add(time.Duration(minutes * float64(time.Minute)))), nil
}
