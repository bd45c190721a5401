package quota

import (
	"testing"
	"time"
)

func TestForMinute(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 47, 123456789, time.UTC)

	w := For(now, Minute)

	wantStart := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	if !w.Start.Equal(wantStart) {
		t.Fatalf("unexpected start: got %s want %s", w.Start, wantStart)
	}
	if !w.ResetAt.Equal(wantStart.Add(time.Minute)) {
		t.Fatalf("unexpected reset: got %s", w.ResetAt)
	}
}

func TestForDay(t *testing.T) {
	now := time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC)

	w := For(now, Day)

	wantStart := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	if !w.Start.Equal(wantStart) {
		t.Fatalf("unexpected start: got %s want %s", w.Start, wantStart)
	}
	if !w.ResetAt.Equal(wantStart.Add(24 * time.Hour)) {
		t.Fatalf("unexpected reset: got %s", w.ResetAt)
	}
}

func TestForNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 02:10 on June 16 in UTC+5 is 21:10 on June 15 in UTC.
	now := time.Date(2025, 6, 16, 2, 10, 30, 0, loc)

	minute := For(now, Minute)
	if !minute.Start.Equal(time.Date(2025, 6, 15, 21, 10, 0, 0, time.UTC)) {
		t.Fatalf("unexpected minute start: %s", minute.Start)
	}

	day := For(now, Day)
	if !day.Start.Equal(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day start: %s", day.Start)
	}
}

func TestForSameInstantSameWindow(t *testing.T) {
	// Consume and status must compute identical boundaries for one instant.
	now := time.Date(2025, 6, 15, 10, 30, 12, 0, time.UTC)

	for _, kind := range []Kind{Minute, Day} {
		a := For(now, kind)
		b := For(now, kind)
		if !a.Start.Equal(b.Start) || !a.ResetAt.Equal(b.ResetAt) {
			t.Fatalf("window for %s not stable: %+v vs %+v", kind, a, b)
		}
	}
}
