package quota

import (
	"testing"
	"time"

	"github.com/quota-admission-service/internal/model"
)

func testWindows() (Window, Window) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	return For(now, Minute), For(now, Day)
}

func TestEvaluate(t *testing.T) {
	minuteWin, _ := testWindows()

	t.Run("within limit", func(t *testing.T) {
		o := Evaluate(Minute, minuteWin, 2, 10, 1)
		if o.Exceeded {
			t.Fatal("expected not exceeded")
		}
		if o.NewCount != 3 || o.Remaining != 7 || o.Overage != 0 {
			t.Fatalf("unexpected outcome: %+v", o)
		}
	})

	t.Run("exactly at limit is allowed", func(t *testing.T) {
		o := Evaluate(Minute, minuteWin, 9, 10, 1)
		if o.Exceeded {
			t.Fatal("newCount == limit must not be exceeded")
		}
		if o.Remaining != 0 {
			t.Fatalf("unexpected remaining: %d", o.Remaining)
		}
	})

	t.Run("over limit", func(t *testing.T) {
		o := Evaluate(Minute, minuteWin, 10, 10, 3)
		if !o.Exceeded {
			t.Fatal("expected exceeded")
		}
		if o.Remaining != 0 || o.Overage != 3 {
			t.Fatalf("unexpected outcome: %+v", o)
		}
	})
}

func TestChooseExceeded(t *testing.T) {
	minuteWin, dayWin := testWindows()

	t.Run("single exceeded window wins", func(t *testing.T) {
		minute := Evaluate(Minute, minuteWin, 1, 1, 1) // exceeded
		day := Evaluate(Day, dayWin, 2, 100, 1)        // fine

		chosen := ChooseExceeded(minute, day)
		if chosen.Kind != Minute {
			t.Fatalf("expected minute window, got %s", chosen.Kind)
		}
	})

	t.Run("both exceeded prefers larger overage", func(t *testing.T) {
		minute := Evaluate(Minute, minuteWin, 1, 1, 1)  // overage 1
		day := Evaluate(Day, dayWin, 104, 100, 1)       // overage 5

		chosen := ChooseExceeded(minute, day)
		if chosen.Kind != Day {
			t.Fatalf("expected day window, got %s", chosen.Kind)
		}
	})

	t.Run("equal overage prefers earlier reset", func(t *testing.T) {
		minute := Evaluate(Minute, minuteWin, 1, 1, 1) // overage 1
		day := Evaluate(Day, dayWin, 100, 100, 1)      // overage 1

		chosen := ChooseExceeded(minute, day)
		if chosen.Kind != Minute {
			t.Fatalf("expected minute window (earlier reset), got %s", chosen.Kind)
		}
	})
}

func TestChooseMostRestrictive(t *testing.T) {
	minuteWin, dayWin := testWindows()

	t.Run("smaller remaining wins", func(t *testing.T) {
		minute := Evaluate(Minute, minuteWin, 0, 1, 1) // remaining 0
		day := Evaluate(Day, dayWin, 1, 100, 1)        // remaining 98

		chosen := ChooseMostRestrictive(minute, day)
		if chosen.Kind != Minute {
			t.Fatalf("expected minute window, got %s", chosen.Kind)
		}
	})

	t.Run("equal remaining prefers earlier reset", func(t *testing.T) {
		minute := Evaluate(Minute, minuteWin, 0, 5, 1)
		day := Evaluate(Day, dayWin, 0, 5, 1)

		chosen := ChooseMostRestrictive(minute, day)
		if chosen.Kind != Minute {
			t.Fatalf("expected minute window (earlier reset), got %s", chosen.Kind)
		}
	})
}

func TestDenyLabelsByWindowKind(t *testing.T) {
	minuteWin, dayWin := testWindows()

	minute := Deny(Evaluate(Minute, minuteWin, 1, 1, 1))
	if minute.Reason != model.ReasonRateLimited {
		t.Fatalf("unexpected minute reason: %s", minute.Reason)
	}
	if minute.Allowed || minute.Remaining != 0 {
		t.Fatalf("unexpected denial shape: %+v", minute)
	}

	day := Deny(Evaluate(Day, dayWin, 100, 100, 1))
	if day.Reason != model.ReasonQuotaExceeded {
		t.Fatalf("unexpected day reason: %s", day.Reason)
	}
}

func TestAllowReportsChosenWindow(t *testing.T) {
	minuteWin, _ := testWindows()

	o := Evaluate(Minute, minuteWin, 2, 10, 1)
	d := Allow(o)
	if !d.Allowed || d.Reason != "" {
		t.Fatalf("unexpected allow shape: %+v", d)
	}
	if d.Limit != 10 || d.Remaining != 7 || !d.ResetAt.Equal(minuteWin.ResetAt) {
		t.Fatalf("unexpected allow values: %+v", d)
	}
}
