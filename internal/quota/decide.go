package quota

import "github.com/quota-admission-service/internal/model"

// Outcome is the tentative result of charging a cost against one window.
type Outcome struct {
	Kind      Kind
	Window    Window
	Limit     int
	Count     int
	NewCount  int
	Remaining int
	Overage   int
	Exceeded  bool
}

// Evaluate computes the tentative outcome of adding cost to a window that
// currently holds count of a limit-sized budget. No state is touched.
func Evaluate(kind Kind, w Window, count, limit, cost int) Outcome {
	newCount := count + cost
	remaining := limit - newCount
	if remaining < 0 {
		remaining = 0
	}
	overage := newCount - limit
	if overage < 0 {
		overage = 0
	}
	return Outcome{
		Kind:      kind,
		Window:    w,
		Limit:     limit,
		Count:     count,
		NewCount:  newCount,
		Remaining: remaining,
		Overage:   overage,
		Exceeded:  newCount > limit,
	}
}

// ChooseExceeded picks which of two outcomes, at least one of them exceeded,
// is reported on a denial. A window that is exceeded alone wins; if both are
// exceeded the larger overage wins; remaining ties go to the earlier reset.
func ChooseExceeded(a, b Outcome) Outcome {
	if a.Exceeded != b.Exceeded {
		if a.Exceeded {
			return a
		}
		return b
	}
	if a.Overage != b.Overage {
		if a.Overage > b.Overage {
			return a
		}
		return b
	}
	if b.Window.ResetAt.Before(a.Window.ResetAt) {
		return b
	}
	return a
}

// ChooseMostRestrictive picks which of two allowed outcomes is reported:
// the smaller remaining budget, ties broken by the earlier reset.
func ChooseMostRestrictive(a, b Outcome) Outcome {
	if a.Remaining != b.Remaining {
		if a.Remaining < b.Remaining {
			return a
		}
		return b
	}
	if b.Window.ResetAt.Before(a.Window.ResetAt) {
		return b
	}
	return a
}

// Deny builds the denial decision for the chosen exceeded window. The reason
// is a labeling distinction: the short window reads as rate limiting, the
// daily window as an exhausted quota.
func Deny(chosen Outcome) *model.Decision {
	reason := model.ReasonRateLimited
	if chosen.Kind == Day {
		reason = model.ReasonQuotaExceeded
	}
	return &model.Decision{
		Allowed:   false,
		Reason:    reason,
		Limit:     chosen.Limit,
		Remaining: 0,
		ResetAt:   chosen.Window.ResetAt,
	}
}

// Allow builds the allow decision for the chosen most-restrictive window.
func Allow(chosen Outcome) *model.Decision {
	return &model.Decision{
		Allowed:   true,
		Limit:     chosen.Limit,
		Remaining: chosen.Remaining,
		ResetAt:   chosen.Window.ResetAt,
	}
}
