package subscription

import (
	"time"

	"github.com/exampapers/ExamPrepBusiness/internal/models"
)

// AddMonths adds n calendar months, clamping to the last day of the target month.
func AddMonths(t time.Time, n int) time.Time {
	year, month, day := t.Date()
	target := time.Date(year, month+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := daysInMonth(target.Year(), target.Month()); day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Term holds the dates of a freshly started subscription.
type Term struct {
	PeriodStart     time.Time
	PeriodEnd       time.Time
	SubscriptionEnd *time.Time
}

// NewTerm starts a term at now. Quota periods are monthly for every billing
// cycle; only yearly terms carry a hard end date.
func NewTerm(now time.Time, cycle models.BillingCycle) Term {
	now = now.UTC()
	term := Term{PeriodStart: now, PeriodEnd: AddMonths(now, 1)}
	if cycle == models.BillingCycleYearly {
		end := AddMonths(now, 12)
		term.SubscriptionEnd = &end
	}
	return term
}

// NextPeriodEnd advances periodEnd by whole months until it is after now,
// never past hardEnd when one is set.
func NextPeriodEnd(periodEnd, now time.Time, hardEnd *time.Time) time.Time {
	next := periodEnd
	for i := 1; !next.After(now); i++ {
		next = AddMonths(periodEnd, i)
	}
	if hardEnd != nil && next.After(*hardEnd) {
		return *hardEnd
	}
	return next
}
