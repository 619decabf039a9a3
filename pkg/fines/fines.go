// Package fines derives overdue state and fine amounts from the clock and
// a due date. Nothing here touches storage.
package fines

import "time"

// CalendarDays returns the number of calendar days from a to b in loc.
// Time of day is ignored, so 23:59 to 00:01 the next day is one day.
func CalendarDays(a, b time.Time, loc *time.Location) int {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	// Anchor both dates at UTC midnight so DST shifts cannot skew the count.
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// OverdueDays is zero or negative when the loan is not overdue.
func OverdueDays(now, due time.Time, loc *time.Location) int {
	return CalendarDays(due, now, loc)
}

// DaysUntilDue is negative once the due date has passed.
func DaysUntilDue(now, due time.Time, loc *time.Location) int {
	return CalendarDays(now, due, loc)
}

// State is the fine-related part of a borrow record. FineAmount is the
// whole fine owed: FineCarried from earlier overdue periods plus the
// current period's days at FinePerDay.
type State struct {
	OverdueSince *time.Time
	OverdueDays  int
	FinePerDay   int64
	FineCarried  int64
	FineAmount   int64
	FinePaid     bool
}

// Assessment is the outcome of re-evaluating a record at a point in time.
type Assessment struct {
	Overdue bool
	// FirstTime is set when the record is not in an overdue period yet.
	FirstTime bool
	State     State
}

// Assess recomputes the overdue fields for a loan due at due, given its
// current state. The per-day rate is captured on the first assessment and
// reused afterwards; FinePaid is only initialised, never reset. Calling
// Assess twice with the same inputs gives the same result.
func Assess(now, due time.Time, cur State, finePerDay int64, loc *time.Location) Assessment {
	days := OverdueDays(now, due, loc)
	if days <= 0 {
		return Assessment{State: cur}
	}

	next := cur
	first := cur.OverdueSince == nil
	if first {
		since := now
		next.OverdueSince = &since
		next.FinePaid = false
	}
	if next.FinePerDay <= 0 {
		next.FinePerDay = finePerDay
	}
	next.OverdueDays = days
	next.FineAmount = next.FineCarried + int64(days)*next.FinePerDay

	return Assessment{Overdue: true, FirstTime: first, State: next}
}

// Settle closes the current overdue period, as when the loan is renewed.
// The fine accrued so far stays owed and is carried into any later period;
// the next time the loan goes overdue counts as a fresh entry.
func Settle(cur State) State {
	if cur.OverdueSince == nil {
		return cur
	}
	next := cur
	next.OverdueSince = nil
	next.OverdueDays = 0
	next.FineCarried = cur.FineAmount
	return next
}

// RepeatReminderDue reports whether an already-overdue loan should get
// another reminder today.
func RepeatReminderDue(overdueDays, interval int) bool {
	if interval <= 0 || overdueDays <= 0 {
		return false
	}
	return overdueDays%interval == 0
}
