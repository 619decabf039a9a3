package policy

import (
	"fmt"
	"time"
)

const (
	DefaultRenewalsAllowed      = 2
	DefaultRenewalDays          = 7
	DefaultFinePerDay     int64 = 5000
	DefaultReminderInterval     = 3
	DefaultLoanDays             = 14
	DefaultSweepInterval        = 6 * time.Hour
	DefaultSweepInitialDelay    = time.Minute
)

// Policy holds the lending rules shared by circulation and the sweep.
type Policy struct {
	RenewalsAllowed int
	RenewalDays     int
	FinePerDay      int64
	// ReminderIntervalDays gates repeat overdue reminders.
	ReminderIntervalDays int
	// DueSoonDays lists how many days before the due date a reminder goes out.
	DueSoonDays       []int
	LoanDays          int
	SweepInterval     time.Duration
	SweepInitialDelay time.Duration
	// Location decides where calendar days begin and end.
	Location *time.Location
}

func Default() Policy {
	return Policy{
		RenewalsAllowed:      DefaultRenewalsAllowed,
		RenewalDays:          DefaultRenewalDays,
		FinePerDay:           DefaultFinePerDay,
		ReminderIntervalDays: DefaultReminderInterval,
		DueSoonDays:          []int{2, 1},
		LoanDays:             DefaultLoanDays,
		SweepInterval:        DefaultSweepInterval,
		SweepInitialDelay:    DefaultSweepInitialDelay,
		Location:             time.UTC,
	}
}

func (p Policy) Validate() error {
	if p.RenewalsAllowed < 0 {
		return fmt.Errorf("renewals allowed must not be negative, got %d", p.RenewalsAllowed)
	}
	if p.RenewalDays <= 0 {
		return fmt.Errorf("renewal days must be positive, got %d", p.RenewalDays)
	}
	if p.FinePerDay < 0 {
		return fmt.Errorf("fine per day must not be negative, got %d", p.FinePerDay)
	}
	if p.ReminderIntervalDays <= 0 {
		return fmt.Errorf("reminder interval must be positive, got %d", p.ReminderIntervalDays)
	}
	if p.LoanDays <= 0 {
		return fmt.Errorf("loan days must be positive, got %d", p.LoanDays)
	}
	if p.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %s", p.SweepInterval)
	}
	return nil
}

// Loc never returns nil.
func (p Policy) Loc() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

// IsDueSoon reports whether daysLeft matches one of the reminder offsets.
func (p Policy) IsDueSoon(daysLeft int) bool {
	for _, d := range p.DueSoonDays {
		if d == daysLeft {
			return true
		}
	}
	return false
}

// LoanDue picks the due date for a loan approved at now. A requested date
// later than now wins; otherwise the default loan period applies.
func (p Policy) LoanDue(now time.Time, requested *time.Time) time.Time {
	if requested != nil && requested.After(now) {
		return *requested
	}
	return now.AddDate(0, 0, p.LoanDays)
}

// ExtendDue moves a due date forward by one renewal period.
func (p Policy) ExtendDue(due time.Time) time.Time {
	return due.AddDate(0, 0, p.RenewalDays)
}
