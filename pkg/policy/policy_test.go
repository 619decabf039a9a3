package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.NoError(t, p.Validate())
	assert.Equal(t, 2, p.RenewalsAllowed)
	assert.Equal(t, 7, p.RenewalDays)
	assert.Equal(t, int64(5000), p.FinePerDay)
	assert.Equal(t, 3, p.ReminderIntervalDays)
	assert.Equal(t, 6*time.Hour, p.SweepInterval)
	assert.True(t, p.IsDueSoon(2))
	assert.True(t, p.IsDueSoon(1))
	assert.False(t, p.IsDueSoon(0))
	assert.False(t, p.IsDueSoon(3))
}

func TestValidate(t *testing.T) {
	p := Default()
	p.RenewalDays = 0
	assert.Error(t, p.Validate())

	p = Default()
	p.FinePerDay = -1
	assert.Error(t, p.Validate())

	p = Default()
	p.ReminderIntervalDays = 0
	assert.Error(t, p.Validate())
}

func TestLoanDue(t *testing.T) {
	p := Default()
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, now.AddDate(0, 0, 14), p.LoanDue(now, nil))

	past := now.Add(-time.Hour)
	assert.Equal(t, now.AddDate(0, 0, 14), p.LoanDue(now, &past))

	later := now.AddDate(0, 0, 5)
	assert.Equal(t, later, p.LoanDue(now, &later))
}

func TestExtendDue(t *testing.T) {
	p := Default()
	due := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 17, 0, 0, 0, 0, time.UTC), p.ExtendDue(due))
}

func TestLocDefaultsToUTC(t *testing.T) {
	var p Policy
	assert.Equal(t, time.UTC, p.Loc())
}
