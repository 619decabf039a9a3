package lifecycle

import (
	"database/sql/driver"
	"fmt"
)

// Status is the lifecycle state of a borrow record. The zero value is
// StatusNone, used as the "from" side of a record that did not exist yet.
type Status uint8

const (
	StatusNone Status = iota
	StatusPendingApproval
	StatusActive
	StatusPendingReturnApproval
	StatusPendingRenewalApproval
	StatusOverdue
	StatusReturned
	StatusRejected
	// StatusUnknown is what a persisted value we cannot recognise decodes to.
	StatusUnknown
)

// Wire strings. These are stored in the borrows table and shared by the
// sweep, the diff engine and the state machine.
var statusNames = map[Status]string{
	StatusNone:                   "",
	StatusPendingApproval:        "PENDING_APPROVAL",
	StatusActive:                 "ACTIVE",
	StatusPendingReturnApproval:  "PENDING_RETURN_APPROVAL",
	StatusPendingRenewalApproval: "PENDING_RENEWAL_APPROVAL",
	StatusOverdue:                "OVERDUE",
	StatusReturned:               "RETURNED",
	StatusRejected:               "REJECTED",
}

var statusByName = func() map[string]Status {
	m := make(map[string]Status, len(statusNames))
	for s, n := range statusNames {
		if s != StatusNone {
			m[n] = s
		}
	}
	return m
}()

// AllStatuses lists every real lifecycle state.
func AllStatuses() []Status {
	return []Status{
		StatusPendingApproval,
		StatusActive,
		StatusPendingReturnApproval,
		StatusPendingRenewalApproval,
		StatusOverdue,
		StatusReturned,
		StatusRejected,
	}
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// Valid reports whether s is a real lifecycle state.
func (s Status) Valid() bool {
	return s > StatusNone && s < StatusUnknown
}

// Terminal reports whether no event can move the record out of s.
func (s Status) Terminal() bool {
	return s == StatusReturned || s == StatusRejected
}

// Held reports whether a record in s counts as the patron currently holding
// the title for the one-record-per-title rule.
func (s Status) Held() bool {
	switch s {
	case StatusActive, StatusPendingReturnApproval, StatusPendingRenewalApproval:
		return true
	}
	return false
}

// HeldStatuses returns the statuses for which Held is true.
func HeldStatuses() []Status {
	return []Status{StatusActive, StatusPendingReturnApproval, StatusPendingRenewalApproval}
}

// ParseStatus maps a wire string to its Status.
func ParseStatus(name string) (Status, error) {
	if s, ok := statusByName[name]; ok {
		return s, nil
	}
	return StatusUnknown, fmt.Errorf("unknown borrow status %q", name)
}

// GormDataType keeps the column textual even though Status is numeric in Go.
func (Status) GormDataType() string {
	return "varchar(32)"
}

// Value implements driver.Valuer. StatusNone is stored as NULL.
func (s Status) Value() (driver.Value, error) {
	if s == StatusNone {
		return nil, nil
	}
	if !s.Valid() {
		return nil, fmt.Errorf("cannot persist borrow status %d", uint8(s))
	}
	return s.String(), nil
}

// Scan implements sql.Scanner. Unrecognised values decode to StatusUnknown
// instead of failing the whole query, so readers can skip the record.
func (s *Status) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = StatusNone
	case string:
		*s, _ = ParseStatus(v)
	case []byte:
		*s, _ = ParseStatus(string(v))
	default:
		return fmt.Errorf("unsupported borrow status type %T", src)
	}
	return nil
}

// MarshalText lets statuses travel as their wire string in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*s = StatusNone
		return nil
	}
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
